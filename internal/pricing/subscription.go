package pricing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frequency is the delivery cadence of a subscription.
type Frequency string

const (
	Weekly      Frequency = "weekly"
	Fortnightly Frequency = "fortnightly"
	Monthly     Frequency = "monthly"
)

// ErrInvalidDiscount marks a subscription discount outside [0, 100].
var ErrInvalidDiscount = errors.New("subscription discount must be between 0 and 100")

var frequencyOrder = []Frequency{Weekly, Fortnightly, Monthly}

var frequencyLabels = map[Frequency]string{
	Weekly:      "Every week",
	Fortnightly: "Every two weeks",
	Monthly:     "Every month",
}

// Option is one row of the subscription pricing table.
type Option struct {
	Frequency       Frequency `json:"frequency"`
	Label           string    `json:"label"`
	DiscountPercent int       `json:"discountPercent"`
}

// Table maps subscription frequencies to whole-number discount percentages.
type Table struct {
	discounts map[Frequency]int
}

// DefaultTable returns the stock discounts: weekly 20%, fortnightly 18%, monthly 15%.
func DefaultTable() Table {
	return Table{discounts: map[Frequency]int{
		Weekly:      20,
		Fortnightly: 18,
		Monthly:     15,
	}}
}

// NewTable validates the provided discounts.
func NewTable(discounts map[Frequency]int) (Table, error) {
	out := make(map[Frequency]int, len(discounts))
	for freq, pct := range discounts {
		if _, ok := frequencyLabels[freq]; !ok {
			return Table{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, freq)
		}
		if pct < 0 || pct > 100 {
			return Table{}, fmt.Errorf("%w: %s=%d", ErrInvalidDiscount, freq, pct)
		}
		out[freq] = pct
	}
	return Table{discounts: out}, nil
}

// ParseTable reads overrides in the form "weekly:20,monthly:15" on top of the
// default table. An empty string yields the defaults.
func ParseTable(value string) (Table, error) {
	merged := DefaultTable().discounts
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, ":")
		if !ok {
			return Table{}, fmt.Errorf("subscription discount %q: expected frequency:percent", part)
		}
		pct, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Table{}, fmt.Errorf("subscription discount %q: %w", part, err)
		}
		merged[Frequency(strings.ToLower(strings.TrimSpace(name)))] = pct
	}
	return NewTable(merged)
}

// Discount returns the percentage for the frequency.
func (t Table) Discount(freq Frequency) (int, error) {
	pct, ok := t.discounts[freq]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFrequency, freq)
	}
	return pct, nil
}

// ParseFrequency accepts a frequency known to the table.
func (t Table) ParseFrequency(value string) (Frequency, error) {
	freq := Frequency(strings.ToLower(strings.TrimSpace(value)))
	if _, err := t.Discount(freq); err != nil {
		return "", err
	}
	return freq, nil
}

// Options lists the configured rows in cadence order.
func (t Table) Options() []Option {
	opts := make([]Option, 0, len(t.discounts))
	for _, freq := range frequencyOrder {
		pct, ok := t.discounts[freq]
		if !ok {
			continue
		}
		opts = append(opts, Option{Frequency: freq, Label: frequencyLabels[freq], DiscountPercent: pct})
	}
	return opts
}
