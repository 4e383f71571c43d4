package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// PurchaseMode describes how a product is bought.
type PurchaseMode string

const (
	ModeOneTime     PurchaseMode = "one-time"
	ModeRecurring   PurchaseMode = "recurring"
	ModeSpontaneous PurchaseMode = "spontaneous"
)

// DefaultTaxRate is applied when no rate is configured.
var DefaultTaxRate = decimal.RequireFromString("0.08")

var (
	// ErrUnknownMode is returned for purchase modes outside the supported set.
	ErrUnknownMode = errors.New("unknown purchase mode")
	// ErrUnknownFrequency is returned when a subscription frequency has no configured discount.
	ErrUnknownFrequency = errors.New("unknown subscription frequency")
	// ErrAmountOverflow is returned when a total no longer fits in Money.
	ErrAmountOverflow = errors.New("amount out of range")
)

// IsSubscription reports whether the mode bills on a schedule.
func (m PurchaseMode) IsSubscription() bool {
	return m == ModeRecurring || m == ModeSpontaneous
}

// ParsePurchaseMode normalises user input. An empty value means one-time.
func ParsePurchaseMode(value string) (PurchaseMode, error) {
	switch PurchaseMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeOneTime:
		return ModeOneTime, nil
	case ModeRecurring:
		return ModeRecurring, nil
	case ModeSpontaneous:
		return ModeSpontaneous, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, value)
	}
}

// Line is the pricing view of a cart line item.
type Line struct {
	BasePrice Money
	Quantity  int
	Mode      PurchaseMode
	Frequency Frequency
}

// Summary aggregates the computed order components.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Shipping Money `json:"shipping"`
	Tax      Money `json:"tax"`
	Total    Money `json:"total"`
}

// Engine prices products and carts against a subscription table and tax rate.
type Engine struct {
	Table   Table
	TaxRate decimal.Decimal
}

// NewEngine constructs an engine. A zero rate means no tax; callers wanting
// the standard rate pass DefaultTaxRate.
func NewEngine(table Table, taxRate decimal.Decimal) *Engine {
	return &Engine{Table: table, TaxRate: taxRate}
}

// UnitPrice returns the price of one unit for the purchase mode. Subscription
// modes are discounted by the frequency's percentage and rounded half-up to
// a whole minor unit.
func (e *Engine) UnitPrice(base Money, mode PurchaseMode, freq Frequency) (Money, error) {
	if !mode.IsSubscription() {
		if mode != ModeOneTime && mode != "" {
			return 0, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
		}
		return base, nil
	}
	pct, err := e.Table.Discount(freq)
	if err != nil {
		return 0, err
	}
	return Discounted(base, pct), nil
}

// Discounted applies a whole-number percentage discount to an amount.
func Discounted(base Money, pct int) Money {
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(int64(100 - pct))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// LineTotal returns UnitPrice × quantity. Non-positive quantities price at zero.
func (e *Engine) LineTotal(l Line) (Money, error) {
	if l.Quantity <= 0 {
		return 0, nil
	}
	unit, err := e.UnitPrice(l.BasePrice, l.Mode, l.Frequency)
	if err != nil {
		return 0, err
	}
	return mul(unit, l.Quantity)
}

func mul(unit Money, qty int) (Money, error) {
	if unit < 0 {
		return 0, fmt.Errorf("negative unit price %d: %w", unit, ErrAmountOverflow)
	}
	if unit > 0 && Money(qty) > math.MaxInt64/unit {
		return 0, ErrAmountOverflow
	}
	return unit * Money(qty), nil
}

func add(a, b Money) (Money, error) {
	if b > math.MaxInt64-a {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// CartTotal sums the line totals. Each line is discounted on its own.
func (e *Engine) CartTotal(lines []Line) (Money, error) {
	var total Money
	for _, l := range lines {
		lt, err := e.LineTotal(l)
		if err != nil {
			return 0, err
		}
		if total, err = add(total, lt); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Savings reports how much the subscription discounts take off the
// undiscounted price of the lines.
func (e *Engine) Savings(lines []Line) (Money, error) {
	var full Money
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		lt, err := mul(l.BasePrice, l.Quantity)
		if err != nil {
			return 0, err
		}
		if full, err = add(full, lt); err != nil {
			return 0, err
		}
	}
	total, err := e.CartTotal(lines)
	if err != nil {
		return 0, err
	}
	return full - total, nil
}

// OrderTotal combines subtotal, shipping and tax using the engine's rate.
func (e *Engine) OrderTotal(subtotal, shipping Money) Summary {
	return OrderTotal(subtotal, shipping, e.TaxRate)
}

// OrderTotal computes tax as round(subtotal × rate) and the grand total.
// Shipping is not taxed.
func OrderTotal(subtotal, shipping Money, taxRate decimal.Decimal) Summary {
	tax := decimal.NewFromInt(subtotal).Mul(taxRate).Round(0).IntPart()
	return Summary{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal + shipping + tax,
	}
}

// ToMajorUnits converts minor units to the major currency unit.
func ToMajorUnits(m Money) decimal.Decimal {
	return decimal.New(m, -2)
}

// FormatMajor renders minor units as a fixed two-decimal major amount.
func FormatMajor(m Money) string {
	return ToMajorUnits(m).StringFixed(2)
}
