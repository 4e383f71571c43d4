package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultTable(), DefaultTaxRate)
}

func TestUnitPriceMonthlyRoundsHalfUp(t *testing.T) {
	e := newTestEngine()
	price, err := e.UnitPrice(4599, ModeRecurring, Monthly)
	require.NoError(t, err)
	require.Equal(t, Money(3909), price)
}

func TestUnitPriceOneTimeIgnoresFrequency(t *testing.T) {
	e := newTestEngine()
	price, err := e.UnitPrice(4599, ModeOneTime, "")
	require.NoError(t, err)
	require.Equal(t, Money(4599), price)
}

func TestUnitPriceSubscriptionNeverExceedsOneTime(t *testing.T) {
	e := newTestEngine()
	for _, base := range []Money{0, 1, 2, 99, 101, 4599, 6800, 123457} {
		for _, freq := range []Frequency{Weekly, Fortnightly, Monthly} {
			for _, mode := range []PurchaseMode{ModeRecurring, ModeSpontaneous} {
				sub, err := e.UnitPrice(base, mode, freq)
				require.NoError(t, err)
				require.LessOrEqual(t, sub, base, "base=%d freq=%s", base, freq)
			}
		}
	}
}

func TestUnitPriceUnknownFrequency(t *testing.T) {
	e := newTestEngine()
	_, err := e.UnitPrice(1000, ModeRecurring, "daily")
	require.True(t, errors.Is(err, ErrUnknownFrequency))

	_, err = e.UnitPrice(1000, "lease", "")
	require.True(t, errors.Is(err, ErrUnknownMode))
}

func TestCartTotalIsSumOfLineTotals(t *testing.T) {
	e := newTestEngine()
	lines := []Line{
		{BasePrice: 3250, Quantity: 1, Mode: ModeOneTime},
		{BasePrice: 6800, Quantity: 2, Mode: ModeOneTime},
		{BasePrice: 4599, Quantity: 3, Mode: ModeRecurring, Frequency: Weekly},
	}
	var want Money
	for _, l := range lines {
		lt, err := e.LineTotal(l)
		require.NoError(t, err)
		want += lt
	}
	got, err := e.CartTotal(lines)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, Money(3250+13600+3*3679), got)
}

func TestOrderTotalScenario(t *testing.T) {
	e := newTestEngine()
	subtotal, err := e.CartTotal([]Line{
		{BasePrice: 3250, Quantity: 1, Mode: ModeOneTime},
		{BasePrice: 6800, Quantity: 2, Mode: ModeOneTime},
	})
	require.NoError(t, err)
	require.Equal(t, Money(16850), subtotal)

	summary := e.OrderTotal(subtotal, 899)
	require.Equal(t, Summary{Subtotal: 16850, Shipping: 899, Tax: 1348, Total: 19097}, summary)
}

func TestOrderTotalCustomRate(t *testing.T) {
	summary := OrderTotal(1005, 0, decimal.RequireFromString("0.1"))
	// 100.5 rounds half-up
	require.Equal(t, Money(101), summary.Tax)
	require.Equal(t, Money(1106), summary.Total)
}

func TestSavings(t *testing.T) {
	e := newTestEngine()
	saved, err := e.Savings([]Line{
		{BasePrice: 4599, Quantity: 2, Mode: ModeRecurring, Frequency: Monthly},
		{BasePrice: 3250, Quantity: 1, Mode: ModeOneTime},
	})
	require.NoError(t, err)
	require.Equal(t, Money(2*(4599-3909)), saved)
}

func TestLineTotalZeroQuantity(t *testing.T) {
	e := newTestEngine()
	lt, err := e.LineTotal(Line{BasePrice: 500, Quantity: 0, Mode: ModeOneTime})
	require.NoError(t, err)
	require.Zero(t, lt)
}

func TestFormatMajor(t *testing.T) {
	require.Equal(t, "190.97", FormatMajor(19097))
	require.Equal(t, "0.05", FormatMajor(5))
}

func TestParsePurchaseMode(t *testing.T) {
	mode, err := ParsePurchaseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeOneTime, mode)

	mode, err = ParsePurchaseMode(" Recurring ")
	require.NoError(t, err)
	require.Equal(t, ModeRecurring, mode)
	require.True(t, mode.IsSubscription())

	_, err = ParsePurchaseMode("rent")
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestTotalsRejectOverflow(t *testing.T) {
	e := newTestEngine()

	_, err := e.LineTotal(Line{BasePrice: 3250, Quantity: math.MaxInt64 / 1000, Mode: ModeOneTime})
	require.ErrorIs(t, err, ErrAmountOverflow)

	half := Line{BasePrice: math.MaxInt64 / 2, Quantity: 1, Mode: ModeOneTime}
	_, err = e.CartTotal([]Line{half, half, {BasePrice: 2, Quantity: 1}})
	require.ErrorIs(t, err, ErrAmountOverflow)

	_, err = e.Savings([]Line{{BasePrice: math.MaxInt64 / 2, Quantity: 3, Mode: ModeRecurring, Frequency: Monthly}})
	require.ErrorIs(t, err, ErrAmountOverflow)
}

func TestZeroTaxRateChargesNoTax(t *testing.T) {
	e := NewEngine(DefaultTable(), decimal.Zero)
	require.Equal(t, Summary{Subtotal: 16850, Shipping: 899, Tax: 0, Total: 17749}, e.OrderTotal(16850, 899))
}
