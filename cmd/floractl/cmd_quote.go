package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/delivery"
	"github.com/noah-isme/backend-flora/internal/pricing"
)

var (
	quoteItems        []string
	quoteDelivery     string
	quoteTaxRate      string
	quoteDiscounts    string
	quoteTimezone     string
	quoteStandardFee  int64
	quoteExpressFee   int64
	quoteOutputAsJSON bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a cart offline",
	Long: `Price a cart with the storefront pricing engine and delivery grouping.

Each --item is PRICE[:QTY[:MODE[:FREQUENCY[:DATE]]]] where PRICE is in
cents, MODE is one-time, recurring or spontaneous and DATE is YYYY-MM-DD.

  floractl quote --item 4599:1:recurring:weekly --item 3250:2::monthly:2026-11-02

Tax rate and discounts default to PRICING_TAX_RATE and
PRICING_SUBSCRIPTION_DISCOUNTS.`,
	RunE: runQuote,
}

func init() {
	f := quoteCmd.Flags()
	f.StringArrayVar(&quoteItems, "item", nil, "cart item PRICE[:QTY[:MODE[:FREQUENCY[:DATE]]]] (repeatable)")
	f.StringVar(&quoteDelivery, "delivery", "standard", "delivery type: standard, express or pickup")
	f.StringVar(&quoteTaxRate, "tax-rate", "", "tax rate as a fraction, e.g. 0.08")
	f.StringVar(&quoteDiscounts, "discounts", "", "subscription discounts, e.g. weekly:20,monthly:15")
	f.StringVar(&quoteTimezone, "timezone", "", "delivery timezone (defaults to $DELIVERY_TIMEZONE or UTC)")
	f.Int64Var(&quoteStandardFee, "standard-fee", delivery.DefaultInfo.Standard.Fee, "standard delivery fee in cents")
	f.Int64Var(&quoteExpressFee, "express-fee", delivery.DefaultInfo.Express.Fee, "express delivery fee in cents")
	f.BoolVar(&quoteOutputAsJSON, "json", false, "print the quote as JSON")
	_ = quoteCmd.MarkFlagRequired("item")
	rootCmd.AddCommand(quoteCmd)
}

// cartQuote is the printed result of the quote command.
type cartQuote struct {
	Items    []cart.LineItem    `json:"items"`
	Delivery delivery.Quotation `json:"delivery"`
	Savings  pricing.Money      `json:"savings"`
	Summary  pricing.Summary    `json:"summary"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	table, err := pricing.ParseTable(firstNonEmpty(quoteDiscounts, os.Getenv("PRICING_SUBSCRIPTION_DISCOUNTS")))
	if err != nil {
		return err
	}
	taxRate := pricing.DefaultTaxRate
	if raw := firstNonEmpty(quoteTaxRate, os.Getenv("PRICING_TAX_RATE")); raw != "" {
		taxRate, err = decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("tax rate %q: %w", raw, err)
		}
	}
	loc, err := time.LoadLocation(firstNonEmpty(quoteTimezone, os.Getenv("DELIVERY_TIMEZONE"), "UTC"))
	if err != nil {
		return err
	}
	deliveryType, err := delivery.ParseType(quoteDelivery)
	if err != nil {
		return err
	}

	q, err := buildQuote(pricing.NewEngine(table, taxRate), table, quoteItems, deliveryType, delivery.Info{
		Standard: delivery.Tier{Fee: quoteStandardFee},
		Express:  delivery.Tier{Fee: quoteExpressFee},
	}, loc)
	if err != nil {
		return err
	}
	if quoteOutputAsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	}
	printQuote(cmd.OutOrStdout(), q)
	return nil
}

func buildQuote(engine *pricing.Engine, table pricing.Table, args []string, t delivery.Type, info delivery.Info, loc *time.Location) (cartQuote, error) {
	items := make([]cart.LineItem, 0, len(args))
	lines := make([]pricing.Line, 0, len(args))
	for i, arg := range args {
		item, err := parseItem(arg, table, loc)
		if err != nil {
			return cartQuote{}, err
		}
		item.ID = fmt.Sprintf("item-%d", i+1)
		item.Product = cart.Product{ID: item.ID, Name: item.ID, BasePrice: item.Product.BasePrice, InStock: true}
		items = append(items, item)
		lines = append(lines, pricing.Line{
			BasePrice: item.Product.BasePrice,
			Quantity:  item.Quantity,
			Mode:      item.PurchaseMode,
			Frequency: item.Frequency,
		})
	}
	subtotal, err := engine.CartTotal(lines)
	if err != nil {
		return cartQuote{}, err
	}
	savings, err := engine.Savings(lines)
	if err != nil {
		return cartQuote{}, err
	}
	plan := delivery.Quote(items, t, info, loc)
	return cartQuote{
		Items:    items,
		Delivery: plan,
		Savings:  savings,
		Summary:  engine.OrderTotal(subtotal, plan.Shipping),
	}, nil
}

func parseItem(arg string, table pricing.Table, loc *time.Location) (cart.LineItem, error) {
	parts := strings.Split(arg, ":")
	if len(parts) > 5 {
		return cart.LineItem{}, fmt.Errorf("item %q: too many fields", arg)
	}
	field := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}

	price, err := strconv.ParseInt(field(0), 10, 64)
	if err != nil || price < 0 {
		return cart.LineItem{}, fmt.Errorf("item %q: price must be a non-negative number of cents", arg)
	}
	qty := 1
	if raw := field(1); raw != "" {
		if qty, err = strconv.Atoi(raw); err != nil || qty < 1 {
			return cart.LineItem{}, fmt.Errorf("item %q: quantity must be at least 1", arg)
		}
	}
	mode, err := pricing.ParsePurchaseMode(field(2))
	if err != nil {
		return cart.LineItem{}, fmt.Errorf("item %q: %w", arg, err)
	}
	item := cart.LineItem{
		Product:      cart.Product{BasePrice: price},
		Quantity:     qty,
		PurchaseMode: mode,
	}
	if raw := field(3); raw != "" {
		freq, err := table.ParseFrequency(raw)
		if err != nil {
			return cart.LineItem{}, fmt.Errorf("item %q: %w", arg, err)
		}
		if mode == pricing.ModeOneTime && field(2) == "" {
			mode = pricing.ModeRecurring
			item.PurchaseMode = mode
		}
		item.Frequency = freq
	}
	if mode.IsSubscription() {
		if item.Frequency == "" {
			return cart.LineItem{}, fmt.Errorf("item %q: %s purchases need a frequency", arg, mode)
		}
		item.IsSubscription = true
		pct, _ := table.Discount(item.Frequency)
		item.DiscountPercent = &pct
	} else {
		item.Frequency = ""
	}
	if raw := field(4); raw != "" {
		day, err := time.ParseInLocation(time.DateOnly, raw, loc)
		if err != nil {
			return cart.LineItem{}, fmt.Errorf("item %q: delivery date: %w", arg, err)
		}
		item.SelectedDeliveryDate = &day
	}
	return item, nil
}

func printQuote(w io.Writer, q cartQuote) {
	for _, item := range q.Items {
		line := fmt.Sprintf("%-8s %3d x %8s  %s", item.ID, item.Quantity, pricing.FormatMajor(item.Product.BasePrice), item.PurchaseMode)
		if item.Frequency != "" {
			line += " " + string(item.Frequency)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	for _, g := range q.Delivery.Groups {
		day := "unscheduled"
		if g.DateKey != nil {
			day = *g.DateKey
		}
		fmt.Fprintf(w, "delivery %-12s %2d item(s)  %8s\n", day, g.ItemCount, pricing.FormatMajor(g.ShippingCost))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "subtotal %10s\n", pricing.FormatMajor(q.Summary.Subtotal))
	fmt.Fprintf(w, "shipping %10s\n", pricing.FormatMajor(q.Summary.Shipping))
	fmt.Fprintf(w, "tax      %10s\n", pricing.FormatMajor(q.Summary.Tax))
	fmt.Fprintf(w, "total    %10s\n", pricing.FormatMajor(q.Summary.Total))
	if q.Savings > 0 {
		fmt.Fprintf(w, "saved    %10s\n", pricing.FormatMajor(q.Savings))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
