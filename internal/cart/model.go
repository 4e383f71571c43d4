package cart

import (
	"strings"
	"time"

	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Product is the catalog snapshot carried on a line item.
type Product struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	BasePrice pricing.Money `json:"basePrice"`
	Image     string        `json:"image,omitempty"`
	InStock   bool          `json:"inStock"`
}

// LineItem is one row of the shopper's cart.
type LineItem struct {
	ID                   string               `json:"id"`
	Product              Product              `json:"product"`
	Quantity             int                  `json:"quantity"`
	IsSubscription       bool                 `json:"isSubscription"`
	PurchaseMode         pricing.PurchaseMode `json:"purchaseMode"`
	Frequency            pricing.Frequency    `json:"frequency,omitempty"`
	DiscountPercent      *int                 `json:"discountPercent,omitempty"`
	SelectedDeliveryDate *time.Time           `json:"selectedDeliveryDate,omitempty"`
}

// GiftMessage is shared by every item in the cart.
type GiftMessage struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"message"`
}

// IsEmpty reports whether every field is blank.
func (g GiftMessage) IsEmpty() bool {
	return strings.TrimSpace(g.To) == "" && strings.TrimSpace(g.From) == "" && strings.TrimSpace(g.Body) == ""
}

// Cart is the aggregate state of a shopper session. Total always equals the
// priced sum of Items.
type Cart struct {
	Items       []LineItem    `json:"items"`
	Total       pricing.Money `json:"total"`
	GiftMessage *GiftMessage  `json:"giftMessage,omitempty"`
}

// ItemCount sums the quantities of every line.
func (c Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// HasSubscription reports whether any item bills on a schedule.
func (c Cart) HasSubscription() bool {
	for _, it := range c.Items {
		if it.IsSubscription {
			return true
		}
	}
	return false
}

// Find returns the item with the provided id.
func (c Cart) Find(id string) (LineItem, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return LineItem{}, false
}

// UTCDateKey normalises a delivery date to its UTC calendar day. It is used
// to merge duplicate lines; delivery grouping uses the shopper's local day.
func UTCDateKey(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

func (it LineItem) mergeKey() string {
	return strings.Join([]string{
		it.Product.ID,
		string(it.PurchaseMode),
		string(it.Frequency),
		UTCDateKey(it.SelectedDeliveryDate),
	}, "|")
}

// PricingLine converts the item for the pricing engine.
func (it LineItem) PricingLine() pricing.Line {
	return pricing.Line{
		BasePrice: it.Product.BasePrice,
		Quantity:  it.Quantity,
		Mode:      it.PurchaseMode,
		Frequency: it.Frequency,
	}
}

// Lines converts items for the pricing engine.
func Lines(items []LineItem) []pricing.Line {
	out := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		out = append(out, it.PricingLine())
	}
	return out
}
