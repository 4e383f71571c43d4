package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Type is the delivery option picked at checkout.
type Type string

const (
	Standard Type = "STANDARD"
	Express  Type = "EXPRESS"
	Pickup   Type = "PICKUP"
)

// ParseType normalises a delivery type. Blank input selects STANDARD.
func ParseType(value string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(value))); t {
	case "":
		return Standard, nil
	case Standard, Express, Pickup:
		return t, nil
	default:
		return "", fmt.Errorf("unknown delivery type %q", value)
	}
}

// Tier is the fee and promised timeframe of one delivery option.
type Tier struct {
	Fee       pricing.Money `json:"feeCents"`
	Timeframe string        `json:"timeframe"`
}

// Info lists the fees of the paid delivery options.
type Info struct {
	Standard Tier `json:"standard"`
	Express  Tier `json:"express"`
	// Fallback is set when the defaults were served because the live data
	// could not be fetched.
	Fallback bool `json:"fallback,omitempty"`
}

// DefaultInfo is served when delivery information is unavailable.
var DefaultInfo = Info{
	Standard: Tier{Fee: 899, Timeframe: "3-5 business days"},
	Express:  Tier{Fee: 1599, Timeframe: "1-2 business days"},
}

// Group is the set of items delivered on one calendar day. A nil DateKey
// collects the items without a chosen date.
type Group struct {
	DateKey      *string         `json:"dateKey"`
	Items        []cart.LineItem `json:"items"`
	ItemCount    int             `json:"itemCount"`
	ShippingCost pricing.Money   `json:"shippingCost"`
}

// Quotation is the shipment plan of a cart for one delivery type.
type Quotation struct {
	DeliveryType Type          `json:"deliveryType"`
	Groups       []Group       `json:"groups"`
	Shipping     pricing.Money `json:"shipping"`
}

// LocalDateKey renders the calendar day of t in loc. Two instants on the
// same local day share a key regardless of time of day.
func LocalDateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}

// GroupByDeliveryDate partitions items by local delivery day, in the order
// each day is first seen. Every item lands in exactly one group.
func GroupByDeliveryDate(items []cart.LineItem, loc *time.Location) []Group {
	groups := make([]Group, 0)
	index := make(map[string]int)
	const undated = "\x00undated"
	for _, it := range items {
		key := undated
		if it.SelectedDeliveryDate != nil && !it.SelectedDeliveryDate.IsZero() {
			key = LocalDateKey(*it.SelectedDeliveryDate, loc)
		}
		i, ok := index[key]
		if !ok {
			g := Group{}
			if key != undated {
				k := key
				g.DateKey = &k
			}
			groups = append(groups, g)
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].Items = append(groups[i].Items, it)
		groups[i].ItemCount += it.Quantity
	}
	return groups
}

// ShippingCostFor returns the fee of one delivery. Pickup is free; paid
// options charge a flat fee per group.
func ShippingCostFor(g Group, t Type, info Info) pricing.Money {
	if len(g.Items) == 0 {
		return 0
	}
	switch t {
	case Pickup:
		return 0
	case Express:
		return info.Express.Fee
	default:
		return info.Standard.Fee
	}
}

// Quote groups items and prices each delivery.
func Quote(items []cart.LineItem, t Type, info Info, loc *time.Location) Quotation {
	groups := GroupByDeliveryDate(items, loc)
	q := Quotation{DeliveryType: t, Groups: groups}
	for i := range q.Groups {
		q.Groups[i].ShippingCost = ShippingCostFor(q.Groups[i], t, info)
		q.Shipping += q.Groups[i].ShippingCost
	}
	return q
}
