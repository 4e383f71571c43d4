package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-flora/internal/pricing"
)

// MaxQuantity caps the units on a single line.
const MaxQuantity = 99

var (
	// ErrInvalidInput is returned when an action payload is malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidQuantity is returned for negative quantities on add and for
	// lines that would exceed MaxQuantity.
	ErrInvalidQuantity = fmt.Errorf("quantity must be between 1 and %d", MaxQuantity)
	// ErrFrequencyRequired is returned when a subscription line has no frequency.
	ErrFrequencyRequired = errors.New("subscription frequency is required")
	// ErrOutOfStock is returned when adding a product that cannot be sold.
	ErrOutOfStock = errors.New("product is out of stock")
)

// Action is a cart state transition.
type Action interface {
	cartAction()
}

// AddItem merges a product into the cart.
type AddItem struct {
	Product      Product
	Quantity     int
	Mode         pricing.PurchaseMode
	Frequency    pricing.Frequency
	DeliveryDate *time.Time
}

// RemoveItem drops the line with ID. Unknown ids are ignored.
type RemoveItem struct {
	ID string
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
type UpdateQuantity struct {
	ID       string
	Quantity int
}

// Clear empties the items and keeps the gift message.
type Clear struct{}

// SetGiftMessage replaces the cart's gift message. A blank message removes it.
type SetGiftMessage struct {
	Message GiftMessage
}

// Load replaces the whole state, typically with what storage returned.
type Load struct {
	Items       []LineItem
	GiftMessage *GiftMessage
}

func (AddItem) cartAction()        {}
func (RemoveItem) cartAction()     {}
func (UpdateQuantity) cartAction() {}
func (Clear) cartAction()          {}
func (SetGiftMessage) cartAction() {}
func (Load) cartAction()           {}

// Reducer applies actions to carts without mutating its input.
type Reducer struct {
	Pricing *pricing.Engine
	NewID   func() string
}

// NewReducer constructs a reducer that prices with engine.
func NewReducer(engine *pricing.Engine) *Reducer {
	return &Reducer{Pricing: engine}
}

func (r *Reducer) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

// Apply returns the state after action. The total is recomputed from scratch
// on every transition.
func (r *Reducer) Apply(c Cart, action Action) (Cart, error) {
	if r == nil || r.Pricing == nil {
		return c, errors.New("cart reducer not configured")
	}
	next := Cart{
		Items:       append([]LineItem(nil), c.Items...),
		GiftMessage: c.GiftMessage,
	}
	var err error
	switch a := action.(type) {
	case AddItem:
		next.Items, err = r.add(next.Items, a)
	case RemoveItem:
		next.Items = remove(next.Items, a.ID)
	case UpdateQuantity:
		next.Items, err = updateQuantity(next.Items, a.ID, a.Quantity)
	case Clear:
		next.Items = nil
	case SetGiftMessage:
		next.GiftMessage = normaliseGift(a.Message)
	case Load:
		next.Items = r.load(a.Items)
		next.GiftMessage = nil
		if a.GiftMessage != nil {
			next.GiftMessage = normaliseGift(*a.GiftMessage)
		}
	default:
		return c, fmt.Errorf("unsupported cart action %T: %w", action, ErrInvalidInput)
	}
	if err != nil {
		return c, err
	}
	total, err := r.Pricing.CartTotal(Lines(next.Items))
	if err != nil {
		return c, err
	}
	next.Total = total
	return next, nil
}

func (r *Reducer) add(items []LineItem, a AddItem) ([]LineItem, error) {
	if strings.TrimSpace(a.Product.ID) == "" {
		return nil, fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if a.Quantity < 0 || a.Quantity > MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	if !a.Product.InStock {
		return nil, fmt.Errorf("%s: %w", a.Product.ID, ErrOutOfStock)
	}
	qty := a.Quantity
	if qty == 0 {
		qty = 1
	}
	mode := a.Mode
	if mode == "" {
		mode = pricing.ModeOneTime
	}
	item := LineItem{
		Product:      a.Product,
		Quantity:     qty,
		PurchaseMode: mode,
	}
	if a.DeliveryDate != nil && !a.DeliveryDate.IsZero() {
		d := *a.DeliveryDate
		item.SelectedDeliveryDate = &d
	}
	if err := r.annotate(&item, a.Frequency); err != nil {
		return nil, err
	}

	key := item.mergeKey()
	for i := range items {
		if items[i].mergeKey() == key {
			if items[i].Quantity > MaxQuantity-qty {
				return nil, ErrInvalidQuantity
			}
			items[i].Quantity += qty
			return items, nil
		}
	}
	item.ID = r.newID()
	return append(items, item), nil
}

// annotate fills the subscription fields from the purchase mode.
func (r *Reducer) annotate(item *LineItem, freq pricing.Frequency) error {
	switch {
	case item.PurchaseMode == pricing.ModeOneTime:
		item.IsSubscription = false
		item.Frequency = ""
		item.DiscountPercent = nil
		return nil
	case item.PurchaseMode.IsSubscription():
		if freq == "" {
			return ErrFrequencyRequired
		}
		pct, err := r.Pricing.Table.Discount(freq)
		if err != nil {
			return err
		}
		item.IsSubscription = true
		item.Frequency = freq
		item.DiscountPercent = &pct
		return nil
	default:
		return fmt.Errorf("%w: %q", pricing.ErrUnknownMode, item.PurchaseMode)
	}
}

func remove(items []LineItem, id string) []LineItem {
	out := items[:0]
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

func updateQuantity(items []LineItem, id string, qty int) ([]LineItem, error) {
	if qty <= 0 {
		return remove(items, id), nil
	}
	if qty > MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	for i := range items {
		if items[i].ID == id {
			items[i].Quantity = qty
		}
	}
	return items, nil
}

// load keeps the stored lines that still price, refreshing the derived
// subscription fields against the current table.
func (r *Reducer) load(stored []LineItem) []LineItem {
	out := make([]LineItem, 0, len(stored))
	for _, it := range stored {
		if it.ID == "" || it.Product.ID == "" || it.Quantity <= 0 || it.Quantity > MaxQuantity {
			continue
		}
		if it.PurchaseMode == "" {
			it.PurchaseMode = pricing.ModeOneTime
		}
		if err := r.annotate(&it, it.Frequency); err != nil {
			continue
		}
		out = append(out, it)
	}
	return out
}

func normaliseGift(g GiftMessage) *GiftMessage {
	g.To = strings.TrimSpace(g.To)
	g.From = strings.TrimSpace(g.From)
	g.Body = strings.TrimSpace(g.Body)
	if g.IsEmpty() {
		return nil
	}
	return &g
}
