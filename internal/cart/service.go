package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/obs"
	"github.com/noah-isme/backend-flora/internal/pricing"
)

// ErrProductNotFound is returned when the catalog has no such product.
var ErrProductNotFound = errors.New("product not found")

// ProductLookup resolves authoritative product data for new lines.
type ProductLookup interface {
	Product(ctx context.Context, id string) (Product, error)
}

// Locker serialises work for one key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service runs cart transitions as load, apply, save transactions.
type Service struct {
	Repo     Repository
	Reducer  *Reducer
	Products ProductLookup
	Locker   Locker
	LockTTL  time.Duration
	Log      zerolog.Logger
}

// AddItemInput is the shopper's request to add a product.
type AddItemInput struct {
	ProductID    string
	Quantity     int
	PurchaseMode string
	Frequency    string
	DeliveryDate *time.Time
}

func (s *Service) configured() error {
	if s == nil || s.Repo == nil || s.Reducer == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// Get loads the session's cart with its total derived from the items.
func (s *Service) Get(ctx context.Context, session string) (Cart, error) {
	if err := s.configured(); err != nil {
		return Cart{}, err
	}
	stored, err := s.Repo.Load(ctx, session)
	if err != nil {
		return Cart{}, err
	}
	return s.Reducer.Apply(Cart{}, Load{Items: stored.Items, GiftMessage: stored.GiftMessage})
}

// Dispatch applies action to the session's cart and persists the result.
func (s *Service) Dispatch(ctx context.Context, session string, action Action) (Cart, error) {
	if err := s.configured(); err != nil {
		return Cart{}, err
	}
	if strings.TrimSpace(session) == "" {
		return Cart{}, ErrSessionRequired
	}
	var out Cart
	run := func(ctx context.Context) error {
		current, err := s.Get(ctx, session)
		if err != nil {
			return err
		}
		next, err := s.Reducer.Apply(current, action)
		if err != nil {
			return err
		}
		if err := s.Repo.Save(ctx, session, next); err != nil {
			return err
		}
		out = next
		return nil
	}
	var err error
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 5 * time.Second
		}
		err = s.Locker.WithLock(ctx, "cart:"+session, ttl, run)
	} else {
		err = run(ctx)
	}
	recordMutation(action, err)
	if err != nil {
		return Cart{}, err
	}
	return out, nil
}

// AddItem resolves the product from the catalog and merges it into the cart.
// Client-supplied prices are never trusted.
func (s *Service) AddItem(ctx context.Context, session string, in AddItemInput) (Cart, error) {
	if err := s.configured(); err != nil {
		return Cart{}, err
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return Cart{}, fmt.Errorf("productId is required: %w", ErrInvalidInput)
	}
	mode, err := pricing.ParsePurchaseMode(in.PurchaseMode)
	if err != nil {
		return Cart{}, err
	}
	var freq pricing.Frequency
	if mode.IsSubscription() {
		if strings.TrimSpace(in.Frequency) == "" {
			return Cart{}, ErrFrequencyRequired
		}
		if freq, err = s.Reducer.Pricing.Table.ParseFrequency(in.Frequency); err != nil {
			return Cart{}, err
		}
	}
	if s.Products == nil {
		return Cart{}, errors.New("product lookup not configured")
	}
	product, err := s.Products.Product(ctx, in.ProductID)
	if err != nil {
		return Cart{}, err
	}
	return s.Dispatch(ctx, session, AddItem{
		Product:      product,
		Quantity:     in.Quantity,
		Mode:         mode,
		Frequency:    freq,
		DeliveryDate: in.DeliveryDate,
	})
}

// RemoveItem drops a line. Removing an unknown id succeeds.
func (s *Service) RemoveItem(ctx context.Context, session, itemID string) (Cart, error) {
	return s.Dispatch(ctx, session, RemoveItem{ID: itemID})
}

// UpdateQuantity sets a line's quantity.
func (s *Service) UpdateQuantity(ctx context.Context, session, itemID string, qty int) (Cart, error) {
	return s.Dispatch(ctx, session, UpdateQuantity{ID: itemID, Quantity: qty})
}

// Clear empties the items.
func (s *Service) Clear(ctx context.Context, session string) (Cart, error) {
	return s.Dispatch(ctx, session, Clear{})
}

// SetGiftMessage replaces the gift message.
func (s *Service) SetGiftMessage(ctx context.Context, session string, msg GiftMessage) (Cart, error) {
	return s.Dispatch(ctx, session, SetGiftMessage{Message: msg})
}

// Reset discards both the items and the gift message. It runs once an order
// has been paid for.
func (s *Service) Reset(ctx context.Context, session string) error {
	_, err := s.Dispatch(ctx, session, Load{})
	return err
}

// Savings reports the subscription savings of the cart.
func (s *Service) Savings(c Cart) pricing.Money {
	if s == nil || s.Reducer == nil || s.Reducer.Pricing == nil {
		return 0
	}
	saved, err := s.Reducer.Pricing.Savings(Lines(c.Items))
	if err != nil {
		return 0
	}
	return saved
}

func recordMutation(action Action, err error) {
	if obs.CartMutationsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.CartMutationsTotal.WithLabelValues(actionName(action), result).Inc()
}

func actionName(action Action) string {
	switch action.(type) {
	case AddItem:
		return "add_item"
	case RemoveItem:
		return "remove_item"
	case UpdateQuantity:
		return "update_quantity"
	case Clear:
		return "clear"
	case SetGiftMessage:
		return "gift_message"
	case Load:
		return "reset"
	default:
		return "unknown"
	}
}
