package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/checkout"
	"github.com/noah-isme/backend-flora/internal/delivery"
	"github.com/noah-isme/backend-flora/internal/events"
	"github.com/noah-isme/backend-flora/internal/pricing"
	"github.com/noah-isme/backend-flora/internal/upstream"
)

type stubProducts map[string]cart.Product

func (s stubProducts) Product(_ context.Context, id string) (cart.Product, error) {
	p, ok := s[id]
	if !ok {
		return cart.Product{}, cart.ErrProductNotFound
	}
	return p, nil
}

// fakeCommerce deduplicates orders by idempotency key the way the commerce
// API does.
type fakeCommerce struct {
	mu             sync.Mutex
	orders         map[string]upstream.Order
	intents        map[string]upstream.PaymentIntent
	orderCalls     int
	intentCalls    int
	failOrders     int
	failIntents    int
	lastRequest    upstream.OrderRequest
	intentAmounts  []pricing.Money
	orderSequence  int
	intentSequence int
}

func newFakeCommerce() *fakeCommerce {
	return &fakeCommerce{orders: map[string]upstream.Order{}, intents: map[string]upstream.PaymentIntent{}}
}

func (f *fakeCommerce) CreateOrder(_ context.Context, key string, req upstream.OrderRequest) (upstream.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	f.lastRequest = req
	if f.failOrders > 0 {
		f.failOrders--
		return upstream.Order{}, &upstream.APIError{Op: "create order", StatusCode: 503}
	}
	if o, ok := f.orders[key]; ok {
		return o, nil
	}
	f.orderSequence++
	o := upstream.Order{
		ID:          fmt.Sprintf("ord_%d", f.orderSequence),
		OrderNumber: fmt.Sprintf("FL-%d", 1000+f.orderSequence),
		Status:      "pending_payment",
		TotalCents:  req.Summary.Total,
	}
	f.orders[key] = o
	return o, nil
}

func (f *fakeCommerce) CreatePaymentIntent(_ context.Context, key, orderID string, total pricing.Money) (upstream.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intentCalls++
	if f.failIntents > 0 {
		f.failIntents--
		return upstream.PaymentIntent{}, errors.New("provider timeout")
	}
	if pi, ok := f.intents[key]; ok {
		return pi, nil
	}
	f.intentSequence++
	f.intentAmounts = append(f.intentAmounts, total)
	pi := upstream.PaymentIntent{
		PaymentIntentID: fmt.Sprintf("pi_%d", f.intentSequence),
		ClientSecret:    fmt.Sprintf("pi_%d_secret_%s", f.intentSequence, orderID),
	}
	f.intents[key] = pi
	return pi, nil
}

func (f *fakeCommerce) distinctOrders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type stubPostcodes struct {
	result delivery.PostcodeResult
	err    error
}

func (s stubPostcodes) DeliveryInfo(context.Context) (delivery.Info, error) {
	return delivery.DefaultInfo, nil
}

func (s stubPostcodes) ValidatePostcode(_ context.Context, pc string) (delivery.PostcodeResult, error) {
	if s.err != nil {
		return delivery.PostcodeResult{}, s.err
	}
	res := s.result
	res.Postcode = pc
	return res, nil
}

type fixture struct {
	svc      *checkout.Service
	carts    *cart.Service
	commerce *fakeCommerce
	attempts *checkout.MemoryAttemptStore
	events   *events.MemoryStore
	clock    *time.Time
}

func newFixture(t *testing.T, postcodes stubPostcodes) *fixture {
	t.Helper()
	engine := pricing.NewEngine(pricing.DefaultTable(), pricing.DefaultTaxRate)
	carts := &cart.Service{
		Repo:    cart.NewMemoryRepository(),
		Reducer: cart.NewReducer(engine),
		Products: stubProducts{
			"p-roses":   {ID: "p-roses", Name: "Red Roses", BasePrice: 3250, InStock: true},
			"p-peonies": {ID: "p-peonies", Name: "Peonies", BasePrice: 6800, InStock: true},
			"p-lilies":  {ID: "p-lilies", Name: "Lilies", BasePrice: 4599, InStock: true},
		},
	}
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		carts:    carts,
		commerce: newFakeCommerce(),
		attempts: checkout.NewMemoryAttemptStore(),
		events:   &events.MemoryStore{},
		clock:    &clock,
	}
	f.attempts.Now = func() time.Time { return *f.clock }
	f.svc = &checkout.Service{
		Carts:    carts,
		Delivery: &delivery.Service{Source: postcodes},
		Pricing:  engine,
		Commerce: f.commerce,
		Attempts: f.attempts,
		Events:   &events.Bus{Store: f.events},
		Location: time.UTC,
		Now:      func() time.Time { return *f.clock },
	}
	return f
}

func (f *fixture) add(t *testing.T, session string, in cart.AddItemInput) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), session, in)
	require.NoError(t, err)
}

func (f *fixture) topics() []string {
	var topics []string
	for _, ev := range f.events.Events() {
		topics = append(topics, ev.Topic)
	}
	return topics
}

func validInput() checkout.Input {
	return checkout.Input{
		Contact: checkout.Contact{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"},
		Recipient: checkout.Address{
			Name:       "Grace Hopper",
			Line1:      "1 Flower Street",
			City:       "London",
			PostalCode: "E1 6AN",
			Country:    "gb",
		},
		UseSameAddress: true,
		DeliveryType:   "standard",
	}
}

func deliverable() delivery.PostcodeResult {
	return delivery.PostcodeResult{Available: true}
}

func deliverableWith(available bool, message string) delivery.PostcodeResult {
	return delivery.PostcodeResult{Available: available, Message: message}
}
