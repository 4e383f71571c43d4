package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/upstream"
)

type fakeCommerce struct {
	orders      atomic.Int32
	intents     atomic.Int32
	failOrders  atomic.Int32
	lastAuth    atomic.Value
	lastIdemKey atomic.Value
	lastIntent  atomic.Value
}

func (f *fakeCommerce) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.lastAuth.Store(r.Header.Get("Authorization"))
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
		f.lastIdemKey.Store(r.Header.Get("Idempotency-Key"))
		if f.failOrders.Load() > 0 {
			f.failOrders.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req upstream.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"items required"}}`)
			return
		}
		f.orders.Add(1)
		var total int64
		for _, it := range req.Items {
			total += int64(it.Quantity) * int64(it.PriceCents)
		}
		_ = json.NewEncoder(w).Encode(upstream.Order{ID: "ord_1", OrderNumber: "FL-1001", Status: "pending_payment", TotalCents: total})
	})
	r.Post("/payments/intent", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.lastIntent.Store(string(body))
		f.intents.Add(1)
		_, _ = io.WriteString(w, `{"clientSecret":"pi_1_secret","paymentIntentId":"pi_1"}`)
	})
	r.Get("/delivery/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"standard":{"feeCents":950,"timeframe":"2-4 days"},"express":{"feeCents":1700,"timeframe":"next day"}}`)
	})
	r.Get("/delivery/validate/{postcode}", func(w http.ResponseWriter, r *http.Request) {
		pc := chi.URLParam(r, "postcode")
		_ = json.NewEncoder(w).Encode(map[string]any{"available": pc != "ZZ1 1ZZ", "message": "checked " + pc})
	})
	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "p-roses" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"id":"p-roses","name":"Roses","basePrice":3250,"image":"roses.jpg","inStock":true}`)
	})
	return r
}

func newClient(t *testing.T, f *fakeCommerce) *upstream.Client {
	t.Helper()
	srv := httptest.NewServer(f.routes())
	t.Cleanup(srv.Close)
	cl := upstream.New(upstream.Options{
		BaseURL:     srv.URL + "/",
		Token:       "svc-token",
		Timeout:     time.Second,
		MaxAttempts: 3,
		Logger:      zerolog.Nop(),
	})
	cl.HTTP.BaseBackoff = time.Millisecond
	return cl
}

func TestCreateOrderSendsIdempotencyKeyAndRetries(t *testing.T) {
	f := &fakeCommerce{}
	f.failOrders.Store(1)
	cl := newClient(t, f)

	order, err := cl.CreateOrder(context.Background(), "key-1", upstream.OrderRequest{
		Items: []upstream.OrderItem{{ProductID: "p-roses", Quantity: 1, PriceCents: 3250, PurchaseMode: "one-time"}},
	})
	require.NoError(t, err)
	require.Equal(t, "ord_1", order.ID)
	require.EqualValues(t, 3250, order.TotalCents)
	require.Equal(t, int32(1), f.orders.Load())
	require.Equal(t, "key-1", f.lastIdemKey.Load())
	require.Equal(t, "Bearer svc-token", f.lastAuth.Load())
}

func TestCreateOrderRejectionIsAPIError(t *testing.T) {
	cl := newClient(t, &fakeCommerce{})

	_, err := cl.CreateOrder(context.Background(), "key-2", upstream.OrderRequest{})
	var apiErr *upstream.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "items required", apiErr.Message)
}

func TestCreatePaymentIntentUsesMajorUnits(t *testing.T) {
	f := &fakeCommerce{}
	cl := newClient(t, f)

	intent, err := cl.CreatePaymentIntent(context.Background(), "key-3:intent", "ord_1", 19097)
	require.NoError(t, err)
	require.Equal(t, "pi_1_secret", intent.ClientSecret)
	require.JSONEq(t, `{"orderId":"ord_1","amount":190.97}`, f.lastIntent.Load().(string))
}

func TestDeliveryEndpoints(t *testing.T) {
	cl := newClient(t, &fakeCommerce{})
	ctx := context.Background()

	info, err := cl.DeliveryInfo(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 950, info.Standard.Fee)
	require.EqualValues(t, 1700, info.Express.Fee)
	require.False(t, info.Fallback)

	res, err := cl.ValidatePostcode(ctx, "ZZ1 1ZZ")
	require.NoError(t, err)
	require.False(t, res.Available)
	require.Equal(t, "checked ZZ1 1ZZ", res.Message)
}

func TestProductNotFound(t *testing.T) {
	cl := newClient(t, &fakeCommerce{})

	p, err := cl.Product(context.Background(), "p-roses")
	require.NoError(t, err)
	require.EqualValues(t, 3250, p.BasePrice)

	_, err = cl.Product(context.Background(), "p-missing")
	require.True(t, errors.Is(err, upstream.ErrNotFound))
}

func TestUnconfiguredClient(t *testing.T) {
	var cl *upstream.Client
	_, err := cl.Product(context.Background(), "x")
	require.ErrorIs(t, err, upstream.ErrNotConfigured)
}
