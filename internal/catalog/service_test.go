package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/cache"
	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/catalog"
	"github.com/noah-isme/backend-flora/internal/upstream"
)

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	fail  error
}

func (s *countingSource) Product(_ context.Context, id string) (upstream.Product, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.fail != nil {
		return upstream.Product{}, s.fail
	}
	if id != "p-roses" {
		return upstream.Product{}, upstream.ErrNotFound
	}
	return upstream.Product{ID: id, Name: "Red Roses", BasePrice: 3250, InStock: true}, nil
}

func newLookup(t *testing.T, src catalog.Source) (*catalog.Lookup, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &catalog.Lookup{Source: src, Cache: cache.NewJSON(client, "flora:", time.Minute)}, mr
}

func TestLookupCachesProducts(t *testing.T) {
	src := &countingSource{}
	lookup, mr := newLookup(t, src)
	ctx := context.Background()

	p, err := lookup.Product(ctx, "p-roses")
	require.NoError(t, err)
	require.Equal(t, cart.Product{ID: "p-roses", Name: "Red Roses", BasePrice: 3250, InStock: true}, p)
	require.True(t, mr.Exists("flora:product:p-roses"))

	_, err = lookup.Product(ctx, "p-roses")
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load())

	require.NoError(t, lookup.Invalidate(ctx, "p-roses"))
	_, err = lookup.Product(ctx, "p-roses")
	require.NoError(t, err)
	require.Equal(t, int32(2), src.calls.Load())
}

func TestLookupCollapsesConcurrentMisses(t *testing.T) {
	src := &countingSource{delay: 50 * time.Millisecond}
	lookup, _ := newLookup(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lookup.Product(context.Background(), "p-roses")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Less(t, src.calls.Load(), int32(8))
}

func TestLookupErrors(t *testing.T) {
	lookup, _ := newLookup(t, &countingSource{})
	_, err := lookup.Product(context.Background(), "p-unknown")
	require.ErrorIs(t, err, cart.ErrProductNotFound)

	down := errors.New("connection refused")
	lookup, _ = newLookup(t, &countingSource{fail: down})
	_, err = lookup.Product(context.Background(), "p-roses")
	require.ErrorIs(t, err, down)
	require.False(t, errors.Is(err, cart.ErrProductNotFound))
}

func TestProductHandler(t *testing.T) {
	lookup, _ := newLookup(t, &countingSource{})
	h := &catalog.Handler{Lookup: lookup}
	r := chi.NewRouter()
	r.Get("/api/v1/products/{productId}", h.Product)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products/p-roses", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data cart.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 3250, body.Data.BasePrice)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products/p-unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
