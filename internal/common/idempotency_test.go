package common_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/common"
)

func newIdem(t *testing.T) (*miniredis.Miniredis, common.Idem) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, common.Idem{R: client, TTL: time.Minute}
}

func TestIdemReplaysStoredResponse(t *testing.T) {
	_, idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"orderId": "o-1"}})
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set("Idempotency-Key", "k-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	second := send()
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.EqualValues(t, 1, calls.Load())
}

func TestIdemInFlightConflict(t *testing.T) {
	mr, idem := newIdem(t)
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for an in-flight key")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	req.Header.Set("Idempotency-Key", "k-2")

	// The outer request holds the key while the inner one arrives.
	probe := httptest.NewRecorder()
	idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys := mr.Keys()
		require.Len(t, keys, 1)
		val, err := mr.Get(keys[0])
		require.NoError(t, err)
		require.Equal(t, "pending", val)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code)
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(probe, req)
	require.Equal(t, http.StatusNoContent, probe.Code)
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	mr, idem := newIdem(t)
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			common.JSONError(w, http.StatusBadGateway, "ORDER_FAILED", "upstream down", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set("Idempotency-Key", "k-3")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.EqualValues(t, 2, calls.Load())
	require.Len(t, mr.Keys(), 1)
}

func TestIdemWithoutHeaderPassesThrough(t *testing.T) {
	mr, idem := newIdem(t)
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, mr.Keys())
}

func TestIdemScopeSeparatesClients(t *testing.T) {
	_, idem := newIdem(t)
	idem.Scope = func(r *http.Request) string { return r.Header.Get("X-Cart-Session") }
	var calls atomic.Int32
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	for _, session := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.Header.Set("Idempotency-Key", "same")
		req.Header.Set("X-Cart-Session", session)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.EqualValues(t, 2, calls.Load())
}
