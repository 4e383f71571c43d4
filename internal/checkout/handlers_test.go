package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/checkout"
	"github.com/noah-isme/backend-flora/internal/common"
)

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newRouter(f *fixture) http.Handler {
	h := &checkout.Handler{Svc: f.svc}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := r.Header.Get("X-Test-User"); user != "" {
				r = r.WithContext(common.WithUserID(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/api/v1/checkout", h.Submit)
	r.Get("/api/v1/checkout/{attemptId}", h.Status)
	r.Get("/api/v1/cart/shipments", h.Preview)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, sess string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sess != "" {
		req.Header.Set(cart.SessionHeader, sess)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitHandlerFlow(t *testing.T) {
	f := newFixture(t, stubPostcodes{result: deliverable()})
	f.add(t, session, cart.AddItemInput{ProductID: "p-roses", Quantity: 1})
	router := newRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/checkout", session, validInput(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Data checkout.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "ord_1", created.Data.OrderID)
	require.NotEmpty(t, created.Data.ClientSecret)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/checkout/"+created.Data.AttemptID.String(), session, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"awaiting_payment"`)
	require.NotContains(t, rec.Body.String(), "secret")

	other := "0b6a3c1e-2f4d-4e5a-8b7c-9d0e1f2a3b4c"
	rec = doJSON(t, router, http.MethodGet, "/api/v1/checkout/"+created.Data.AttemptID.String(), other, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitHandlerErrors(t *testing.T) {
	f := newFixture(t, stubPostcodes{result: deliverable()})
	f.add(t, session, cart.AddItemInput{ProductID: "p-lilies", Quantity: 1, PurchaseMode: "recurring", Frequency: "weekly"})
	router := newRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/checkout", session, validInput(), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "AUTH_REQUIRED", body.Error.Code)
	require.Equal(t, "/sign-in?returnTo=/checkout", body.Error.Details["redirectTo"])

	bad := validInput()
	bad.Contact.Email = ""
	rec = doJSON(t, router, http.MethodPost, "/api/v1/checkout", session, bad, map[string]string{"X-Test-User": "user-1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body = errorBody{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	require.Contains(t, rec.Body.String(), `"field":"contact.email"`)

	f.commerce.failOrders = 1
	rec = doJSON(t, router, http.MethodPost, "/api/v1/checkout", session, validInput(), map[string]string{"X-Test-User": "user-1"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "ORDER_FAILED")

	rec = doJSON(t, router, http.MethodPost, "/api/v1/checkout", "", validInput(), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "CART_EMPTY")

	rec = doJSON(t, router, http.MethodGet, "/api/v1/checkout/not-a-uuid", session, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewHandler(t *testing.T) {
	f := newFixture(t, stubPostcodes{result: deliverable()})
	f.add(t, session, cart.AddItemInput{ProductID: "p-roses", Quantity: 1})
	router := newRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/cart/shipments?deliveryType=pickup", session, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Data checkout.Preview `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "PICKUP", string(out.Data.DeliveryType))
	require.EqualValues(t, 3250+260, out.Data.Summary.Total)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/cart/shipments?deliveryType=boat", session, nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_DELIVERY_TYPE")
}

func TestSubmitHandlerUnconfigured(t *testing.T) {
	h := &checkout.Handler{}
	rec := httptest.NewRecorder()
	h.Submit(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil).WithContext(context.Background()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
