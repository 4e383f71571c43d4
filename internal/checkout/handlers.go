package checkout

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/common"
	"github.com/noah-isme/backend-flora/internal/lock"
	"github.com/noah-isme/backend-flora/internal/obs"
	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Handler exposes checkout endpoints.
type Handler struct {
	Svc      *Service
	Sessions cart.Sessions
}

type statusView struct {
	AttemptID       uuid.UUID     `json:"attemptId"`
	Status          Status        `json:"status"`
	OrderID         string        `json:"orderId,omitempty"`
	OrderNumber     string        `json:"orderNumber,omitempty"`
	TotalCents      pricing.Money `json:"totalCents"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
	LastError       string        `json:"lastError,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Svc == nil || h.Svc.configured() != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return false
	}
	return true
}

// Submit handles POST /api/v1/checkout.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	session, ok := h.Sessions.From(r)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "CART_EMPTY", ErrCartEmpty.Error(), nil)
		return
	}
	var in Input
	if err := common.DecodeJSON(r.Body, &in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	userID, _ := common.UserID(r.Context())
	res, err := h.Svc.Submit(r.Context(), session, userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

// Status handles GET /api/v1/checkout/{attemptId}. Attempts are only visible
// to the session that started them.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "attemptId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid attempt id", nil)
		return
	}
	a, err := h.Svc.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if session, ok := h.Sessions.From(r); !ok || session != a.SessionID {
		h.writeError(w, r, ErrAttemptNotFound)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": statusView{
		AttemptID:       a.ID,
		Status:          a.Status,
		OrderID:         a.OrderID,
		OrderNumber:     a.OrderNumber,
		TotalCents:      a.TotalCents,
		PaymentIntentID: a.PaymentIntentID,
		LastError:       a.LastError,
		UpdatedAt:       a.UpdatedAt,
	}})
}

// Preview handles GET /api/v1/cart/shipments?deliveryType=.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	session, _ := h.Sessions.From(r)
	p, err := h.Svc.Preview(r.Context(), session, r.URL.Query().Get("deliveryType"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *ValidationError
		uerr *UpstreamError
	)
	switch {
	case errors.As(err, &verr):
		common.WriteAppError(w, verr.AppError())
	case errors.Is(err, ErrAuthRequired):
		common.JSONError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "sign in to check out subscriptions", map[string]string{"redirectTo": SignInRedirect})
	case errors.As(err, &uerr):
		msg := "we could not create your order, please try again"
		if uerr.Step == StepPaymentIntent {
			msg = "we could not start the payment, please try again"
		}
		common.JSONError(w, http.StatusBadGateway, uerr.Code(), msg, nil)
	case errors.Is(err, ErrInvalidDeliveryType):
		common.JSONError(w, http.StatusBadRequest, "INVALID_DELIVERY_TYPE", err.Error(), nil)
	case errors.Is(err, ErrCartEmpty):
		common.JSONError(w, http.StatusBadRequest, "CART_EMPTY", err.Error(), nil)
	case errors.Is(err, ErrAttemptNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "checkout not found", nil)
	case errors.Is(err, cart.ErrSessionRequired):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, ErrAttemptConflict):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_IN_PROGRESS", "a checkout for this cart is already running", nil)
	case common.WriteAppError(w, err):
	default:
		obs.LoggerFrom(r.Context(), h.Svc.Log).Error().Err(err).Msg("checkout_request_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to complete checkout", nil)
	}
}
