package cart

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-flora/internal/common"
	"github.com/noah-isme/backend-flora/internal/lock"
	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc      *Service
	Sessions Sessions
}

type itemView struct {
	LineItem
	UnitPrice pricing.Money `json:"unitPrice"`
	LineTotal pricing.Money `json:"lineTotal"`
}

type cartView struct {
	SessionID   string        `json:"sessionId"`
	Items       []itemView    `json:"items"`
	ItemCount   int           `json:"itemCount"`
	Total       pricing.Money `json:"total"`
	Savings     pricing.Money `json:"savings"`
	GiftMessage *GiftMessage  `json:"giftMessage"`
}

func (h *Handler) view(session string, c Cart) cartView {
	out := cartView{
		SessionID:   session,
		Items:       make([]itemView, 0, len(c.Items)),
		ItemCount:   c.ItemCount(),
		Total:       c.Total,
		Savings:     h.Svc.Savings(c),
		GiftMessage: c.GiftMessage,
	}
	engine := h.Svc.Reducer.Pricing
	for _, it := range c.Items {
		unit, _ := engine.UnitPrice(it.Product.BasePrice, it.PurchaseMode, it.Frequency)
		line, _ := engine.LineTotal(it.PricingLine())
		out.Items = append(out.Items, itemView{LineItem: it, UnitPrice: unit, LineTotal: line})
	}
	return out
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Svc == nil || h.Svc.configured() != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, session string, c Cart) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(session, c)})
}

// Get returns the session's cart. Requests without a session see an empty cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	session, ok := h.Sessions.From(r)
	if !ok {
		h.respond(w, "", Cart{})
		return
	}
	c, err := h.Svc.Get(r.Context(), session)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, session, c)
}

// AddItem adds or merges a product line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload struct {
		ProductID    string `json:"productId"`
		Quantity     int    `json:"quantity"`
		PurchaseMode string `json:"purchaseMode"`
		Frequency    string `json:"frequency"`
		DeliveryDate string `json:"deliveryDate"`
	}
	if err := common.DecodeJSON(r.Body, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if strings.TrimSpace(payload.ProductID) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "productId is required", nil)
		return
	}
	if payload.Quantity < 0 || payload.Quantity > MaxQuantity {
		h.writeError(w, ErrInvalidQuantity)
		return
	}
	date, err := ParseDeliveryDate(payload.DeliveryDate)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "deliveryDate must be an ISO-8601 date", nil)
		return
	}
	session := h.Sessions.Ensure(w, r)
	c, err := h.Svc.AddItem(r.Context(), session, AddItemInput{
		ProductID:    payload.ProductID,
		Quantity:     payload.Quantity,
		PurchaseMode: payload.PurchaseMode,
		Frequency:    payload.Frequency,
		DeliveryDate: date,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, session, c)
}

// UpdateItem sets the quantity of a line. Zero removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload struct {
		Quantity *int `json:"quantity"`
	}
	if err := common.DecodeJSON(r.Body, &payload); err != nil || payload.Quantity == nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "quantity is required", nil)
		return
	}
	if *payload.Quantity > MaxQuantity {
		h.writeError(w, ErrInvalidQuantity)
		return
	}
	session := h.Sessions.Ensure(w, r)
	c, err := h.Svc.UpdateQuantity(r.Context(), session, chi.URLParam(r, "itemId"), *payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, session, c)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	session := h.Sessions.Ensure(w, r)
	c, err := h.Svc.RemoveItem(r.Context(), session, chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, session, c)
}

// Clear empties the cart while keeping the gift message.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	session := h.Sessions.Ensure(w, r)
	c, err := h.Svc.Clear(r.Context(), session)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, session, c)
}

// SetGiftMessage stores the cart-wide gift message.
func (h *Handler) SetGiftMessage(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var payload GiftMessage
	if err := common.DecodeJSON(r.Body, &payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if len(payload.Body) > 500 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "message must be at most 500 characters", nil)
		return
	}
	session := h.Sessions.Ensure(w, r)
	c, err := h.Svc.SetGiftMessage(r.Context(), session, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, session, c)
}

// SubscriptionOptions lists the frequencies and their discounts.
func (h *Handler) SubscriptionOptions(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Svc.Reducer.Pricing.Table.Options()})
}

// ParseDeliveryDate accepts an RFC 3339 timestamp or a bare YYYY-MM-DD date.
// Blank input means no date.
func ParseDeliveryDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, pricing.ErrAmountOverflow):
		common.JSONError(w, http.StatusBadRequest, "INVALID_QUANTITY", err.Error(), nil)
	case errors.Is(err, ErrFrequencyRequired), errors.Is(err, pricing.ErrUnknownFrequency):
		common.JSONError(w, http.StatusBadRequest, "INVALID_FREQUENCY", err.Error(), nil)
	case errors.Is(err, pricing.ErrUnknownMode), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSessionRequired):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrOutOfStock):
		common.JSONError(w, http.StatusConflict, "OUT_OF_STOCK", err.Error(), nil)
	case errors.Is(err, ErrProductNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CART_BUSY", "cart is being updated, retry shortly", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to update cart", nil)
	}
}
