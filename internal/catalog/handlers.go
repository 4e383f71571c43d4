package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/common"
	"github.com/noah-isme/backend-flora/internal/obs"
)

// Handler exposes the cached product endpoint.
type Handler struct {
	Lookup *Lookup
}

// Product handles GET /api/v1/products/{productId}.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	if h.Lookup == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	p, err := h.Lookup.Product(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		if errors.Is(err, cart.ErrProductNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "product not found", nil)
			return
		}
		obs.LoggerFrom(r.Context(), h.Lookup.Log).Warn().Err(err).Msg("product_lookup_failed")
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "catalog unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": p})
}
