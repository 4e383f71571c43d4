package delivery

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-flora/internal/common"
)

// Handler exposes delivery information to the storefront.
type Handler struct {
	Svc *Service
}

// Info returns the delivery options and fees.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Svc.Info(r.Context())})
}

// ValidatePostcode reports whether the postcode can be delivered to.
func (h *Handler) ValidatePostcode(w http.ResponseWriter, r *http.Request) {
	res, err := h.Svc.CheckPostcode(r.Context(), chi.URLParam(r, "postcode"))
	if err != nil {
		if errors.Is(err, ErrPostcodeRequired) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to validate postcode", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}
