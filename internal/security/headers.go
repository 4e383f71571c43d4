// Package security holds the HTTP hardening middleware of the storefront API.
package security

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/cors"
)

// Headers sets the response hardening headers of a JSON API. Responses are
// never cached by shared caches because carts and checkouts are per session.
type Headers struct {
	// HSTS adds Strict-Transport-Security to responses served over TLS.
	HSTS       bool
	HSTSMaxAge time.Duration
}

const defaultHSTSMaxAge = 365 * 24 * time.Hour

// Middleware attaches the headers before the handler runs.
func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := ""
	if h.HSTS {
		maxAge := h.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = defaultHSTSMaxAge
		}
		hsts = "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		headers.Set("Cache-Control", "no-store")
		if hsts != "" && r.TLS != nil {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS returns the go-chi/cors middleware for the storefront origins. The
// cart session and idempotency headers must be allowed and exposed so the SPA
// can read and replay them.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowCredentials := true
	for _, o := range origins {
		if o == "*" {
			allowCredentials = false
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "X-CSRF-Token", "X-Request-ID", "Idempotency-Key", "X-Cart-Session"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Cart-Session", "Idempotency-Replayed", "Retry-After"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	})
}
