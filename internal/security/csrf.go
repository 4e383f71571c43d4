package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-flora/internal/common"
)

// CSRF protects cookie-authenticated writes using the double-submit technique.
// Requests that do not carry AuthCookie hold no ambient credential and pass.
type CSRF struct {
	Header     string
	Cookie     string
	AuthCookie string
}

// Middleware enforces that unsafe requests carrying the auth cookie include a
// CSRF header matching the CSRF cookie.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}
	cookieName := strings.TrimSpace(c.Cookie)
	if cookieName == "" {
		cookieName = "flora_csrf"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := common.BearerToken(r); ok || !c.carriesAuthCookie(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_REQUIRED", "missing csrf token", nil)
			return
		}
		cookie, err := r.Cookie(cookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			common.JSONError(w, http.StatusForbidden, "CSRF_REQUIRED", "missing csrf cookie", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			common.JSONError(w, http.StatusForbidden, "CSRF_INVALID", "invalid csrf token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c CSRF) carriesAuthCookie(r *http.Request) bool {
	if c.AuthCookie == "" {
		return false
	}
	cookie, err := r.Cookie(c.AuthCookie)
	return err == nil && cookie.Value != ""
}
