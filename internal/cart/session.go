package cart

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionHeader carries the cart session for clients that do not keep cookies.
	SessionHeader = "X-Cart-Session"
	// DefaultCookieName is the cookie holding the cart session.
	DefaultCookieName = "flora_cart"
)

// Sessions resolves and mints shopper cart sessions.
type Sessions struct {
	CookieName string
	Domain     string
	Secure     bool
	SameSite   http.SameSite
	MaxAge     time.Duration
}

func (s Sessions) cookieName() string {
	if strings.TrimSpace(s.CookieName) == "" {
		return DefaultCookieName
	}
	return s.CookieName
}

// From returns the session carried by the request. Only UUIDs are accepted.
func (s Sessions) From(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	candidates := []string{r.Header.Get(SessionHeader)}
	if c, err := r.Cookie(s.cookieName()); err == nil {
		candidates = append(candidates, c.Value)
	}
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil {
			return id.String(), true
		}
	}
	return "", false
}

// Ensure returns the request's session, minting and setting a new one when absent.
func (s Sessions) Ensure(w http.ResponseWriter, r *http.Request) string {
	if id, ok := s.From(r); ok {
		w.Header().Set(SessionHeader, id)
		return id
	}
	id := uuid.NewString()
	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	sameSite := s.SameSite
	if sameSite == http.SameSiteDefaultMode {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    id,
		Path:     "/",
		Domain:   s.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: sameSite,
	})
	w.Header().Set(SessionHeader, id)
	return id
}
