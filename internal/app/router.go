package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/backend-flora/internal/auth"
	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/catalog"
	"github.com/noah-isme/backend-flora/internal/checkout"
	"github.com/noah-isme/backend-flora/internal/common"
	"github.com/noah-isme/backend-flora/internal/config"
	"github.com/noah-isme/backend-flora/internal/delivery"
	"github.com/noah-isme/backend-flora/internal/health"
	"github.com/noah-isme/backend-flora/internal/obs"
	"github.com/noah-isme/backend-flora/internal/payment"
	"github.com/noah-isme/backend-flora/internal/ratelimit"
	"github.com/noah-isme/backend-flora/internal/security"
)

// RouterDeps are the HTTP-only collaborators of the router.
type RouterDeps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Services *Services
	Redis    redis.UniversalClient
	// LimitStore backs rate limiting; nil disables it.
	LimitStore limiter.Store
	Verifier   auth.TokenVerifier
	Webhook    payment.Webhook
	Health     health.Handler
	Metrics    *obs.HTTPMetrics
	Tracing    bool
}

// NewRouter builds the storefront HTTP API.
func NewRouter(d RouterDeps) (http.Handler, error) {
	cfg := d.Config
	sessions := cart.Sessions{
		Domain:   cfg.CookieDomain,
		Secure:   cfg.CookieSecure,
		SameSite: cfg.CookieSameSite,
		MaxAge:   cfg.CartTTL,
	}

	cartHandler := &cart.Handler{Svc: d.Services.Carts, Sessions: sessions}
	catalogHandler := &catalog.Handler{Lookup: d.Services.Catalog}
	deliveryHandler := &delivery.Handler{Svc: d.Services.Delivery}
	checkoutHandler := &checkout.Handler{Svc: d.Services.Checkout, Sessions: sessions}
	authMiddleware := auth.Middleware{Verifier: d.Verifier, AccessCookie: cfg.AuthAccessCookie, Log: d.Logger}
	idem := common.Idem{
		R:   d.Redis,
		TTL: cfg.IdempotencyTTL,
		Scope: func(r *http.Request) string {
			session, _ := sessions.From(r)
			return session
		},
	}

	checkoutLimit, err := rateLimit(d.LimitStore, cfg.RateLimitCheckout, "checkout", ratelimit.BySessionOrIP, d.Logger)
	if err != nil {
		return nil, err
	}
	postcodeLimit, err := rateLimit(d.LimitStore, cfg.RateLimitPostcode, "postcode", ratelimit.ByClientIP, d.Logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.Tracing)
	}
	if d.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger, SessionHeader: cart.SessionHeader}.Middleware)
	r.Use(security.Headers{HSTS: cfg.EnableHSTS}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)
	r.Post("/webhooks/payment", d.Webhook.Handle)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.Authenticate)
		v.Use(security.CSRF{AuthCookie: cfg.AuthAccessCookie}.Middleware)

		v.Get("/products/{productId}", catalogHandler.Product)
		v.Get("/subscription-options", cartHandler.SubscriptionOptions)

		v.Route("/delivery", func(dr chi.Router) {
			dr.Get("/info", deliveryHandler.Info)
			dr.With(postcodeLimit).Get("/validate/{postcode}", deliveryHandler.ValidatePostcode)
		})

		v.Route("/cart", func(c chi.Router) {
			c.Get("/", cartHandler.Get)
			c.Get("/shipments", checkoutHandler.Preview)
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/items", cartHandler.AddItem)
				g.Patch("/items/{itemId}", cartHandler.UpdateItem)
				g.Delete("/items/{itemId}", cartHandler.RemoveItem)
				g.Delete("/", cartHandler.Clear)
				g.Put("/gift-message", cartHandler.SetGiftMessage)
			})
		})

		v.Route("/checkout", func(c chi.Router) {
			c.With(checkoutLimit, idem.Middleware).Post("/", checkoutHandler.Submit)
			c.Get("/{attemptId}", checkoutHandler.Status)
		})
	})

	return r, nil
}

func rateLimit(store limiter.Store, rate, scope string, key func(*http.Request) string, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	if store == nil || rate == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	l, err := ratelimit.New(store, rate)
	if err != nil {
		return nil, err
	}
	return ratelimit.Handler{
		Limiter: l,
		Key:     key,
		Scope:   scope,
		OnError: func(err error) {
			logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
		},
	}.Middleware, nil
}
