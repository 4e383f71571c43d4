package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	EnableHSTS         bool
	CookieDomain       string
	CookieSecure       bool
	CookieSameSite     http.SameSite

	LogFormat string
	LogLevel  string

	OTelExporter    string
	OTelEndpoint    string
	OTelSampleRatio float64
	MetricsBuckets  string

	CartTTL     time.Duration
	CartLockTTL time.Duration
	ProductTTL  time.Duration

	CommerceAPIURL      string
	CommerceAPIToken    string
	CommerceTimeout     time.Duration
	CommerceMaxAttempts int

	AuthJWTSecret string
	AuthIssuer    string
	AuthAudience  string
	AuthClockSkew time.Duration

	// AuthAccessCookie optionally names a cookie carrying the access token.
	// Cookie-authenticated writes must pass the CSRF check.
	AuthAccessCookie string

	PaymentWebhookSecret    string
	PaymentWebhookTolerance time.Duration

	TaxRate          decimal.Decimal
	Subscriptions    pricing.Table
	DeliveryLocation *time.Location

	RateLimitCheckout string
	RateLimitPostcode string
	IdempotencyTTL    time.Duration
	AttemptStaleAfter time.Duration

	WorkerConcurrency int
	MailFrom          string
	StorefrontURL     string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),
		EnableHSTS:         parseBool(k.String("SECURITY_HSTS")),
		CookieDomain:       strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:       parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite:     parseSameSite(k.String("COOKIE_SAMESITE")),

		LogFormat: valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),

		OTelExporter:    valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "none"),
		OTelEndpoint:    k.String("OBS_OTLP_ENDPOINT"),
		OTelSampleRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		MetricsBuckets:  k.String("OBS_METRICS_BUCKETS_MS"),

		CartTTL:     parseDuration(k.String("CART_TTL"), "720h"),
		CartLockTTL: parseDuration(k.String("CART_LOCK_TTL"), "5s"),
		ProductTTL:  parseDuration(k.String("PRODUCT_CACHE_TTL"), "5m"),

		CommerceAPIURL:      strings.TrimRight(strings.TrimSpace(k.String("COMMERCE_API_URL")), "/"),
		CommerceAPIToken:    k.String("COMMERCE_API_TOKEN"),
		CommerceTimeout:     parseDuration(k.String("COMMERCE_API_TIMEOUT"), "5s"),
		CommerceMaxAttempts: parseInt(k.String("COMMERCE_API_MAX_ATTEMPTS"), 3),

		AuthJWTSecret: k.String("AUTH_JWT_SECRET"),
		AuthIssuer:    strings.TrimSpace(k.String("AUTH_ISSUER")),
		AuthAudience:  strings.TrimSpace(k.String("AUTH_AUDIENCE")),
		AuthClockSkew: parseDuration(k.String("AUTH_CLOCK_SKEW"), "30s"),

		AuthAccessCookie: strings.TrimSpace(k.String("AUTH_ACCESS_COOKIE")),

		PaymentWebhookSecret:    k.String("PAYMENT_WEBHOOK_SECRET"),
		PaymentWebhookTolerance: parseDuration(k.String("PAYMENT_WEBHOOK_TOLERANCE"), "5m"),

		RateLimitCheckout: valueOrDefault(k.String("RATE_LIMIT_CHECKOUT"), "10-M"),
		RateLimitPostcode: valueOrDefault(k.String("RATE_LIMIT_POSTCODE"), "60-M"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		AttemptStaleAfter: parseDuration(k.String("CHECKOUT_ATTEMPT_STALE_AFTER"), "2h"),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),
		MailFrom:          valueOrDefault(k.String("MAIL_FROM"), "Flora <orders@flora.local>"),
		StorefrontURL:     strings.TrimRight(valueOrDefault(k.String("STOREFRONT_URL"), "http://localhost:5173"), "/"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.CommerceAPIURL == "" {
		return nil, errors.New("COMMERCE_API_URL is required")
	}
	if cfg.AuthJWTSecret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}

	rate, err := parseTaxRate(k.String("PRICING_TAX_RATE"))
	if err != nil {
		return nil, err
	}
	cfg.TaxRate = rate

	table, err := pricing.ParseTable(k.String("PRICING_SUBSCRIPTION_DISCOUNTS"))
	if err != nil {
		return nil, fmt.Errorf("PRICING_SUBSCRIPTION_DISCOUNTS: %w", err)
	}
	cfg.Subscriptions = table

	tz := valueOrDefault(k.String("DELIVERY_TIMEZONE"), "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("DELIVERY_TIMEZONE: %w", err)
	}
	cfg.DeliveryLocation = loc

	return cfg, nil
}

// PricingEngine builds the pricing engine described by the configuration.
func (c *Config) PricingEngine() *pricing.Engine {
	return pricing.NewEngine(c.Subscriptions, c.TaxRate)
}

func parseTaxRate(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return pricing.DefaultTaxRate, nil
	}
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("PRICING_TAX_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("PRICING_TAX_RATE must be in [0,1), got %s", value)
	}
	return rate, nil
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
