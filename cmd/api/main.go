package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/backend-flora/internal/app"
	"github.com/noah-isme/backend-flora/internal/auth"
	"github.com/noah-isme/backend-flora/internal/config"
	"github.com/noah-isme/backend-flora/internal/health"
	"github.com/noah-isme/backend-flora/internal/obs"
	"github.com/noah-isme/backend-flora/internal/payment"
	"github.com/noah-isme/backend-flora/internal/ratelimit"
	"github.com/noah-isme/backend-flora/internal/resilience"
	"github.com/noah-isme/backend-flora/internal/store"
)

const serviceName = "flora-api"

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel, serviceName).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics("flora", nil)
	resilience.RegisterMetrics(nil)
	httpMetrics := obs.NewHTTPMetrics("flora", obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.OTelExporter != "none"
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Endpoint:      cfg.OTelEndpoint,
			Exporter:      cfg.OTelExporter,
			SamplingRatio: cfg.OTelSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if err := store.MigrateUp(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	infra, err := app.OpenInfra(startCtx, cfg, serviceName, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open infrastructure")
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Error().Err(err).Msg("close infrastructure")
		}
	}()

	services := app.NewServices(cfg, logger, infra.Redis, app.PostgresStores(infra.DB), infra.Tasks)

	limitStore, err := ratelimit.NewRedisStore(infra.Redis, "flora:ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}

	handler, err := app.NewRouter(app.RouterDeps{
		Config:     cfg,
		Logger:     logger,
		Services:   services,
		Redis:      infra.Redis,
		LimitStore: limitStore,
		Verifier:   auth.NewVerifier([]byte(cfg.AuthJWTSecret), cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthClockSkew),
		Webhook: payment.Webhook{
			Secret:    []byte(cfg.PaymentWebhookSecret),
			Tolerance: cfg.PaymentWebhookTolerance,
			Checkout:  services.Checkout,
			Replay:    payment.RedisReplayProtector{Client: infra.Redis},
			ReplayTTL: 24 * time.Hour,
			Log:       logger.With().Str("component", "payment-webhook").Logger(),
		},
		Health: health.Handler{
			Required: map[string]health.Check{
				"postgres": health.Postgres(infra.DB),
				"redis":    health.Redis(infra.Redis),
			},
			Degraded: map[string]health.Check{
				"commerce": commerceBreakerCheck(services.Commerce.HTTP.Breaker),
			},
			Timeout: 2 * time.Second,
		},
		Metrics: httpMetrics,
		Tracing: tracingEnabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

// commerceBreakerCheck reports the commerce API as degraded while its circuit
// breaker is open.
func commerceBreakerCheck(b *resilience.Breaker) health.Check {
	return func(context.Context) error {
		if b == nil {
			return nil
		}
		if snap := b.Snapshot(); snap.State == resilience.Open {
			return fmt.Errorf("%s breaker open since %s", snap.Target, snap.OpenedAt.Format(time.RFC3339))
		}
		return nil
	}
}
