package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/app"
	"github.com/noah-isme/backend-flora/internal/config"
	"github.com/noah-isme/backend-flora/internal/lock"
	"github.com/noah-isme/backend-flora/internal/notify"
	"github.com/noah-isme/backend-flora/internal/obs"
	"github.com/noah-isme/backend-flora/internal/resilience"
)

const (
	serviceName   = "flora-worker"
	sweepInterval = 15 * time.Minute
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel, serviceName).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics("flora", nil)
	resilience.RegisterMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	mux := notify.NewServeMux(
		notify.EmailHandler{
			Mail:          notify.LogSender{Log: logger.With().Str("component", "mail").Logger()},
			From:          cfg.MailFrom,
			StorefrontURL: cfg.StorefrontURL,
			Log:           logger.With().Str("component", "email").Logger(),
		},
		notify.SweepHandler{
			Checkout:  services.Checkout,
			OlderThan: cfg.AttemptStaleAfter,
			Locker:    lock.Locker{R: infra.Redis, Prefix: "flora:", RetryBackoff: 50 * time.Millisecond, MaxWait: time.Second},
			LockTTL:   5 * time.Minute,
			Log:       logger.With().Str("component", "sweep").Logger(),
		},
	)

	srv := asynq.NewServer(infra.TaskRedis, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      asynqLogger{log: logger.With().Str("component", "asynq").Logger()},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})
	scheduler := asynq.NewScheduler(infra.TaskRedis, &asynq.SchedulerOpts{
		Logger: asynqLogger{log: logger.With().Str("component", "scheduler").Logger()},
	})
	if err := notify.RegisterSchedules(scheduler, sweepInterval); err != nil {
		logger.Fatal().Err(err).Msg("register schedules")
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	logger.Info().Msg("worker shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
