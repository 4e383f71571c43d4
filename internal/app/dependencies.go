// Package app assembles the storefront's infrastructure and services so the
// API, the worker and floractl share one wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/cache"
	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/catalog"
	"github.com/noah-isme/backend-flora/internal/checkout"
	"github.com/noah-isme/backend-flora/internal/config"
	"github.com/noah-isme/backend-flora/internal/delivery"
	"github.com/noah-isme/backend-flora/internal/events"
	"github.com/noah-isme/backend-flora/internal/lock"
	"github.com/noah-isme/backend-flora/internal/notify"
	"github.com/noah-isme/backend-flora/internal/pricing"
	"github.com/noah-isme/backend-flora/internal/store"
	"github.com/noah-isme/backend-flora/internal/upstream"
)

// Infra holds the process's connections.
type Infra struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	Tasks *asynq.Client
	// TaskRedis is the asynq connection option, shared with servers and schedulers.
	TaskRedis asynq.RedisConnOpt
}

// OpenInfra connects Postgres, Redis and the asynq client.
func OpenInfra(ctx context.Context, cfg *config.Config, appName string, logger zerolog.Logger) (*Infra, error) {
	pool, err := store.Open(ctx, cfg.DatabaseURL, appName, logger)
	if err != nil {
		return nil, err
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	taskRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("parse task redis uri: %w", err)
	}
	return &Infra{
		DB:        pool,
		Redis:     redisClient,
		Tasks:     asynq.NewClient(taskRedis),
		TaskRedis: taskRedis,
	}, nil
}

// Close releases every connection.
func (i *Infra) Close() error {
	if i == nil {
		return nil
	}
	var errs []error
	if i.Tasks != nil {
		errs = append(errs, i.Tasks.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.DB != nil {
		i.DB.Close()
	}
	return errors.Join(errs...)
}

// Services are the domain services shared by the HTTP surface and the worker.
type Services struct {
	Pricing  *pricing.Engine
	Commerce *upstream.Client
	Locker   lock.Locker
	Carts    *cart.Service
	Catalog  *catalog.Lookup
	Delivery *delivery.Service
	Checkout *checkout.Service
	Events   *events.Bus
}

// Stores are the persistence backends of checkout attempts and domain events.
type Stores struct {
	Attempts checkout.AttemptStore
	Events   events.EventStore
}

// PostgresStores returns the pgx-backed stores.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{Attempts: store.NewAttempts(pool), Events: store.NewEvents(pool)}
}

// NewServices wires the domain services. tasks may be nil, in which case no
// notification emails are scheduled.
func NewServices(cfg *config.Config, logger zerolog.Logger, rdb redis.UniversalClient, stores Stores, tasks notify.TaskEnqueuer) *Services {
	engine := cfg.PricingEngine()
	commerce := upstream.New(upstream.Options{
		BaseURL:     cfg.CommerceAPIURL,
		Token:       cfg.CommerceAPIToken,
		Timeout:     cfg.CommerceTimeout,
		MaxAttempts: cfg.CommerceMaxAttempts,
		Logger:      logger.With().Str("component", "commerce").Logger(),
	})
	locker := lock.Locker{R: rdb, Prefix: "flora:", RetryBackoff: 25 * time.Millisecond, MaxWait: cfg.CartLockTTL}

	lookup := &catalog.Lookup{
		Source: commerce,
		Cache:  cache.NewJSON(rdb, "flora:catalog:", cfg.ProductTTL),
		Log:    logger.With().Str("component", "catalog").Logger(),
	}
	deliverySvc := &delivery.Service{
		Source: commerce,
		Cache:  cache.NewJSON(rdb, "flora:delivery:", cfg.ProductTTL),
		Log:    logger.With().Str("component", "delivery").Logger(),
	}
	carts := &cart.Service{
		Repo:     &cart.RedisRepository{R: rdb, TTL: cfg.CartTTL, Prefix: "flora:", Log: logger},
		Reducer:  cart.NewReducer(engine),
		Products: lookup,
		Locker:   locker,
		LockTTL:  cfg.CartLockTTL,
		Log:      logger.With().Str("component", "cart").Logger(),
	}

	bus := &events.Bus{Store: stores.Events}
	if tasks != nil {
		bus.Notifiers = append(bus.Notifiers, notify.Enqueuer{
			Client:   tasks,
			MaxRetry: 8,
			Log:      logger.With().Str("component", "notify").Logger(),
		})
	}

	checkoutSvc := &checkout.Service{
		Carts:    carts,
		Delivery: deliverySvc,
		Pricing:  engine,
		Commerce: commerce,
		Attempts: stores.Attempts,
		Locker:   locker,
		Events:   bus,
		Location: cfg.DeliveryLocation,
		Log:      logger.With().Str("component", "checkout").Logger(),
	}

	return &Services{
		Pricing:  engine,
		Commerce: commerce,
		Locker:   locker,
		Carts:    carts,
		Catalog:  lookup,
		Delivery: deliverySvc,
		Checkout: checkoutSvc,
		Events:   bus,
	}
}
