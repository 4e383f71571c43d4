package notify

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/lock"
)

// Expirer abandons checkout attempts that stalled before a terminal state.
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Locker serialises the sweep across worker replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// SweepHandler runs the stale-attempt sweep under a distributed lock.
type SweepHandler struct {
	Checkout  Expirer
	OlderThan time.Duration
	Locker    Locker
	LockTTL   time.Duration
	Log       zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h SweepHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if h.Checkout == nil {
		return errors.New("sweep: checkout not configured")
	}
	olderThan := h.OlderThan
	if olderThan <= 0 {
		olderThan = 2 * time.Hour
	}
	run := func(ctx context.Context) error {
		n, err := h.Checkout.ExpireStale(ctx, olderThan)
		if err != nil {
			return err
		}
		if n > 0 {
			h.Log.Info().Int("expired", n).Dur("older_than", olderThan).Msg("stale checkout attempts abandoned")
		}
		return nil
	}
	if h.Locker == nil {
		return run(ctx)
	}
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	err := h.Locker.WithLock(ctx, "lock:checkout-sweep", ttl, run)
	if errors.Is(err, lock.ErrNotAcquired) {
		h.Log.Debug().Msg("checkout sweep already running elsewhere")
		return nil
	}
	return err
}
