package ratelimit

import (
	"fmt"
	"net/http"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/common"
)

// NewRedisStore returns a limiter store shared by every API replica.
func NewRedisStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
}

// NewMemoryStore returns a process-local store.
func NewMemoryStore() limiter.Store {
	return memory.NewStore()
}

// New builds a limiter from a formatted rate such as "10-M".
func New(store limiter.Store, rate string) (*limiter.Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", rate, err)
	}
	return limiter.New(store, parsed), nil
}

// ByClientIP keys requests on the caller's address.
func ByClientIP(r *http.Request) string {
	return "ip:" + common.ClientIP(r)
}

// BySessionOrIP keys requests on the cart session, falling back to the address.
func BySessionOrIP(r *http.Request) string {
	if session, ok := (cart.Sessions{}).From(r); ok {
		return "session:" + session
	}
	return ByClientIP(r)
}
