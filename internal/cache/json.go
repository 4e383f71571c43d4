package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON wraps Redis helpers for JSON payloads stored under a key prefix.
type JSON struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewJSON constructs a cache helper. A nil client yields a cache that never hits.
func NewJSON(client redis.UniversalClient, prefix string, ttl time.Duration) *JSON {
	return &JSON{client: client, ttl: ttl, prefix: prefix}
}

// Key returns the namespaced key for name.
func (c *JSON) Key(name string) string {
	if c == nil {
		return name
	}
	return c.prefix + name
}

// Get unmarshals a cached payload into dst. It reports whether the key existed.
func (c *JSON) Get(ctx context.Context, name string, dst any) (bool, error) {
	if c == nil || c.client == nil || name == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, c.Key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v as JSON with the configured TTL.
func (c *JSON) Set(ctx context.Context, name string, v any) error {
	if c == nil || c.client == nil || name == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(name), data, c.ttl).Err()
}

// Delete drops a cached entry.
func (c *JSON) Delete(ctx context.Context, name string) error {
	if c == nil || c.client == nil || name == "" {
		return nil
	}
	return c.client.Del(ctx, c.Key(name)).Err()
}
