package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Repository persists carts per shopper session.
type Repository interface {
	Load(ctx context.Context, session string) (Cart, error)
	Save(ctx context.Context, session string, c Cart) error
}

// ErrSessionRequired is returned when no session identifier was provided.
var ErrSessionRequired = errors.New("cart session is required")

// RedisRepository stores the items and the gift message under two keys per
// session with a sliding expiry. Totals are never stored; they are derived on
// load.
type RedisRepository struct {
	R      redis.UniversalClient
	TTL    time.Duration
	Prefix string
	Log    zerolog.Logger
}

func (r *RedisRepository) ttl() time.Duration {
	if r == nil || r.TTL <= 0 {
		return 30 * 24 * time.Hour
	}
	return r.TTL
}

func (r *RedisRepository) stateKey(session string) string {
	return r.prefix() + "cart:" + session + ":state"
}

func (r *RedisRepository) giftKey(session string) string {
	return r.prefix() + "cart:" + session + ":gift"
}

func (r *RedisRepository) prefix() string {
	p := strings.TrimSpace(r.Prefix)
	if p == "" {
		return "flora:"
	}
	if !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}

// Load returns the stored cart. Missing or unreadable payloads load as an
// empty cart; only transport failures are returned as errors. The returned
// cart has no total and should be passed through a Load action.
func (r *RedisRepository) Load(ctx context.Context, session string) (Cart, error) {
	if r == nil || r.R == nil {
		return Cart{}, errors.New("cart repository not configured")
	}
	if strings.TrimSpace(session) == "" {
		return Cart{}, ErrSessionRequired
	}
	vals, err := r.R.MGet(ctx, r.stateKey(session), r.giftKey(session)).Result()
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	var c Cart
	if raw, ok := vals[0].(string); ok && raw != "" {
		var items []LineItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			r.Log.Warn().Err(err).Str("session", session).Msg("discarding unreadable cart state")
		} else {
			c.Items = items
		}
	}
	if raw, ok := vals[1].(string); ok && raw != "" {
		var gift GiftMessage
		if err := json.Unmarshal([]byte(raw), &gift); err != nil {
			r.Log.Warn().Err(err).Str("session", session).Msg("discarding unreadable gift message")
		} else if !gift.IsEmpty() {
			c.GiftMessage = &gift
		}
	}
	return c, nil
}

// Save writes both keys in one transaction and refreshes their expiry.
func (r *RedisRepository) Save(ctx context.Context, session string, c Cart) error {
	if r == nil || r.R == nil {
		return errors.New("cart repository not configured")
	}
	if strings.TrimSpace(session) == "" {
		return ErrSessionRequired
	}
	items := c.Items
	if items == nil {
		items = []LineItem{}
	}
	state, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	var gift []byte
	if c.GiftMessage != nil && !c.GiftMessage.IsEmpty() {
		if gift, err = json.Marshal(c.GiftMessage); err != nil {
			return fmt.Errorf("encode gift message: %w", err)
		}
	}
	ttl := r.ttl()
	_, err = r.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.stateKey(session), state, ttl)
		if gift != nil {
			p.Set(ctx, r.giftKey(session), gift, ttl)
		} else {
			p.Del(ctx, r.giftKey(session))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// MemoryRepository keeps carts in process memory.
type MemoryRepository struct {
	mu    sync.Mutex
	carts map[string]Cart
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]Cart)}
}

// Load implements Repository.
func (m *MemoryRepository) Load(_ context.Context, session string) (Cart, error) {
	if strings.TrimSpace(session) == "" {
		return Cart{}, ErrSessionRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneCart(m.carts[session]), nil
}

// Save implements Repository.
func (m *MemoryRepository) Save(_ context.Context, session string, c Cart) error {
	if strings.TrimSpace(session) == "" {
		return ErrSessionRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.carts == nil {
		m.carts = make(map[string]Cart)
	}
	m.carts[session] = cloneCart(c)
	return nil
}

func cloneCart(c Cart) Cart {
	out := Cart{Items: append([]LineItem(nil), c.Items...), Total: c.Total}
	if c.GiftMessage != nil {
		g := *c.GiftMessage
		out.GiftMessage = &g
	}
	return out
}
