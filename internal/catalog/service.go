// Package catalog resolves product data from the commerce API for the cart
// and serves a cached product endpoint.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/backend-flora/internal/cache"
	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/upstream"
)

// Source fetches a product from the system of record.
type Source interface {
	Product(ctx context.Context, id string) (upstream.Product, error)
}

// Lookup caches product reads in Redis and collapses concurrent misses for
// the same id into one upstream call. It satisfies cart.ProductLookup.
type Lookup struct {
	Source Source
	Cache  *cache.JSON
	Log    zerolog.Logger

	group singleflight.Group
}

func productKey(id string) string {
	return "product:" + id
}

// Product returns the product with id. Unknown ids yield cart.ErrProductNotFound.
func (l *Lookup) Product(ctx context.Context, id string) (cart.Product, error) {
	if l == nil || l.Source == nil {
		return cart.Product{}, errors.New("catalog lookup not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return cart.Product{}, cart.ErrProductNotFound
	}

	var cached cart.Product
	if hit, err := l.Cache.Get(ctx, productKey(id), &cached); err != nil {
		l.Log.Warn().Err(err).Str("product_id", id).Msg("product cache read failed")
	} else if hit {
		return cached, nil
	}

	v, err, _ := l.group.Do(id, func() (any, error) {
		p, err := l.Source.Product(ctx, id)
		if err != nil {
			return cart.Product{}, err
		}
		product := toCartProduct(p)
		if err := l.Cache.Set(ctx, productKey(id), product); err != nil {
			l.Log.Warn().Err(err).Str("product_id", id).Msg("product cache write failed")
		}
		return product, nil
	})
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return cart.Product{}, fmt.Errorf("%w: %s", cart.ErrProductNotFound, id)
		}
		return cart.Product{}, fmt.Errorf("catalog: product %s: %w", id, err)
	}
	return v.(cart.Product), nil
}

// Invalidate drops a cached product, e.g. after a price change notification.
func (l *Lookup) Invalidate(ctx context.Context, id string) error {
	if l == nil {
		return nil
	}
	return l.Cache.Delete(ctx, productKey(strings.TrimSpace(id)))
}

func toCartProduct(p upstream.Product) cart.Product {
	return cart.Product{
		ID:        p.ID,
		Name:      p.Name,
		BasePrice: p.BasePrice,
		Image:     p.Image,
		InStock:   p.InStock,
	}
}
