package upstream

import (
	"context"
	"net/http"

	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Product is the catalog view of a product.
type Product struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	BasePrice pricing.Money `json:"basePrice"`
	Image     string        `json:"image"`
	InStock   bool          `json:"inStock"`
}

// Product fetches one product. Unknown ids yield ErrNotFound.
func (c *Client) Product(ctx context.Context, id string) (Product, error) {
	var out Product
	err := c.do(ctx, "get product", http.MethodGet, "/products/"+pathEscape(id), nil, &out, requestOptions{})
	return out, err
}
