package upstream

import (
	"context"
	"net/http"

	"github.com/noah-isme/backend-flora/internal/delivery"
)

// DeliveryInfo fetches the live delivery tiers.
func (c *Client) DeliveryInfo(ctx context.Context) (delivery.Info, error) {
	var out delivery.Info
	if err := c.do(ctx, "delivery info", http.MethodGet, "/delivery/info", nil, &out, requestOptions{}); err != nil {
		return delivery.Info{}, err
	}
	out.Fallback = false
	return out, nil
}

// ValidatePostcode asks whether a postcode is inside the delivery area.
func (c *Client) ValidatePostcode(ctx context.Context, postcode string) (delivery.PostcodeResult, error) {
	var out delivery.PostcodeResult
	err := c.do(ctx, "validate postcode", http.MethodGet, "/delivery/validate/"+pathEscape(postcode), nil, &out, requestOptions{})
	return out, err
}
