package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Address is a postal address as the commerce API expects it.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Contact identifies the buyer.
type Contact struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

// OrderItem is one snapshotted cart line. PriceCents is the unit price at
// submission and is never re-read from the catalog.
type OrderItem struct {
	ProductID    string        `json:"productId"`
	Quantity     int           `json:"quantity"`
	PriceCents   pricing.Money `json:"priceCents"`
	PurchaseMode string        `json:"purchaseMode"`
	Frequency    string        `json:"frequency,omitempty"`
	DeliveryDate *time.Time    `json:"deliveryDate,omitempty"`
}

// GiftMessage travels with the order.
type GiftMessage struct {
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Message string `json:"message,omitempty"`
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	UserID          string          `json:"userId,omitempty"`
	Contact         Contact         `json:"contact"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress Address         `json:"shippingAddress"`
	BillingAddress  Address         `json:"billingAddress"`
	DeliveryType    string          `json:"deliveryType"`
	GiftMessage     *GiftMessage    `json:"giftMessage,omitempty"`
	Summary         pricing.Summary `json:"summary"`
}

// Order is the created order returned by the commerce API.
type Order struct {
	ID          string        `json:"id"`
	OrderNumber string        `json:"orderNumber"`
	Status      string        `json:"status"`
	TotalCents  pricing.Money `json:"totalCents"`
}

// PaymentIntentRequest is the body of POST /payments/intent. Amount is in
// major currency units.
type PaymentIntentRequest struct {
	OrderID string      `json:"orderId"`
	Amount  json.Number `json:"amount"`
}

// PaymentIntent carries what the payment UI needs.
type PaymentIntent struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// CreateOrder submits an order. The idempotency key makes a repeated
// submission return the order created the first time.
func (c *Client) CreateOrder(ctx context.Context, idempotencyKey string, req OrderRequest) (Order, error) {
	var out Order
	err := c.do(ctx, "create order", http.MethodPost, "/orders", req, &out, requestOptions{idempotencyKey: idempotencyKey})
	return out, err
}

// CreatePaymentIntent requests a payment intent for total minor units.
func (c *Client) CreatePaymentIntent(ctx context.Context, idempotencyKey, orderID string, total pricing.Money) (PaymentIntent, error) {
	body := PaymentIntentRequest{OrderID: orderID, Amount: json.Number(pricing.FormatMajor(total))}
	var out PaymentIntent
	err := c.do(ctx, "create payment intent", http.MethodPost, "/payments/intent", body, &out, requestOptions{idempotencyKey: idempotencyKey})
	return out, err
}
