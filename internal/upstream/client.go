// Package upstream talks to the external commerce API that owns orders,
// payment intents, delivery data and the product catalog.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-flora/internal/resilience"
)

var (
	// ErrNotFound is returned when the commerce API answers 404.
	ErrNotFound = errors.New("upstream: not found")
	// ErrNotConfigured is returned by a client without a base URL.
	ErrNotConfigured = errors.New("upstream: client not configured")
)

// APIError carries a non-success response from the commerce API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Client is a thin JSON client for the commerce API. Every request carries
// the service bearer token and goes through the retrying HTTP wrapper.
type Client struct {
	BaseURL string
	Token   string
	HTTP    resilience.HTTPClient
}

// Options configures New.
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
}

// New builds a client with a traced transport and a breaker named "commerce".
func New(opts Options) *Client {
	breaker := resilience.NewBreaker(10, 0.5, 30*time.Second).
		WithTarget("commerce").
		WithLogger(opts.Logger)
	return &Client{
		BaseURL: opts.BaseURL,
		Token:   opts.Token,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     breaker,
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: opts.MaxAttempts,
			Jitter:      0.2,
			Timeout:     opts.Timeout,
			Target:      "commerce",
			Logger:      opts.Logger,
		},
	}
}

func (c *Client) endpoint(path string) (string, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return "", ErrNotConfigured
	}
	return strings.TrimRight(c.BaseURL, "/") + path, nil
}

type requestOptions struct {
	idempotencyKey string
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any, opts requestOptions) error {
	target, err := c.endpoint(path)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if opts.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", opts.idempotencyKey)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) {
			return &APIError{Op: op, StatusCode: statusErr.StatusCode, Message: statusErr.Status}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// readMessage extracts {"error": "..."} or {"message": "..."} style bodies.
func readMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if body.Message != "" {
		return body.Message
	}
	var s string
	if json.Unmarshal(body.Error, &s) == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body.Error, &nested) == nil {
		return nested.Message
	}
	return ""
}

func pathEscape(segment string) string {
	return url.PathEscape(strings.TrimSpace(segment))
}
