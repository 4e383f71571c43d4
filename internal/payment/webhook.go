// Package payment receives payment-provider callbacks and drives checkout
// confirmation from them.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/checkout"
	"github.com/noah-isme/backend-flora/internal/common"
	"github.com/noah-isme/backend-flora/internal/obs"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"

	maxWebhookBody = 64 << 10
)

// Confirmer applies payment outcomes to checkout attempts.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, intentID string) (checkout.Attempt, error)
	FailPayment(ctx context.Context, intentID, message string) (checkout.Attempt, error)
}

// Event is the provider's webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string `json:"id"`
			Status           string `json:"status"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error,omitempty"`
		} `json:"object"`
	} `json:"data"`
}

// Webhook verifies and dispatches payment-provider callbacks.
type Webhook struct {
	Secret    []byte
	Tolerance time.Duration
	Checkout  Confirmer
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Log       zerolog.Logger
	Now       func() time.Time
}

func (h Webhook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Handle processes POST /webhooks/payment.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if len(h.Secret) == 0 || h.Checkout == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if err := Verify(h.Secret, r.Header.Get(SignatureHeader), body, h.Tolerance, h.now()); err != nil {
		observe("unknown", "invalid_signature")
		h.Log.Warn().Err(err).Msg("payment_webhook_rejected")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		observe("unknown", "invalid_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed event", nil)
		return
	}

	ctx := r.Context()
	replayKey := "wh:payment:" + common.Sha256Hex(string(body))
	if h.Replay != nil {
		ttl := h.ReplayTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := h.Replay.Acquire(ctx, replayKey, ttl)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "replay store unavailable", nil)
			return
		}
		if !fresh {
			// Already applied; acknowledge so the provider stops redelivering.
			observe(ev.Type, "replay")
			h.Log.Info().Str("event", ev.Type).Str("event_id", ev.ID).Msg("payment_webhook_duplicate")
			common.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	intentID := ev.Data.Object.ID
	var attempt checkout.Attempt
	switch ev.Type {
	case EventIntentSucceeded:
		attempt, err = h.Checkout.ConfirmPayment(ctx, intentID)
	case EventIntentFailed:
		message := "payment failed"
		if pe := ev.Data.Object.LastPaymentError; pe != nil && pe.Message != "" {
			message = pe.Message
		}
		attempt, err = h.Checkout.FailPayment(ctx, intentID, message)
	default:
		observe(ev.Type, "ignored")
		common.JSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if err != nil {
		if errors.Is(err, checkout.ErrAttemptNotFound) {
			observe(ev.Type, "unknown_intent")
			h.Log.Warn().Str("payment_intent", intentID).Str("event", ev.Type).Msg("payment_webhook_unknown_intent")
			common.JSON(w, http.StatusOK, map[string]any{"received": true})
			return
		}
		// Release the replay marker so the provider's retry is processed.
		if h.Replay != nil {
			_ = h.Replay.Release(context.WithoutCancel(ctx), replayKey)
		}
		observe(ev.Type, "error")
		h.Log.Error().Err(err).Str("payment_intent", intentID).Msg("payment_webhook_failed")
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_FAILED", "unable to apply payment event", nil)
		return
	}
	observe(ev.Type, "ok")
	h.Log.Info().
		Str("event", ev.Type).
		Str("attempt_id", attempt.ID.String()).
		Str("status", string(attempt.Status)).
		Msg("payment_webhook_applied")
	common.JSON(w, http.StatusOK, map[string]any{"received": true, "status": attempt.Status})
}

func observe(event, result string) {
	if obs.PaymentWebhookTotal == nil {
		return
	}
	switch event {
	case EventIntentSucceeded, EventIntentFailed:
	default:
		event = "other"
	}
	obs.PaymentWebhookTotal.WithLabelValues(event, result).Inc()
}
