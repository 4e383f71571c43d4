package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/common"
	"github.com/noah-isme/backend-flora/internal/events"
	"github.com/noah-isme/backend-flora/internal/obs"
	"github.com/noah-isme/backend-flora/internal/pricing"
)

var emailTemplates = template.Must(template.New("email").Parse(`
{{define "order.confirmed"}}<p>Thank you for your order.</p>
<p>Order <strong>{{.OrderNumber}}</strong> is confirmed. Total charged: ${{.Total}}.</p>
{{if .Link}}<p><a href="{{.Link}}">View your order</a></p>{{end}}{{end}}
{{define "payment.failed"}}<p>We could not take payment for order <strong>{{.OrderNumber}}</strong>.</p>
{{if .Reason}}<p>{{.Reason}}</p>{{end}}
{{if .Link}}<p><a href="{{.Link}}">Return to checkout</a> to try again. Your cart has been kept.</p>{{end}}{{end}}
`))

type emailView struct {
	OrderNumber string
	Total       string
	Reason      string
	Link        string
}

// EmailHandler renders and sends shopper emails for notification tasks.
type EmailHandler struct {
	Mail          common.EmailSender
	From          string
	StorefrontURL string
	Log           zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h EmailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h.Mail == nil {
		return fmt.Errorf("email handler: sender not configured: %w", asynq.SkipRetry)
	}
	var p EmailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		observe("unknown", "invalid")
		return fmt.Errorf("decode email payload: %v: %w", err, asynq.SkipRetry)
	}
	to := strings.TrimSpace(p.Checkout.Email)
	if to == "" {
		observe(p.Topic, "skipped")
		return nil
	}
	msg, err := h.render(p)
	if err != nil {
		observe(p.Topic, "invalid")
		return fmt.Errorf("render %s: %v: %w", p.Topic, err, asynq.SkipRetry)
	}
	msg.To = to
	msg.From = h.From
	if err := h.Mail.Send(ctx, msg); err != nil {
		observe(p.Topic, "error")
		return fmt.Errorf("send %s email: %w", p.Topic, err)
	}
	observe(p.Topic, "sent")
	h.Log.Info().Str("topic", p.Topic).Str("attempt_id", p.Checkout.AttemptID.String()).Msg("notification sent")
	return nil
}

func (h EmailHandler) render(p EmailPayload) (common.Email, error) {
	view := emailView{
		OrderNumber: p.Checkout.OrderNumber,
		Total:       pricing.FormatMajor(p.Checkout.TotalCents),
		Reason:      p.Checkout.Error,
	}
	base := strings.TrimRight(h.StorefrontURL, "/")
	var subject string
	switch p.Topic {
	case events.TopicOrderConfirmed:
		subject = fmt.Sprintf("Your Flora order %s is confirmed", p.Checkout.OrderNumber)
		if base != "" {
			view.Link = base + "/orders/" + p.Checkout.OrderID
		}
	case events.TopicPaymentFailed:
		subject = "There was a problem with your payment"
		if base != "" {
			view.Link = base + "/checkout"
		}
	default:
		return common.Email{}, fmt.Errorf("no template for topic %q", p.Topic)
	}
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, p.Topic, view); err != nil {
		return common.Email{}, err
	}
	return common.Email{Subject: subject, HTML: strings.TrimSpace(buf.String())}, nil
}

func observe(kind, result string) {
	if obs.NotificationTotal == nil {
		return
	}
	obs.NotificationTotal.WithLabelValues(kind, result).Inc()
}

// LogSender writes emails to the log instead of delivering them. The worker
// uses it until a mail provider is configured.
type LogSender struct {
	Log zerolog.Logger
}

// Send implements common.EmailSender.
func (s LogSender) Send(_ context.Context, msg common.Email) error {
	s.Log.Info().Str("from", msg.From).Str("to", msg.To).Str("subject", msg.Subject).Int("html_bytes", len(msg.HTML)).Msg("email")
	return nil
}
