package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CartMutationsTotal counts cart transitions by action and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// CheckoutSubmissionsTotal counts checkout submissions by outcome.
	CheckoutSubmissionsTotal *prometheus.CounterVec
	// CheckoutStepDuration records upstream step latency in milliseconds.
	CheckoutStepDuration *prometheus.HistogramVec
	// PaymentIntentTotal counts payment intent creation attempts.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// DeliveryFallbackTotal counts requests served without live delivery data.
	DeliveryFallbackTotal *prometheus.CounterVec
	// NotificationTotal counts notification task outcomes.
	NotificationTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartMutationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart transitions by action and result.",
		}, []string{"action", "result"}))
		CheckoutSubmissionsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submissions_total",
			Help:      "Count of checkout submissions by result.",
		}, []string{"result"}))
		CheckoutStepDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_step_duration_ms",
			Help:      "Latency of checkout upstream steps in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"step", "result"}))
		PaymentIntentTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent processing outcomes.",
		}, []string{"result"}))
		PaymentWebhookTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"event", "result"}))
		DeliveryFallbackTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_fallback_total",
			Help:      "Count of delivery lookups answered without the commerce API.",
		}, []string{"operation"}))
		NotificationTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_total",
			Help:      "Count of notification tasks by kind and result.",
		}, []string{"kind", "result"}))
	})
}
