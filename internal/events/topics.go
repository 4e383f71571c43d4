package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicCheckoutSubmitted = "checkout.submitted"
	TopicOrderConfirmed    = "order.confirmed"
	TopicPaymentFailed     = "payment.failed"
	TopicCheckoutAbandoned = "checkout.abandoned"
)

// NotifiableTopics returns the topics that trigger a shopper email.
func NotifiableTopics() []string {
	return []string{
		TopicOrderConfirmed,
		TopicPaymentFailed,
	}
}
