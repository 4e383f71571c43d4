package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/cart"
	"github.com/noah-isme/backend-flora/internal/common"
	"github.com/noah-isme/backend-flora/internal/delivery"
	"github.com/noah-isme/backend-flora/internal/events"
	"github.com/noah-isme/backend-flora/internal/obs"
	"github.com/noah-isme/backend-flora/internal/pricing"
	"github.com/noah-isme/backend-flora/internal/upstream"
)

var (
	// ErrCartEmpty is returned when checking out an empty cart.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrAuthRequired is returned when a cart with subscriptions is checked
	// out without a signed-in shopper.
	ErrAuthRequired = errors.New("sign in required for subscriptions")
	// ErrInvalidDeliveryType is returned for delivery types other than
	// STANDARD, EXPRESS and PICKUP.
	ErrInvalidDeliveryType = errors.New("invalid delivery type")
)

// SignInRedirect is where unauthenticated shoppers are sent.
const SignInRedirect = "/sign-in?returnTo=/checkout"

// Step names an upstream call of the checkout sequence.
type Step string

const (
	StepOrder         Step = "order"
	StepPaymentIntent Step = "payment_intent"
)

// UpstreamError reports a failed commerce API call. The cart is untouched
// and the attempt keeps its idempotency key, so the shopper can retry.
type UpstreamError struct {
	Step Step
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("checkout %s: %v", e.Step, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Code is the API error code for the failed step.
func (e *UpstreamError) Code() string {
	if e.Step == StepPaymentIntent {
		return "PAYMENT_INTENT_FAILED"
	}
	return "ORDER_FAILED"
}

// Commerce is the slice of the commerce API used by checkout.
type Commerce interface {
	CreateOrder(ctx context.Context, idempotencyKey string, req upstream.OrderRequest) (upstream.Order, error)
	CreatePaymentIntent(ctx context.Context, idempotencyKey, orderID string, total pricing.Money) (upstream.PaymentIntent, error)
}

// Carts loads and resets shopper carts.
type Carts interface {
	Get(ctx context.Context, session string) (cart.Cart, error)
	Reset(ctx context.Context, session string) error
}

// Delivery provides fees and postcode checks.
type Delivery interface {
	Info(ctx context.Context) delivery.Info
	CheckPostcode(ctx context.Context, postcode string) (delivery.PostcodeResult, error)
}

// Publisher records domain events.
type Publisher interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Service sequences a checkout: validate, create the order, then request a
// payment intent for it. Payment confirmation arrives later through the
// payment webhook.
type Service struct {
	Carts    Carts
	Delivery Delivery
	Pricing  *pricing.Engine
	Commerce Commerce
	Attempts AttemptStore
	Locker   cart.Locker
	Events   Publisher
	Location *time.Location
	LockTTL  time.Duration
	Log      zerolog.Logger
	Now      func() time.Time
	NewKey   func() string

	validateOnce sync.Once
	validate     *validator.Validate
}

// Result is what the payment UI needs after a successful submission.
type Result struct {
	AttemptID       uuid.UUID        `json:"attemptId"`
	Status          Status           `json:"status"`
	OrderID         string           `json:"orderId"`
	OrderNumber     string           `json:"orderNumber"`
	TotalCents      pricing.Money    `json:"totalCents"`
	ClientSecret    string           `json:"clientSecret"`
	PaymentIntentID string           `json:"paymentIntentId"`
	DeliveryType    delivery.Type    `json:"deliveryType"`
	Summary         pricing.Summary  `json:"summary"`
	Groups          []delivery.Group `json:"groups"`
}

// Preview is the shipment plan and order summary of the current cart.
type Preview struct {
	DeliveryType delivery.Type    `json:"deliveryType"`
	Groups       []delivery.Group `json:"groups"`
	Summary      pricing.Summary  `json:"summary"`
	Fallback     bool             `json:"deliveryInfoFallback,omitempty"`
}

func (s *Service) configured() error {
	if s == nil || s.Carts == nil || s.Pricing == nil || s.Commerce == nil || s.Attempts == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}

func (s *Service) validator() *validator.Validate {
	s.validateOnce.Do(func() { s.validate = newValidator() })
	return s.validate
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newKey() string {
	if s.NewKey != nil {
		return s.NewKey()
	}
	return uuid.NewString()
}

func (s *Service) deliveryInfo(ctx context.Context) delivery.Info {
	if s.Delivery == nil {
		info := delivery.DefaultInfo
		info.Fallback = true
		return info
	}
	return s.Delivery.Info(ctx)
}

// Preview prices the session's cart for a delivery type without submitting.
func (s *Service) Preview(ctx context.Context, session, deliveryType string) (Preview, error) {
	if err := s.configured(); err != nil {
		return Preview{}, err
	}
	t, err := delivery.ParseType(deliveryType)
	if err != nil {
		return Preview{}, fmt.Errorf("%w: %q", ErrInvalidDeliveryType, deliveryType)
	}
	var c cart.Cart
	if strings.TrimSpace(session) != "" {
		if c, err = s.Carts.Get(ctx, session); err != nil {
			return Preview{}, err
		}
	}
	info := s.deliveryInfo(ctx)
	quote := delivery.Quote(c.Items, t, info, s.Location)
	if quote.Groups == nil {
		quote.Groups = []delivery.Group{}
	}
	return Preview{
		DeliveryType: t,
		Groups:       quote.Groups,
		Summary:      s.Pricing.OrderTotal(c.Total, quote.Shipping),
		Fallback:     info.Fallback,
	}, nil
}

// Submit runs a checkout for the session's cart. Resubmitting an unchanged
// cart and form resumes the same attempt instead of creating a second order.
func (s *Service) Submit(ctx context.Context, session, userID string, in Input) (res Result, err error) {
	defer func() { recordSubmission(err) }()
	if err := s.configured(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(session) == "" {
		return Result{}, cart.ErrSessionRequired
	}
	c, err := s.Carts.Get(ctx, session)
	if err != nil {
		return Result{}, err
	}
	if c.IsEmpty() {
		return Result{}, ErrCartEmpty
	}
	if c.HasSubscription() && strings.TrimSpace(userID) == "" {
		return Result{}, ErrAuthRequired
	}

	in = in.normalise()
	fields := s.validateFields(in)
	deliveryType, typeErr := delivery.ParseType(in.DeliveryType)
	if typeErr != nil {
		fields = append(fields, common.FieldError{Field: "deliveryType", Message: "must be STANDARD, EXPRESS or PICKUP"})
	}
	if len(fields) == 0 && s.Delivery != nil {
		check, err := s.Delivery.CheckPostcode(ctx, in.Recipient.PostalCode)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			s.Log.Warn().Err(err).Msg("postcode check failed, continuing")
		} else if !check.Available {
			msg := check.Message
			if msg == "" {
				msg = "we do not deliver to this postcode yet"
			}
			fields = append(fields, common.FieldError{Field: "recipient.postalCode", Message: msg})
		}
	}
	if len(fields) > 0 {
		return Result{}, &ValidationError{Fields: fields}
	}

	quote := delivery.Quote(c.Items, deliveryType, s.deliveryInfo(ctx), s.Location)
	summary := s.Pricing.OrderTotal(c.Total, quote.Shipping)
	req, err := s.orderRequest(c, in, userID, deliveryType, summary)
	if err != nil {
		return Result{}, err
	}
	fingerprint, err := fingerprintOf(req)
	if err != nil {
		return Result{}, err
	}

	run := func(ctx context.Context) error {
		attempt, err := s.resolveAttempt(ctx, session, userID, in.Contact.Email, fingerprint, summary)
		if err != nil {
			return err
		}
		attempt, err = s.advance(ctx, attempt, req)
		if err != nil {
			return err
		}
		res = Result{
			AttemptID:       attempt.ID,
			Status:          attempt.Status,
			OrderID:         attempt.OrderID,
			OrderNumber:     attempt.OrderNumber,
			TotalCents:      attempt.TotalCents,
			ClientSecret:    attempt.ClientSecret,
			PaymentIntentID: attempt.PaymentIntentID,
			DeliveryType:    deliveryType,
			Summary:         summary,
			Groups:          quote.Groups,
		}
		return nil
	}
	if s.Locker != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		err = s.Locker.WithLock(ctx, "checkout:"+session, ttl, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// orderRequest snapshots the cart. Unit prices are captured here and never
// re-read, so later catalog changes do not alter the order.
func (s *Service) orderRequest(c cart.Cart, in Input, userID string, t delivery.Type, summary pricing.Summary) (upstream.OrderRequest, error) {
	items := make([]upstream.OrderItem, 0, len(c.Items))
	for _, it := range c.Items {
		unit, err := s.Pricing.UnitPrice(it.Product.BasePrice, it.PurchaseMode, it.Frequency)
		if err != nil {
			return upstream.OrderRequest{}, fmt.Errorf("price item %s: %w", it.ID, err)
		}
		var date *time.Time
		if it.SelectedDeliveryDate != nil {
			d := it.SelectedDeliveryDate.UTC()
			date = &d
		}
		items = append(items, upstream.OrderItem{
			ProductID:    it.Product.ID,
			Quantity:     it.Quantity,
			PriceCents:   unit,
			PurchaseMode: string(it.PurchaseMode),
			Frequency:    string(it.Frequency),
			DeliveryDate: date,
		})
	}
	req := upstream.OrderRequest{
		UserID: userID,
		Contact: upstream.Contact{
			Email:     in.Contact.Email,
			FirstName: in.Contact.FirstName,
			LastName:  in.Contact.LastName,
			Phone:     in.Contact.Phone,
		},
		Items:           items,
		ShippingAddress: toUpstreamAddress(in.Recipient),
		BillingAddress:  toUpstreamAddress(in.BillingAddress()),
		DeliveryType:    string(t),
		Summary:         summary,
	}
	if c.GiftMessage != nil {
		req.GiftMessage = &upstream.GiftMessage{To: c.GiftMessage.To, From: c.GiftMessage.From, Message: c.GiftMessage.Body}
	}
	return req, nil
}

func toUpstreamAddress(a Address) upstream.Address {
	return upstream.Address{
		Name:       a.Name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func fingerprintOf(req upstream.OrderRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("fingerprint order: %w", err)
	}
	return common.Sha256Hex(string(data)), nil
}

// resolveAttempt reuses the session's open attempt when the order it would
// submit is unchanged; otherwise it starts a new attempt with a fresh key.
func (s *Service) resolveAttempt(ctx context.Context, session, userID, email, fingerprint string, summary pricing.Summary) (Attempt, error) {
	open, err := s.Attempts.OpenBySession(ctx, session)
	switch {
	case err == nil && open.CartFingerprint == fingerprint:
		return open, nil
	case err != nil && !errors.Is(err, ErrAttemptNotFound):
		return Attempt{}, fmt.Errorf("load open attempt: %w", err)
	}
	created, err := s.Attempts.Create(ctx, Attempt{
		ID:              uuid.New(),
		SessionID:       session,
		UserID:          userID,
		Email:           email,
		IdempotencyKey:  s.newKey(),
		CartFingerprint: fingerprint,
		Status:          StatusPending,
		TotalCents:      summary.Total,
		Summary:         summary,
	})
	if err != nil {
		return Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	s.Log.Info().Str("attempt_id", created.ID.String()).Str("session_id", session).Msg("checkout attempt started")
	return created, nil
}

// advance moves an attempt forward from wherever it stopped.
func (s *Service) advance(ctx context.Context, a Attempt, req upstream.OrderRequest) (Attempt, error) {
	var err error
	if a.Status == StatusPending || a.OrderID == "" {
		if a, err = s.createOrder(ctx, a, req); err != nil {
			return a, err
		}
	}
	if a.ClientSecret == "" {
		if a, err = s.createIntent(ctx, a); err != nil {
			return a, err
		}
	}
	if a.Status == StatusPaymentFailed {
		a.Status = StatusAwaitingPayment
		a.LastError = ""
		if a, err = s.Attempts.Update(ctx, a); err != nil {
			return a, fmt.Errorf("update attempt: %w", err)
		}
	}
	return a, nil
}

func (s *Service) createOrder(ctx context.Context, a Attempt, req upstream.OrderRequest) (Attempt, error) {
	start := time.Now()
	order, err := s.Commerce.CreateOrder(ctx, a.IdempotencyKey, req)
	recordStep(StepOrder, start, err)
	if err != nil {
		s.Log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("order creation failed")
		return s.fail(ctx, a, &UpstreamError{Step: StepOrder, Err: err})
	}
	a.OrderID = order.ID
	a.OrderNumber = order.OrderNumber
	if order.TotalCents > 0 {
		a.TotalCents = order.TotalCents
	}
	a.Status = StatusOrderCreated
	a.LastError = ""
	if a, err = s.Attempts.Update(ctx, a); err != nil {
		return a, fmt.Errorf("update attempt: %w", err)
	}
	s.emit(ctx, events.TopicCheckoutSubmitted, a)
	return a, nil
}

func (s *Service) createIntent(ctx context.Context, a Attempt) (Attempt, error) {
	start := time.Now()
	intent, err := s.Commerce.CreatePaymentIntent(ctx, a.IdempotencyKey+":intent", a.OrderID, a.TotalCents)
	recordStep(StepPaymentIntent, start, err)
	recordIntent(err)
	if err != nil {
		s.Log.Error().Err(err).Str("attempt_id", a.ID.String()).Str("order_id", a.OrderID).Msg("payment intent failed")
		return s.fail(ctx, a, &UpstreamError{Step: StepPaymentIntent, Err: err})
	}
	a.PaymentIntentID = intent.PaymentIntentID
	a.ClientSecret = intent.ClientSecret
	a.Status = StatusAwaitingPayment
	a.LastError = ""
	if a, err = s.Attempts.Update(ctx, a); err != nil {
		return a, fmt.Errorf("update attempt: %w", err)
	}
	return a, nil
}

// fail records the upstream error on the attempt and returns it.
func (s *Service) fail(ctx context.Context, a Attempt, cause *UpstreamError) (Attempt, error) {
	a.LastError = cause.Err.Error()
	updated, err := s.Attempts.Update(ctx, a)
	if err != nil {
		s.Log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("record attempt failure")
		return a, cause
	}
	return updated, cause
}

// ConfirmPayment clears the shopper's cart and marks the attempt paid. The
// cart is cleared first so a failed reset leaves the attempt open for the
// provider's retry. It is safe to call more than once for the same intent.
func (s *Service) ConfirmPayment(ctx context.Context, intentID string) (Attempt, error) {
	if err := s.configured(); err != nil {
		return Attempt{}, err
	}
	a, err := s.Attempts.ByPaymentIntent(ctx, intentID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status == StatusConfirmed {
		return a, nil
	}
	ownsCart, err := s.ownsCart(ctx, a)
	if err != nil {
		return a, err
	}
	if ownsCart {
		if err := s.Carts.Reset(ctx, a.SessionID); err != nil {
			return a, fmt.Errorf("clear cart: %w", err)
		}
	} else {
		s.Log.Warn().Str("attempt_id", a.ID.String()).Str("status", string(a.Status)).Msg("payment confirmed for closed attempt, cart kept")
	}
	a.Status = StatusConfirmed
	a.LastError = ""
	if a, err = s.Attempts.Update(ctx, a); err != nil {
		return Attempt{}, fmt.Errorf("update attempt: %w", err)
	}
	s.emit(ctx, events.TopicOrderConfirmed, a)
	return a, nil
}

// ownsCart reports whether a's session cart was the one paid for. Open
// attempts own it. An abandoned attempt still does unless the session has
// since opened another; a superseded one never does.
func (s *Service) ownsCart(ctx context.Context, a Attempt) (bool, error) {
	switch {
	case a.Status.Open():
		return true, nil
	case a.Status != StatusAbandoned:
		return false, nil
	}
	newer, err := s.Attempts.OpenBySession(ctx, a.SessionID)
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("load open attempt: %w", err)
	}
	return newer.ID == a.ID, nil
}

// FailPayment records a declined payment. The cart and the order stay as
// they are so the shopper can retry.
func (s *Service) FailPayment(ctx context.Context, intentID, message string) (Attempt, error) {
	if err := s.configured(); err != nil {
		return Attempt{}, err
	}
	a, err := s.Attempts.ByPaymentIntent(ctx, intentID)
	if err != nil {
		return Attempt{}, err
	}
	if !a.Status.Open() {
		return a, nil
	}
	a.Status = StatusPaymentFailed
	a.LastError = strings.TrimSpace(message)
	if a.LastError == "" {
		a.LastError = "payment failed"
	}
	if a, err = s.Attempts.Update(ctx, a); err != nil {
		return Attempt{}, fmt.Errorf("update attempt: %w", err)
	}
	s.emit(ctx, events.TopicPaymentFailed, a)
	return a, nil
}

// Status returns an attempt for polling.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (Attempt, error) {
	if err := s.configured(); err != nil {
		return Attempt{}, err
	}
	return s.Attempts.Get(ctx, id)
}

// ExpireStale abandons attempts that have not progressed for olderThan.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := s.configured(); err != nil {
		return 0, err
	}
	expired, err := s.Attempts.ExpireStale(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	for _, a := range expired {
		s.emit(ctx, events.TopicCheckoutAbandoned, a)
	}
	if len(expired) > 0 {
		s.Log.Info().Int("count", len(expired)).Msg("abandoned stale checkout attempts")
	}
	return len(expired), nil
}

// EventPayload is the body of checkout domain events.
type EventPayload struct {
	AttemptID   uuid.UUID     `json:"attemptId"`
	SessionID   string        `json:"sessionId"`
	UserID      string        `json:"userId,omitempty"`
	Email       string        `json:"email,omitempty"`
	OrderID     string        `json:"orderId,omitempty"`
	OrderNumber string        `json:"orderNumber,omitempty"`
	TotalCents  pricing.Money `json:"totalCents"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
}

func (s *Service) emit(ctx context.Context, topic string, a Attempt) {
	if s.Events == nil {
		return
	}
	payload := EventPayload{
		AttemptID:   a.ID,
		SessionID:   a.SessionID,
		UserID:      a.UserID,
		Email:       a.Email,
		OrderID:     a.OrderID,
		OrderNumber: a.OrderNumber,
		TotalCents:  a.TotalCents,
		Status:      a.Status,
		Error:       a.LastError,
	}
	if _, err := s.Events.Emit(ctx, topic, a.ID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Str("attempt_id", a.ID.String()).Msg("emit checkout event")
	}
}

func recordSubmission(err error) {
	if obs.CheckoutSubmissionsTotal == nil {
		return
	}
	obs.CheckoutSubmissionsTotal.WithLabelValues(submissionResult(err)).Inc()
}

func submissionResult(err error) string {
	var (
		verr *ValidationError
		uerr *UpstreamError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, ErrCartEmpty):
		return "cart_empty"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &uerr):
		return string(uerr.Step) + "_failed"
	default:
		return "error"
	}
}

func recordStep(step Step, start time.Time, err error) {
	if obs.CheckoutStepDuration == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	obs.CheckoutStepDuration.WithLabelValues(string(step), result).Observe(obs.DurationMillis(time.Since(start)))
}

func recordIntent(err error) {
	if obs.PaymentIntentTotal == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	obs.PaymentIntentTotal.WithLabelValues(result).Inc()
}
