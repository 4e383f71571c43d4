package checkout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-flora/internal/pricing"
)

// Status is the lifecycle state of a checkout attempt.
type Status string

const (
	StatusPending         Status = "pending"
	StatusOrderCreated    Status = "order_created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusConfirmed       Status = "confirmed"
	StatusPaymentFailed   Status = "payment_failed"
	StatusSuperseded      Status = "superseded"
	StatusAbandoned       Status = "abandoned"
)

// OpenStatuses lists the states from which an attempt can still progress.
var OpenStatuses = []Status{StatusPending, StatusOrderCreated, StatusAwaitingPayment, StatusPaymentFailed}

// Open reports whether the attempt can still progress.
func (s Status) Open() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

var (
	// ErrAttemptNotFound is returned when no attempt matches.
	ErrAttemptNotFound = errors.New("checkout attempt not found")
	// ErrAttemptConflict is returned when a store refuses a second open
	// attempt for a session or a reused idempotency key.
	ErrAttemptConflict = errors.New("checkout attempt conflict")
)

// Attempt is the server-side record of one checkout. The idempotency key is
// created with the attempt and sent with every order creation it makes.
type Attempt struct {
	ID              uuid.UUID
	SessionID       string
	UserID          string
	Email           string
	IdempotencyKey  string
	CartFingerprint string
	Status          Status
	OrderID         string
	OrderNumber     string
	TotalCents      pricing.Money
	PaymentIntentID string
	ClientSecret    string
	LastError       string
	Summary         pricing.Summary
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AttemptStore persists checkout attempts.
type AttemptStore interface {
	// Create inserts a and marks any other open attempt of the same session
	// as superseded.
	Create(ctx context.Context, a Attempt) (Attempt, error)
	Get(ctx context.Context, id uuid.UUID) (Attempt, error)
	OpenBySession(ctx context.Context, sessionID string) (Attempt, error)
	ByPaymentIntent(ctx context.Context, intentID string) (Attempt, error)
	Update(ctx context.Context, a Attempt) (Attempt, error)
	// ExpireStale marks open attempts untouched since before as abandoned and
	// returns them.
	ExpireStale(ctx context.Context, before time.Time) ([]Attempt, error)
}

// MemoryAttemptStore is an in-process AttemptStore for tests and local runs.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]Attempt
	Now      func() time.Time
}

// NewMemoryAttemptStore returns an empty store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: map[uuid.UUID]Attempt{}}
}

func (m *MemoryAttemptStore) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *MemoryAttemptStore) Create(_ context.Context, a Attempt) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, other := range m.attempts {
		if a.IdempotencyKey != "" && other.IdempotencyKey == a.IdempotencyKey {
			return Attempt{}, ErrAttemptConflict
		}
	}
	for id, other := range m.attempts {
		if other.SessionID == a.SessionID && other.Status.Open() {
			other.Status = StatusSuperseded
			other.UpdatedAt = now
			m.attempts[id] = other
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = now, now
	m.attempts[a.ID] = a
	return a, nil
}

func (m *MemoryAttemptStore) Get(_ context.Context, id uuid.UUID) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *MemoryAttemptStore) OpenBySession(_ context.Context, sessionID string) (Attempt, error) {
	return m.find(func(a Attempt) bool { return a.SessionID == sessionID && a.Status.Open() })
}

func (m *MemoryAttemptStore) ByPaymentIntent(_ context.Context, intentID string) (Attempt, error) {
	if intentID == "" {
		return Attempt{}, ErrAttemptNotFound
	}
	return m.find(func(a Attempt) bool { return a.PaymentIntentID == intentID })
}

func (m *MemoryAttemptStore) find(match func(Attempt) bool) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []Attempt
	for _, a := range m.attempts {
		if match(a) {
			found = append(found, a)
		}
	}
	if len(found) == 0 {
		return Attempt{}, ErrAttemptNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	return found[0], nil
}

func (m *MemoryAttemptStore) Update(_ context.Context, a Attempt) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.attempts[a.ID]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = m.now()
	m.attempts[a.ID] = a
	return a, nil
}

func (m *MemoryAttemptStore) ExpireStale(_ context.Context, before time.Time) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var expired []Attempt
	for id, a := range m.attempts {
		if a.Status.Open() && a.UpdatedAt.Before(before) {
			a.Status = StatusAbandoned
			a.UpdatedAt = now
			m.attempts[id] = a
			expired = append(expired, a)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired, nil
}
