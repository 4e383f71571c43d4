package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-flora/internal/checkout"
)

// ErrStoreUnavailable indicates the database pool is not configured.
var ErrStoreUnavailable = errors.New("store: database unavailable")

const attemptColumns = `id, session_id, user_id, email, idempotency_key, cart_fingerprint, status,
order_id, order_number, total_cents, payment_intent_id, client_secret, last_error, summary,
created_at, updated_at`

// Attempts is the Postgres implementation of checkout.AttemptStore.
type Attempts struct {
	pool *pgxpool.Pool
}

// NewAttempts constructs an attempt store backed by pool.
func NewAttempts(pool *pgxpool.Pool) *Attempts {
	return &Attempts{pool: pool}
}

var _ checkout.AttemptStore = (*Attempts)(nil)

func openStatuses() []string {
	out := make([]string, 0, len(checkout.OpenStatuses))
	for _, s := range checkout.OpenStatuses {
		out = append(out, string(s))
	}
	return out
}

func scanAttempt(row pgx.Row) (checkout.Attempt, error) {
	var (
		a      checkout.Attempt
		status string
	)
	err := row.Scan(&a.ID, &a.SessionID, &a.UserID, &a.Email, &a.IdempotencyKey, &a.CartFingerprint, &status,
		&a.OrderID, &a.OrderNumber, &a.TotalCents, &a.PaymentIntentID, &a.ClientSecret, &a.LastError, &a.Summary,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return checkout.Attempt{}, checkout.ErrAttemptNotFound
		}
		return checkout.Attempt{}, err
	}
	a.Status = checkout.Status(status)
	return a, nil
}

// Create inserts a and supersedes the session's other open attempts in one
// transaction.
func (s *Attempts) Create(ctx context.Context, a checkout.Attempt) (checkout.Attempt, error) {
	if s == nil || s.pool == nil {
		return checkout.Attempt{}, ErrStoreUnavailable
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return checkout.Attempt{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `UPDATE checkout_attempts SET status = 'superseded', updated_at = now()
WHERE session_id = $1 AND status = ANY($2)`, a.SessionID, openStatuses()); err != nil {
		return checkout.Attempt{}, fmt.Errorf("supersede attempts: %w", err)
	}
	row := tx.QueryRow(ctx, `INSERT INTO checkout_attempts (id, session_id, user_id, email, idempotency_key,
cart_fingerprint, status, order_id, order_number, total_cents, payment_intent_id, client_secret, last_error, summary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING `+attemptColumns,
		a.ID, a.SessionID, a.UserID, a.Email, a.IdempotencyKey, a.CartFingerprint, string(a.Status),
		a.OrderID, a.OrderNumber, a.TotalCents, a.PaymentIntentID, a.ClientSecret, a.LastError, a.Summary)
	created, err := scanAttempt(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return checkout.Attempt{}, fmt.Errorf("insert attempt: %w", checkout.ErrAttemptConflict)
		}
		return checkout.Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return checkout.Attempt{}, err
	}
	return created, nil
}

// Get fetches an attempt by id.
func (s *Attempts) Get(ctx context.Context, id uuid.UUID) (checkout.Attempt, error) {
	if s == nil || s.pool == nil {
		return checkout.Attempt{}, ErrStoreUnavailable
	}
	return scanAttempt(s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts WHERE id = $1`, id))
}

// OpenBySession returns the session's open attempt.
func (s *Attempts) OpenBySession(ctx context.Context, sessionID string) (checkout.Attempt, error) {
	if s == nil || s.pool == nil {
		return checkout.Attempt{}, ErrStoreUnavailable
	}
	return scanAttempt(s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts
WHERE session_id = $1 AND status = ANY($2) ORDER BY created_at DESC LIMIT 1`, sessionID, openStatuses()))
}

// ByPaymentIntent returns the attempt that owns the payment intent.
func (s *Attempts) ByPaymentIntent(ctx context.Context, intentID string) (checkout.Attempt, error) {
	if s == nil || s.pool == nil {
		return checkout.Attempt{}, ErrStoreUnavailable
	}
	if intentID == "" {
		return checkout.Attempt{}, checkout.ErrAttemptNotFound
	}
	return scanAttempt(s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts
WHERE payment_intent_id = $1 ORDER BY created_at DESC LIMIT 1`, intentID))
}

// Update writes the mutable fields of a.
func (s *Attempts) Update(ctx context.Context, a checkout.Attempt) (checkout.Attempt, error) {
	if s == nil || s.pool == nil {
		return checkout.Attempt{}, ErrStoreUnavailable
	}
	return scanAttempt(s.pool.QueryRow(ctx, `UPDATE checkout_attempts SET
user_id = $2, email = $3, status = $4, order_id = $5, order_number = $6, total_cents = $7,
payment_intent_id = $8, client_secret = $9, last_error = $10, summary = $11, updated_at = now()
WHERE id = $1
RETURNING `+attemptColumns,
		a.ID, a.UserID, a.Email, string(a.Status), a.OrderID, a.OrderNumber, a.TotalCents,
		a.PaymentIntentID, a.ClientSecret, a.LastError, a.Summary))
}

// ExpireStale abandons open attempts last touched before the cutoff.
func (s *Attempts) ExpireStale(ctx context.Context, before time.Time) ([]checkout.Attempt, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `UPDATE checkout_attempts SET status = 'abandoned', updated_at = now()
WHERE status = ANY($1) AND updated_at < $2
RETURNING `+attemptColumns, openStatuses(), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []checkout.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, a)
	}
	return expired, rows.Err()
}
