package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-flora/internal/events"
)

// Events persists domain events.
type Events struct {
	pool *pgxpool.Pool
}

// NewEvents constructs an event store backed by pool.
func NewEvents(pool *pgxpool.Pool) *Events {
	return &Events{pool: pool}
}

// InsertEvent stores ev and returns it with the database timestamp.
func (s *Events) InsertEvent(ctx context.Context, ev events.Event) (events.Event, error) {
	if s == nil || s.pool == nil {
		return events.Event{}, ErrStoreUnavailable
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4) RETURNING occurred_at`, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload)).Scan(&ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}

// ListByAggregate returns the events of one aggregate in order.
func (s *Events) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]events.Event, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, topic, aggregate_id, payload, occurred_at FROM domain_events
WHERE aggregate_id = $1 ORDER BY occurred_at, id`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev      events.Event
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}
