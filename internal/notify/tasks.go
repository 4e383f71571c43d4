// Package notify turns checkout domain events into background email jobs and
// runs the periodic stale-attempt sweep on the asynq worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-flora/internal/checkout"
	"github.com/noah-isme/backend-flora/internal/events"
)

// Task type names handled by the worker.
const (
	TypeEmail       = "notify:email"
	TypeExpireStale = "checkout:expire_stale"
)

// EmailPayload is the asynq payload of an email task.
type EmailPayload struct {
	EventID    uuid.UUID             `json:"eventId"`
	Topic      string                `json:"topic"`
	OccurredAt time.Time             `json:"occurredAt"`
	Checkout   checkout.EventPayload `json:"checkout"`
}

// NewEmailTask builds the email task for ev.
func NewEmailTask(ev events.Event) (*asynq.Task, error) {
	var body checkout.EventPayload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &body); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
	}
	raw, err := json.Marshal(EmailPayload{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		OccurredAt: ev.OccurredAt,
		Checkout:   body,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmail, raw), nil
}

// TaskEnqueuer is the subset of *asynq.Client used by Enqueuer.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer implements events.Notifier by scheduling an email task for each
// notifiable event. The event id doubles as the task id, so a re-emitted event
// is queued once.
type Enqueuer struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
	Topics   []string
	Log      zerolog.Logger
}

func (e Enqueuer) wants(topic string) bool {
	topics := e.Topics
	if topics == nil {
		topics = events.NotifiableTopics()
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Notify implements events.Notifier.
func (e Enqueuer) Notify(ctx context.Context, ev events.Event) error {
	if e.Client == nil || !e.wants(ev.Topic) {
		return nil
	}
	task, err := NewEmailTask(ev)
	if err != nil {
		return fmt.Errorf("notify %s: %w", ev.Topic, err)
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID.String())}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	info, err := e.Client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		observe(ev.Topic, "enqueue_error")
		return fmt.Errorf("enqueue %s: %w", ev.Topic, err)
	}
	observe(ev.Topic, "enqueued")
	e.Log.Debug().Str("task_id", info.ID).Str("topic", ev.Topic).Msg("notification enqueued")
	return nil
}

// NewServeMux routes worker tasks to their handlers.
func NewServeMux(email EmailHandler, sweep SweepHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeEmail, email)
	mux.Handle(TypeExpireStale, sweep)
	return mux
}

// RegisterSchedules adds the periodic stale-attempt sweep to s.
func RegisterSchedules(s *asynq.Scheduler, every time.Duration) error {
	if every <= 0 {
		every = 15 * time.Minute
	}
	_, err := s.Register(fmt.Sprintf("@every %s", every), asynq.NewTask(TypeExpireStale, nil),
		asynq.Unique(every), asynq.MaxRetry(0))
	return err
}
