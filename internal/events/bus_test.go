package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &events.MemoryStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
	}

	aggregate := uuid.New()
	payload := map[string]any{"orderId": "ord_1"}
	event, err := bus.Emit(context.Background(), events.TopicOrderConfirmed, aggregate, payload)
	require.NoError(t, err)

	stored := store.Events()
	require.Len(t, stored, 1)
	require.Equal(t, events.TopicOrderConfirmed, stored[0].Topic)
	require.Equal(t, aggregate, stored[0].AggregateID)
	require.JSONEq(t, `{"orderId":"ord_1"}`, string(stored[0].Payload))
	require.False(t, stored[0].OccurredAt.IsZero())
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "ord_1", decoded["orderId"])
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: &events.MemoryStore{}}
	ctx := context.Background()

	_, err := bus.Emit(ctx, " ", uuid.New(), nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicOrderConfirmed, uuid.Nil, nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicOrderConfirmed, uuid.New(), "{not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(ctx, events.TopicOrderConfirmed, uuid.New(), nil)
	require.Error(t, err)
}

func TestEmitKeepsEventWhenNotifierFails(t *testing.T) {
	store := &events.MemoryStore{}
	boom := errors.New("smtp down")
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{&captureNotifier{err: boom}, nil}}

	ev, err := bus.Emit(context.Background(), events.TopicPaymentFailed, uuid.New(), json.RawMessage(`{"reason":"declined"}`))
	require.ErrorIs(t, err, boom)
	require.NotEqual(t, uuid.Nil, ev.ID)
	require.Len(t, store.Events(), 1)
}
