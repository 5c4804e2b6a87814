package eventbus_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/canvasflow/pkg/channels/gochannel"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndSubscribe(t *testing.T) {
	bus := newBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.RunRequested, 1)
	require.NoError(t, bus.Handle(events.RunRequestedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.RunRequested)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	sent := events.RunRequested{
		BaseEvent: events.NewBaseEvent(bus.GenerateID(), events.RunRequestedEvent, "wf-1"),
		RunID:     "run-1",
		Nodes:     []models.Node{{ID: "a", Type: "textNode", Config: map[string]any{"text": "hi"}}},
	}
	require.NoError(t, bus.Publish(ctx, "run-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, sent.Nodes, got.Nodes)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancels := make(chan string, 1)
	require.NoError(t, bus.Handle(events.RunCancelRequestedEvent, func(_ context.Context, event any) error {
		cancels <- event.(*events.RunCancelRequested).RunID

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	// blocks until acked, so a stuck unhandled message would hang here
	require.NoError(t, bus.Publish(ctx, "run-1", events.RunFinished{RunID: "run-1", Status: models.RunStatusCompleted}))
	require.NoError(t, bus.Publish(ctx, "run-2", events.RunCancelRequested{RunID: "run-2"}))

	select {
	case id := <-cancels:
		assert.Equal(t, "run-2", id)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel event was not delivered")
	}
}

func TestWatermillEventBus_HandleRejectsUnknownType(t *testing.T) {
	bus := newBus(t)

	err := bus.Handle(events.EventType("workflow.triggered"), func(context.Context, any) error { return nil })
	assert.Error(t, err)
	assert.NotEmpty(t, bus.GenerateID())
}
