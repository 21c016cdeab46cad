package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialora/dialora/pkg/channels/gochannel"
	"github.com/dialora/dialora/pkg/eventbus"
	"github.com/dialora/dialora/pkg/events"
	"github.com/dialora/dialora/pkg/models"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub := gochannel.CreateTestChannel(watermill.NopLogger{})

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBusRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.MessageProcessed, 1)

	err := bus.Handle(events.MessageProcessedEvent, func(_ context.Context, event any) error {
		processed, ok := event.(*events.MessageProcessed)
		if !ok {
			t.Errorf("unexpected event type %T", event)

			return nil
		}

		received <- processed

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	sent := events.MessageProcessed{
		BaseEvent: events.BaseEvent{
			ID:         bus.GenerateID(),
			Type:       events.MessageProcessedEvent,
			Timestamp:  time.Now().UTC(),
			TenantID:   "tenant-1",
			TemplateID: "onboarding",
		},
		SessionID: "session-1",
		Engine:    models.EngineBaseline,
		LatencyMS: 12,
	}

	require.NoError(t, bus.Publish(t.Context(), "tenant-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.SessionID, got.SessionID)
		assert.Equal(t, sent.TenantID, got.TenantID)
		assert.Equal(t, models.EngineBaseline, got.Engine)
		assert.Equal(t, int64(12), got.LatencyMS)
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestWatermillEventBusIgnoresUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 1)

	err := bus.Handle(events.SessionResetEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	// No handler is registered for template activations.
	activation := events.TemplateActivated{
		BaseEvent: events.BaseEvent{Type: events.TemplateActivatedEvent, TenantID: "tenant-1"},
		Version:   2,
	}
	require.NoError(t, bus.Publish(t.Context(), "tenant-1", activation))

	reset := events.SessionReset{
		BaseEvent: events.BaseEvent{Type: events.SessionResetEvent, TenantID: "tenant-1"},
		UserID:    "user-1",
		SessionID: "session-1",
	}
	require.NoError(t, bus.Publish(t.Context(), "tenant-1", reset))

	select {
	case event := <-received:
		got, ok := event.(*events.SessionReset)
		require.True(t, ok)
		assert.Equal(t, "session-1", got.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestWatermillEventBusGenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
