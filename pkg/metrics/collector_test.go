package metrics

import (
	"io"
	"log/slog"
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(tenant, template string, engine models.EngineKind, captured bool) models.MetricEvent {
	return models.MetricEvent{
		Engine:         engine,
		TemplateID:     template,
		TenantID:       tenant,
		Timestamp:      time.Now().UTC(),
		LatencyMS:      100,
		CaptureSuccess: captured,
	}
}

func TestCollectorAggregate(t *testing.T) {
	c := NewCollector(DefaultOptions(), testLogger())

	c.Record(event("tenant-1", "tpl", models.EngineBaseline, true))
	c.Record(event("tenant-1", "tpl", models.EngineBaseline, false))

	failed := event("tenant-1", "tpl", models.EngineEnhanced, true)
	failed.Failed = true
	failed.FellBack = true
	failed.LatencyMS = 400
	c.Record(failed)

	aggregate := c.Aggregate(Filter{TenantID: "tenant-1"})

	assert.Equal(t, 3, aggregate.Total)
	assert.Equal(t, 1, aggregate.Failures)
	assert.Equal(t, 1, aggregate.Fallbacks)
	assert.InDelta(t, 2.0/3.0, aggregate.CaptureSuccessRate, 0.001)
	assert.InDelta(t, 1.0/3.0, aggregate.ErrorRate, 0.001)
	assert.InDelta(t, 200.0, aggregate.AverageLatencyMS, 0.001)
}

func TestCollectorAggregateFilters(t *testing.T) {
	c := NewCollector(DefaultOptions(), testLogger())

	c.Record(event("tenant-1", "tpl-a", models.EngineBaseline, true))
	c.Record(event("tenant-1", "tpl-b", models.EngineEnhanced, true))
	c.Record(event("tenant-2", "tpl-a", models.EngineBaseline, true))

	assert.Equal(t, 1, c.Aggregate(Filter{TenantID: "tenant-1", TemplateID: "tpl-a"}).Total)
	assert.Equal(t, 1, c.Aggregate(Filter{TenantID: "tenant-1", Engine: models.EngineEnhanced}).Total)
	assert.Equal(t, 0, c.Aggregate(Filter{TenantID: "tenant-3"}).Total)
}

func TestCollectorEvictsOutsideWindow(t *testing.T) {
	opts := Options{Window: time.Minute, MaxEventsPerTenant: 100}
	c := NewCollector(opts, testLogger())

	stale := event("tenant-1", "tpl", models.EngineBaseline, true)
	stale.Timestamp = time.Now().Add(-2 * time.Minute)
	c.Record(stale)
	c.Record(event("tenant-1", "tpl", models.EngineBaseline, true))

	assert.Equal(t, 1, c.Aggregate(Filter{TenantID: "tenant-1"}).Total)
}

func TestCollectorCapsBuffer(t *testing.T) {
	opts := Options{Window: time.Hour, MaxEventsPerTenant: 5}
	c := NewCollector(opts, testLogger())

	for i := 0; i < 20; i++ {
		c.Record(event("tenant-1", "tpl", models.EngineBaseline, true))
	}

	assert.Equal(t, 5, c.Aggregate(Filter{TenantID: "tenant-1"}).Total)
}

func TestCollectorPerformance(t *testing.T) {
	c := NewCollector(DefaultOptions(), testLogger())

	assert.Nil(t, c.Performance("tenant-1", "tpl"))

	c.Record(event("tenant-1", "tpl", models.EngineBaseline, true))
	c.Record(event("tenant-1", "tpl", models.EngineBaseline, false))

	perf := c.Performance("tenant-1", "tpl")
	require.NotNil(t, perf)
	assert.InDelta(t, 0.5, perf.CaptureSuccessRate, 0.001)
	assert.Equal(t, 2, perf.SampleCount)
}

func TestCollectorRecordFallback(t *testing.T) {
	c := NewCollector(DefaultOptions(), testLogger())

	c.RecordFallback(models.FallbackEvent{TenantID: "tenant-1", TemplateID: "tpl"})
	c.RecordFallback(models.FallbackEvent{TenantID: "tenant-1", TemplateID: "other"})

	// A bare fallback contributes no message to the window but shows up
	// in the recovery count, honoring the template filter.
	aggregate := c.Aggregate(Filter{TenantID: "tenant-1"})
	assert.Equal(t, 0, aggregate.Total)
	assert.Equal(t, 2, aggregate.RecoveredFallbacks)

	filtered := c.Aggregate(Filter{TenantID: "tenant-1", TemplateID: "tpl"})
	assert.Equal(t, 1, filtered.RecoveredFallbacks)
}

func TestCollectorEvictsStaleFallbacks(t *testing.T) {
	opts := Options{Window: time.Minute, MaxEventsPerTenant: 100}
	c := NewCollector(opts, testLogger())

	c.RecordFallback(models.FallbackEvent{
		TenantID: "tenant-1", TemplateID: "tpl",
		OccurredAt: time.Now().Add(-2 * time.Minute),
	})
	c.RecordFallback(models.FallbackEvent{TenantID: "tenant-1", TemplateID: "tpl"})

	assert.Equal(t, 1, c.Aggregate(Filter{TenantID: "tenant-1"}).RecoveredFallbacks)
}

func TestCollectorSubscribeBus(t *testing.T) {
	c := NewCollector(DefaultOptions(), testLogger())

	pub, sub := gochannel.CreateTestChannel(watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() { _ = bus.Close() })

	require.NoError(t, c.SubscribeBus(t.Context(), bus))

	processed := events.MessageProcessed{
		BaseEvent:      events.NewBaseEvent(events.MessageProcessedEvent, "tenant-1", "tpl"),
		SessionID:      "session-1",
		Engine:         models.EngineBaseline,
		LatencyMS:      120,
		CaptureSuccess: true,
	}
	require.NoError(t, bus.Publish(t.Context(), "tenant-1", processed))

	// Traffic published by another instance lands in this window.
	require.Eventually(t, func() bool {
		return c.Aggregate(Filter{TenantID: "tenant-1"}).Total == 1
	}, 2*time.Second, 10*time.Millisecond)

	aggregate := c.Aggregate(Filter{TenantID: "tenant-1", TemplateID: "tpl"})
	assert.Equal(t, 1, aggregate.Total)
	assert.InDelta(t, 1.0, aggregate.CaptureSuccessRate, 0.001)
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector(DefaultOptions(), testLogger())

	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()

			for j := 0; j < 100; j++ {
				c.Record(event("tenant-1", "tpl", models.EngineBaseline, true))
				c.Aggregate(Filter{TenantID: "tenant-1"})
			}
		}()
	}

	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, 800, c.Aggregate(Filter{TenantID: "tenant-1"}).Total)
}
