// Package metrics collects per-message outcome events and aggregates
// them over a sliding window. The aggregate feeds the router back its
// own results.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dialora/dialora/pkg/events"
	"github.com/dialora/dialora/pkg/eventbus"
	"github.com/dialora/dialora/pkg/models"
)

// Options bound the collector's memory.
type Options struct {
	// Window is how far back aggregation looks; events older than the
	// window are evicted.
	Window time.Duration `validate:"gt=0"`

	// MaxEventsPerTenant caps the per-tenant ring buffer. When full, the
	// oldest entries are dropped; recording never fails.
	MaxEventsPerTenant int `validate:"min=1"`
}

// DefaultOptions are the shipped defaults.
func DefaultOptions() Options {
	return Options{
		Window:             15 * time.Minute,
		MaxEventsPerTenant: 4096,
	}
}

type tenantBuffer struct {
	events    []models.MetricEvent
	fallbacks []models.FallbackEvent
}

// Collector is an append-only, time-bounded ring buffer per tenant.
// Record never blocks on I/O and never fails the surrounding request.
type Collector struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	tenants map[string]*tenantBuffer
}

// NewCollector creates a collector.
func NewCollector(opts Options, logger *slog.Logger) *Collector {
	return &Collector{
		opts:    opts,
		logger:  logger.With("module", "metrics"),
		tenants: make(map[string]*tenantBuffer),
	}
}

// Record appends one event, evicting entries that fell out of the
// window or exceed the buffer cap.
func (c *Collector) Record(event models.MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buffer := c.tenants[event.TenantID]
	if buffer == nil {
		buffer = &tenantBuffer{}
		c.tenants[event.TenantID] = buffer
	}

	buffer.events = append(buffer.events, event)

	c.evictLocked(buffer, time.Now().Add(-c.opts.Window))
}

// RecordFallback keeps a recovery event without a full metric record.
// The fallback manager calls this independently of whether the
// surrounding request succeeds, so the aggregate counts recoveries even
// for turns whose baseline re-execution failed too.
func (c *Collector) RecordFallback(event models.FallbackEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buffer := c.tenants[event.TenantID]
	if buffer == nil {
		buffer = &tenantBuffer{}
		c.tenants[event.TenantID] = buffer
	}

	buffer.fallbacks = append(buffer.fallbacks, event)

	c.evictLocked(buffer, time.Now().Add(-c.opts.Window))
}

func (c *Collector) evictLocked(buffer *tenantBuffer, cutoff time.Time) {
	firstLive := 0
	for firstLive < len(buffer.events) && buffer.events[firstLive].Timestamp.Before(cutoff) {
		firstLive++
	}

	overflow := len(buffer.events) - firstLive - c.opts.MaxEventsPerTenant
	if overflow > 0 {
		firstLive += overflow
	}

	if firstLive > 0 {
		buffer.events = append(buffer.events[:0:0], buffer.events[firstLive:]...)
	}

	firstLive = 0
	for firstLive < len(buffer.fallbacks) && buffer.fallbacks[firstLive].OccurredAt.Before(cutoff) {
		firstLive++
	}

	overflow = len(buffer.fallbacks) - firstLive - c.opts.MaxEventsPerTenant
	if overflow > 0 {
		firstLive += overflow
	}

	if firstLive > 0 {
		buffer.fallbacks = append(buffer.fallbacks[:0:0], buffer.fallbacks[firstLive:]...)
	}
}

// Filter narrows an aggregation query.
type Filter struct {
	TenantID   string
	TemplateID string
	Engine     models.EngineKind // Empty matches every engine
	From       time.Time         // Zero means window start
	To         time.Time         // Zero means now
}

// Aggregate computes counts, capture success rate, error rate and
// average latency over the filtered window.
func (c *Collector) Aggregate(filter Filter) models.AggregatedMetrics {
	now := time.Now().UTC()

	from := filter.From
	if from.IsZero() {
		from = now.Add(-c.opts.Window)
	}

	to := filter.To
	if to.IsZero() {
		to = now
	}

	aggregate := models.AggregatedMetrics{
		TenantID:   filter.TenantID,
		Engine:     filter.Engine,
		WindowFrom: from,
		WindowTo:   to,
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	buffer := c.tenants[filter.TenantID]
	if buffer == nil {
		return aggregate
	}

	captured := 0
	latencySum := int64(0)

	for _, event := range buffer.events {
		if event.Timestamp.Before(from) || event.Timestamp.After(to) {
			continue
		}

		if filter.Engine != "" && event.Engine != filter.Engine {
			continue
		}

		if filter.TemplateID != "" && event.TemplateID != filter.TemplateID {
			continue
		}

		aggregate.Total++
		latencySum += event.LatencyMS

		if event.CaptureSuccess {
			captured++
		}

		if event.Failed {
			aggregate.Failures++
		}

		if event.FellBack {
			aggregate.Fallbacks++
		}
	}

	// Recovery events carry no engine, so only the time and template
	// filters apply to them.
	for _, fb := range buffer.fallbacks {
		if fb.OccurredAt.Before(from) || fb.OccurredAt.After(to) {
			continue
		}

		if filter.TemplateID != "" && fb.TemplateID != filter.TemplateID {
			continue
		}

		aggregate.RecoveredFallbacks++
	}

	if aggregate.Total > 0 {
		aggregate.CaptureSuccessRate = float64(captured) / float64(aggregate.Total)
		aggregate.ErrorRate = float64(aggregate.Failures) / float64(aggregate.Total)
		aggregate.AverageLatencyMS = float64(latencySum) / float64(aggregate.Total)
	}

	return aggregate
}

// Performance summarizes a template's recent behavior for the analyzer.
// Returns nil when the window holds no samples for the template.
func (c *Collector) Performance(tenantID, templateID string) *models.PerformanceMetrics {
	aggregate := c.Aggregate(Filter{TenantID: tenantID, TemplateID: templateID})
	if aggregate.Total == 0 {
		return nil
	}

	return &models.PerformanceMetrics{
		CaptureSuccessRate: aggregate.CaptureSuccessRate,
		DropRate:           aggregate.ErrorRate,
		SampleCount:        aggregate.Total,
	}
}

// SubscribeBus feeds the collector from MessageProcessed events on the
// bus, so gateways sharing a broker see each other's traffic.
func (c *Collector) SubscribeBus(ctx context.Context, bus eventbus.EventBus) error {
	err := bus.Handle(events.MessageProcessedEvent, func(_ context.Context, raw any) error {
		event, ok := raw.(*events.MessageProcessed)
		if !ok {
			return nil
		}

		c.Record(event.Metric())

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}
