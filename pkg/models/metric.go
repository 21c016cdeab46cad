package models

import "time"

// MetricEvent is one per-message outcome record. Events are append-only
// and aggregated over a sliding window; they feed the router back its
// own results.
type MetricEvent struct {
	Engine         EngineKind `json:"engine"`
	TemplateID     string     `json:"template_id"`
	TenantID       string     `json:"tenant_id"`
	Timestamp      time.Time  `json:"timestamp"`
	LatencyMS      int64      `json:"latency_ms"`
	CaptureSuccess bool       `json:"capture_success"`
	Degraded       bool       `json:"degraded"`
	Failed         bool       `json:"failed"`
	FellBack       bool       `json:"fell_back"`
}

// AggregatedMetrics summarizes a window of metric events. Fallbacks
// counts processed messages that fell back; RecoveredFallbacks is
// derived from the recovery events themselves and so includes turns
// whose baseline re-execution failed as well.
type AggregatedMetrics struct {
	TenantID           string     `json:"tenant_id"`
	Engine             EngineKind `json:"engine,omitempty"` // Empty when not filtered
	Total              int        `json:"total"`
	Failures           int        `json:"failures"`
	Fallbacks          int        `json:"fallbacks"`
	RecoveredFallbacks int        `json:"recovered_fallbacks"`
	CaptureSuccessRate float64    `json:"capture_success_rate"`
	ErrorRate          float64    `json:"error_rate"`
	AverageLatencyMS   float64    `json:"average_latency_ms"`
	WindowFrom         time.Time  `json:"window_from"`
	WindowTo           time.Time  `json:"window_to"`
}
