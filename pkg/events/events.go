// Package events defines the typed events the gateway publishes about
// conversation processing.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dialora/dialora/pkg/models"
)

// EventType discriminates bus payloads.
type EventType string

// Topic is the single bus topic carrying conversation events.
const Topic = "dialora.conversation.events"

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	MessageProcessedEvent  EventType = "conversation.message.processed"
	FallbackTriggeredEvent EventType = "conversation.fallback.triggered"
	TemplateActivatedEvent EventType = "template.activated"
	SessionResetEvent      EventType = "conversation.session.reset"
)

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TenantID   string    `json:"tenant_id"`
	TemplateID string    `json:"template_id,omitempty"`
}

// NewBaseEvent stamps a fresh event with an id and the current time.
func NewBaseEvent(eventType EventType, tenantID, templateID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		TemplateID: templateID,
	}
}

// MessageProcessed records the outcome of one interpreter step. The
// metrics collector subscribes to these to build its sliding window.
type MessageProcessed struct {
	BaseEvent

	SessionID      string            `json:"session_id"`
	Engine         models.EngineKind `json:"engine"`
	LatencyMS      int64             `json:"latency_ms"`
	CaptureSuccess bool              `json:"capture_success"`
	Degraded       bool              `json:"degraded"`
	FellBack       bool              `json:"fell_back"`
	Failed         bool              `json:"failed"`
}

func (e MessageProcessed) GetType() EventType {
	return MessageProcessedEvent
}

// Metric converts the event into the collector's record format.
func (e MessageProcessed) Metric() models.MetricEvent {
	return models.MetricEvent{
		Engine:         e.Engine,
		TemplateID:     e.TemplateID,
		TenantID:       e.TenantID,
		Timestamp:      e.Timestamp,
		LatencyMS:      e.LatencyMS,
		CaptureSuccess: e.CaptureSuccess,
		Degraded:       e.Degraded,
		Failed:         e.Failed,
		FellBack:       e.FellBack,
	}
}

// FallbackTriggered records a transparent engine reversion.
type FallbackTriggered struct {
	BaseEvent

	Fallback models.FallbackEvent `json:"fallback"`
}

func (e FallbackTriggered) GetType() EventType {
	return FallbackTriggeredEvent
}

// TemplateActivated announces a new template version; other gateway
// instances drop their cached routing decisions for it.
type TemplateActivated struct {
	BaseEvent

	Version int `json:"version"`
}

func (e TemplateActivated) GetType() EventType {
	return TemplateActivatedEvent
}

// SessionReset announces an externally requested session reset.
type SessionReset struct {
	BaseEvent

	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (e SessionReset) GetType() EventType {
	return SessionResetEvent
}
