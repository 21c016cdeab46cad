package models

import "time"

// EngineKind identifies which interpreter variant handles a message.
type EngineKind string

const (
	EngineBaseline EngineKind = "baseline"
	EngineEnhanced EngineKind = "enhanced"
)

// FallbackStrategy declares how an enhanced-path failure is recovered.
// There is exactly one strategy today; carrying it on the decision means
// callers never special-case failure handling.
type FallbackStrategy string

const FallbackRevertToBaseline FallbackStrategy = "revert_to_baseline_preserve_state"

// RoutingDecision is the router's per-message verdict. Decisions may be
// cached per (template, tenant) for a bounded interval; GraphVersion
// invalidates cached entries when a template is re-activated.
type RoutingDecision struct {
	Engine             EngineKind       `json:"engine"`
	Confidence         float64          `json:"confidence"` // [0, 1]
	RecommendedModules []ModuleTag      `json:"recommended_modules"`
	FallbackStrategy   FallbackStrategy `json:"fallback_strategy"`
	GraphVersion       int              `json:"graph_version"`
	DecidedAt          time.Time        `json:"decided_at"`
}

// FallbackSeverity grades a recovered enhanced-path failure.
type FallbackSeverity string

const (
	FallbackSeverityWarning  FallbackSeverity = "warning"
	FallbackSeverityCritical FallbackSeverity = "critical"
)

// FallbackEvent records one transparent engine reversion. It is emitted
// to the collector and the event bus, never persisted as conversation
// state.
type FallbackEvent struct {
	TenantID          string           `json:"tenant_id"`
	TemplateID        string           `json:"template_id"`
	SessionID         string           `json:"session_id"`
	Cause             string           `json:"cause"`
	Severity          FallbackSeverity `json:"severity"`
	PreservedState    bool             `json:"preserved_state"`
	RecoveryActions   []string         `json:"recovery_actions"`
	LeadDataPreserved bool             `json:"lead_data_preserved"`
	OccurredAt        time.Time        `json:"occurred_at"`
}
