// Package fallback reverts a failed enhanced-path turn to the baseline
// engine within the same request, invisibly to the end user.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dialora/dialora/pkg/enhanced"
	"github.com/dialora/dialora/pkg/eventbus"
	"github.com/dialora/dialora/pkg/events"
	"github.com/dialora/dialora/pkg/flow"
	"github.com/dialora/dialora/pkg/metrics"
	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/statestore"
)

// Causes attached to fallback events.
const (
	CauseTimeout  = "enhanced_timeout"
	CauseError    = "enhanced_error"
	CauseDegraded = "enhanced_degraded"
)

// Context carries everything needed to re-execute the turn.
type Context struct {
	Graph *models.FlowGraph

	// PreState is the state exactly as loaded at turn entry. The
	// re-execution always starts from a clone of it, never from
	// whatever the enhanced path left behind, so side effects cannot be
	// applied twice.
	PreState *models.ConversationState

	Input    string
	Decision models.RoutingDecision
}

// Result pairs the baseline re-execution with the emitted event.
type Result struct {
	Step  *flow.StepResult
	Event models.FallbackEvent
}

// Manager re-runs failed enhanced turns on the baseline engine. It is a
// decorator over the same step contract: persistence still belongs to
// the caller, and the caller applies lead-stage transitions only after
// a successful save, which keeps them exactly-once across the retry.
type Manager struct {
	baseline  flow.Engine
	store     statestore.Store
	collector *metrics.Collector
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

// NewManager creates a fallback manager. publisher may be nil when no
// bus is wired.
func NewManager(baseline flow.Engine, store statestore.Store, collector *metrics.Collector, publisher eventbus.EventPublisher, logger *slog.Logger) *Manager {
	return &Manager{
		baseline:  baseline,
		store:     store,
		collector: collector,
		publisher: publisher,
		logger:    logger.With("module", "fallback"),
	}
}

// ClassifyCause maps an enhanced-path failure to a cause tag.
func ClassifyCause(err error, degraded bool) string {
	switch {
	case err != nil && enhanced.IsModuleTimeout(err):
		return CauseTimeout
	case err != nil:
		return CauseError
	case degraded:
		return CauseDegraded
	default:
		return CauseError
	}
}

// ExecuteFallback re-runs the turn on the baseline engine from the
// pre-step state. The FallbackEvent is emitted regardless of whether
// the re-execution succeeds; a baseline failure is returned to the
// caller as the request's fatal error.
func (m *Manager) ExecuteFallback(ctx context.Context, fctx Context, cause string, causeErr error) (*Result, error) {
	if fctx.PreState == nil {
		return nil, fmt.Errorf("fallback requires the pre-step state")
	}

	m.logger.WarnContext(ctx, "Enhanced path failed, reverting to baseline",
		"tenant_id", fctx.PreState.TenantID,
		"session_id", fctx.PreState.SessionID,
		"cause", cause,
		"error", causeErr)

	event := models.FallbackEvent{
		TenantID:   fctx.PreState.TenantID,
		TemplateID: fctx.Graph.ID,
		SessionID:  fctx.PreState.SessionID,
		Cause:      cause,
		Severity:   models.FallbackSeverityWarning,
		RecoveryActions: []string{
			"reverted_to_baseline",
			"re_executed_from_pre_step_state",
		},
		OccurredAt: time.Now().UTC(),
	}

	event.PreservedState = m.verifyPreservedState(ctx, fctx.PreState)

	result, stepErr := m.baseline.Step(ctx, fctx.Graph, fctx.PreState.Clone(), fctx.Input)
	if stepErr != nil {
		event.Severity = models.FallbackSeverityCritical
		event.RecoveryActions = append(event.RecoveryActions, "baseline_re_execution_failed")
	}

	// Lead-stage transitions are deferred until after a successful
	// save and computed against the pre-step history, so a retried
	// turn can never apply a stage twice. Record the stages this turn
	// will apply for the audit trail.
	event.LeadDataPreserved = event.PreservedState

	if stepErr == nil {
		for _, nodeID := range result.State.History[len(fctx.PreState.History):] {
			if node, ok := fctx.Graph.Node(nodeID); ok && node.SalesStageID() != "" {
				event.RecoveryActions = append(event.RecoveryActions,
					"lead_stage_pending:"+node.SalesStageID())
			}
		}
	}

	m.emit(ctx, event)

	if stepErr != nil {
		return nil, stepErr
	}

	return &Result{Step: result, Event: event}, nil
}

// verifyPreservedState reloads the session and compares it with the
// state this turn started from. A mismatch means a concurrent delivery
// advanced the session while this turn was in flight.
func (m *Manager) verifyPreservedState(ctx context.Context, preState *models.ConversationState) bool {
	stored, err := m.store.Load(ctx, statestore.KeyOf(preState))
	if err != nil {
		if statestore.IsNotFound(err) {
			// A session that was never persisted is trivially intact.
			return preState.Version == 0
		}

		m.logger.ErrorContext(ctx, "Failed to reload state for preservation check", "error", err)

		return false
	}

	return stored.SameTurnInput(preState)
}

// emit records the event with the collector and, when a bus is wired,
// publishes it. Neither path may fail the surrounding request.
func (m *Manager) emit(ctx context.Context, event models.FallbackEvent) {
	m.collector.RecordFallback(event)

	if m.publisher == nil {
		return
	}

	base := events.NewBaseEvent(events.FallbackTriggeredEvent, event.TenantID, event.TemplateID)
	base.Timestamp = event.OccurredAt

	busEvent := events.FallbackTriggered{BaseEvent: base, Fallback: event}

	if err := m.publisher.Publish(ctx, event.TenantID, busEvent); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish fallback event", "error", err)
	}
}
