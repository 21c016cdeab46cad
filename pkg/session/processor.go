// Package session processes inbound messages end to end: it loads the
// conversation state, routes the turn to an engine, persists the result
// under optimistic concurrency and applies the deferred side effects.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dialora/dialora/pkg/analyzer"
	"github.com/dialora/dialora/pkg/eventbus"
	"github.com/dialora/dialora/pkg/events"
	"github.com/dialora/dialora/pkg/fallback"
	"github.com/dialora/dialora/pkg/flow"
	"github.com/dialora/dialora/pkg/leads"
	"github.com/dialora/dialora/pkg/metrics"
	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/otelhelper"
	"github.com/dialora/dialora/pkg/router"
	"github.com/dialora/dialora/pkg/statestore"
	"github.com/dialora/dialora/pkg/templates"
)

// TransientProcessingError marks failures worth retrying at the
// delivery layer (storage hiccups, exhausted save retries).
type TransientProcessingError struct {
	Err error
}

func (e *TransientProcessingError) Error() string {
	return fmt.Sprintf("transient processing failure: %v", e.Err)
}

func (e *TransientProcessingError) Unwrap() error {
	return e.Err
}

// IsTransientProcessingError reports whether err is retryable.
func IsTransientProcessingError(err error) bool {
	var transient *TransientProcessingError

	return errors.As(err, &transient)
}

// Request is one inbound end-user message.
type Request struct {
	TenantID   string `json:"tenant_id"   validate:"required"`
	UserID     string `json:"user_id"     validate:"required"`
	SessionID  string `json:"session_id"  validate:"required"`
	TemplateID string `json:"template_id" validate:"required"`
	Input      string `json:"input"`

	// LeadID, when set, enables sales-stage transitions for this
	// conversation.
	LeadID string `json:"lead_id,omitempty"`
}

// Response is what the delivery layer returns to the channel.
type Response struct {
	SessionID string            `json:"session_id"`
	Outputs   []models.Output   `json:"outputs"`
	Engine    models.EngineKind `json:"engine"`
	Completed bool              `json:"completed"`
	Degraded  bool              `json:"degraded,omitempty"`
	FellBack  bool              `json:"fell_back,omitempty"`
}

// Options bound the processor's retry behavior.
type Options struct {
	// SaveRetries is how many times a turn is re-executed after losing
	// the compare-and-swap race before giving up.
	SaveRetries int `validate:"gte=0,lte=10"`
}

// Processor orchestrates one turn. It is safe for concurrent use; turns
// on the same session key are serialized in-process and protected by
// the store's compare-and-swap across instances.
type Processor struct {
	store     statestore.Store
	repo      templates.Repository
	analyzer  *analyzer.Analyzer
	router    *router.Router
	baseline  flow.Engine
	enhanced  flow.Engine
	fallback  *fallback.Manager
	advancer  leads.StageAdvancer
	collector *metrics.Collector
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	opts      Options

	validate *validator.Validate
	tracer   trace.Tracer
	locks    *keyedMutex
}

// NewProcessor wires the processor. publisher may be nil when no bus is
// configured; advancer may be leads.NoopAdvancer.
func NewProcessor(
	store statestore.Store,
	repo templates.Repository,
	graphAnalyzer *analyzer.Analyzer,
	engineRouter *router.Router,
	baseline flow.Engine,
	enhancedEngine flow.Engine,
	fallbackManager *fallback.Manager,
	advancer leads.StageAdvancer,
	collector *metrics.Collector,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts Options,
) *Processor {
	return &Processor{
		store:     store,
		repo:      repo,
		analyzer:  graphAnalyzer,
		router:    engineRouter,
		baseline:  baseline,
		enhanced:  enhancedEngine,
		fallback:  fallbackManager,
		advancer:  advancer,
		collector: collector,
		publisher: publisher,
		logger:    logger.With("module", "session"),
		opts:      opts,
		validate:  validator.New(),
		tracer:    otel.Tracer("dialora/session"),
		locks:     newKeyedMutex(),
	}
}

// Process runs one conversation turn. On a compare-and-swap conflict or
// a transient store failure the whole turn is re-executed against
// freshly loaded state, up to the configured retry budget.
func (p *Processor) Process(ctx context.Context, req Request) (*Response, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid message request: %w", err)
	}

	ctx, span := p.tracer.Start(ctx, "session.process", trace.WithAttributes(
		attribute.String(otelhelper.TenantIDKey, req.TenantID),
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID),
		attribute.String(otelhelper.SessionIDKey, req.SessionID),
	))
	defer span.End()

	graph, err := p.repo.GetGraph(ctx, req.TenantID, req.TemplateID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	key := statestore.Key{TenantID: req.TenantID, UserID: req.UserID, SessionID: req.SessionID}

	unlock := p.locks.lock(key.String())
	defer unlock()

	started := time.Now()

	var lastErr error

	for attempt := 0; attempt <= p.opts.SaveRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, time.Duration(attempt)*25*time.Millisecond); err != nil {
				return nil, err
			}
		}

		response, err := p.runTurn(ctx, req, graph, started)
		if err == nil {
			return response, nil
		}

		if !statestore.IsVersionConflict(err) && !IsTransientProcessingError(err) {
			otelhelper.SetError(span, err)

			return nil, err
		}

		lastErr = err
		p.logger.WarnContext(ctx, "Turn attempt failed, re-executing",
			"session_id", req.SessionID, "attempt", attempt+1, "error", err)
	}

	exhausted := &TransientProcessingError{Err: fmt.Errorf("retry budget exhausted: %w", lastErr)}
	otelhelper.SetError(span, exhausted)

	return nil, exhausted
}

// runTurn executes one full attempt: load, route, step, save, side
// effects. A version conflict aborts before any side effect fires.
func (p *Processor) runTurn(ctx context.Context, req Request, graph *models.FlowGraph, started time.Time) (*Response, error) {
	key := statestore.Key{TenantID: req.TenantID, UserID: req.UserID, SessionID: req.SessionID}

	preState, err := p.loadState(ctx, key, graph)
	if err != nil {
		return nil, err
	}

	decision := p.route(graph, req)

	result, fellBack, stepErr := p.step(ctx, graph, preState, req.Input, decision)
	if stepErr != nil {
		p.record(req, graph, decision.Engine, started, result, fellBack, true)

		return nil, stepErr
	}

	// A canceled delivery persists nothing; the channel will redeliver.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := p.store.Save(ctx, result.State, preState.Version); err != nil {
		if statestore.IsVersionConflict(err) {
			return nil, err
		}

		return nil, &TransientProcessingError{Err: err}
	}

	// Side effects only after the turn is durable. Computing stages from
	// the history delta keeps them exactly-once even when the enhanced
	// path failed mid-turn and the baseline re-executed.
	p.advanceStages(ctx, req, graph, preState, result.State)

	engine := decision.Engine
	if fellBack {
		engine = models.EngineBaseline
	}

	p.record(req, graph, engine, started, result, fellBack, false)

	return &Response{
		SessionID: req.SessionID,
		Outputs:   result.Outputs,
		Engine:    engine,
		Completed: result.State.Completed,
		Degraded:  result.Degraded,
		FellBack:  fellBack,
	}, nil
}

// loadState fetches the stored state or initializes a fresh one. A
// completed session or a session bound to another flow restarts at the
// entry node, keeping the stored version for the compare-and-swap.
func (p *Processor) loadState(ctx context.Context, key statestore.Key, graph *models.FlowGraph) (*models.ConversationState, error) {
	stored, err := p.store.Load(ctx, key)
	if statestore.IsNotFound(err) {
		return models.NewConversationState(graph, key.TenantID, key.UserID, key.SessionID), nil
	}

	if err != nil {
		return nil, &TransientProcessingError{Err: err}
	}

	if stored.Completed || stored.FlowID != graph.ID {
		fresh := models.NewConversationState(graph, key.TenantID, key.UserID, key.SessionID)
		fresh.Version = stored.Version

		return fresh, nil
	}

	return stored, nil
}

func (p *Processor) route(graph *models.FlowGraph, req Request) models.RoutingDecision {
	perf := p.collector.Performance(req.TenantID, req.TemplateID)
	analysis := p.analyzer.Analyze(graph, perf)
	live := p.collector.Aggregate(metrics.Filter{TenantID: req.TenantID, TemplateID: req.TemplateID})

	return p.router.Route(graph, analysis, &live, router.RequestContext{
		TenantID:   req.TenantID,
		TemplateID: req.TemplateID,
	})
}

// step runs the decided engine. Enhanced failures and degradations are
// absorbed by the fallback manager; only a baseline failure escapes.
func (p *Processor) step(ctx context.Context, graph *models.FlowGraph, preState *models.ConversationState, input string, decision models.RoutingDecision) (*flow.StepResult, bool, error) {
	if decision.Engine != models.EngineEnhanced {
		result, err := p.baseline.Step(ctx, graph, preState.Clone(), input)

		return result, false, err
	}

	// The enhanced engine gets a disposable clone: on timeout its
	// goroutine may still be writing to it.
	result, err := p.enhanced.Step(ctx, graph, preState.Clone(), input)
	if err == nil && !result.Degraded {
		return result, false, nil
	}

	// A timeout of the whole request is not an enhanced-path failure;
	// there is no budget left to re-execute in.
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	cause := fallback.ClassifyCause(err, err == nil && result.Degraded)

	fbResult, fbErr := p.fallback.ExecuteFallback(ctx, fallback.Context{
		Graph:    graph,
		PreState: preState,
		Input:    input,
		Decision: decision,
	}, cause, err)
	if fbErr != nil {
		return nil, true, fbErr
	}

	return fbResult.Step, true, nil
}

// advanceStages fires sales-stage transitions for nodes this turn
// visited. Failures are logged, never surfaced: the lead system is
// expected to be idempotent per (lead, stage).
func (p *Processor) advanceStages(ctx context.Context, req Request, graph *models.FlowGraph, preState, newState *models.ConversationState) {
	if req.LeadID == "" {
		return
	}

	for _, nodeID := range newState.History[len(preState.History):] {
		node, ok := graph.Node(nodeID)
		if !ok || node.SalesStageID() == "" {
			continue
		}

		stageID := node.SalesStageID()

		// Detached from the request so a client disconnect cannot lose
		// the transition.
		go func() {
			advanceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()

			if err := p.advancer.AdvanceStage(advanceCtx, req.LeadID, stageID); err != nil {
				p.logger.ErrorContext(advanceCtx, "Failed to advance lead stage",
					"lead_id", req.LeadID, "stage_id", stageID, "error", err)
			}
		}()
	}
}

// record emits the turn's metric event locally and, when a bus is
// wired, to the other instances.
func (p *Processor) record(req Request, graph *models.FlowGraph, engine models.EngineKind, started time.Time, result *flow.StepResult, fellBack, failed bool) {
	event := events.MessageProcessed{
		BaseEvent: events.NewBaseEvent(events.MessageProcessedEvent, req.TenantID, graph.ID),
		SessionID: req.SessionID,
		Engine:    engine,
		LatencyMS: time.Since(started).Milliseconds(),
		FellBack:  fellBack,
		Failed:    failed,
	}

	if result != nil {
		event.CaptureSuccess = result.InputCaptured
		event.Degraded = result.Degraded
	}

	p.collector.Record(event.Metric())

	if p.publisher == nil {
		return
	}

	// Publishing is best effort; the local record already happened.
	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.publisher.Publish(publishCtx, req.TenantID, event); err != nil {
		p.logger.Error("Failed to publish message processed event", "error", err)
	}
}

// ResetSession deletes the stored state so the next message starts at
// the entry node.
func (p *Processor) ResetSession(ctx context.Context, key statestore.Key) error {
	if err := p.store.Delete(ctx, key); err != nil {
		return &TransientProcessingError{Err: err}
	}

	if p.publisher != nil {
		event := events.SessionReset{
			BaseEvent: events.NewBaseEvent(events.SessionResetEvent, key.TenantID, ""),
			UserID:    key.UserID,
			SessionID: key.SessionID,
		}

		if err := p.publisher.Publish(ctx, key.TenantID, event); err != nil {
			p.logger.ErrorContext(ctx, "Failed to publish session reset event", "error", err)
		}
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
