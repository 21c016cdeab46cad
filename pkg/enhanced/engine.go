// Package enhanced layers optional processing modules (richer input
// capture, dynamic re-navigation) on top of the baseline interpreter
// contract. The enhanced path may fail; every failure is recoverable by
// re-running the same turn on the baseline engine.
package enhanced

import (
	"context"
	"log/slog"
	"time"

	"github.com/dialora/dialora/pkg/flow"
	"github.com/dialora/dialora/pkg/models"
)

// Options configure the enhanced engine.
type Options struct {
	// StepTimeout bounds one enhanced step end to end. Exceeding it is
	// a ModuleTimeout and triggers fallback.
	StepTimeout time.Duration `validate:"gt=0"`
}

// Engine wraps the baseline interpreter with the enhanced modules. It
// satisfies the same step contract, so the router can swap engines
// without the session layer caring.
type Engine struct {
	baseline   flow.Engine
	opts       Options
	capture    captureModule
	navigation navigationModule
	logger     *slog.Logger
}

// NewEngine creates the enhanced engine around the baseline.
func NewEngine(baseline flow.Engine, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		baseline: baseline,
		opts:     opts,
		logger:   logger.With("engine", models.EngineEnhanced),
	}
}

// Kind identifies the engine variant.
func (e *Engine) Kind() models.EngineKind {
	return models.EngineEnhanced
}

// Step runs the modules and then the baseline step under the configured
// time budget. The caller passes a disposable state copy: on timeout the
// step goroutine may still be mutating it, and the fallback path must
// re-execute from the untouched pre-step state.
func (e *Engine) Step(ctx context.Context, graph *models.FlowGraph, state *models.ConversationState, input string) (*flow.StepResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.opts.StepTimeout)
	defer cancel()

	type outcome struct {
		result *flow.StepResult
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		result, err := e.step(stepCtx, graph, state, input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-stepCtx.Done():
		return nil, &ModuleTimeout{Module: "step", Err: stepCtx.Err()}
	case out := <-done:
		return out.result, out.err
	}
}

func (e *Engine) step(ctx context.Context, graph *models.FlowGraph, state *models.ConversationState, input string) (*flow.StepResult, error) {
	// Dynamic re-navigation: an alias match moves the cursor before the
	// interpreter runs.
	if target, err := e.navigation.target(graph, state, input); err != nil {
		return nil, err
	} else if target != "" {
		e.logger.DebugContext(ctx, "Re-navigating session",
			"session_id", state.SessionID, "from", state.CurrentNodeID, "to", target)
		state.CurrentNodeID = target
	}

	// Enhanced capture: validate and normalize the inbound text for the
	// input node owning this turn.
	currentNode, _ := graph.Node(state.CurrentNodeID)

	capture, err := e.capture.apply(currentNode, input)
	if err != nil {
		return nil, err
	}

	if capture.reprompt != nil {
		return &flow.StepResult{
			Outputs:       []models.Output{{Text: *capture.reprompt}},
			State:         state,
			InputExpected: true,
		}, nil
	}

	return e.baseline.Step(ctx, graph, state, capture.input)
}
