// Package flow implements the flow-graph interpreter that drives
// multi-turn conversations one step at a time.
package flow

import (
	"context"

	"github.com/dialora/dialora/pkg/models"
)

// StepResult is the outcome of executing one interpreter step: the
// outputs accumulated for the end user, the advanced state, and whether
// the step was cut short at a node boundary.
type StepResult struct {
	Outputs  []models.Output
	State    *models.ConversationState
	Degraded bool

	// InputExpected is set when the step blocked on a node that consumes
	// the next delivery; InputCaptured when an input node stored a
	// non-empty value this turn. Together they feed the capture-success
	// metric.
	InputExpected bool
	InputCaptured bool
}

// Engine executes one graph step for an inbound message. Implementations
// are pure with respect to everything but their return value: state is
// advanced on the passed-in copy and nothing is persisted. Persistence
// and concurrency discipline belong to the caller.
type Engine interface {
	Kind() models.EngineKind
	Step(ctx context.Context, graph *models.FlowGraph, state *models.ConversationState, input string) (*StepResult, error)
}
