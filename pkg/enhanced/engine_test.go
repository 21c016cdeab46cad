package enhanced

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialora/dialora/pkg/flow"
	"github.com/dialora/dialora/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func captureGraph() *models.FlowGraph {
	return &models.FlowGraph{
		ID:          "signup",
		TenantID:    "tenant-1",
		Version:     1,
		EntryNodeID: "ask-email",
		Nodes: map[string]*models.Node{
			"ask-email": {
				ID: "ask-email", Kind: models.NodeKindInput, Variable: "email",
				Metadata: map[string]any{
					"captureFormat":   "email",
					"captureReprompt": "That email looks off, mind retyping it?",
				},
				Next: "done",
			},
			"done": {ID: "done", Kind: models.NodeKindTerminal, Content: "Welcome!"},
			"help": {
				ID: "help", Kind: models.NodeKindMessage, Content: "Here to help.",
				Metadata: map[string]any{"aliases": []any{"help", "menu"}},
				Next:     "ask-email",
			},
		},
	}
}

func newTestEngine(timeout time.Duration) *Engine {
	baseline := flow.NewBaseline(testLogger())

	return NewEngine(baseline, Options{StepTimeout: timeout}, testLogger())
}

func TestEnhancedStepNormalizesAndCaptures(t *testing.T) {
	engine := newTestEngine(time.Second)
	graph := captureGraph()
	state := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	result, err := engine.Step(t.Context(), graph, state, "  Ada@Example.COM ")
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", result.State.Context["email"])
	assert.True(t, result.State.Completed)
	require.Len(t, result.Outputs, 1)
	assert.Equal(t, "Welcome!", result.Outputs[0].Text)
}

func TestEnhancedStepRepromptsOnInvalidInput(t *testing.T) {
	engine := newTestEngine(time.Second)
	graph := captureGraph()
	state := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	result, err := engine.Step(t.Context(), graph, state, "not an email")
	require.NoError(t, err)

	require.Len(t, result.Outputs, 1)
	assert.Equal(t, "That email looks off, mind retyping it?", result.Outputs[0].Text)
	assert.True(t, result.InputExpected)

	// The invalid value is not stored and the cursor does not move.
	assert.NotContains(t, result.State.Context, "email")
	assert.Equal(t, "ask-email", result.State.CurrentNodeID)
	assert.Empty(t, result.State.History)
}

func TestEnhancedStepAliasJumpsNode(t *testing.T) {
	engine := newTestEngine(time.Second)
	graph := captureGraph()
	state := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	result, err := engine.Step(t.Context(), graph, state, "MENU")
	require.NoError(t, err)

	// The jump lands on the help node, which emits and chains back to
	// the email question.
	require.NotEmpty(t, result.Outputs)
	assert.Equal(t, "Here to help.", result.Outputs[0].Text)
	assert.Contains(t, result.State.History, "help")
	assert.Equal(t, "ask-email", result.State.CurrentNodeID)
}

func TestEnhancedStepDuplicateAliasResolvesDeterministically(t *testing.T) {
	engine := newTestEngine(time.Second)
	graph := captureGraph()
	graph.Nodes["about"] = &models.Node{
		ID: "about", Kind: models.NodeKindMessage, Content: "All about us.",
		Metadata: map[string]any{"aliases": []any{"menu"}},
		Next:     "ask-email",
	}

	// Both "about" and "help" declare the menu alias; the first node id
	// in sorted order wins.
	for i := 0; i < 5; i++ {
		state := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

		result, err := engine.Step(t.Context(), graph, state, "menu")
		require.NoError(t, err)
		assert.Contains(t, result.State.History, "about")
		assert.NotContains(t, result.State.History, "help")
	}
}

func TestEnhancedStepMalformedAliasesIsModuleError(t *testing.T) {
	engine := newTestEngine(time.Second)
	graph := captureGraph()
	graph.Nodes["help"].Metadata["aliases"] = "not-a-list"

	state := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	_, err := engine.Step(t.Context(), graph, state, "menu")
	require.Error(t, err)
	assert.True(t, IsModuleError(err))
	assert.False(t, IsModuleTimeout(err))
}

func TestEnhancedStepBadPatternIsModuleError(t *testing.T) {
	engine := newTestEngine(time.Second)
	graph := captureGraph()
	graph.Nodes["ask-email"].Metadata = map[string]any{"capturePattern": "([bad"}

	state := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	_, err := engine.Step(t.Context(), graph, state, "anything")
	require.Error(t, err)
	assert.True(t, IsModuleError(err))
}

func TestEnhancedStepTimesOut(t *testing.T) {
	baseline := &stallingEngine{delay: 200 * time.Millisecond}
	engine := NewEngine(baseline, Options{StepTimeout: 20 * time.Millisecond}, testLogger())

	graph := captureGraph()
	state := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	_, err := engine.Step(t.Context(), graph, state, "ada@example.com")
	require.Error(t, err)
	assert.True(t, IsModuleTimeout(err))
	assert.True(t, IsModuleError(err))
}

func TestEnhancedEngineKind(t *testing.T) {
	assert.Equal(t, models.EngineEnhanced, newTestEngine(time.Second).Kind())
}

// stallingEngine blocks long enough to trip the step budget.
type stallingEngine struct {
	delay time.Duration
}

func (s *stallingEngine) Kind() models.EngineKind {
	return models.EngineBaseline
}

func (s *stallingEngine) Step(_ context.Context, _ *models.FlowGraph, state *models.ConversationState, _ string) (*flow.StepResult, error) {
	time.Sleep(s.delay)

	return &flow.StepResult{State: state, Outputs: []models.Output{}}, nil
}
