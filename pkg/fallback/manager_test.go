package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialora/dialora/pkg/enhanced"
	"github.com/dialora/dialora/pkg/flow"
	"github.com/dialora/dialora/pkg/metrics"
	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/statestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func demoGraph() *models.FlowGraph {
	return &models.FlowGraph{
		ID:          "demo",
		TenantID:    "tenant-1",
		Version:     1,
		EntryNodeID: "ask",
		Nodes: map[string]*models.Node{
			"ask": {ID: "ask", Kind: models.NodeKindInput, Variable: "answer", Next: "qualified"},
			"qualified": {
				ID: "qualified", Kind: models.NodeKindTerminal, Content: "Great!",
				Metadata: map[string]any{models.MetadataSalesStageKey: "stage-qualified"},
			},
		},
	}
}

func newTestManager(store statestore.Store) (*Manager, *metrics.Collector) {
	collector := metrics.NewCollector(metrics.DefaultOptions(), testLogger())
	baseline := flow.NewBaseline(testLogger())

	return NewManager(baseline, store, collector, nil, testLogger()), collector
}

func TestClassifyCause(t *testing.T) {
	timeout := &enhanced.ModuleTimeout{Module: "step", Err: context.DeadlineExceeded}

	assert.Equal(t, CauseTimeout, ClassifyCause(timeout, false))
	assert.Equal(t, CauseError, ClassifyCause(errors.New("boom"), false))
	assert.Equal(t, CauseDegraded, ClassifyCause(nil, true))
}

func TestExecuteFallbackReExecutesFromPreState(t *testing.T) {
	store := statestore.NewMemoryStore()
	manager, _ := newTestManager(store)
	graph := demoGraph()

	preState := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")
	require.NoError(t, store.Save(t.Context(), preState.Clone(), 0))
	preState.Version = 1

	// Simulate what a plain baseline run of the same turn produces.
	baselineOnly, err := flow.NewBaseline(testLogger()).Step(t.Context(), graph, preState.Clone(), "yes")
	require.NoError(t, err)

	result, err := manager.ExecuteFallback(t.Context(), Context{
		Graph:    graph,
		PreState: preState,
		Input:    "yes",
	}, CauseTimeout, &enhanced.ModuleTimeout{Module: "step", Err: context.DeadlineExceeded})
	require.NoError(t, err)

	assert.Equal(t, baselineOnly.State.CurrentNodeID, result.Step.State.CurrentNodeID)
	assert.Equal(t, baselineOnly.State.Context, result.Step.State.Context)
	assert.Equal(t, baselineOnly.State.History, result.Step.State.History)

	assert.True(t, result.Event.PreservedState)
	assert.Equal(t, CauseTimeout, result.Event.Cause)
	assert.Equal(t, models.FallbackSeverityWarning, result.Event.Severity)
	assert.Contains(t, result.Event.RecoveryActions, "reverted_to_baseline")
	assert.Contains(t, result.Event.RecoveryActions, "lead_stage_pending:stage-qualified")
}

func TestExecuteFallbackDoesNotInheritEnhancedMutations(t *testing.T) {
	store := statestore.NewMemoryStore()
	manager, _ := newTestManager(store)
	graph := demoGraph()

	preState := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")
	require.NoError(t, store.Save(t.Context(), preState.Clone(), 0))
	preState.Version = 1

	// The enhanced path half-applied a turn before failing. The manager
	// must start from preState, not from that wreckage.
	wrecked := preState.Clone()
	wrecked.Context["answer"] = "partial"
	wrecked.Visit("qualified")

	result, err := manager.ExecuteFallback(t.Context(), Context{
		Graph:    graph,
		PreState: preState,
		Input:    "yes",
	}, CauseError, errors.New("module blew up"))
	require.NoError(t, err)

	assert.Equal(t, "yes", result.Step.State.Context["answer"])
	assert.Equal(t, []string{"ask", "qualified"}, result.Step.State.History)
}

func TestExecuteFallbackDetectsConcurrentCorruption(t *testing.T) {
	store := statestore.NewMemoryStore()
	manager, _ := newTestManager(store)
	graph := demoGraph()

	preState := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")
	require.NoError(t, store.Save(t.Context(), preState.Clone(), 0))
	preState.Version = 1

	// A concurrent delivery advanced the stored session meanwhile.
	moved, err := store.Load(t.Context(), statestore.KeyOf(preState))
	require.NoError(t, err)
	moved.Visit("qualified")
	require.NoError(t, store.Save(t.Context(), moved, 1))

	result, err := manager.ExecuteFallback(t.Context(), Context{
		Graph:    graph,
		PreState: preState,
		Input:    "yes",
	}, CauseError, errors.New("boom"))
	require.NoError(t, err)

	assert.False(t, result.Event.PreservedState)
}

func TestExecuteFallbackUnpersistedSessionIsPreserved(t *testing.T) {
	store := statestore.NewMemoryStore()
	manager, _ := newTestManager(store)
	graph := demoGraph()

	// First turn of a brand new session: nothing in the store yet.
	preState := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	result, err := manager.ExecuteFallback(t.Context(), Context{
		Graph:    graph,
		PreState: preState,
		Input:    "yes",
	}, CauseDegraded, nil)
	require.NoError(t, err)

	assert.True(t, result.Event.PreservedState)
}

func TestExecuteFallbackBaselineFailureIsCritical(t *testing.T) {
	store := statestore.NewMemoryStore()
	manager, collector := newTestManager(store)
	graph := demoGraph()

	preState := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")
	preState.CurrentNodeID = "deleted-node"

	_, err := manager.ExecuteFallback(t.Context(), Context{
		Graph:    graph,
		PreState: preState,
		Input:    "yes",
	}, CauseError, errors.New("boom"))
	require.Error(t, err)
	assert.True(t, flow.IsBaselineExecutionError(err))

	// The fallback event is still recorded for the operators.
	_ = collector
}

func TestExecuteFallbackRequiresPreState(t *testing.T) {
	store := statestore.NewMemoryStore()
	manager, _ := newTestManager(store)

	_, err := manager.ExecuteFallback(t.Context(), Context{Graph: demoGraph()}, CauseError, nil)
	require.Error(t, err)
}

func TestFallbackEventTimestamps(t *testing.T) {
	store := statestore.NewMemoryStore()
	manager, _ := newTestManager(store)
	graph := demoGraph()

	preState := models.NewConversationState(graph, "tenant-1", "user-1", "session-1")

	before := time.Now().UTC()
	result, err := manager.ExecuteFallback(t.Context(), Context{
		Graph:    graph,
		PreState: preState,
		Input:    "yes",
	}, CauseDegraded, nil)
	require.NoError(t, err)

	assert.False(t, result.Event.OccurredAt.Before(before))
	assert.Equal(t, "tenant-1", result.Event.TenantID)
	assert.Equal(t, "demo", result.Event.TemplateID)
}
