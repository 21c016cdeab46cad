package analyzer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialora/dialora/pkg/models"
)

func smallGraph() *models.FlowGraph {
	return &models.FlowGraph{
		ID:          "faq",
		Version:     1,
		EntryNodeID: "answer",
		Nodes: map[string]*models.Node{
			"answer": {ID: "answer", Kind: models.NodeKindTerminal, Content: "42"},
		},
	}
}

// complexGraph has enough blocking inputs and branching to cross the
// default module thresholds.
func complexGraph() *models.FlowGraph {
	nodes := map[string]*models.Node{}

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("in-%d", i)
		nodes[id] = &models.Node{
			ID: id, Kind: models.NodeKindInput, Variable: fmt.Sprintf("v%d", i),
		}
	}

	nodes["route"] = &models.Node{
		ID: "route", Kind: models.NodeKindCondition,
		Transitions: []models.Transition{
			{Predicate: models.Predicate{MatchType: models.MatchContains, Value: "a"}, Next: "in-0"},
			{Predicate: models.Predicate{MatchType: models.MatchContains, Value: "b"}, Next: "in-1"},
			{Predicate: models.Predicate{MatchType: models.MatchContains, Value: "c"}, Next: "in-2"},
		},
	}

	return &models.FlowGraph{
		ID:          "intake",
		Version:     2,
		EntryNodeID: "in-0",
		Nodes:       nodes,
	}
}

func TestAnalyzeLowRiskGraph(t *testing.T) {
	a := New(DefaultThresholds())

	analysis := a.Analyze(smallGraph(), nil)

	assert.Equal(t, models.RiskLow, analysis.RiskLevel)
	assert.Empty(t, analysis.RecommendedModules)
	assert.Less(t, analysis.Score, 0.35)
	assert.Equal(t, "faq", analysis.TemplateID)
}

func TestAnalyzeRecommendsModules(t *testing.T) {
	a := New(DefaultThresholds())

	analysis := a.Analyze(complexGraph(), nil)

	assert.Contains(t, analysis.RecommendedModules, models.ModuleEnhancedCapture)
	assert.Contains(t, analysis.RecommendedModules, models.ModuleDynamicNavigation)
	assert.NotEqual(t, models.RiskLow, analysis.RiskLevel)
}

func TestAnalyzePoorCaptureRateOverridesStructure(t *testing.T) {
	a := New(DefaultThresholds())

	perf := &models.PerformanceMetrics{
		CaptureSuccessRate: 0.4,
		SampleCount:        100,
	}

	analysis := a.Analyze(smallGraph(), perf)

	assert.Contains(t, analysis.RecommendedModules, models.ModuleEnhancedCapture)
}

func TestAnalyzeDoesNotDuplicateModules(t *testing.T) {
	a := New(DefaultThresholds())

	perf := &models.PerformanceMetrics{CaptureSuccessRate: 0.1, SampleCount: 50}
	analysis := a.Analyze(complexGraph(), perf)

	seen := map[models.ModuleTag]int{}
	for _, tag := range analysis.RecommendedModules {
		seen[tag]++
	}

	assert.Equal(t, 1, seen[models.ModuleEnhancedCapture])
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := New(DefaultThresholds())
	graph := complexGraph()

	first := a.Analyze(graph, nil)
	second := a.Analyze(graph, nil)

	require.Equal(t, first.Score, second.Score)
	require.Equal(t, first.RiskLevel, second.RiskLevel)
	assert.Equal(t, first.Signals, second.Signals)
}

func TestMaxChainLengthStopsOnCycles(t *testing.T) {
	graph := &models.FlowGraph{
		ID:          "loop",
		Version:     1,
		EntryNodeID: "a",
		Nodes: map[string]*models.Node{
			"a": {ID: "a", Kind: models.NodeKindMessage, Next: "b"},
			"b": {ID: "b", Kind: models.NodeKindMessage, Next: "a"},
		},
	}

	assert.Equal(t, 2, maxChainLength(graph))
}
