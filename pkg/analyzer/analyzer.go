// Package analyzer computes complexity and risk signals for flow
// templates, feeding the engine router.
package analyzer

import (
	"github.com/dialora/dialora/pkg/models"
)

// Thresholds configure the score-to-risk mapping and the per-signal
// module recommendations. Values are externally supplied, never
// hard-coded at call sites.
type Thresholds struct {
	MediumScore   float64 `validate:"gt=0,lt=1"`
	HighScore     float64 `validate:"gt=0,lt=1"`
	CriticalScore float64 `validate:"gt=0,lt=1"`

	// BlockingInputs is the number of input nodes from which the
	// enhanced-capture module is recommended regardless of score.
	BlockingInputs int `validate:"min=1"`

	// BranchingFactor is the average predicates-per-condition-node above
	// which dynamic navigation is recommended.
	BranchingFactor float64 `validate:"gt=0"`

	// MinCaptureSuccessRate is the historical capture rate below which
	// enhanced capture is recommended regardless of structure.
	MinCaptureSuccessRate float64 `validate:"gt=0,lte=1"`
}

// DefaultThresholds are the shipped defaults; deployments override them
// through configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MediumScore:           0.35,
		HighScore:             0.6,
		CriticalScore:         0.8,
		BlockingInputs:        3,
		BranchingFactor:       2.5,
		MinCaptureSuccessRate: 0.7,
	}
}

// Analyzer is a pure function over graphs: idempotent, side-effect-free
// and callable concurrently without synchronization.
type Analyzer struct {
	thresholds Thresholds
}

// New creates an analyzer with the given thresholds.
func New(thresholds Thresholds) *Analyzer {
	return &Analyzer{thresholds: thresholds}
}

// Analyze inspects the graph structure and, when supplied, historical
// performance metrics, and produces a normalized complexity score, a
// risk level and the recommended enhanced modules.
func (a *Analyzer) Analyze(graph *models.FlowGraph, perf *models.PerformanceMetrics) models.ComplexityAnalysis {
	signals := a.structuralSignals(graph)
	score := a.score(signals)

	analysis := models.ComplexityAnalysis{
		TemplateID:         graph.ID,
		GraphVersion:       graph.Version,
		Score:              score,
		RiskLevel:          a.riskLevel(score),
		RecommendedModules: []models.ModuleTag{},
		Signals:            signals,
	}

	if signals.InputNodeCount >= a.thresholds.BlockingInputs {
		analysis.RecommendedModules = append(analysis.RecommendedModules, models.ModuleEnhancedCapture)
	}

	if signals.BranchingFactor >= a.thresholds.BranchingFactor {
		analysis.RecommendedModules = append(analysis.RecommendedModules, models.ModuleDynamicNavigation)
	}

	// A template whose captures historically fail gets enhanced capture
	// no matter how simple its structure looks.
	if perf != nil && perf.SampleCount > 0 && perf.CaptureSuccessRate < a.thresholds.MinCaptureSuccessRate {
		analysis.RecommendedModules = appendUnique(analysis.RecommendedModules, models.ModuleEnhancedCapture)
	}

	return analysis
}

func (a *Analyzer) structuralSignals(graph *models.FlowGraph) models.StructuralSignals {
	signals := models.StructuralSignals{NodeCount: len(graph.Nodes)}

	conditionNodes := 0
	predicates := 0
	blocking := 0

	for _, node := range graph.Nodes {
		switch node.Kind {
		case models.NodeKindInput:
			signals.InputNodeCount++
			blocking++
		case models.NodeKindCondition:
			conditionNodes++
			predicates += len(node.Transitions)
			blocking++
		}
	}

	if signals.NodeCount > 0 {
		signals.BlockingRatio = float64(blocking) / float64(signals.NodeCount)
	}

	if conditionNodes > 0 {
		signals.BranchingFactor = float64(predicates) / float64(conditionNodes)
	}

	signals.MaxChainLength = maxChainLength(graph)

	return signals
}

// score combines the structural signals into a single [0, 1] value.
// Each signal saturates at a fixed reference size so one huge template
// cannot blow past the scale.
func (a *Analyzer) score(signals models.StructuralSignals) float64 {
	const (
		sizeReference  = 50.0
		chainReference = 10.0
		branchRef      = 4.0
	)

	size := clamp(float64(signals.NodeCount) / sizeReference)
	chain := clamp(float64(signals.MaxChainLength) / chainReference)
	branch := clamp(signals.BranchingFactor / branchRef)
	blocking := clamp(signals.BlockingRatio)

	return clamp(0.30*size + 0.25*blocking + 0.25*branch + 0.20*chain)
}

func (a *Analyzer) riskLevel(score float64) models.RiskLevel {
	switch {
	case score >= a.thresholds.CriticalScore:
		return models.RiskCritical
	case score >= a.thresholds.HighScore:
		return models.RiskHigh
	case score >= a.thresholds.MediumScore:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// maxChainLength is the longest run of message/action nodes that execute
// without consuming input. Graphs may contain cycles, so every node is
// expanded at most once per starting point.
func maxChainLength(graph *models.FlowGraph) int {
	longest := 0

	for id := range graph.Nodes {
		visited := make(map[string]bool, len(graph.Nodes))
		length := 0
		current := id

		for {
			node, ok := graph.Nodes[current]
			if !ok || visited[current] {
				break
			}

			if node.Kind != models.NodeKindMessage && node.Kind != models.NodeKindAction {
				break
			}

			visited[current] = true
			length++

			if node.Next == "" {
				break
			}

			current = node.Next
		}

		if length > longest {
			longest = length
		}
	}

	return longest
}

func appendUnique(tags []models.ModuleTag, tag models.ModuleTag) []models.ModuleTag {
	for _, existing := range tags {
		if existing == tag {
			return tags
		}
	}

	return append(tags, tag)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
