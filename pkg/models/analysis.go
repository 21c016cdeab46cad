package models

// RiskLevel buckets a complexity score into operational bands.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ModuleTag names an enhanced processing capability the analyzer or
// router may attach to a decision.
type ModuleTag string

const (
	ModuleEnhancedCapture   ModuleTag = "enhanced_capture"
	ModuleDynamicNavigation ModuleTag = "dynamic_navigation"
)

// StructuralSignals are the raw graph metrics behind a complexity score.
type StructuralSignals struct {
	NodeCount       int     `json:"node_count"`
	InputNodeCount  int     `json:"input_node_count"`
	BlockingRatio   float64 `json:"blocking_ratio"`   // Fraction of nodes that block on a response
	BranchingFactor float64 `json:"branching_factor"` // Average predicates per condition node
	MaxChainLength  int     `json:"max_chain_length"` // Longest automatic message/action chain
}

// PerformanceMetrics is the optional historical feedback an analyzer
// run can take into account, typically sourced from the collector.
type PerformanceMetrics struct {
	CaptureSuccessRate float64 `json:"capture_success_rate"`
	DropRate           float64 `json:"drop_rate"`
	SampleCount        int     `json:"sample_count"`
}

// ComplexityAnalysis is the analyzer's verdict for one template version.
type ComplexityAnalysis struct {
	TemplateID         string            `json:"template_id"`
	GraphVersion       int               `json:"graph_version"`
	Score              float64           `json:"score"` // Normalized to [0, 1]
	RiskLevel          RiskLevel         `json:"risk_level"`
	RecommendedModules []ModuleTag       `json:"recommended_modules"`
	Signals            StructuralSignals `json:"signals"`
}
