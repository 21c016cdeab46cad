package router

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialora/dialora/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		ConfidenceThreshold: 0.5,
		EnhancedEnabled:     true,
		CacheTTL:            time.Minute,
		MinSamples:          10,
	}
}

func graphV(version int) *models.FlowGraph {
	return &models.FlowGraph{ID: "tpl", Version: version, EntryNodeID: "a",
		Nodes: map[string]*models.Node{"a": {ID: "a", Kind: models.NodeKindTerminal}}}
}

func analysisWith(risk models.RiskLevel, score float64) models.ComplexityAnalysis {
	return models.ComplexityAnalysis{
		TemplateID: "tpl",
		Score:      score,
		RiskLevel:  risk,
		RecommendedModules: []models.ModuleTag{
			models.ModuleEnhancedCapture,
		},
	}
}

func reqCtx() RequestContext {
	return RequestContext{TenantID: "tenant-1", TemplateID: "tpl"}
}

func TestRouteLowRiskStaysBaseline(t *testing.T) {
	r := New(testOptions(), testLogger())

	decision := r.Route(graphV(1), analysisWith(models.RiskLow, 0.2), nil, reqCtx())

	assert.Equal(t, models.EngineBaseline, decision.Engine)
	assert.InDelta(t, 0.95, decision.Confidence, 0.001)
	assert.Empty(t, decision.RecommendedModules)
	assert.Equal(t, models.FallbackRevertToBaseline, decision.FallbackStrategy)
}

func TestRouteHighScoreGoesEnhanced(t *testing.T) {
	r := New(testOptions(), testLogger())

	decision := r.Route(graphV(1), analysisWith(models.RiskHigh, 0.7), nil, reqCtx())

	assert.Equal(t, models.EngineEnhanced, decision.Engine)
	assert.Contains(t, decision.RecommendedModules, models.ModuleEnhancedCapture)
}

func TestRouteDisabledGlobally(t *testing.T) {
	opts := testOptions()
	opts.EnhancedEnabled = false
	r := New(opts, testLogger())

	decision := r.Route(graphV(1), analysisWith(models.RiskCritical, 0.9), nil, reqCtx())

	assert.Equal(t, models.EngineBaseline, decision.Engine)
	assert.InDelta(t, 1.0, decision.Confidence, 0.001)
}

func TestRouteDisabledTenant(t *testing.T) {
	opts := testOptions()
	opts.DisabledTenants = []string{"tenant-1"}
	r := New(opts, testLogger())

	decision := r.Route(graphV(1), analysisWith(models.RiskHigh, 0.8), nil, reqCtx())

	assert.Equal(t, models.EngineBaseline, decision.Engine)
}

func TestRouteLiveMetricsBlend(t *testing.T) {
	r := New(testOptions(), testLogger())

	// Failing captures on live traffic push a borderline template over
	// the threshold.
	live := &models.AggregatedMetrics{
		Total:              50,
		CaptureSuccessRate: 0.2,
		ErrorRate:          0.3,
	}

	decision := r.Route(graphV(1), analysisWith(models.RiskMedium, 0.45), live, reqCtx())

	// 0.6*0.45 + 0.4*(0.7*0.8 + 0.3*0.3) = 0.53
	assert.Equal(t, models.EngineEnhanced, decision.Engine)
	assert.InDelta(t, 0.53, decision.Confidence, 0.001)
}

func TestRouteIgnoresSparseLiveMetrics(t *testing.T) {
	r := New(testOptions(), testLogger())

	live := &models.AggregatedMetrics{Total: 3, CaptureSuccessRate: 0, ErrorRate: 1}

	decision := r.Route(graphV(1), analysisWith(models.RiskMedium, 0.45), live, reqCtx())

	assert.Equal(t, models.EngineBaseline, decision.Engine)
	assert.InDelta(t, 0.45, decision.Confidence, 0.001)
}

func TestRouteCachesDecision(t *testing.T) {
	r := New(testOptions(), testLogger())

	first := r.Route(graphV(1), analysisWith(models.RiskHigh, 0.7), nil, reqCtx())

	// A different analysis for the same template within the TTL is
	// ignored; the cached decision stands.
	second := r.Route(graphV(1), analysisWith(models.RiskLow, 0.1), nil, reqCtx())

	require.Equal(t, first, second)
}

func TestRouteCacheInvalidatedByVersion(t *testing.T) {
	r := New(testOptions(), testLogger())

	first := r.Route(graphV(1), analysisWith(models.RiskHigh, 0.7), nil, reqCtx())
	second := r.Route(graphV(2), analysisWith(models.RiskLow, 0.1), nil, reqCtx())

	assert.NotEqual(t, first.Engine, second.Engine)
	assert.Equal(t, 2, second.GraphVersion)
}

func TestInvalidateTemplate(t *testing.T) {
	r := New(testOptions(), testLogger())

	r.Route(graphV(1), analysisWith(models.RiskHigh, 0.7), nil, reqCtx())
	r.InvalidateTemplate("tpl")

	decision := r.Route(graphV(1), analysisWith(models.RiskLow, 0.1), nil, reqCtx())
	assert.Equal(t, models.EngineBaseline, decision.Engine)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	opts := testOptions()
	opts.CacheTTL = time.Nanosecond
	r := New(opts, testLogger())

	r.Route(graphV(1), analysisWith(models.RiskHigh, 0.7), nil, reqCtx())
	time.Sleep(time.Millisecond)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Sweep())
}

func TestRouteCacheDistinguishesTenants(t *testing.T) {
	opts := testOptions()
	opts.DisabledTenants = []string{"tenant-2"}
	r := New(opts, testLogger())

	enhancedDecision := r.Route(graphV(1), analysisWith(models.RiskHigh, 0.7), nil, reqCtx())
	otherTenant := r.Route(graphV(1), analysisWith(models.RiskHigh, 0.7), nil,
		RequestContext{TenantID: "tenant-2", TemplateID: "tpl"})

	assert.Equal(t, models.EngineEnhanced, enhancedDecision.Engine)
	assert.Equal(t, models.EngineBaseline, otherTenant.Engine)
}
