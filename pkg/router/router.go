// Package router decides, per message, which engine variant handles a
// conversation turn.
package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dialora/dialora/pkg/models"
)

// Options configure the routing policy. All values are externally
// supplied.
type Options struct {
	// ConfidenceThreshold is the minimum enhanced-path confidence for
	// the router to leave the baseline engine.
	ConfidenceThreshold float64 `validate:"gte=0,lte=1"`

	// EnhancedEnabled is the global kill switch for the enhanced path.
	EnhancedEnabled bool

	// DisabledTenants lists tenants pinned to the baseline engine
	// regardless of analysis.
	DisabledTenants []string

	// CacheTTL bounds how long a decision may be reused for the same
	// (template, tenant) pair. Zero disables caching.
	CacheTTL time.Duration

	// MinSamples is the number of windowed metric events required
	// before live metrics participate in the confidence blend.
	MinSamples int
}

// RequestContext carries the per-request inputs the policy keys on.
type RequestContext struct {
	TenantID   string
	TemplateID string
}

type cachedDecision struct {
	decision models.RoutingDecision
	expires  time.Time
}

// Router combines the analyzer's verdict with live metrics into a
// routing decision. It is safe for concurrent use; the only mutable
// state is the decision cache.
type Router struct {
	opts     Options
	logger   *slog.Logger
	disabled map[string]bool

	mu    sync.Mutex
	cache map[string]cachedDecision
}

// New creates a router.
func New(opts Options, logger *slog.Logger) *Router {
	disabled := make(map[string]bool, len(opts.DisabledTenants))
	for _, tenant := range opts.DisabledTenants {
		disabled[tenant] = true
	}

	return &Router{
		opts:     opts,
		logger:   logger.With("module", "router"),
		disabled: disabled,
		cache:    make(map[string]cachedDecision),
	}
}

// Route produces the decision for the current message. Decisions carry
// the fallback strategy so callers never special-case failure handling.
func (r *Router) Route(graph *models.FlowGraph, analysis models.ComplexityAnalysis, live *models.AggregatedMetrics, reqCtx RequestContext) models.RoutingDecision {
	if cached, ok := r.cachedDecision(reqCtx, graph.Version); ok {
		return cached
	}

	decision := r.decide(analysis, live, reqCtx)
	decision.GraphVersion = graph.Version
	decision.DecidedAt = time.Now().UTC()

	r.storeDecision(reqCtx, decision)

	return decision
}

func (r *Router) decide(analysis models.ComplexityAnalysis, live *models.AggregatedMetrics, reqCtx RequestContext) models.RoutingDecision {
	decision := models.RoutingDecision{
		Engine:             models.EngineBaseline,
		RecommendedModules: []models.ModuleTag{},
		FallbackStrategy:   models.FallbackRevertToBaseline,
	}

	if !r.enhancedAllowed(reqCtx.TenantID) {
		decision.Confidence = 1.0

		return decision
	}

	// Low-risk templates never pay the enhanced-path overhead.
	if analysis.RiskLevel == models.RiskLow {
		decision.Confidence = 0.95

		return decision
	}

	confidence := r.confidence(analysis, live)
	decision.Confidence = confidence

	if confidence >= r.opts.ConfidenceThreshold {
		decision.Engine = models.EngineEnhanced
		decision.RecommendedModules = analysis.RecommendedModules
	}

	return decision
}

// confidence blends the structural score with the live feedback signal.
// Failing captures and errors on recent traffic push the router toward
// the enhanced path; without enough samples the score stands alone.
func (r *Router) confidence(analysis models.ComplexityAnalysis, live *models.AggregatedMetrics) float64 {
	if live == nil || live.Total < r.opts.MinSamples {
		return analysis.Score
	}

	liveSignal := 0.7*(1-live.CaptureSuccessRate) + 0.3*live.ErrorRate

	return 0.6*analysis.Score + 0.4*liveSignal
}

func (r *Router) enhancedAllowed(tenantID string) bool {
	return r.opts.EnhancedEnabled && !r.disabled[tenantID]
}

func (r *Router) cachedDecision(reqCtx RequestContext, graphVersion int) (models.RoutingDecision, bool) {
	if r.opts.CacheTTL <= 0 {
		return models.RoutingDecision{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[cacheKey(reqCtx)]
	if !ok {
		return models.RoutingDecision{}, false
	}

	if time.Now().After(entry.expires) || entry.decision.GraphVersion != graphVersion {
		delete(r.cache, cacheKey(reqCtx))

		return models.RoutingDecision{}, false
	}

	return entry.decision, true
}

func (r *Router) storeDecision(reqCtx RequestContext, decision models.RoutingDecision) {
	if r.opts.CacheTTL <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[cacheKey(reqCtx)] = cachedDecision{
		decision: decision,
		expires:  time.Now().Add(r.opts.CacheTTL),
	}
}

// InvalidateTemplate drops every cached decision for a template, called
// when a new template version is activated.
func (r *Router) InvalidateTemplate(templateID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.cache {
		if keyTemplate(key) == templateID {
			delete(r.cache, key)
		}
	}
}

// Sweep removes expired cache entries; wired to the gateway's
// maintenance cron.
func (r *Router) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0

	for key, entry := range r.cache {
		if now.After(entry.expires) {
			delete(r.cache, key)

			removed++
		}
	}

	return removed
}

const cacheKeySeparator = "\x00"

func cacheKey(reqCtx RequestContext) string {
	return reqCtx.TemplateID + cacheKeySeparator + reqCtx.TenantID
}

func keyTemplate(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == cacheKeySeparator[0] {
			return key[:i]
		}
	}

	return key
}
