// Package web exposes the gateway's REST endpoints for message
// processing, template administration and tenant metrics.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dialora/dialora/pkg/analyzer"
	"github.com/dialora/dialora/pkg/eventbus"
	"github.com/dialora/dialora/pkg/events"
	"github.com/dialora/dialora/pkg/metrics"
	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/router"
	"github.com/dialora/dialora/pkg/session"
	"github.com/dialora/dialora/pkg/statestore"
	"github.com/dialora/dialora/pkg/templates"
)

type APIHandlers struct {
	processor *session.Processor
	repo      templates.Repository
	analyzer  *analyzer.Analyzer
	router    *router.Router
	collector *metrics.Collector
	store     statestore.Store
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewAPIHandlers(
	processor *session.Processor,
	repo templates.Repository,
	graphAnalyzer *analyzer.Analyzer,
	engineRouter *router.Router,
	collector *metrics.Collector,
	store statestore.Store,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		processor: processor,
		repo:      repo,
		analyzer:  graphAnalyzer,
		router:    engineRouter,
		collector: collector,
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "web"),
	}
}

// ProcessMessage runs one conversation turn for the tenant.
func (h *APIHandlers) ProcessMessage(c fiber.Ctx) error {
	var req session.Request
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.TenantID = c.Params("tenantId")

	response, err := h.processor.Process(c.Context(), req)
	if err != nil {
		return handleProcessingError(c, err)
	}

	return c.JSON(response)
}

// ResetSession deletes a session so the next message starts over.
func (h *APIHandlers) ResetSession(c fiber.Ctx) error {
	key := statestore.Key{
		TenantID:  c.Params("tenantId"),
		UserID:    c.Params("userId"),
		SessionID: c.Params("sessionId"),
	}

	if key.UserID == "" || key.SessionID == "" {
		return badRequest(c, "User ID and session ID are required")
	}

	if err := h.processor.ResetSession(c.Context(), key); err != nil {
		return handleProcessingError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateTemplate ingests a template document as the new active
// version for its tenant. The document's tenant is checked against the
// path before anything is stored, so a rejected activation leaves the
// repository untouched.
func (h *APIHandlers) ActivateTemplate(c fiber.Ctx) error {
	parsed, err := models.ParseGraphDocument(c.Body())
	if err != nil {
		return handleProcessingError(c, err)
	}

	if parsed.TenantID != c.Params("tenantId") {
		return badRequest(c, "Template tenant does not match the path")
	}

	graph, err := h.repo.Activate(c.Context(), c.Body())
	if err != nil {
		return handleProcessingError(c, err)
	}

	// Cached routing decisions for the previous version are stale now.
	h.router.InvalidateTemplate(graph.ID)

	h.announceActivation(c, graph)

	return c.Status(fiber.StatusCreated).JSON(TemplateActivatedResponse{
		TemplateID: graph.ID,
		TenantID:   graph.TenantID,
		Version:    graph.Version,
		NodeCount:  len(graph.Nodes),
	})
}

func (h *APIHandlers) announceActivation(c fiber.Ctx, graph *models.FlowGraph) {
	if h.publisher == nil {
		return
	}

	event := events.TemplateActivated{
		BaseEvent: events.NewBaseEvent(events.TemplateActivatedEvent, graph.TenantID, graph.ID),
		Version:   graph.Version,
	}

	if err := h.publisher.Publish(c.Context(), graph.TenantID, event); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish template activation", "error", err)
	}
}

// DeactivateTemplate takes a template out of service.
func (h *APIHandlers) DeactivateTemplate(c fiber.Ctx) error {
	tenantID := c.Params("tenantId")
	templateID := c.Params("templateId")

	if err := h.repo.Deactivate(c.Context(), tenantID, templateID); err != nil {
		return handleProcessingError(c, err)
	}

	h.router.InvalidateTemplate(templateID)

	return c.SendStatus(fiber.StatusNoContent)
}

// ListTemplates returns the tenant's templates.
func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	summaries, err := h.repo.List(c.Context(), c.Params("tenantId"))
	if err != nil {
		return handleProcessingError(c, err)
	}

	return c.JSON(fiber.Map{"templates": summaries})
}

// GetTemplateAnalysis returns the structural analysis and the routing
// decision the template would currently receive.
func (h *APIHandlers) GetTemplateAnalysis(c fiber.Ctx) error {
	tenantID := c.Params("tenantId")
	templateID := c.Params("templateId")

	graph, err := h.repo.GetGraph(c.Context(), tenantID, templateID)
	if err != nil {
		return handleProcessingError(c, err)
	}

	perf := h.collector.Performance(tenantID, templateID)
	analysis := h.analyzer.Analyze(graph, perf)
	live := h.collector.Aggregate(metrics.Filter{TenantID: tenantID, TemplateID: templateID})
	decision := h.router.Route(graph, analysis, &live, router.RequestContext{
		TenantID:   tenantID,
		TemplateID: templateID,
	})

	return c.JSON(AnalysisResponse{Analysis: analysis, Decision: decision})
}

// GetTenantMetrics aggregates the tenant's windowed metrics, optionally
// filtered by template and engine.
func (h *APIHandlers) GetTenantMetrics(c fiber.Ctx) error {
	filter := metrics.Filter{
		TenantID:   c.Params("tenantId"),
		TemplateID: c.Query("template_id"),
	}

	if engine := c.Query("engine"); engine != "" {
		kind := models.EngineKind(engine)
		if kind != models.EngineBaseline && kind != models.EngineEnhanced {
			return badRequest(c, "Unknown engine: "+engine)
		}

		filter.Engine = kind
	}

	return c.JSON(h.collector.Aggregate(filter))
}

// HealthCheck reports the gateway's dependencies.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.store.HealthCheck(c.Context())
	repoErr := h.repo.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if storeErr != nil || repoErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"state_store": checkResult(storeErr),
			"templates":   checkResult(repoErr),
		},
		"timestamp": time.Now().UTC(),
	})
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}

	return "ok"
}
