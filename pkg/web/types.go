package web

import (
	"github.com/dialora/dialora/pkg/models"
)

// TemplateActivatedResponse acknowledges a template activation.
type TemplateActivatedResponse struct {
	TemplateID string `json:"template_id"`
	TenantID   string `json:"tenant_id"`
	Version    int    `json:"version"`
	NodeCount  int    `json:"node_count"`
}

// AnalysisResponse pairs the structural analysis with the routing
// decision it would currently produce.
type AnalysisResponse struct {
	Analysis models.ComplexityAnalysis `json:"analysis"`
	Decision models.RoutingDecision    `json:"decision"`
}
