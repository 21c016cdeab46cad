// Package templates stores and serves validated flow graphs. Producing
// template documents is an external concern; this layer only accepts
// the ingestion format, validates it fail-closed, and hands out
// immutable graphs.
package templates

import (
	"context"
	"errors"

	"github.com/dialora/dialora/pkg/models"
)

// ErrTemplateNotFound is returned when no active template matches.
var ErrTemplateNotFound = errors.New("template not found")

// IsTemplateNotFound reports whether err means the template is missing
// or inactive.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// Summary describes one stored template without its node arena.
type Summary struct {
	TemplateID string `json:"template_id"`
	TenantID   string `json:"tenant_id"`
	Version    int    `json:"version"`
	NodeCount  int    `json:"node_count"`
	Active     bool   `json:"active"`
}

// Repository is the template store contract. GetGraph returns the
// active, validated graph for a template; Activate ingests a raw
// document, validates it and bumps the version.
type Repository interface {
	GetGraph(ctx context.Context, tenantID, templateID string) (*models.FlowGraph, error)
	Activate(ctx context.Context, raw []byte) (*models.FlowGraph, error)
	Deactivate(ctx context.Context, tenantID, templateID string) error
	List(ctx context.Context, tenantID string) ([]Summary, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
