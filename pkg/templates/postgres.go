package templates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/lib/pq" // postgres driver

	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/sqlbase"
)

func templateMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flow_templates (
				tenant_id TEXT NOT NULL,
				template_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				document JSONB NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, template_id)
			);
		`,
	}
}

// PostgresRepository stores template documents in PostgreSQL. Activation
// bumps the version column; GetGraph serves from an in-memory cache that
// activation and deactivation keep coherent for this instance.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*models.FlowGraph
}

// NewPostgresRepository connects, pings and migrates.
func NewPostgresRepository(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	repo := &PostgresRepository{
		db:     db,
		logger: logger.With("module", "templates_postgres"),
		cache:  make(map[string]*models.FlowGraph),
	}

	migrator := sqlbase.NewMigrationManager(repo.logger, db, "template_migrations", templateMigrations())
	if err := migrator.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run template migrations: %w", err)
	}

	return repo, nil
}

// GetGraph returns the active validated graph for the template.
func (r *PostgresRepository) GetGraph(ctx context.Context, tenantID, templateID string) (*models.FlowGraph, error) {
	key := cacheKey(tenantID, templateID)

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()

	if ok {
		return cached, nil
	}

	var (
		raw     []byte
		version int
		active  bool
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT document, version, active
		FROM flow_templates
		WHERE tenant_id = $1 AND template_id = $2
	`, tenantID, templateID).Scan(&raw, &version, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load template %s/%s: %w", tenantID, templateID, err)
	}

	if !active {
		return nil, ErrTemplateNotFound
	}

	graph, err := models.ParseGraphDocument(raw)
	if err != nil {
		return nil, err
	}

	graph.Version = version
	if graph.TenantID == "" {
		graph.TenantID = tenantID
	}

	r.mu.Lock()
	r.cache[key] = graph
	r.mu.Unlock()

	return graph, nil
}

// Activate validates the document and upserts it as the active version,
// always bumping past the stored one.
func (r *PostgresRepository) Activate(ctx context.Context, raw []byte) (*models.FlowGraph, error) {
	graph, err := models.ParseGraphDocument(raw)
	if err != nil {
		return nil, err
	}

	if graph.TenantID == "" {
		return nil, &models.MalformedGraphError{GraphID: graph.ID, Reason: "tenantId is required"}
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO flow_templates (tenant_id, template_id, version, document, active, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW())
		ON CONFLICT (tenant_id, template_id) DO UPDATE
		SET version = GREATEST(flow_templates.version + 1, EXCLUDED.version),
		    document = EXCLUDED.document,
		    active = TRUE,
		    updated_at = NOW()
		RETURNING version
	`, graph.TenantID, graph.ID, graph.Version, raw).Scan(&graph.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to store template %s: %w", graph.ID, err)
	}

	r.mu.Lock()
	r.cache[cacheKey(graph.TenantID, graph.ID)] = graph
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Template activated",
		"tenant_id", graph.TenantID, "template_id", graph.ID, "version", graph.Version)

	return graph, nil
}

// Deactivate takes the template out of service; the row stays for
// history.
func (r *PostgresRepository) Deactivate(ctx context.Context, tenantID, templateID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE flow_templates
		SET active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND template_id = $2
	`, tenantID, templateID)
	if err != nil {
		return fmt.Errorf("failed to deactivate template %s/%s: %w", tenantID, templateID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return ErrTemplateNotFound
	}

	r.mu.Lock()
	delete(r.cache, cacheKey(tenantID, templateID))
	r.mu.Unlock()

	return nil
}

// List returns summaries for every template of the tenant.
func (r *PostgresRepository) List(ctx context.Context, tenantID string) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT template_id, version, jsonb_array_length(document->'nodes'), active
		FROM flow_templates
		WHERE tenant_id = $1
		ORDER BY template_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates for tenant %s: %w", tenantID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	summaries := make([]Summary, 0)

	for rows.Next() {
		summary := Summary{TenantID: tenantID}

		if err := rows.Scan(&summary.TemplateID, &summary.Version, &summary.NodeCount, &summary.Active); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate template rows: %w", err)
	}

	return summaries, nil
}

// HealthCheck pings the database.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close(_ context.Context) error {
	if r.db != nil {
		return r.db.Close()
	}

	return nil
}
