package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dialora/dialora/pkg/models"
)

const disabledSuffix = ".disabled"

// FileRepository stores template documents as JSON files under
// root/<tenantID>/<templateID>.json. Parsed graphs are cached; the file
// system is the source of truth.
type FileRepository struct {
	root   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*models.FlowGraph
}

// NewFileRepository creates a file-backed repository rooted at root.
func NewFileRepository(root string, logger *slog.Logger) *FileRepository {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &FileRepository{
		root:   cleanRoot,
		logger: logger.With("module", "templates_file"),
		cache:  make(map[string]*models.FlowGraph),
	}
}

func cacheKey(tenantID, templateID string) string {
	return tenantID + "/" + templateID
}

func (r *FileRepository) path(tenantID, templateID string) string {
	return filepath.Join(r.root, tenantID, templateID+".json")
}

// GetGraph returns the active validated graph for the template.
func (r *FileRepository) GetGraph(_ context.Context, tenantID, templateID string) (*models.FlowGraph, error) {
	key := cacheKey(tenantID, templateID)

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()

	if ok {
		return cached, nil
	}

	raw, err := os.ReadFile(r.path(tenantID, templateID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrTemplateNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read template %s/%s: %w", tenantID, templateID, err)
	}

	graph, err := models.ParseGraphDocument(raw)
	if err != nil {
		return nil, err
	}

	if graph.TenantID == "" {
		graph.TenantID = tenantID
	}

	r.mu.Lock()
	r.cache[key] = graph
	r.mu.Unlock()

	return graph, nil
}

// Activate validates the document and writes it as the new active
// version. The version is always bumped past any prior one.
func (r *FileRepository) Activate(ctx context.Context, raw []byte) (*models.FlowGraph, error) {
	graph, err := models.ParseGraphDocument(raw)
	if err != nil {
		return nil, err
	}

	if graph.TenantID == "" {
		return nil, &models.MalformedGraphError{GraphID: graph.ID, Reason: "tenantId is required"}
	}

	if prior, err := r.GetGraph(ctx, graph.TenantID, graph.ID); err == nil && graph.Version <= prior.Version {
		graph.Version = prior.Version + 1
	}

	stored, err := withVersion(raw, graph.Version)
	if err != nil {
		return nil, err
	}

	path := r.path(graph.TenantID, graph.ID)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create tenant directory: %w", err)
	}

	if err := os.WriteFile(path, stored, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write template %s: %w", graph.ID, err)
	}

	// A previously deactivated version is superseded by the new file.
	_ = os.Remove(path + disabledSuffix)

	r.mu.Lock()
	r.cache[cacheKey(graph.TenantID, graph.ID)] = graph
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Template activated",
		"tenant_id", graph.TenantID, "template_id", graph.ID, "version", graph.Version)

	return graph, nil
}

// Deactivate takes the template out of service without deleting it.
func (r *FileRepository) Deactivate(_ context.Context, tenantID, templateID string) error {
	path := r.path(tenantID, templateID)

	if err := os.Rename(path, path+disabledSuffix); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrTemplateNotFound
		}

		return fmt.Errorf("failed to deactivate template %s/%s: %w", tenantID, templateID, err)
	}

	r.mu.Lock()
	delete(r.cache, cacheKey(tenantID, templateID))
	r.mu.Unlock()

	return nil
}

// List returns summaries for every template of the tenant, active and
// deactivated.
func (r *FileRepository) List(ctx context.Context, tenantID string) ([]Summary, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, tenantID))
	if errors.Is(err, os.ErrNotExist) {
		return []Summary{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list templates for tenant %s: %w", tenantID, err)
	}

	summaries := make([]Summary, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		active := true

		if strings.HasSuffix(name, disabledSuffix) {
			active = false
			name = strings.TrimSuffix(name, disabledSuffix)
		}

		if !strings.HasSuffix(name, ".json") {
			continue
		}

		templateID := strings.TrimSuffix(name, ".json")

		raw, err := os.ReadFile(filepath.Join(r.root, tenantID, entry.Name()))
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping unreadable template file", "file", entry.Name(), "error", err)

			continue
		}

		graph, err := models.ParseGraphDocument(raw)
		if err != nil {
			r.logger.WarnContext(ctx, "Skipping malformed template file", "file", entry.Name(), "error", err)

			continue
		}

		summaries = append(summaries, Summary{
			TemplateID: templateID,
			TenantID:   tenantID,
			Version:    graph.Version,
			NodeCount:  len(graph.Nodes),
			Active:     active,
		})
	}

	return summaries, nil
}

// HealthCheck verifies the root directory exists.
func (r *FileRepository) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(r.root); err != nil {
		return fmt.Errorf("template root unavailable: %w", err)
	}

	return nil
}

// Close is a no-op for the file repository.
func (r *FileRepository) Close(_ context.Context) error {
	return nil
}

// withVersion rewrites the version field of a raw template document.
func withVersion(raw []byte, version int) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode template document: %w", err)
	}

	doc["version"] = version

	stored, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode template document: %w", err)
	}

	return stored, nil
}
