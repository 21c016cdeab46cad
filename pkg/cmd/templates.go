package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dialora/dialora/pkg/templates"
)

// NewTemplateRepository selects the template store adapter by URL
// scheme.
func NewTemplateRepository(ctx context.Context, logger *slog.Logger, templatesURL string) (templates.Repository, error) {
	switch scheme(templatesURL) {
	case "postgres", "postgresql":
		return templates.NewPostgresRepository(ctx, logger, templatesURL)
	case "file":
		return templates.NewFileRepository(templatesURL, logger), nil
	default:
		// A bare path is treated as a file root.
		if !strings.Contains(templatesURL, "://") {
			return templates.NewFileRepository(templatesURL, logger), nil
		}

		return nil, fmt.Errorf("unsupported template repository scheme in %q", templatesURL)
	}
}
