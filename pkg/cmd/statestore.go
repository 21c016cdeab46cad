// Package cmd wires configuration into concrete adapters for the
// gateway binary.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dialora/dialora/pkg/statestore"
)

// NewStateStore selects the conversation state adapter by URL scheme.
// idleTTL only applies to the Redis adapter, which expires sessions
// instead of purging them.
func NewStateStore(ctx context.Context, logger *slog.Logger, databaseURL string, idleTTL time.Duration) (statestore.Store, error) {
	switch scheme(databaseURL) {
	case "memory":
		return statestore.NewMemoryStore(), nil
	case "redis", "rediss":
		return statestore.NewRedisStore(ctx, logger, databaseURL, idleTTL)
	case "postgres", "postgresql":
		return statestore.NewPostgresStore(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported state store scheme in %q", databaseURL)
	}
}

func scheme(url string) string {
	parts := strings.SplitN(url, "://", 2)

	return parts[0]
}
