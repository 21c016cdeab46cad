package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/sqlbase"
)

func stateMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS conversation_states (
				tenant_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				flow_id TEXT NOT NULL,
				current_node_id TEXT NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				history JSONB NOT NULL DEFAULT '[]',
				completed BOOLEAN NOT NULL DEFAULT FALSE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL,
				PRIMARY KEY (tenant_id, user_id, session_id)
			);
			CREATE INDEX IF NOT EXISTS idx_conversation_states_last_updated
				ON conversation_states (last_updated_at);
		`,
	}
}

// PostgresStore persists conversation state in PostgreSQL. The
// compare-and-swap is a versioned UPDATE: zero rows affected means a
// concurrent delivery won the race.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{
		db:     db,
		logger: logger.With("module", "statestore_postgres"),
	}

	migrator := sqlbase.NewMigrationManager(store.logger, db, "conversation_state_migrations", stateMigrations())
	if err := migrator.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run state store migrations: %w", err)
	}

	return store, nil
}

// Load fetches the state for the key.
func (p *PostgresStore) Load(ctx context.Context, key Key) (*models.ConversationState, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT flow_id, current_node_id, context, history, completed,
		       started_at, last_updated_at, version
		FROM conversation_states
		WHERE tenant_id = $1 AND user_id = $2 AND session_id = $3
	`, key.TenantID, key.UserID, key.SessionID)

	state := models.ConversationState{
		TenantID:  key.TenantID,
		UserID:    key.UserID,
		SessionID: key.SessionID,
	}

	var rawContext, rawHistory []byte

	err := row.Scan(&state.FlowID, &state.CurrentNodeID, &rawContext, &rawHistory,
		&state.Completed, &state.StartedAt, &state.LastUpdatedAt, &state.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", key, err)
	}

	if err := json.Unmarshal(rawContext, &state.Context); err != nil {
		return nil, fmt.Errorf("failed to decode context for %s: %w", key, err)
	}

	if err := json.Unmarshal(rawHistory, &state.History); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", key, err)
	}

	return &state, nil
}

// Save inserts a new row (expectedVersion 0) or performs the versioned
// update.
func (p *PostgresStore) Save(ctx context.Context, state *models.ConversationState, expectedVersion int64) error {
	rawContext, err := json.Marshal(state.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}

	rawHistory, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	newVersion := expectedVersion + 1

	if expectedVersion == 0 {
		result, err := p.db.ExecContext(ctx, `
			INSERT INTO conversation_states
				(tenant_id, user_id, session_id, flow_id, current_node_id,
				 context, history, completed, started_at, last_updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (tenant_id, user_id, session_id) DO NOTHING
		`, state.TenantID, state.UserID, state.SessionID, state.FlowID, state.CurrentNodeID,
			rawContext, rawHistory, state.Completed, state.StartedAt, state.LastUpdatedAt, newVersion)
		if err != nil {
			return fmt.Errorf("failed to insert state: %w", err)
		}

		return p.checkAffected(result, state, newVersion)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE conversation_states
		SET flow_id = $4, current_node_id = $5, context = $6, history = $7,
		    completed = $8, last_updated_at = $9, version = $10
		WHERE tenant_id = $1 AND user_id = $2 AND session_id = $3 AND version = $11
	`, state.TenantID, state.UserID, state.SessionID, state.FlowID, state.CurrentNodeID,
		rawContext, rawHistory, state.Completed, state.LastUpdatedAt, newVersion, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	return p.checkAffected(result, state, newVersion)
}

func (p *PostgresStore) checkAffected(result sql.Result, state *models.ConversationState, newVersion int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return ErrVersionConflict
	}

	state.Version = newVersion

	return nil
}

// Delete removes the state for the key.
func (p *PostgresStore) Delete(ctx context.Context, key Key) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM conversation_states
		WHERE tenant_id = $1 AND user_id = $2 AND session_id = $3
	`, key.TenantID, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("failed to delete state %s: %w", key, err)
	}

	return nil
}

// PurgeIdle removes sessions untouched since the cutoff.
func (p *PostgresStore) PurgeIdle(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx,
		"DELETE FROM conversation_states WHERE last_updated_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idle sessions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return int(affected), nil
}

// HealthCheck pings the database.
func (p *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close(_ context.Context) error {
	if p.db != nil {
		return p.db.Close()
	}

	return nil
}
