package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/dialora/dialora/pkg/models"
)

const redisKeyPrefix = "dialora:session:"

// RedisStore persists conversation state in Redis. The optimistic
// compare-and-swap runs inside a WATCH transaction: a concurrent write
// between load and save aborts the transaction and surfaces as
// ErrVersionConflict. Idle expiry is delegated to Redis key TTLs, so
// PurgeIdle is a no-op here.
type RedisStore struct {
	client  redis.UniversalClient
	idleTTL time.Duration
	logger  *slog.Logger
}

// NewRedisStore connects to Redis using a standard URL
// (redis://host:port/db). idleTTL > 0 sets a per-key expiry refreshed on
// every save.
func NewRedisStore(ctx context.Context, logger *slog.Logger, redisURL string, idleTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{
		client:  client,
		idleTTL: idleTTL,
		logger:  logger.With("module", "statestore_redis"),
	}, nil
}

func redisKey(key Key) string {
	return redisKeyPrefix + key.String()
}

// Load fetches and decodes the state for the key.
func (r *RedisStore) Load(ctx context.Context, key Key) (*models.ConversationState, error) {
	raw, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", key, err)
	}

	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state %s: %w", key, err)
	}

	return &state, nil
}

// Save writes the state inside a WATCH transaction so the version check
// and the write are atomic with respect to concurrent deliveries.
func (r *RedisStore) Save(ctx context.Context, state *models.ConversationState, expectedVersion int64) error {
	key := redisKey(KeyOf(state))

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()

		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read current state: %w", err)
		default:
			var current models.ConversationState
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("failed to decode current state: %w", err)
			}

			if current.Version != expectedVersion {
				return ErrVersionConflict
			}
		}

		state.Version = expectedVersion + 1

		payload, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.idleTTL)

			return nil
		})

		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// The watched key changed between read and write.
		state.Version = expectedVersion

		return ErrVersionConflict
	}

	if errors.Is(err, ErrVersionConflict) {
		state.Version = expectedVersion
	}

	return err
}

// Delete removes the state for the key.
func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	return r.client.Del(ctx, redisKey(key)).Err()
}

// PurgeIdle is a no-op: idle sessions expire through key TTLs.
func (r *RedisStore) PurgeIdle(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// HealthCheck pings the server.
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client connections.
func (r *RedisStore) Close(_ context.Context) error {
	return r.client.Close()
}
