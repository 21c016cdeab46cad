// Package statestore provides the persistence abstraction for
// conversation state, keyed by (tenant, user, session).
package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dialora/dialora/pkg/models"
)

var (
	// ErrNotFound is returned when no state exists for the key.
	ErrNotFound = errors.New("conversation state not found")

	// ErrVersionConflict is returned when a save loses the optimistic
	// compare-and-swap: another delivery advanced the state first. The
	// caller retries with a fresh load.
	ErrVersionConflict = errors.New("conversation state version conflict")
)

// IsNotFound reports whether err means the session has no stored state.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsVersionConflict reports whether err is a lost compare-and-swap.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Key identifies one conversation.
type Key struct {
	TenantID  string
	UserID    string
	SessionID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.TenantID, k.UserID, k.SessionID)
}

// KeyOf extracts the store key from a state.
func KeyOf(state *models.ConversationState) Key {
	return Key{
		TenantID:  state.TenantID,
		UserID:    state.UserID,
		SessionID: state.SessionID,
	}
}

// Store persists conversation state between interpreter steps. Save is
// a compare-and-swap: expectedVersion must equal the stored version (0
// for a state never persisted before) or ErrVersionConflict is
// returned. On success the state's Version is bumped to
// expectedVersion+1.
type Store interface {
	Load(ctx context.Context, key Key) (*models.ConversationState, error)
	Save(ctx context.Context, state *models.ConversationState, expectedVersion int64) error
	Delete(ctx context.Context, key Key) error

	// PurgeIdle removes sessions untouched since the cutoff and returns
	// how many were removed. Backends with native expiry may no-op.
	PurgeIdle(ctx context.Context, cutoff time.Time) (int, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
