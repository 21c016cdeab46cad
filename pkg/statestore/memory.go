package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/dialora/dialora/pkg/models"
)

// MemoryStore is the in-process store used by tests and single-node
// development setups. States are deep-copied on the way in and out so
// callers can never alias the stored value.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[Key]*models.ConversationState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[Key]*models.ConversationState),
	}
}

// Load returns a copy of the stored state for the key.
func (m *MemoryStore) Load(_ context.Context, key Key) (*models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[key]
	if !ok {
		return nil, ErrNotFound
	}

	return state.Clone(), nil
}

// Save stores the state if expectedVersion matches the current stored
// version (0 for a new session).
func (m *MemoryStore) Save(_ context.Context, state *models.ConversationState, expectedVersion int64) error {
	key := KeyOf(state)

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.states[key]

	switch {
	case !exists && expectedVersion != 0:
		return ErrVersionConflict
	case exists && current.Version != expectedVersion:
		return ErrVersionConflict
	}

	state.Version = expectedVersion + 1
	m.states[key] = state.Clone()

	return nil
}

// Delete removes the state for the key; deleting a missing key is not
// an error.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, key)

	return nil
}

// PurgeIdle removes sessions not updated since the cutoff.
func (m *MemoryStore) PurgeIdle(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0

	for key, state := range m.states {
		if state.LastUpdatedAt.Before(cutoff) {
			delete(m.states, key)

			removed++
		}
	}

	return removed, nil
}

// HealthCheck always succeeds for the in-memory store.
func (m *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close(_ context.Context) error {
	return nil
}
