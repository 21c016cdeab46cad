package statestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialora/dialora/pkg/models"
)

func testState(sessionID string) *models.ConversationState {
	now := time.Now().UTC()

	return &models.ConversationState{
		FlowID:        "flow-1",
		TenantID:      "tenant-1",
		UserID:        "user-1",
		SessionID:     sessionID,
		CurrentNodeID: "greet",
		Context:       map[string]string{},
		History:       []string{},
		StartedAt:     now,
		LastUpdatedAt: now,
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Load(t.Context(), Key{TenantID: "t", UserID: "u", SessionID: "s"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestMemoryStoreSaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	state := testState("session-1")

	require.NoError(t, store.Save(t.Context(), state, 0))
	assert.Equal(t, int64(1), state.Version)

	loaded, err := store.Load(t.Context(), KeyOf(state))
	require.NoError(t, err)
	assert.Equal(t, state.CurrentNodeID, loaded.CurrentNodeID)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestMemoryStoreVersionConflicts(t *testing.T) {
	store := NewMemoryStore()
	state := testState("session-1")

	// Creating over nothing with a non-zero expectation conflicts.
	require.True(t, IsVersionConflict(store.Save(t.Context(), state.Clone(), 3)))

	require.NoError(t, store.Save(t.Context(), state, 0))

	// Stale expectation conflicts.
	stale := state.Clone()
	require.True(t, IsVersionConflict(store.Save(t.Context(), stale, 0)))

	// Correct expectation succeeds and bumps.
	require.NoError(t, store.Save(t.Context(), state, 1))
	assert.Equal(t, int64(2), state.Version)
}

func TestMemoryStoreCASLoses(t *testing.T) {
	store := NewMemoryStore()
	state := testState("session-1")
	require.NoError(t, store.Save(t.Context(), state, 0))

	first, err := store.Load(t.Context(), KeyOf(state))
	require.NoError(t, err)

	second, err := store.Load(t.Context(), KeyOf(state))
	require.NoError(t, err)

	first.Visit("next-node")
	require.NoError(t, store.Save(t.Context(), first, 1))

	second.Visit("other-node")
	err = store.Save(t.Context(), second, 1)
	require.True(t, IsVersionConflict(err))

	// The winner's write is intact.
	loaded, err := store.Load(t.Context(), KeyOf(state))
	require.NoError(t, err)
	assert.Equal(t, "next-node", loaded.CurrentNodeID)
}

func TestMemoryStoreIsolatesStoredState(t *testing.T) {
	store := NewMemoryStore()
	state := testState("session-1")
	require.NoError(t, store.Save(t.Context(), state, 0))

	loaded, err := store.Load(t.Context(), KeyOf(state))
	require.NoError(t, err)

	loaded.Context["mutated"] = "yes"

	reloaded, err := store.Load(t.Context(), KeyOf(state))
	require.NoError(t, err)
	assert.NotContains(t, reloaded.Context, "mutated")
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	state := testState("session-1")
	require.NoError(t, store.Save(t.Context(), state, 0))

	require.NoError(t, store.Delete(t.Context(), KeyOf(state)))

	_, err := store.Load(t.Context(), KeyOf(state))
	assert.True(t, IsNotFound(err))
}

func TestMemoryStorePurgeIdle(t *testing.T) {
	store := NewMemoryStore()

	idle := testState("idle")
	idle.LastUpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(t.Context(), idle, 0))

	active := testState("active")
	require.NoError(t, store.Save(t.Context(), active, 0))

	purged, err := store.PurgeIdle(t.Context(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = store.Load(t.Context(), KeyOf(idle))
	assert.True(t, IsNotFound(err))

	_, err = store.Load(t.Context(), KeyOf(active))
	assert.NoError(t, err)
}
