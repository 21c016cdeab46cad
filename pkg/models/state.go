package models

import (
	"maps"
	"slices"
	"time"
)

// ConversationState is the per-(tenant, user, session) cursor into a
// flow graph. It is owned exclusively by the interpreter during a step
// and persisted by the state store between steps; two steps must never
// mutate the same key concurrently. Version implements the store's
// optimistic compare-and-swap: 0 means not yet persisted.
type ConversationState struct {
	FlowID        string            `json:"flow_id"`
	TenantID      string            `json:"tenant_id"`
	UserID        string            `json:"user_id"`
	SessionID     string            `json:"session_id"`
	CurrentNodeID string            `json:"current_node_id"`
	Context       map[string]string `json:"context"`
	History       []string          `json:"history"`
	Completed     bool              `json:"completed"`
	StartedAt     time.Time         `json:"started_at"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
	Version       int64             `json:"version"`
}

// NewConversationState initializes a fresh session positioned at the
// graph entry node with empty context and history.
func NewConversationState(graph *FlowGraph, tenantID, userID, sessionID string) *ConversationState {
	now := time.Now().UTC()

	return &ConversationState{
		FlowID:        graph.ID,
		TenantID:      tenantID,
		UserID:        userID,
		SessionID:     sessionID,
		CurrentNodeID: graph.EntryNodeID,
		Context:       make(map[string]string),
		History:       []string{},
		StartedAt:     now,
		LastUpdatedAt: now,
	}
}

// Clone returns a deep copy. The fallback path keeps a clone of the
// pre-step state so a failed enhanced run can never leak partial
// mutations into the baseline re-execution.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}

	clone := *s
	clone.Context = maps.Clone(s.Context)
	clone.History = slices.Clone(s.History)

	return &clone
}

// Visit appends a node id to the history and moves the cursor. History
// only ever grows; it is never rewritten.
func (s *ConversationState) Visit(nodeID string) {
	s.History = append(s.History, nodeID)
	s.CurrentNodeID = nodeID
	s.LastUpdatedAt = time.Now().UTC()
}

// SameTurnInput reports whether other describes the same session cursor,
// which the fallback manager uses to detect concurrent corruption.
func (s *ConversationState) SameTurnInput(other *ConversationState) bool {
	if s == nil || other == nil {
		return s == other
	}

	return s.TenantID == other.TenantID &&
		s.UserID == other.UserID &&
		s.SessionID == other.SessionID &&
		s.CurrentNodeID == other.CurrentNodeID &&
		s.Version == other.Version &&
		len(s.History) == len(other.History) &&
		maps.Equal(s.Context, other.Context)
}

// Output is one message emitted toward the end user during a step.
type Output struct {
	Text    string   `json:"text"`
	Media   string   `json:"media,omitempty"`
	Buttons []string `json:"buttons,omitempty"`
}
