package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{
	"id": "onboarding",
	"tenantId": "tenant-1",
	"version": 3,
	"entryNodeId": "greet",
	"nodes": [
		{"id": "greet", "type": "message", "content": "Hi!", "next": "ask"},
		{"id": "ask", "type": "input", "content": "Email?", "variable": "email", "next": "route"},
		{
			"id": "route",
			"type": "condition",
			"transitions": [
				{"condition": {"matchType": "contains", "value": "@"}, "nextNodeId": "done"}
			],
			"defaultNodeId": "ask"
		},
		{"id": "done", "type": "terminal", "content": "Thanks!", "metadata": {"salesStageId": "stage-1"}}
	]
}`

func TestParseGraphDocument(t *testing.T) {
	graph, err := ParseGraphDocument([]byte(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "onboarding", graph.ID)
	assert.Equal(t, "tenant-1", graph.TenantID)
	assert.Equal(t, 3, graph.Version)
	assert.Equal(t, "greet", graph.EntryNodeID)
	assert.Len(t, graph.Nodes, 4)

	ask, ok := graph.Node("ask")
	require.True(t, ok)
	assert.Equal(t, NodeKindInput, ask.Kind)
	assert.Equal(t, "email", ask.Variable)

	route, ok := graph.Node("route")
	require.True(t, ok)
	require.Len(t, route.Transitions, 1)
	assert.Equal(t, MatchContains, route.Transitions[0].Predicate.MatchType)
	assert.Equal(t, "done", route.Transitions[0].Next)
	assert.Equal(t, "ask", route.Default)

	done, ok := graph.Node("done")
	require.True(t, ok)
	assert.Equal(t, "stage-1", done.SalesStageID())
}

func TestParseGraphDocumentDefaultsVersion(t *testing.T) {
	doc := `{
		"id": "f", "entryNodeId": "end",
		"nodes": [{"id": "end", "type": "terminal"}]
	}`

	graph, err := ParseGraphDocument([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, graph.Version)
}

func TestParseGraphDocumentRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{`},
		{"missing id", `{"entryNodeId": "a", "nodes": [{"id": "a", "type": "terminal"}]}`},
		{"empty nodes", `{"id": "f", "entryNodeId": "a", "nodes": []}`},
		{"unknown node type", `{"id": "f", "entryNodeId": "a", "nodes": [{"id": "a", "type": "quantum"}]}`},
		{
			"duplicate node ids",
			`{"id": "f", "entryNodeId": "a", "nodes": [
				{"id": "a", "type": "terminal"},
				{"id": "a", "type": "terminal"}
			]}`,
		},
		{
			"dangling entry",
			`{"id": "f", "entryNodeId": "missing", "nodes": [{"id": "a", "type": "terminal"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := ParseGraphDocument([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, graph)
			assert.True(t, IsMalformedGraph(err))
		})
	}
}
