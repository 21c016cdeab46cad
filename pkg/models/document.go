package models

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// graphDocumentSchema is the wire contract for template ingestion. The
// producing side (template designer, admin API) is external; this is the
// only representation the core accepts.
const graphDocumentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "entryNodeId", "nodes"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"tenantId": {"type": "string"},
		"version": {"type": "integer", "minimum": 1},
		"entryNodeId": {"type": "string", "minLength": 1},
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "enum": ["message", "condition", "input", "action", "terminal"]},
					"content": {"type": "string"},
					"metadata": {"type": "object"},
					"variable": {"type": "string"},
					"setContext": {"type": "object", "additionalProperties": {"type": "string"}},
					"next": {"type": "string"},
					"defaultNodeId": {"type": "string"},
					"transitions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["condition", "nextNodeId"],
							"properties": {
								"nextNodeId": {"type": "string", "minLength": 1},
								"condition": {
									"type": "object",
									"required": ["matchType", "value"],
									"properties": {
										"matchType": {"type": "string", "enum": ["contains", "equals", "regex"]},
										"value": {"type": "string", "minLength": 1},
										"caseSensitive": {"type": "boolean"}
									}
								}
							}
						}
					}
				}
			}
		}
	}
}`

type graphDocument struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	Version     int            `json:"version"`
	EntryNodeID string         `json:"entryNodeId"`
	Nodes       []nodeDocument `json:"nodes"`
}

type nodeDocument struct {
	ID            string               `json:"id"`
	Type          string               `json:"type"`
	Content       string               `json:"content"`
	Metadata      map[string]any       `json:"metadata"`
	Variable      string               `json:"variable"`
	SetContext    map[string]string    `json:"setContext"`
	Next          string               `json:"next"`
	DefaultNodeID string               `json:"defaultNodeId"`
	Transitions   []transitionDocument `json:"transitions"`
}

type transitionDocument struct {
	Condition  predicateDocument `json:"condition"`
	NextNodeID string            `json:"nextNodeId"`
}

type predicateDocument struct {
	MatchType     string `json:"matchType"`
	Value         string `json:"value"`
	CaseSensitive bool   `json:"caseSensitive"`
}

var compiledGraphSchema = gojsonschema.NewStringLoader(graphDocumentSchema)

// ParseGraphDocument validates a raw template document against the
// ingestion schema, builds the node arena, and runs the structural graph
// validation. Any failure is a MalformedGraphError: the template fails
// closed and cannot be activated.
func ParseGraphDocument(raw []byte) (*FlowGraph, error) {
	result, err := gojsonschema.Validate(compiledGraphSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &MalformedGraphError{Reason: fmt.Sprintf("document is not valid JSON: %v", err)}
	}

	if !result.Valid() {
		reason := "document does not match the template schema"
		if len(result.Errors()) > 0 {
			reason = result.Errors()[0].String()
		}

		return nil, &MalformedGraphError{Reason: reason}
	}

	var doc graphDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &MalformedGraphError{Reason: fmt.Sprintf("failed to decode document: %v", err)}
	}

	graph := &FlowGraph{
		ID:          doc.ID,
		TenantID:    doc.TenantID,
		Version:     doc.Version,
		EntryNodeID: doc.EntryNodeID,
		Nodes:       make(map[string]*Node, len(doc.Nodes)),
	}

	if graph.Version == 0 {
		graph.Version = 1
	}

	for _, nd := range doc.Nodes {
		if _, exists := graph.Nodes[nd.ID]; exists {
			return nil, &MalformedGraphError{
				GraphID: doc.ID,
				Reason:  fmt.Sprintf("duplicate node id %q", nd.ID),
			}
		}

		node := &Node{
			ID:         nd.ID,
			Kind:       NodeKind(nd.Type),
			Content:    nd.Content,
			Metadata:   nd.Metadata,
			Variable:   nd.Variable,
			SetContext: nd.SetContext,
			Next:       nd.Next,
			Default:    nd.DefaultNodeID,
		}

		for _, td := range nd.Transitions {
			node.Transitions = append(node.Transitions, Transition{
				Predicate: Predicate{
					MatchType:     MatchType(td.Condition.MatchType),
					Value:         td.Condition.Value,
					CaseSensitive: td.Condition.CaseSensitive,
				},
				Next: td.NextNodeID,
			})
		}

		graph.Nodes[nd.ID] = node
	}

	if err := graph.Validate(); err != nil {
		return nil, err
	}

	return graph, nil
}
