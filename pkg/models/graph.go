// Package models defines the core domain models for conversational flow execution.
package models

import (
	"fmt"
)

// NodeKind identifies how the interpreter executes a node.
type NodeKind string

const (
	NodeKindMessage   NodeKind = "message"   // Emits content, chains to next automatically
	NodeKindCondition NodeKind = "condition" // Branches on the inbound text
	NodeKindInput     NodeKind = "input"     // Captures the inbound text into the context
	NodeKindAction    NodeKind = "action"    // Applies context mutations, chains to next
	NodeKindTerminal  NodeKind = "terminal"  // Ends the conversation
)

// MetadataSalesStageKey is the node metadata key read by the lead-progression
// collaborator. A node carrying it advances the lead exactly once per visit.
const MetadataSalesStageKey = "salesStageId"

// Transition pairs a predicate with the node selected when it matches.
// Transitions are evaluated in declaration order; the first match wins.
type Transition struct {
	Predicate Predicate `json:"condition"`
	Next      string    `json:"next_node_id" validate:"required"`
}

// Node is one step of a flow graph. The kind decides which of the
// transition fields is meaningful: message/input/action nodes use Next,
// condition nodes use Transitions plus an optional Default, terminal
// nodes use none.
type Node struct {
	ID          string            `json:"id"       validate:"required"`
	Kind        NodeKind          `json:"kind"     validate:"required,oneof=message condition input action terminal"`
	Content     string            `json:"content"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Variable    string            `json:"variable,omitempty"` // Input nodes: context key receiving the inbound text
	SetContext  map[string]string `json:"set_context,omitempty"`
	Next        string            `json:"next,omitempty"`
	Transitions []Transition      `json:"transitions,omitempty"`
	Default     string            `json:"default,omitempty"`
}

// SalesStageID returns the lead stage attached to this node, or "".
func (n *Node) SalesStageID() string {
	if n.Metadata == nil {
		return ""
	}

	stage, _ := n.Metadata[MetadataSalesStageKey].(string)

	return stage
}

// FlowGraph is the immutable in-memory representation of one template
// version. Nodes are stored in an id-keyed arena and reference each other
// by id only, so cyclic (loop-back) conversations are representable.
// A validated graph is read-only and safe to share across concurrent
// interpreter invocations.
type FlowGraph struct {
	ID          string           `json:"id"            validate:"required"`
	TenantID    string           `json:"tenant_id"`
	Version     int              `json:"version"       validate:"min=1"`
	EntryNodeID string           `json:"entry_node_id" validate:"required"`
	Nodes       map[string]*Node `json:"nodes"         validate:"required"`
}

// Node resolves a node id against the graph arena.
func (g *FlowGraph) Node(id string) (*Node, bool) {
	node, ok := g.Nodes[id]

	return node, ok
}

// Validate checks the structural invariants of the graph. Graphs fail
// closed: a template whose graph does not validate cannot be activated.
func (g *FlowGraph) Validate() error {
	if g.ID == "" {
		return &MalformedGraphError{GraphID: g.ID, Reason: "graph id is required"}
	}

	if len(g.Nodes) == 0 {
		return &MalformedGraphError{GraphID: g.ID, Reason: "graph has no nodes"}
	}

	if _, ok := g.Nodes[g.EntryNodeID]; !ok {
		return &MalformedGraphError{
			GraphID: g.ID,
			Reason:  fmt.Sprintf("entry node %q does not exist", g.EntryNodeID),
		}
	}

	for id, node := range g.Nodes {
		if node == nil {
			return &MalformedGraphError{GraphID: g.ID, Reason: fmt.Sprintf("node %q is nil", id)}
		}

		if node.ID != id {
			return &MalformedGraphError{
				GraphID: g.ID,
				Reason:  fmt.Sprintf("node key %q does not match node id %q", id, node.ID),
			}
		}

		if err := g.validateNode(node); err != nil {
			return err
		}
	}

	return nil
}

func (g *FlowGraph) validateNode(node *Node) error {
	switch node.Kind {
	case NodeKindMessage, NodeKindAction:
		if node.Next != "" {
			return g.requireTarget(node.ID, node.Next)
		}
	case NodeKindInput:
		if node.Variable == "" {
			return &MalformedGraphError{
				GraphID: g.ID,
				Reason:  fmt.Sprintf("input node %q has no variable name", node.ID),
			}
		}

		if node.Next != "" {
			return g.requireTarget(node.ID, node.Next)
		}
	case NodeKindCondition:
		if len(node.Transitions) == 0 && node.Default == "" {
			return &MalformedGraphError{
				GraphID: g.ID,
				Reason:  fmt.Sprintf("condition node %q has no transitions and no default", node.ID),
			}
		}

		for _, transition := range node.Transitions {
			if err := transition.Predicate.Validate(); err != nil {
				return &MalformedGraphError{
					GraphID: g.ID,
					Reason:  fmt.Sprintf("condition node %q: %v", node.ID, err),
				}
			}

			if err := g.requireTarget(node.ID, transition.Next); err != nil {
				return err
			}
		}

		if node.Default != "" {
			return g.requireTarget(node.ID, node.Default)
		}
	case NodeKindTerminal:
		if node.Next != "" || len(node.Transitions) > 0 {
			return &MalformedGraphError{
				GraphID: g.ID,
				Reason:  fmt.Sprintf("terminal node %q declares a successor", node.ID),
			}
		}
	default:
		return &MalformedGraphError{
			GraphID: g.ID,
			Reason:  fmt.Sprintf("node %q has unknown kind %q", node.ID, node.Kind),
		}
	}

	return nil
}

func (g *FlowGraph) requireTarget(nodeID, target string) error {
	if _, ok := g.Nodes[target]; !ok {
		return &MalformedGraphError{
			GraphID: g.ID,
			Reason:  fmt.Sprintf("node %q transitions to unknown node %q", nodeID, target),
		}
	}

	return nil
}
