package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/template"
)

// Baseline is the always-available interpreter path. One Step consumes
// one inbound message: the node that owns the turn (input or condition)
// reads the text, then message/action nodes chain automatically until
// the next node that blocks on a response, or a terminal node, is
// reached.
type Baseline struct {
	logger *slog.Logger
}

// NewBaseline creates the baseline engine.
func NewBaseline(logger *slog.Logger) *Baseline {
	return &Baseline{
		logger: logger.With("engine", models.EngineBaseline),
	}
}

// Kind identifies the engine variant.
func (b *Baseline) Kind() models.EngineKind {
	return models.EngineBaseline
}

// Step executes one interpreter step. The passed state is advanced in
// place and returned; nothing is persisted here. A failure inside a
// single node is caught at the node boundary: the step returns the
// outputs accumulated so far with Degraded set instead of raising.
func (b *Baseline) Step(ctx context.Context, graph *models.FlowGraph, state *models.ConversationState, input string) (*StepResult, error) {
	if graph == nil {
		return nil, &BaselineExecutionError{Err: fmt.Errorf("graph is nil")}
	}

	if state == nil {
		return nil, &BaselineExecutionError{GraphID: graph.ID, Err: fmt.Errorf("state is nil")}
	}

	result := &StepResult{State: state, Outputs: []models.Output{}}

	// A completed conversation ignores further input until it is
	// externally reset.
	if state.Completed {
		return result, nil
	}

	if state.CurrentNodeID == "" {
		state.CurrentNodeID = graph.EntryNodeID
	}

	turnStart := true

	for visited := 0; ; visited++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// An automatic chain longer than the graph itself means a
		// message/action cycle with no blocking node in it.
		if visited > len(graph.Nodes) {
			b.logger.WarnContext(ctx, "Runaway automatic chain, degrading step",
				"graph_id", graph.ID, "node_id", state.CurrentNodeID)

			result.Degraded = true

			return result, nil
		}

		node, ok := graph.Node(state.CurrentNodeID)
		if !ok {
			return nil, &BaselineExecutionError{
				GraphID: graph.ID,
				NodeID:  state.CurrentNodeID,
				Err:     fmt.Errorf("current node does not exist in graph version %d", graph.Version),
			}
		}

		done, err := b.runNode(ctx, node, state, input, turnStart, result)
		if err != nil {
			b.logger.ErrorContext(ctx, "Node execution failed, degrading step",
				"graph_id", graph.ID, "node_id", node.ID, "error", err)

			result.Degraded = true

			return result, nil
		}

		if done {
			return result, nil
		}

		turnStart = false
	}
}

// runNode executes a single node. Panics are converted to errors here so
// that a broken node can never take down more than its own turn.
func (b *Baseline) runNode(ctx context.Context, node *models.Node, state *models.ConversationState, input string, turnStart bool, result *StepResult) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done = true
			err = fmt.Errorf("node %q panicked: %v", node.ID, r)
		}
	}()

	switch node.Kind {
	case models.NodeKindInput:
		// Input nodes only consume the message that opened the turn;
		// reached mid-chain they block until the next delivery.
		if !turnStart {
			result.InputExpected = true

			return true, nil
		}

		value := strings.TrimSpace(input)
		state.Context[node.Variable] = value
		result.InputCaptured = value != ""

		state.Visit(node.ID)

		return b.advance(state, node.Next), nil

	case models.NodeKindCondition:
		if !turnStart {
			result.InputExpected = true

			return true, nil
		}

		target := b.selectTransition(ctx, node, input)
		state.Visit(node.ID)

		if target == "" {
			// No predicate matched and no default successor is
			// declared: stay on the node and let the channel layer
			// re-prompt on the next delivery.
			return true, nil
		}

		state.CurrentNodeID = target

		return false, nil

	case models.NodeKindMessage, models.NodeKindAction:
		if node.Content != "" {
			result.Outputs = append(result.Outputs, b.renderOutput(ctx, node, state))
		}

		for key, value := range node.SetContext {
			state.Context[key] = value
		}

		state.Visit(node.ID)

		return b.advance(state, node.Next), nil

	case models.NodeKindTerminal:
		if node.Content != "" {
			result.Outputs = append(result.Outputs, b.renderOutput(ctx, node, state))
		}

		state.Visit(node.ID)
		state.Completed = true

		return true, nil

	default:
		return true, fmt.Errorf("unknown node kind %q", node.Kind)
	}
}

// advance moves the cursor to next, or completes the conversation when
// the node has no successor.
func (b *Baseline) advance(state *models.ConversationState, next string) bool {
	if next == "" {
		state.Completed = true

		return true
	}

	state.CurrentNodeID = next

	return false
}

// selectTransition evaluates the node's predicates in declaration order
// and returns the first matching target, the default successor, or "".
// A predicate that cannot be evaluated counts as no-match.
func (b *Baseline) selectTransition(ctx context.Context, node *models.Node, input string) string {
	for _, transition := range node.Transitions {
		matched, err := transition.Predicate.Matches(input)
		if err != nil {
			b.logger.WarnContext(ctx, "Predicate evaluation failed, treating as no-match",
				"node_id", node.ID, "error", err)

			continue
		}

		if matched {
			return transition.Next
		}
	}

	return node.Default
}

// renderOutput interpolates context variables into the node's content.
// A broken content template emits the raw text instead of degrading the
// turn.
func (b *Baseline) renderOutput(ctx context.Context, node *models.Node, state *models.ConversationState) models.Output {
	text, err := template.Render(node.Content, state.Context)
	if err != nil {
		b.logger.WarnContext(ctx, "Content rendering failed, emitting raw content",
			"node_id", node.ID, "error", err)

		text = node.Content
	}

	out := models.Output{Text: text}

	if node.Metadata != nil {
		if media, ok := node.Metadata["media"].(string); ok {
			out.Media = media
		}

		if rawButtons, ok := node.Metadata["buttons"].([]any); ok {
			for _, raw := range rawButtons {
				if button, ok := raw.(string); ok {
					out.Buttons = append(out.Buttons, button)
				}
			}
		}
	}

	return out
}
