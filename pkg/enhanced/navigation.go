package enhanced

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dialora/dialora/pkg/models"
)

// aliasesKey is the node metadata key listing the utterances that jump
// the conversation to that node from anywhere in the flow.
const aliasesKey = "aliases"

// navigationModule implements dynamic re-navigation: when the inbound
// text matches a node's declared alias, the cursor jumps to that node
// before the step runs. The jump is recorded in history by the step
// itself, so the audit trail stays intact.
type navigationModule struct{}

// target returns the node id the input re-navigates to, or "".
func (navigationModule) target(graph *models.FlowGraph, state *models.ConversationState, input string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if trimmed == "" {
		return "", nil
	}

	// Node ids are scanned in sorted order so duplicate aliases always
	// resolve to the same node.
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		node := graph.Nodes[id]
		if node.Metadata == nil || id == state.CurrentNodeID {
			continue
		}

		rawAliases, ok := node.Metadata[aliasesKey]
		if !ok {
			continue
		}

		aliases, ok := rawAliases.([]any)
		if !ok {
			return "", &ModuleError{
				Module: "navigation",
				Err:    fmt.Errorf("node %q has malformed aliases metadata", id),
			}
		}

		for _, raw := range aliases {
			alias, ok := raw.(string)
			if !ok {
				return "", &ModuleError{
					Module: "navigation",
					Err:    fmt.Errorf("node %q has a non-string alias", id),
				}
			}

			if strings.EqualFold(strings.TrimSpace(alias), trimmed) {
				return id, nil
			}
		}
	}

	return "", nil
}
