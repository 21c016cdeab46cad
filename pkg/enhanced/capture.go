package enhanced

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dialora/dialora/pkg/models"
)

// Node metadata keys the capture module honors.
const (
	captureFormatKey   = "captureFormat"
	capturePatternKey  = "capturePattern"
	captureRepromptKey = "captureReprompt"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	digitPattern = regexp.MustCompile(`^[0-9]+([.,][0-9]+)?$`)
)

// captureModule implements richer input capture: it normalizes the
// inbound text for the input node that owns the turn and validates it
// against the node's declared format. An input that fails validation
// produces a re-prompt instead of being stored.
type captureModule struct{}

// captureOutcome is the module's verdict for one turn.
type captureOutcome struct {
	input    string  // Normalized text to hand to the interpreter
	reprompt *string // Non-nil: do not step, re-ask with this text
}

// apply runs capture for the node currently owning the turn. Nodes
// without capture metadata pass through untouched.
func (captureModule) apply(node *models.Node, input string) (captureOutcome, error) {
	normalized := strings.TrimSpace(input)

	if node == nil || node.Kind != models.NodeKindInput || node.Metadata == nil {
		return captureOutcome{input: normalized}, nil
	}

	format, _ := node.Metadata[captureFormatKey].(string)
	pattern, _ := node.Metadata[capturePatternKey].(string)

	if format == "" && pattern == "" {
		return captureOutcome{input: normalized}, nil
	}

	valid, normalized, err := validateFormat(format, pattern, normalized)
	if err != nil {
		return captureOutcome{}, &ModuleError{Module: "capture", Err: err}
	}

	if !valid {
		reprompt := "Sorry, I didn't get that. Could you try again?"
		if custom, ok := node.Metadata[captureRepromptKey].(string); ok && custom != "" {
			reprompt = custom
		}

		return captureOutcome{input: normalized, reprompt: &reprompt}, nil
	}

	return captureOutcome{input: normalized}, nil
}

func validateFormat(format, pattern, input string) (bool, string, error) {
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, input, fmt.Errorf("invalid capture pattern %q: %w", pattern, err)
		}

		return re.MatchString(input), input, nil
	}

	switch format {
	case "email":
		normalized := strings.ToLower(input)

		return emailPattern.MatchString(normalized), normalized, nil
	case "phone":
		normalized := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(input)

		return phonePattern.MatchString(normalized), normalized, nil
	case "number":
		return digitPattern.MatchString(input), input, nil
	default:
		return false, input, fmt.Errorf("unknown capture format %q", format)
	}
}
