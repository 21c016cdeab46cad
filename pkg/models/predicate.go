package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MatchType selects the comparison a predicate applies to the inbound text.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchEquals   MatchType = "equals"
	MatchRegex    MatchType = "regex"
)

// Predicate is one condition-node branch test. Contains and equals
// compare case-insensitively unless CaseSensitive is set; regex patterns
// are compiled at evaluation time.
type Predicate struct {
	MatchType     MatchType `json:"match_type"     validate:"required,oneof=contains equals regex"`
	Value         string    `json:"value"          validate:"required"`
	CaseSensitive bool      `json:"case_sensitive"`
}

// Validate checks that the predicate is structurally usable.
func (p Predicate) Validate() error {
	switch p.MatchType {
	case MatchContains, MatchEquals, MatchRegex:
	default:
		return fmt.Errorf("unknown match type %q", p.MatchType)
	}

	if p.Value == "" {
		return errors.New("predicate value is empty")
	}

	return nil
}

// Matches reports whether the inbound text satisfies the predicate.
// A broken regex pattern is an evaluation error; callers treat it as
// no-match rather than failing the turn.
func (p Predicate) Matches(input string) (bool, error) {
	switch p.MatchType {
	case MatchContains:
		if p.CaseSensitive {
			return strings.Contains(input, p.Value), nil
		}

		return strings.Contains(strings.ToLower(input), strings.ToLower(p.Value)), nil
	case MatchEquals:
		if p.CaseSensitive {
			return input == p.Value, nil
		}

		return strings.EqualFold(input, p.Value), nil
	case MatchRegex:
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return false, &PredicateEvaluationError{Pattern: p.Value, Err: err}
		}

		return re.MatchString(input), nil
	default:
		return false, &PredicateEvaluationError{
			Pattern: p.Value,
			Err:     fmt.Errorf("unknown match type %q", p.MatchType),
		}
	}
}
