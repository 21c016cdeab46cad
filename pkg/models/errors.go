package models

import (
	"errors"
	"fmt"
)

// MalformedGraphError is fatal for a template: the graph cannot be
// activated and no conversation may run against it.
type MalformedGraphError struct {
	GraphID string
	Reason  string
}

func (e *MalformedGraphError) Error() string {
	return fmt.Sprintf("malformed graph %q: %s", e.GraphID, e.Reason)
}

// IsMalformedGraph reports whether err is a graph validation failure.
func IsMalformedGraph(err error) bool {
	var target *MalformedGraphError

	return errors.As(err, &target)
}

// PredicateEvaluationError marks a predicate that could not be
// evaluated (typically an invalid regex). The interpreter recovers by
// treating the predicate as not matching.
type PredicateEvaluationError struct {
	Pattern string
	Err     error
}

func (e *PredicateEvaluationError) Error() string {
	return fmt.Sprintf("predicate %q: %v", e.Pattern, e.Err)
}

func (e *PredicateEvaluationError) Unwrap() error {
	return e.Err
}

// IsPredicateEvaluationError reports whether err is a recovered
// predicate failure.
func IsPredicateEvaluationError(err error) bool {
	var target *PredicateEvaluationError

	return errors.As(err, &target)
}
