package flow

import (
	"errors"
	"fmt"
)

// BaselineExecutionError is fatal for the request: the always-available
// engine failed and no further fallback exists. The caller surfaces a
// generic processing error and leaves state unmodified.
type BaselineExecutionError struct {
	GraphID string
	NodeID  string
	Err     error
}

func (e *BaselineExecutionError) Error() string {
	return fmt.Sprintf("baseline execution failed on graph %q node %q: %v", e.GraphID, e.NodeID, e.Err)
}

func (e *BaselineExecutionError) Unwrap() error {
	return e.Err
}

// IsBaselineExecutionError reports whether err is a non-recoverable
// baseline failure.
func IsBaselineExecutionError(err error) bool {
	var target *BaselineExecutionError

	return errors.As(err, &target)
}
