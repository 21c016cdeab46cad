package enhanced

import (
	"errors"
	"fmt"
)

// ModuleError marks a failure inside an enhanced processing module. It
// is always recovered by the fallback manager and never reaches the end
// user.
type ModuleError struct {
	Module string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("enhanced module %q failed: %v", e.Module, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// ModuleTimeout marks an enhanced step that exceeded its time budget.
type ModuleTimeout struct {
	Module string
	Err    error
}

func (e *ModuleTimeout) Error() string {
	return fmt.Sprintf("enhanced module %q timed out: %v", e.Module, e.Err)
}

func (e *ModuleTimeout) Unwrap() error {
	return e.Err
}

// IsModuleError reports whether err originated in an enhanced module,
// timeout included.
func IsModuleError(err error) bool {
	var moduleErr *ModuleError
	var timeoutErr *ModuleTimeout

	return errors.As(err, &moduleErr) || errors.As(err, &timeoutErr)
}

// IsModuleTimeout reports whether err is specifically a timeout.
func IsModuleTimeout(err error) bool {
	var target *ModuleTimeout

	return errors.As(err, &target)
}
