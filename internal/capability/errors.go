package capability

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for capability resolution. Dispatch converts each
// into a user-visible detail string; none of them fail a request.
var (
	// ErrUnknownCapability means the model named a tool that is not in
	// the catalog or has no registered implementation.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrNotBound means the capability exists but the agent that
	// requested it is not allowed to use it.
	ErrNotBound = errors.New("capability not bound to agent")

	// ErrArgumentMissing means a required argument was absent.
	ErrArgumentMissing = errors.New("required argument missing")

	// ErrArgumentInvalid means an argument had the wrong type or value.
	ErrArgumentInvalid = errors.New("invalid argument")

	// ErrExecutionFailed means the underlying integration failed.
	ErrExecutionFailed = errors.New("capability execution failed")

	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("capability registry is frozen")
)

// ArgumentError reports schema violations in a capability call.
type ArgumentError struct {
	Kind     Kind
	Missing  []string // required properties that were absent
	Problems []string // every violation, as reported by the validator
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing required argument(s): %s", e.Kind, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: invalid arguments: %s", e.Kind, strings.Join(e.Problems, "; "))
}

// Unwrap lets errors.Is match ErrArgumentMissing or ErrArgumentInvalid.
func (e *ArgumentError) Unwrap() error {
	if len(e.Missing) > 0 {
		return ErrArgumentMissing
	}
	return ErrArgumentInvalid
}

// ExecutionError wraps a failure returned by a capability's invoker.
type ExecutionError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecutionFailed, e.Err}
}
