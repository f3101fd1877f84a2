package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrDeadlineExceeded marks a run whose per-operation timeout elapsed
	// before the next hook boundary.
	ErrDeadlineExceeded = errors.New("execution deadline exceeded")
	// ErrMissingStub marks a replay that reached an effect hook with no
	// recorded outcome.
	ErrMissingStub = errors.New("no recorded outcome for effect hook")
)

// HookExecutionError wraps an error raised by a hook or the business
// handler during a phase. It is captured into the manifest and never
// propagates out of Execute.
type HookExecutionError struct {
	Hook string
	Err  error
}

func (e *HookExecutionError) Error() string {
	return fmt.Sprintf("hook %s: %v", e.Hook, e.Err)
}

func (e *HookExecutionError) Unwrap() error { return e.Err }

// errorType names an error for compact trace references.
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, ErrMissingStub):
		return "MissingStub"
	default:
		var hookErr *HookExecutionError
		if errors.As(err, &hookErr) {
			return "HookExecutionError"
		}
		return "Error"
	}
}
