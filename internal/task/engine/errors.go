package engine

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous execution still queued or running")

	// ErrExecutionFailure marks errors and panics raised by a task body.
	ErrExecutionFailure = errors.New("task execution failed")
)

// executionFailure wraps a task error so callers can match it with
// errors.Is(err, ErrExecutionFailure) while keeping the cause.
func executionFailure(name string, cause error) error {
	return errors.Mark(errors.Wrapf(cause, "task %s", name), ErrExecutionFailure)
}
