package shardq

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/shardq/partition"
)

// Store errors.
// Use errors.Is() to check for these errors as they may be wrapped with
// additional context.
var (
	// ErrInvalidConfig marks configuration errors. They are fatal: the
	// pipeline must fail startup or the offending call, never retry.
	ErrInvalidConfig = errors.New("shardq: invalid configuration")

	// ErrTaskOutOfRange is returned for a task id outside [0, channels).
	// It is always wrapped in a *TaskRangeError.
	ErrTaskOutOfRange = errors.New("shardq: task id out of range")

	// ErrNotPrepared is returned when the store is used before Prepare.
	ErrNotPrepared = errors.New("shardq: store not prepared")

	// ErrAlreadyPrepared is returned by a second Prepare call.
	ErrAlreadyPrepared = errors.New("shardq: store already prepared")

	// ErrReleased is returned once Release has been called. Blocked Put and
	// Get calls return it when the store is released under them.
	ErrReleased = errors.New("shardq: store released")
)

// TaskRangeError reports a task id or channel index outside [0, Channels).
type TaskRangeError struct {
	TaskID   int
	Channels int
}

func (e *TaskRangeError) Error() string {
	return fmt.Sprintf("shardq: task id %d out of range [0, %d)", e.TaskID, e.Channels)
}

func (e *TaskRangeError) Unwrap() []error {
	return []error{ErrTaskOutOfRange, ErrInvalidConfig}
}

// IsTaskOutOfRange checks if an error reports an out of range task id.
func IsTaskOutOfRange(err error) bool {
	var rangeErr *TaskRangeError
	return errors.As(err, &rangeErr)
}

// IsConfigError checks if an error is a configuration error, raised by the
// store or by its partitioner.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || partition.IsConfigError(err)
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
