package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no task matches the id.
	ErrNotFound = errors.New("task not found")

	// ErrStaleTask is returned when a conditional status update finds the
	// stored status no longer matches the expected pre-state.
	ErrStaleTask = errors.New("task state changed concurrently")

	// ErrAlreadyTerminal rejects transitions attempted on completed or
	// cancelled tasks.
	ErrAlreadyTerminal = errors.New("task already terminal")

	// ErrValidation marks synchronous input rejection; never retried.
	ErrValidation = errors.New("validation failed")

	// ErrRecurrenceEnded signals that a pattern has no next occurrence.
	ErrRecurrenceEnded = errors.New("recurrence ended")
)

// InvalidTransitionError rejects a state-machine transition that the table
// does not allow.
type InvalidTransitionError struct {
	From  Status
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s", e.Event, e.From)
}

// ConflictError carries the conflicts that blocked a schedule request.
type ConflictError struct {
	Conflicts []ScheduleConflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return fmt.Sprintf("scheduling conflict: %s", e.Conflicts[0].Message)
	}
	return fmt.Sprintf("scheduling conflict: %d conflicts", len(e.Conflicts))
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
