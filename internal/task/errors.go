package task

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/taskrelay/internal/coordinator"
)

// Lookup errors.
var (
	ErrNotFound      = errors.New("task not found")
	ErrAlreadyExists = errors.New("task already exists")
)

// Transition errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConcurrencyTimeout is the coordinator's lock timeout.
	ErrConcurrencyTimeout = coordinator.ErrConcurrencyTimeout
)

// Validation errors.
var (
	ErrReasonRequired  = errors.New("reason is required")
	ErrDueDateRequired = errors.New("due date is required")
	ErrInvalidTask     = errors.New("invalid task")
)

// ErrCollaboratorUnavailable marks a failed or timed-out call to the
// document store or messaging service.
var ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

// TransitionError reports an operation attempted from the wrong state.
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	TaskID   string
	Op       string
	Current  string
	Expected string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: task %s is %s, expected %s", e.Op, e.TaskID, e.Current, e.Expected)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CollaboratorError wraps a failed external call. It matches
// ErrCollaboratorUnavailable and unwraps to the cause.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrCollaboratorUnavailable, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Is matches ErrCollaboratorUnavailable.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}
