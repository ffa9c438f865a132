package hive

import (
	"errors"
	"fmt"
)

// Conflict kinds surfaced to callers. The system state is authoritative and
// unchanged when one of these is returned.
const (
	ConflictAlreadyTerminal = "already_terminal"
	ConflictTimerActive     = "timer_active"
	ConflictNoActiveTimer   = "no_active_timer"
)

// ValidationError is a caller-correctable input error. No state mutation occurred.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConflictError indicates the caller's view of the state is stale.
type ConflictError struct {
	Kind    string
	Message string
}

func (e ConflictError) Error() string { return e.Message }

// DependencyError wraps a failure of an external collaborator (domain action
// executor, approval queue). Retryable tells the caller whether trying again
// can succeed.
type DependencyError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e DependencyError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a ConflictError of the given kind.
func IsConflict(err error, kind string) bool {
	var ce ConflictError
	return errors.As(err, &ce) && ce.Kind == kind
}
