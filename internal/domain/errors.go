package domain

import "fmt"

// ValidationError reports malformed or missing input.
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

// ConflictError reports a transition the current status does not allow.
type ConflictError struct {
	Op   string
	From Status
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("cannot %s: task is %s", e.Op, e.From)
}
