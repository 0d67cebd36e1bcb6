package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no resolution strategy matched.
	ErrNotFound = errors.New("task not found")
	// ErrCrossProject is returned when a match exists outside the requested
	// project. Callers must surface it exactly like ErrNotFound.
	ErrCrossProject = errors.New("task belongs to another project")
	// ErrConcurrencyConflict indicates the store rejected a write because the
	// entity changed since it was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrGone marks a record that vanished between resolution and write.
	ErrGone = errors.New("task no longer exists")
)

// AmbiguousMatchError reports more than one equally valid candidate.
type AmbiguousMatchError struct {
	ClientID   string
	Strategy   string
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("identifier %q matches %d tasks (%s)", e.ClientID, len(e.Candidates), e.Strategy)
}

// UpdateKind classifies update failures.
type UpdateKind string

const (
	UpdateGone    UpdateKind = "gone"
	UpdateInvalid UpdateKind = "invalid"
)

// UpdateError is returned by the update executor. Field carries the external
// name of the offending field for invalid updates.
type UpdateError struct {
	Kind  UpdateKind
	Field string
	Err   error
}

func (e *UpdateError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("update %s: field %s: %v", e.Kind, e.Field, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("update %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("update %s", e.Kind)
	}
}

func (e *UpdateError) Unwrap() error { return e.Err }

// ConstraintError is raised by the store when a row violates a column
// constraint. Column is the internal column name.
type ConstraintError struct {
	Column string
	Reason string
}

func (e *ConstraintError) Error() string {
	if e.Column == "" {
		return "constraint violation: " + e.Reason
	}
	return fmt.Sprintf("constraint violation on %s: %s", e.Column, e.Reason)
}

// TransientError wraps timeouts and connection failures. The caller may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient store error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
