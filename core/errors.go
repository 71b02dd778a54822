package core

import (
	"errors"
	"fmt"
)

// Error kinds returned by the commit path. Match them with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidPath        = errors.New("invalid path")
	ErrResourceLocked     = errors.New("resource locked")
	ErrInternal           = errors.New("internal error")
	ErrSizeMismatch       = errors.New("size mismatch")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrForbidden          = errors.New("forbidden")
)

// CommitError is the error returned by CreateFromStream and Put
type CommitError struct {
	Kind    error
	Message string
	Cause   error
	// RollbackErr records a failed cleanup delete. It is reported
	// alongside the primary error and never replaces it.
	RollbackErr error
}

func (e *CommitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Cause != nil && e.Cause.Error() != msg {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.RollbackErr != nil {
		msg = fmt.Sprintf("%s (cleanup failed: %v)", msg, e.RollbackErr)
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause
func (e *CommitError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, cause error, format string, args ...any) *CommitError {
	return &CommitError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// KindOf returns the error kind carried by err, or ErrInternal for errors
// that did not come from the commit path
func KindOf(err error) error {
	for _, kind := range []error{
		ErrServiceUnavailable,
		ErrInvalidInput,
		ErrAlreadyExists,
		ErrInvalidPath,
		ErrResourceLocked,
		ErrSizeMismatch,
		ErrForbidden,
		ErrInternal,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}
