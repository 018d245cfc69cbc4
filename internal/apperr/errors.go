// Package apperr defines the error taxonomy shared by the edit pipeline.
//
// Every failure below the orchestrator is classified into one Kind. The HTTP
// and MCP layers map kinds to transport-level codes; nothing outside this
// package invents new failure categories.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindInvalidArgument marks a malformed request. Never retried.
	KindInvalidArgument Kind = "invalid_argument"
	// KindNotFound marks a missing project index, edit, or section set.
	KindNotFound Kind = "not_found"
	// KindFailedPrecondition marks missing operator configuration such as
	// provider credentials.
	KindFailedPrecondition Kind = "failed_precondition"
	// KindClassification marks an unreachable or malformed classification
	// response. Not retried at this layer.
	KindClassification Kind = "classification_failure"
	// KindGeneration marks an exhausted retry budget against the
	// generation service.
	KindGeneration Kind = "generation_failure"
	// KindValidation marks a candidate document that failed blocking checks.
	KindValidation Kind = "validation_failure"
	// KindPatch marks a diff that does not cleanly apply.
	KindPatch Kind = "patch_failure"
	// KindConflict marks an illegal ledger status transition.
	KindConflict Kind = "conflict"
	// KindInternal marks an unexpected failure in any stage.
	KindInternal Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e != nil && e.Kind == kind
}

func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

func IsInvalidArgument(err error) bool { return IsKind(err, KindInvalidArgument) }
