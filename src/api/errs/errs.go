// Package errs classifies failures so callers can tell bad input from missing
// privileges, conflicts, flaky dependencies and dead flows.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInternal     Kind = "internal"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindTerminal     Kind = "terminal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and message, which lets
// package-level sentinels survive Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

// Wrap returns a copy of sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Msg: sentinel.Msg, Err: cause}
}

func Validation(format string, a ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, a...)}
}

func Unauthorized(format string, a ...any) *Error {
	return &Error{Kind: KindUnauthorized, Msg: fmt.Sprintf(format, a...)}
}

func Forbidden(format string, a ...any) *Error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, a...)}
}

func NotFound(format string, a ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, a...)}
}

func Conflict(format string, a ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, a...)}
}

func Terminal(format string, a ...any) *Error {
	return &Error{Kind: KindTerminal, Msg: fmt.Sprintf(format, a...)}
}

// Unavailable marks a retryable dependency failure.
func Unavailable(cause error, format string, a ...any) *Error {
	return &Error{Kind: KindUnavailable, Msg: fmt.Sprintf(format, a...), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
