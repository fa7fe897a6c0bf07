package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error. HTTP status mapping lives in the
// transport layer; the core only ever speaks in kinds.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindInvalidTransition
	KindUnauthorized
	KindForbidden
	KindUnavailable
)

// Code returns the wire-level error code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindConflict:
		return "CONFLICT"
	case KindInvalidTransition:
		return "INVALID_TRANSITION"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error is the application error carried across component boundaries.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the client-safe message without any wrapped cause.
func (e *Error) Message() string { return e.msg }

// NotFound indicates the referenced resource does not exist.
func NotFound(resource, id string) *Error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// Validation indicates malformed input or a violated business precondition.
func Validation(format string, args ...any) *Error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// Conflict indicates the resource is already committed elsewhere.
func Conflict(format string, args ...any) *Error {
	return &Error{kind: KindConflict, msg: fmt.Sprintf(format, args...)}
}

// InvalidTransition indicates the state machine rejected the move.
func InvalidTransition(format string, args ...any) *Error {
	return &Error{kind: KindInvalidTransition, msg: fmt.Sprintf(format, args...)}
}

// Unauthorized indicates missing or invalid credentials.
func Unauthorized(msg string) *Error {
	return &Error{kind: KindUnauthorized, msg: msg}
}

// Forbidden indicates the caller lacks the required permission.
func Forbidden(msg string) *Error {
	return &Error{kind: KindForbidden, msg: msg}
}

// Unavailable wraps a transient infrastructure failure. Callers may retry;
// it is never produced by a business-rule rejection.
func Unavailable(op string, err error) *Error {
	return &Error{kind: KindUnavailable, msg: fmt.Sprintf("%s temporarily unavailable", op), err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{kind: KindInternal, msg: "internal error", err: err}
}

// KindOf extracts the kind from any error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindInternal
}

// Retryable reports whether the error is a transient infrastructure failure.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
