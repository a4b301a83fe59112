// Package apierr defines the wire-visible error kinds shared by every
// subsystem that can surface a failure to an HTTP caller.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds in the error handling design: each maps to
// exactly one HTTP status.
type Kind string

const (
	KindInvalidInput             Kind = "invalid-input"
	KindUnauthenticated          Kind = "unauthenticated"
	KindNotFound                 Kind = "not-found"
	KindPayloadTooLarge          Kind = "payload-too-large"
	KindConflict                 Kind = "conflict"
	KindTooManyJobs              Kind = "too-many-jobs"
	KindOrchestratorUnavailable  Kind = "orchestrator-unavailable"
	KindInternal                 Kind = "internal"
)

// Status returns the HTTP status code associated with k.
func (k Kind) Status() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindConflict:
		return http.StatusConflict
	case KindTooManyJobs:
		return http.StatusTooManyRequests
	case KindOrchestratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed, wire-mappable error.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an underlying cause, preserving it for
// unwrapping and logging.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf extracts the user-facing message of err, falling back to
// err.Error() for untyped errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
