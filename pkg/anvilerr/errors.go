// Package anvilerr defines the typed error kinds surfaced at Anvil's
// external boundaries (RPC façade, S3 gateway, task handlers).
package anvilerr

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error categories every boundary maps to a
// transport status code.
type Kind string

const (
	InvalidArgument  Kind = "invalid_argument"
	Unauthenticated  Kind = "unauthenticated"
	PermissionDenied Kind = "permission_denied"
	NotFound         Kind = "not_found"
	AlreadyExists    Kind = "already_exists"
	Unavailable      Kind = "unavailable"
	DeadlineExceeded Kind = "deadline_exceeded"
	Internal         Kind = "internal"
)

// Error wraps a Kind with a human-readable message and an optional cause.
// Sensitive detail (keys, raw storage errors) belongs in the wrapped cause,
// which is logged but never serialized back to a caller.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors that
// did not originate as an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
