// Package idperror carries kind-tagged errors between the protocol engines
// and the HTTP layer, so handlers can pick a status code and a user-facing
// page without inspecting error strings.
package idperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP layer.
type Kind int

const (
	// KindServiceError is the zero value: anything untagged is our fault.
	KindServiceError Kind = iota
	KindBadRequest
	KindLoginTimeout
	KindUnauthorized
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindLoginTimeout:
		return "login_timeout"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "service_error"
	}
}

// Error is a kind-tagged error, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kind-tagged error.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and context message.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, walking the wrap chain. Errors that
// carry no kind report KindServiceError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServiceError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// BadRequest tags a client protocol error.
func BadRequest(message string) error {
	return New(KindBadRequest, message)
}

// LoginTimeout tags an expired login window.
func LoginTimeout(message string) error {
	return New(KindLoginTimeout, message)
}

// Unauthorized tags a failed authentication.
func Unauthorized(message string) error {
	return New(KindUnauthorized, message)
}

// Forbidden tags an authenticated-but-not-permitted condition.
func Forbidden(message string) error {
	return New(KindForbidden, message)
}

// NotFound tags a missing resource.
func NotFound(message string) error {
	return New(KindNotFound, message)
}

// ServiceError tags an internal failure.
func ServiceError(message string) error {
	return New(KindServiceError, message)
}
