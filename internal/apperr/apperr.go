// Package apperr defines the typed error taxonomy shared by all layers.
// Handlers map codes to HTTP statuses at the boundary; everything below the
// handler works with codes only.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and for HTTP mapping.
type Code string

const (
	ErrCodeValidation    Code = "VALIDATION"
	ErrCodeNotFound      Code = "NOT_FOUND"
	ErrCodePermission    Code = "PERMISSION"
	ErrCodeConflict      Code = "CONFLICT"
	ErrCodeConfiguration Code = "CONFIGURATION"
	ErrCodeInternal      Code = "INTERNAL"
)

// Error is a code-carrying error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput reports a malformed or missing input field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeValidation, "invalid %s: %s", field, message)
}

// PermissionDenied reports a missing right on an operation.
func PermissionDenied(message string) *Error {
	return New(ErrCodePermission, message)
}

// Conflict reports a state conflict (duplicate pending request, stale status).
func Conflict(message string) *Error {
	return New(ErrCodeConflict, message)
}

// CodeOf extracts the code from err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to its transport status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodePermission:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeConfiguration, ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
