// Package apperror defines the error taxonomy shared by every layer.
//
// Each kind of failure has a sentinel (ErrNotFound, ErrValidation, ...).
// Concrete errors are *AppError values that wrap a sentinel together with a
// human-readable message, so callers branch with errors.Is and show
// AppError.Message to people.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthorized means no usable session: sign in and retry.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable covers transport failures and malformed responses from a
	// remote service. Retrying is safe.
	ErrUnavailable = errors.New("unavailable")
	// ErrBusy rejects an operation because an identical one is in flight.
	ErrBusy = errors.New("busy")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError for a missing or invalid session.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable wraps a low-level failure (network, decoding, 5xx) behind a
// visitor-safe message. The cause stays reachable through errors.Unwrap for
// logging, while Message never leaks it.
func Unavailable(message string, cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrUnavailable, cause),
		Message: message,
	}
}

// Busy returns an AppError rejecting a duplicate in-flight operation.
func Busy(message string) *AppError {
	return &AppError{
		Err:     ErrBusy,
		Message: message,
	}
}

// FromStatus converts an HTTP error response back into a typed error.
// It is the client-side mirror of the handler's status mapping.
func FromStatus(status int, message string) *AppError {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &AppError{Err: ErrValidation, Message: message}
	case status == http.StatusUnauthorized:
		return Unauthorized(message)
	case status == http.StatusForbidden:
		return Forbidden(message)
	case status == http.StatusNotFound:
		return &AppError{Err: ErrNotFound, Message: message}
	case status == http.StatusConflict:
		return &AppError{Err: ErrConflict, Message: message}
	case status == http.StatusTooManyRequests:
		return Busy(message)
	default:
		return Unavailable(message, fmt.Errorf("http status %d", status))
	}
}
