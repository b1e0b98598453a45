// Package apperror defines the domain error taxonomy shared by every layer.
//
// Services return *AppError values wrapping one of the sentinels below.
// Only the HTTP layer (handler.writeError) decides which status code a
// sentinel maps to, so the service and repository packages stay HTTP-agnostic.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream unavailable")
)

type AppError struct {
	Err     error  // sentinel the error wraps
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

// Conflict reports a uniqueness violation, e.g. an email that is already registered.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
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

// Unauthorized covers bad credentials as well as missing, expired or
// malformed tokens. HTTP handlers map this to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// UpstreamUnavailable reports that a required external service could not be
// reached or answered with an error. HTTP handlers map this to 502.
func UpstreamUnavailable(service string, cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %s: %v", ErrUpstream, service, cause),
		Message: fmt.Sprintf("%s service unavailable", service),
	}
}
