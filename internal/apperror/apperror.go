// Package apperror defines the error kinds shared by every layer.
//
// Storage and service code return *AppError values (possibly wrapped with
// fmt.Errorf("...: %w")). The HTTP layer classifies them with errors.Is
// against the sentinels below and picks a status code:
//
//	ErrValidation          → 400
//	ErrInvalidCredentials  → 401
//	ErrUnauthorized        → 401
//	ErrForbidden           → 403
//	ErrNotFound            → 404
//	ErrConflict            → 409
//	ErrInternal (or any unclassified error) → 500
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal error")
)

// InvalidCredentialsMessage is the only message ever returned for a failed
// login, whether the account is unknown or the password is wrong.
const InvalidCredentialsMessage = "invalid username/email or password"

type AppError struct {
	Err     error  // sentinel kind
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
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

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

// InvalidCredentials is deliberately uninformative.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: InvalidCredentialsMessage,
	}
}

// Unauthorized covers missing, malformed and expired session tokens.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Internal wraps a storage or codec failure. Only Message reaches clients;
// cause stays available to errors.Is/As and to server-side logs.
func Internal(message string, cause error) *AppError {
	err := ErrInternal
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrInternal, cause)
	}
	return &AppError{
		Err:     err,
		Message: message,
	}
}
