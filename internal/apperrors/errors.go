// Package apperrors defines the error taxonomy surfaced by the chat service
// and the HTTP status each category maps to.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindStateConflict    Kind = "state_conflict"
	KindTransientStore   Kind = "transient_store"
	KindDeliveryDegraded Kind = "delivery_degraded"
)

// Error codes returned to API clients.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionNotActive = "SESSION_NOT_ACTIVE"
	CodeNotParticipant   = "NOT_A_PARTICIPANT"
	CodeDisplayNameSet   = "DISPLAY_NAME_SET"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeDeliveryDegraded = "DELIVERY_DEGRADED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeInternal         = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Kind       Kind   `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may safely retry the operation.
func (e *AppError) Retryable() bool {
	return e.Kind == KindTransientStore
}

// NewError creates a new application error
func NewError(statusCode int, kind Kind, code, message string) *AppError {
	return &AppError{StatusCode: statusCode, Kind: kind, Code: code, Message: message}
}

// Validation is a missing or malformed required field (400, not retried).
func Validation(message string) *AppError {
	return NewError(http.StatusBadRequest, KindValidation, CodeValidation, message)
}

// NotFound is an unknown user or session (404).
func NotFound(code, message string) *AppError {
	return NewError(http.StatusNotFound, KindNotFound, code, message)
}

// StateConflict is a request that contradicts current state, e.g. sending to an ended session.
func StateConflict(code, message string) *AppError {
	return NewError(http.StatusConflict, KindStateConflict, code, message)
}

// SessionNotActive is returned when a message targets an ended session.
func SessionNotActive() *AppError {
	return StateConflict(CodeSessionNotActive, "chat session is not active")
}

// TransientStore wraps a network or store failure; safe to retry on the next poll tick.
func TransientStore(err error) *AppError {
	appErr := NewError(http.StatusInternalServerError, KindTransientStore, CodeStoreUnavailable, "store temporarily unavailable")
	appErr.Err = err
	return appErr
}

// DeliveryDegraded marks a push channel failure. It is logged, never shown to end users.
func DeliveryDegraded(err error) *AppError {
	appErr := NewError(http.StatusServiceUnavailable, KindDeliveryDegraded, CodeDeliveryDegraded, "push channel unavailable")
	appErr.Err = err
	return appErr
}

func Unauthorized(message string) *AppError {
	return NewError(http.StatusUnauthorized, KindValidation, CodeUnauthorized, message)
}

// Forbidden is an authenticated caller acting on behalf of another user.
func Forbidden(message string) *AppError {
	return NewError(http.StatusForbidden, KindValidation, CodeForbidden, message)
}

// FromError converts a standard error to an AppError.
// If the error already is (or wraps) an AppError, that one is returned as-is.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	internal := NewError(http.StatusInternalServerError, KindTransientStore, CodeInternal, "An unexpected error occurred")
	internal.Err = err
	return internal
}

// IsKind checks whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// HasCode checks whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode extracts the HTTP status code, returning 500 for foreign errors.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
