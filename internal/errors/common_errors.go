package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeNotFound         ErrorType = "NOT_FOUND"
	ErrTypeInvalidState     ErrorType = "INVALID_STATE"
	ErrTypeAmountMismatch   ErrorType = "AMOUNT_MISMATCH"
	ErrTypeUnauthorized     ErrorType = "UNAUTHORIZED"
	ErrTypeCapacityExceeded ErrorType = "CAPACITY_EXCEEDED"
	ErrTypeTransient        ErrorType = "TRANSIENT"
	ErrTypeValidation       ErrorType = "VALIDATION"
	ErrTypeSignature        ErrorType = "SIGNATURE"
	ErrTypeConfig           ErrorType = "CONFIG"
	ErrTypeInternal         ErrorType = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError of the same type, so sentinel values such as
// ErrTransient work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is checks. They match any AppError of the same type.
var (
	ErrNotFound         = &AppError{Type: ErrTypeNotFound}
	ErrInvalidState     = &AppError{Type: ErrTypeInvalidState}
	ErrAmountMismatch   = &AppError{Type: ErrTypeAmountMismatch}
	ErrUnauthorized     = &AppError{Type: ErrTypeUnauthorized}
	ErrCapacityExceeded = &AppError{Type: ErrTypeCapacityExceeded}
	ErrTransient        = &AppError{Type: ErrTypeTransient}
)

// Helper functions for common error types

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewInvalidStateError creates a state precondition error
func NewInvalidStateError(message string) *AppError {
	return NewAppError(ErrTypeInvalidState, message, nil)
}

// NewAmountMismatchError creates an amount integrity error
func NewAmountMismatchError(expected, reported string) *AppError {
	return NewAppError(ErrTypeAmountMismatch, "reported amount does not match order amount", nil).
		WithContext("expected", expected).
		WithContext("reported", reported)
}

// NewUnauthorizedError creates a device authorization error
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrTypeUnauthorized, message, nil)
}

// NewCapacityExceededError creates a device limit error carrying the counts
func NewCapacityExceededError(current, limit int) *AppError {
	return NewAppError(ErrTypeCapacityExceeded, fmt.Sprintf("device limit reached (%d/%d)", current, limit), nil).
		WithContext("current_devices", current).
		WithContext("max_devices", limit)
}

// NewTransientError creates a retryable store or dependency error
func NewTransientError(message string, cause error) *AppError {
	return NewAppError(ErrTypeTransient, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewSignatureError creates an invalid signature error
func NewSignatureError(message string) *AppError {
	return NewAppError(ErrTypeSignature, message, nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewInternalError creates an unexpected fault
func NewInternalError(message string, cause error) *AppError {
	return NewAppError(ErrTypeInternal, message, cause)
}

// TypeOf returns the ErrorType of the first AppError in err's chain,
// or ErrTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeInternal
}

// IsTransient reports whether err should be retried by the caller.
// Context deadline expiry counts as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return TypeOf(err) == ErrTypeTransient
}
