// Package errors defines AppError, the coded error services return and the
// HTTP layer maps to a status.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode names an error category. It is also the "error" field of API
// error bodies.
type ErrorCode string

const (
	ErrCodeNotFound   ErrorCode = "not_found"
	ErrCodeConflict   ErrorCode = "conflict"
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInvalidTransition marks a rejected job status change. Stored state is unchanged.
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	ErrCodeForeignKey        ErrorCode = "foreign_key"
	ErrCodeUnauthorized      ErrorCode = "unauthorized"
	ErrCodeInternal          ErrorCode = "internal"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeCanceled          ErrorCode = "canceled"
)

// AppError is an error with a category, a client-safe message and an
// optional cause reachable through errors.Is and errors.As.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field is the offending input field for validation errors.
	Field string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

// New returns an AppError with code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NotFound reports a missing resource.
func NotFound(message string) *AppError { return New(ErrCodeNotFound, message) }

// NotFoundf is NotFound with a formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf(format, args...))
}

// Conflict reports a clash with existing data.
func Conflict(message string) *AppError { return New(ErrCodeConflict, message) }

// Validation reports bad input. No job is created for it.
func Validation(message string) *AppError { return New(ErrCodeValidation, message) }

// Validationf is Validation with a formatted message.
func Validationf(format string, args ...any) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// ValidationField is Validation naming the offending field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// InvalidTransition wraps cause, usually model.ErrInvalidTransition, with a
// description of the attempted move.
func InvalidTransition(cause error, format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Wrap attaches code and message to err. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

func asApp(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// GetCode returns the code of the first AppError in err's chain, or "".
func GetCode(err error) ErrorCode {
	if e := asApp(err); e != nil {
		return e.Code
	}
	return ""
}

// GetField returns the Field of the first AppError in err's chain, or "".
func GetField(err error) string {
	if e := asApp(err); e != nil {
		return e.Field
	}
	return ""
}

// HasCode reports whether err's chain holds an AppError with code.
func HasCode(err error, code ErrorCode) bool { return GetCode(err) == code && code != "" }

func IsNotFound(err error) bool          { return HasCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool          { return HasCode(err, ErrCodeConflict) }
func IsValidation(err error) bool        { return HasCode(err, ErrCodeValidation) }
func IsInvalidTransition(err error) bool { return HasCode(err, ErrCodeInvalidTransition) }
