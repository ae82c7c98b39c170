package utils

import (
	"context"
	"errors"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"            // atomic precondition failed, caller may retry
	ErrPersistenceFailure = "PERSISTENCE_FAILURE" // storage unavailable or timed out
	ErrBroadcastFailure   = "BROADCAST_FAILURE"   // never returned to HTTP callers
	ErrUnauthorized       = "UNAUTHORIZED"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewInvalidRequestError(message string) *AppError {
	return &AppError{Code: ErrInvalidRequest, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: ErrNotFound, Message: message}
}

func NewConflictError(message string) *AppError {
	return &AppError{Code: ErrConflict, Message: message}
}

// NewPersistenceError wraps a storage failure. Timeouts keep their origin so
// errors.Is(err, context.DeadlineExceeded) still works on the result.
func NewPersistenceError(message string, originalErr error) *AppError {
	return &AppError{Code: ErrPersistenceFailure, Message: message, Origin: originalErr}
}

func NewUnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "Unauthorized: " + reason,
	}
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// ErrorCode returns the AppError code of err. Errors without a code are persistence failures.
func ErrorCode(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrPersistenceFailure
}

// ClassifyStorageError turns a raw storage error into an AppError, leaving AppErrors untouched.
func ClassifyStorageError(message string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsAppError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewPersistenceError(message+": timed out", err)
	}
	return NewPersistenceError(message, err)
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrPersistenceFailure, ErrBroadcastFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
