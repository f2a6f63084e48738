package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the reconciliation pipeline. Every stage failure carries
// exactly one of these so callers can tell a missing task from a denied
// access check from a flaky backend.
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeFeatureDisabled   = "FEATURE_DISABLED"
	ErrCodeRemoteExecution   = "REMOTE_EXECUTION_FAILURE"
	ErrCodeStatusUnavailable = "STATUS_UNAVAILABLE"
	ErrCodePersistence       = "PERSISTENCE_FAILURE"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error constructors, one per pipeline failure kind.
func NotFoundf(format string, args ...any) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf(format, args...), nil)
}

func PermissionDenied(message string) *AppError {
	return NewAppError(ErrCodePermissionDenied, message, nil)
}

func FeatureDisabled(message string) *AppError {
	return NewAppError(ErrCodeFeatureDisabled, message, nil)
}

func RemoteExecution(message string, cause error) *AppError {
	return NewAppError(ErrCodeRemoteExecution, message, cause)
}

func StatusUnavailable(message string) *AppError {
	return NewAppError(ErrCodeStatusUnavailable, message, nil)
}

func Persistence(message string, cause error) *AppError {
	return NewAppError(ErrCodePersistence, message, cause)
}

func Configuration(message string, cause error) *AppError {
	return NewAppError(ErrCodeConfiguration, message, cause)
}

func Internal(message string, cause error) *AppError {
	return NewAppError(ErrCodeInternal, message, cause)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// CodeOf extracts the application error code, or ErrCodeInternal for
// anything that is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error to the status the API surface should answer with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeFeatureDisabled:
		return http.StatusConflict
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeRemoteExecution, ErrCodeStatusUnavailable:
		return http.StatusBadGateway
	case ErrCodePersistence, ErrCodeConfiguration, ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
