package errors

import (
	stderrors "errors"
	"fmt"

	"rcie/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	// Status is the HTTP status of a failed gateway call, zero otherwise.
	Status int
	Cause  error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is maps error codes onto the domain taxonomy so callers can use
// errors.Is(err, core.ErrRemote) regardless of which layer produced err.
func (e *AppError) Is(target error) bool {
	switch target {
	case core.ErrValidation:
		return e.Code == CodeValidationError || e.Code == CodeInvalidInput
	case core.ErrRemote:
		return e.Code == CodeExternalService
	case core.ErrDegraded:
		return e.Code == CodeDegraded
	case core.ErrNotFound:
		return e.Code == CodeNotFound
	}
	return false
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Status:  appErr.Status,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    codeFor(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// codeFor classifies plain domain errors.
func codeFor(err error) string {
	switch {
	case core.IsValidationError(err):
		return CodeValidationError
	case core.IsRemoteError(err):
		return CodeExternalService
	case core.IsDegraded(err):
		return CodeDegraded
	case core.IsNotFoundError(err):
		return CodeNotFound
	}
	return CodeInternalError
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code if err is or wraps an AppError, otherwise the
// code implied by the domain sentinel it wraps.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	if code := codeFor(err); code != CodeInternalError {
		return code
	}
	return "UNKNOWN"
}

// GetStatus returns the gateway HTTP status carried by err, or zero.
func GetStatus(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeDegraded        = "DEGRADED_RESULT"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{Code: CodeDatabaseError, Message: message, Cause: cause}
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

// ExternalServiceError reports a failed call to a remote collaborator.
func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Message: fmt.Sprintf("%s service error", service),
		Cause:   cause,
	}
}

// RemoteStatus reports a gateway call that returned a non-success status.
func RemoteStatus(op string, status int, detail string) *AppError {
	msg := fmt.Sprintf("gateway %s failed with status %d", op, status)
	if detail != "" {
		msg += ": " + detail
	}
	return &AppError{
		Code:    CodeExternalService,
		Message: msg,
		Status:  status,
	}
}

// Degraded marks a result that completed with fallback or partial data.
func Degraded(message string, cause error) *AppError {
	return &AppError{Code: CodeDegraded, Message: message, Cause: cause}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}
