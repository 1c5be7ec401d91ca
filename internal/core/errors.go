package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures by who caused them.
type ErrorKind int

// Error kinds, ordered by precedence when mapping to HTTP status.
const (
	KindUnexpected ErrorKind = iota
	KindValidation
	KindUpstreamConnection
	KindUpstreamTimeout
	KindCanceled
	KindInvalidConfig
)

// StatusClientClosedRequest is the non-standard status logged when the client went away.
const StatusClientClosedRequest = 499

// Error code constants
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeModelNotFound      = "MODEL_NOT_FOUND"
	ErrCodeUpstreamConnection = "UPSTREAM_CONNECTION_FAILED"
	ErrCodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	ErrCodeCanceled           = "REQUEST_CANCELED"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeInvalidConfig      = "INVALID_CONFIG"
)

// AppError is the single error type surfaced by the gateway.
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap supports errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to the client-facing status code.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstreamConnection:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to show to clients. Unexpected errors are
// reported generically.
func (e *AppError) PublicMessage() string {
	if e.Kind == KindUnexpected || e.Kind == KindInvalidConfig {
		return "internal server error"
	}
	return e.Message
}

// NewAppError creates a new application error
func NewAppError(kind ErrorKind, code, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrValidation reports a malformed or incomplete client request.
func ErrValidation(format string, args ...any) *AppError {
	return NewAppError(KindValidation, ErrCodeInvalidRequest, fmt.Sprintf(format, args...), nil)
}

// ErrModelNotFound reports a model that is not in the catalog.
func ErrModelNotFound(model string) *AppError {
	return NewAppError(KindValidation, ErrCodeModelNotFound, fmt.Sprintf("Model '%s' not available", model), nil)
}

// ErrUpstreamConnection reports that the backend could not be reached or rejected the call.
func ErrUpstreamConnection(message string, cause error) *AppError {
	return NewAppError(KindUpstreamConnection, ErrCodeUpstreamConnection, message, cause)
}

// ErrUpstreamTimeout reports that the backend exceeded the configured wait.
func ErrUpstreamTimeout(cause error) *AppError {
	return NewAppError(KindUpstreamTimeout, ErrCodeUpstreamTimeout, "Request timeout", cause)
}

// ErrCanceled reports that the client abandoned the request.
func ErrCanceled(cause error) *AppError {
	return NewAppError(KindCanceled, ErrCodeCanceled, "request canceled", cause)
}

// ErrUnexpected wraps any other fault.
func ErrUnexpected(cause error) *AppError {
	return NewAppError(KindUnexpected, ErrCodeInternal, "unexpected error", cause)
}

// ErrInvalidConfig reports a configuration problem found at startup.
func ErrInvalidConfig(field string, reason string) *AppError {
	return NewAppError(KindInvalidConfig, ErrCodeInvalidConfig,
		fmt.Sprintf("Invalid configuration for %s: %s", field, reason), nil)
}

// AsAppError returns err as an *AppError, wrapping unknown errors as unexpected.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrUnexpected(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
