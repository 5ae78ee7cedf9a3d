package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an API error, using the wire values of
// the Messages protocol.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypePermission     ErrorType = "permission_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
	ErrorTypeOverloaded     ErrorType = "overloaded_error"
	ErrorTypeAPI            ErrorType = "api_error"
)

// StatusOverloaded is the non-standard status code signaling overload.
const StatusOverloaded = 529

// APIError is a structured protocol error.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	// Status, when non-zero, overrides the default HTTP status for the
	// error type. Used to preserve a downstream status code.
	Status int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatus returns the HTTP status code to answer with.
func (e *APIError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return StatusOverloaded
	default:
		return http.StatusBadGateway
	}
}

// ErrorResponse is the top-level error envelope.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// NewErrorResponse wraps an APIError in the error envelope.
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{Type: "error", Error: err}
}

// NewInvalidRequestError creates an APIError for a local validation failure.
func NewInvalidRequestError(message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Message: message}
}

// NewAuthenticationError creates an APIError for failed authentication.
func NewAuthenticationError(message string) *APIError {
	return &APIError{Type: ErrorTypeAuthentication, Message: message}
}

// NewPermissionError creates an APIError for insufficient permissions.
func NewPermissionError(message string) *APIError {
	return &APIError{Type: ErrorTypePermission, Message: message}
}

// NewNotFoundError creates an APIError for a missing resource.
func NewNotFoundError(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

// NewRateLimitError creates an APIError for rate limiting.
func NewRateLimitError(message string) *APIError {
	return &APIError{Type: ErrorTypeRateLimit, Message: message}
}

// NewOverloadedError creates an APIError for downstream overload.
func NewOverloadedError(message string) *APIError {
	return &APIError{Type: ErrorTypeOverloaded, Message: message}
}

// NewAPIError creates an APIError for a downstream or unexpected
// translation failure.
func NewAPIError(message string) *APIError {
	return &APIError{Type: ErrorTypeAPI, Message: message}
}

// AsAPIError extracts the APIError carried by err, wrapping any other
// error as an api_error.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewAPIError(err.Error())
}
