package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/corpus"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorCode represents error codes used in API responses
type ErrorCode string

const (
	// ErrorCodeInvalidRequest represents invalid request parameters
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrorCodeInvalidSource represents an unreadable corpus source
	ErrorCodeInvalidSource ErrorCode = "INVALID_SOURCE"

	// ErrorCodePayloadTooLarge represents an upload above the size limit
	ErrorCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrorCodeMethodNotAllowed represents a wrong HTTP method
	ErrorCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"

	// ErrorCodeNotFound represents a not found error
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrorCodeTimeout represents an analysis that ran out of time
	ErrorCodeTimeout ErrorCode = "TIMEOUT"

	// ErrorCodeInternalError represents an internal server error
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// APIError represents an API error with status code and message
type APIError struct {
	Code       ErrorCode
	StatusCode int
	Message    string
}

// NewAPIError creates a new API error
func NewAPIError(code ErrorCode, statusCode int, message string) *APIError {
	return &APIError{
		Code:       code,
		StatusCode: statusCode,
		Message:    message,
	}
}

// Error returns the error message
func (e *APIError) Error() string {
	return e.Message
}

// GetResponse returns the error response
func (e *APIError) GetResponse() ErrorResponse {
	return ErrorResponse{
		Error:   string(e.Code),
		Message: e.Message,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string, args ...interface{}) *APIError {
	return NewAPIError(ErrorCodeInvalidRequest, http.StatusBadRequest, fmt.Sprintf(message, args...))
}

// NewInternalServerError creates an internal server error
func NewInternalServerError(message string, args ...interface{}) *APIError {
	return NewAPIError(ErrorCodeInternalError, http.StatusInternalServerError, fmt.Sprintf(message, args...))
}

// FromError maps domain errors onto API errors. Unknown errors become
// internal errors.
func FromError(err error) *APIError {
	var apiErr *APIError
	var sourceErr *corpus.SourceError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, analysis.ErrInvalidRequest):
		return NewAPIError(ErrorCodeInvalidRequest, http.StatusBadRequest, err.Error())
	case errors.As(err, &sourceErr), errors.Is(err, corpus.ErrUnsupportedFormat):
		return NewAPIError(ErrorCodeInvalidSource, http.StatusBadRequest, err.Error())
	case errors.As(err, &maxBytesErr):
		return NewAPIError(ErrorCodePayloadTooLarge, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit))
	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError(ErrorCodeTimeout, http.StatusGatewayTimeout, err.Error())
	}
	return NewInternalServerError("%v", err)
}
