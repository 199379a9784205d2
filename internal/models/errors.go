package models

import (
	"fmt"
	"maps"
	"net/http"
)

// ErrorCode is the machine readable kind of an API error.
type ErrorCode string

// Request errors.
const (
	ErrorCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrorCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrorCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrorCodeRateLimited   ErrorCode = "RATE_LIMITED"
	ErrorCodeConflict      ErrorCode = "CONFLICT"
	ErrorCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// Form engine errors. Each one maps to a typed error in taxonomy.go.
const (
	// ErrorCodeSchemaInvalid: authored definitions failed static validation.
	ErrorCodeSchemaInvalid ErrorCode = "SCHEMA_INVALID"
	// ErrorCodeValidationFailed: a submission failed required or type checks.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeStoreUnavailable: a store call failed.
	ErrorCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrorCodePartialSaveFailure: a replace-all save deleted the old
	// definitions and then failed to write the new ones.
	ErrorCodePartialSaveFailure ErrorCode = "PARTIAL_SAVE_FAILURE"
)

// ErrorDetails is the error member of ErrorResponse.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is implemented by errors that know how they are reported
// over HTTP.
type ErrorWithStatus interface {
	error
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is the generic ErrorWithStatus.
type APIError struct {
	status  int
	code    ErrorCode
	message string
	details map[string]any
}

// NewAPIError returns an error reported as status with code.
func NewAPIError(status int, code ErrorCode, message string) *APIError {
	return &APIError{status: status, code: code, message: message}
}

// WithDetail sets one detail and returns e.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = map[string]any{}
	}
	e.details[key] = value
	return e
}

func (e *APIError) Error() string           { return e.message }
func (e *APIError) StatusCode() int         { return e.status }
func (e *APIError) Code() ErrorCode         { return e.code }
func (e *APIError) Details() map[string]any { return maps.Clone(e.details) }

// NotFound returns a 404 for the named resource.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, resource+" not found")
}

// BadRequest returns a 400 with the given message.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeInvalidFormat, message)
}

// MissingField returns a 400 naming the absent request member.
func MissingField(name string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, fmt.Sprintf("missing required field: %s", name))
}
