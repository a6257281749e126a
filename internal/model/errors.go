package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnavailable    = errors.New("service unavailable")
	ErrConflict       = errors.New("conflict")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewUpstreamError creates a 502 error for marketplace or backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewUnavailableError creates a 503 error when an upstream is shed by the
// circuit breaker.
func NewUnavailableError(service string) *APIError {
	return &APIError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("%s temporarily unavailable", service),
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrUnavailable,
	}
}

// NewConflictError creates a 409 error, used when an exclusive operation is
// already running.
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:       "CONFLICT",
		Message:    reason,
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}

// IsTransient reports whether err is worth retrying: network failures,
// upstream 5xx, rate limiting and breaker shedding. Validation, auth and
// platform business errors are not transient. Context cancellation never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUpstreamError) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FailureClass labels a document-creation failure reported by the platform.
type FailureClass string

const (
	// FailureCannotPrint: the platform refuses to print this booking.
	FailureCannotPrint FailureClass = "logistics.booking_can_not_print"
	// FailureTrackingInvalid: the recorded tracking number is rejected.
	FailureTrackingInvalid FailureClass = "logistics.tracking_number_invalid"
	// FailureUnclassified covers every other error code.
	FailureUnclassified FailureClass = ""
)

// Classify maps a platform error code to a FailureClass.
func Classify(code string) FailureClass {
	switch FailureClass(code) {
	case FailureCannotPrint:
		return FailureCannotPrint
	case FailureTrackingInvalid:
		return FailureTrackingInvalid
	default:
		return FailureUnclassified
	}
}

// Terminal reports whether resubmitting the booking cannot succeed without
// an external change.
func (c FailureClass) Terminal() bool {
	return c == FailureCannotPrint || c == FailureTrackingInvalid
}

// PlatformError is a business error reported by the marketplace inside a
// successful HTTP exchange (the "error" field of the response envelope).
type PlatformError struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *PlatformError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Class classifies the platform error code.
func (e *PlatformError) Class() FailureClass {
	return Classify(e.Code)
}
