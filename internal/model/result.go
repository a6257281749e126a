package model

import "errors"

// Result is the uniform shape returned by every marketplace operation
// endpoint. Error carries the platform or validation code when Success is
// false.
type Result struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// OK wraps data in a successful Result.
func OK(data interface{}) Result {
	return Result{Success: true, Data: data}
}

// Failed converts err into a failed Result, preserving the APIError code.
func Failed(err error) Result {
	var platErr *PlatformError
	if errors.As(err, &platErr) {
		return Result{Error: platErr.Code, Message: platErr.Message, RequestID: platErr.RequestID}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return Result{Error: apiErr.Code, Message: apiErr.Message}
	}
	return Result{Error: "INTERNAL_ERROR", Message: err.Error()}
}
