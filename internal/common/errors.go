package common

import "errors"

// AppError represents an error with an attached code, HTTP status and retry classification.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Retryable  bool
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithErr returns a copy of the AppError wrapping the provided cause.
func (e *AppError) WithErr(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Err = err
	return &clone
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// AsAppError extracts an AppError from the chain when present.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	_, ok := AsAppError(err)
	return ok
}

// IsRetryable reports whether the error chain is classified as transient.
// Errors outside the AppError taxonomy are treated as transient so that
// unclassified infrastructure failures keep their retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if app, ok := AsAppError(err); ok {
		return app.Retryable
	}
	return true
}

// ErrorCode returns the machine-readable code for the error, or "INTERNAL".
func ErrorCode(err error) string {
	if app, ok := AsAppError(err); ok && app.Code != "" {
		return app.Code
	}
	return "INTERNAL"
}

// HTTPStatusFor maps the error chain to an HTTP status code.
func HTTPStatusFor(err error, fallback int) int {
	if app, ok := AsAppError(err); ok && app.HTTPStatus != 0 {
		return app.HTTPStatus
	}
	return fallback
}
