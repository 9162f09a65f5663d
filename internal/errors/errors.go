// Package errors provides structured error handling for xtrc.
//
// Every error that crosses the daemon boundary carries one of the
// documented codes so clients can branch on it; everything else is
// wrapped as INTERNAL with a sanitized message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced through the HTTP error envelope.
const (
	CodeInvalidRepo       = "INVALID_REPO"
	CodeNotIndexed        = "NOT_INDEXED"
	CodeBusy              = "BUSY"
	CodeDimensionMismatch = "INDEX_DIMENSION_MISMATCH"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInternal          = "INTERNAL"
)

// Error is the structured error type for xtrc.
type Error struct {
	// Code is one of the Code* constants.
	Code string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works across wrapping.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the error code to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRepo, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotIndexed:
		return http.StatusNotFound
	case CodeBusy:
		return http.StatusConflict
	case CodeDimensionMismatch:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error from an existing error, preserving it as the cause.
// Returns nil if err is nil.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), Cause: err}
}

// Internal wraps an unexpected error as INTERNAL with a sanitized message.
// The cause keeps the full detail for logs; Message stays generic enough
// to return to clients.
func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, Cause: cause}
}

// CodeOf extracts the code from an error chain.
// Non-xtrc errors report INTERNAL.
func CodeOf(err error) string {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return CodeInternal
}

// AsError extracts an *Error from a chain, wrapping foreign errors
// as INTERNAL so callers always have a structured error to encode.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var xe *Error
	if errors.As(err, &xe) {
		return xe
	}
	return Internal("internal error", err)
}
