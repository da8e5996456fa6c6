package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the substrate.
type ErrorCode string

// Registry error codes
const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrAlreadyRegistered ErrorCode = "ALREADY_REGISTERED"
	ErrAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
)

// Coordinator error codes
const (
	ErrInvalidWorkflowSpec ErrorCode = "INVALID_WORKFLOW_SPEC"
	ErrTaskFailed          ErrorCode = "TASK_FAILED"
	ErrAgentStartFailed    ErrorCode = "AGENT_START_FAILED"
)

// Governor error codes
const (
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

// State machine error codes
const (
	ErrInvalidState      ErrorCode = "INVALID_STATE"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrLockHeld          ErrorCode = "LOCK_HELD"
	ErrLockTimeout       ErrorCode = "LOCK_TIMEOUT"
	ErrStateMismatch     ErrorCode = "STATE_MISMATCH"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable. Governor rejections
// (RATE_LIMITED, CIRCUIT_OPEN) are recoverable-by-caller, never fatal.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error, or "" if it carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
