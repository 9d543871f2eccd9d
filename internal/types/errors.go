package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for engine errors.
type ErrorCode string

// Plan validation error codes. These occur during the pre-execution
// linting pass and are always fatal.
const (
	PLAN_VALIDATION_FAILED ErrorCode = "PLAN_VALIDATION_FAILED"
	PLAN_DUPLICATE_STEP    ErrorCode = "PLAN_DUPLICATE_STEP"
	DEPENDENCY_UNKNOWN     ErrorCode = "DEPENDENCY_UNKNOWN"
	DEPENDENCY_CYCLE       ErrorCode = "DEPENDENCY_CYCLE"
	STEP_TYPE_UNKNOWN      ErrorCode = "STEP_TYPE_UNKNOWN"
)

// Step execution error codes. These are recovered at the step boundary
// and recorded on the failed step's result.
const (
	STEP_EXECUTION_FAILED ErrorCode = "STEP_EXECUTION_FAILED"
	STEP_TIMEOUT          ErrorCode = "STEP_TIMEOUT"
	STEP_SKIPPED          ErrorCode = "STEP_SKIPPED"
)

// Aggregation error codes.
const (
	AGGREGATION_FAILED ErrorCode = "AGGREGATION_FAILED"
	BUDGET_EXHAUSTED   ErrorCode = "BUDGET_EXHAUSTED"
)

// Handler registry error codes.
const (
	HANDLER_NOT_FOUND      ErrorCode = "HANDLER_NOT_FOUND"
	HANDLER_ALREADY_EXISTS ErrorCode = "HANDLER_ALREADY_EXISTS"
	HANDLER_INVALID_INPUT  ErrorCode = "HANDLER_INVALID_INPUT"
)

// Configuration error codes.
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// EngineError represents a structured error with error code, message, and
// optional cause. It supports error wrapping and retryability hints for
// error handling logic.
type EngineError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
// This enables using errors.Is() and errors.As() with wrapped errors.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is an EngineError with the same Code.
func (e *EngineError) Is(target error) bool {
	var engineErr *EngineError
	if errors.As(target, &engineErr) {
		return e.Code == engineErr.Code
	}
	return false
}

// NewError creates a new non-retryable EngineError with the given code and message.
func NewError(code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewRetryableError creates a new retryable EngineError with the given code
// and message. Use this for transient errors that may succeed on retry
// (e.g., network timeouts inside step handlers).
func NewRetryableError(code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     nil,
	}
}

// WrapError creates a new non-retryable EngineError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}
