package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeExecution      = "EXECUTION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeStepFailed     = "STEP_FAILED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeToolBackend    = "TOOL_BACKEND_ERROR"
	ErrCodeCircuitOpen    = "CIRCUIT_OPEN"
	ErrCodeStore          = "STORE_ERROR"
)

// AgentCoreError is the structured error type for all agent-core operations.
type AgentCoreError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AgentCoreError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AgentCoreError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AgentCoreError.
func NewError(code, message string) *AgentCoreError {
	return &AgentCoreError{Code: code, Message: message}
}

// NewErrorf creates a new AgentCoreError with a formatted message.
func NewErrorf(code, format string, args ...any) *AgentCoreError {
	return &AgentCoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *AgentCoreError) WithStep(step string) *AgentCoreError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *AgentCoreError) WithCause(err error) *AgentCoreError {
	e.Cause = err
	return e
}

// IsCode reports whether err is an AgentCoreError with the given code.
func IsCode(err error, code string) bool {
	var acErr *AgentCoreError
	return errors.As(err, &acErr) && acErr.Code == code
}

// WithDetails attaches key-value details.
func (e *AgentCoreError) WithDetails(details map[string]any) *AgentCoreError {
	e.Details = details
	return e
}
