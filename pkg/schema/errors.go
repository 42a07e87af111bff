package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeTemplate            = "TEMPLATE_ERROR"
	ErrCodeTool                = "TOOL_ERROR"
	ErrCodeCompute             = "COMPUTE_ERROR"
	ErrCodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeRetryExhausted      = "RETRY_EXHAUSTED"
	ErrCodeStore               = "STORE_ERROR"
)

// SkillError is the structured error type for all engine operations.
type SkillError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SkillError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SkillError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SkillError.
func NewError(code, message string) *SkillError {
	return &SkillError{Code: code, Message: message}
}

// NewErrorf creates a new SkillError with a formatted message.
func NewErrorf(code, format string, args ...any) *SkillError {
	return &SkillError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *SkillError) WithStep(step string) *SkillError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *SkillError) WithCause(err error) *SkillError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SkillError) WithDetails(details map[string]any) *SkillError {
	e.Details = details
	return e
}
