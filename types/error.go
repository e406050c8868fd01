package types

import "fmt"

// ErrorCode represents a unified error code across the harness.
type ErrorCode string

// Memory store error codes
const (
	ErrInvalidNamespace  ErrorCode = "INVALID_NAMESPACE"
	ErrInvalidTrustScore ErrorCode = "INVALID_TRUST_SCORE"
	ErrInvalidSource     ErrorCode = "INVALID_SOURCE"
	ErrInvalidEviction   ErrorCode = "INVALID_EVICTION_POLICY"
)

// Skill registry error codes
const (
	ErrDuplicateSkill   ErrorCode = "DUPLICATE_SKILL"
	ErrInvalidSkillSpec ErrorCode = "INVALID_SKILL_SPEC"
)

// Policy and attribution error codes. DEFENSE_REJECTED_WRITE is not a true
// failure: it names the recorded, expected outcome of write-time filtering
// and is never returned to callers as an error.
const (
	ErrDefenseRejectedWrite        ErrorCode = "DEFENSE_REJECTED_WRITE"
	ErrAttributionInputIncomplete  ErrorCode = "ATTRIBUTION_INPUT_INCOMPLETE"
	ErrInvalidConfig               ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
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

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
