package model

import "fmt"

// Error codes of the dispatch taxonomy. Transports map these to their own
// outer codes (HTTP status, MCP error results) but never rewrite them.
const (
	ErrCodeUnknownTool    = "UNKNOWN_TOOL"    // no facade with that name; not retried
	ErrCodeUnknownAction  = "UNKNOWN_ACTION"  // facade has no such action; not retried
	ErrCodeRateLimited    = "RATE_LIMITED"    // retryable after RetryAfterMs
	ErrCodeAccessDenied   = "ACCESS_DENIED"   // policy rejection; not retried
	ErrCodeExecutionError = "EXECUTION_ERROR" // handler failure, message passed through
	ErrCodeUnavailable    = "UNAVAILABLE"     // bridge could not reach the daemon in budget
	ErrCodeUnauthorized   = "UNAUTHORIZED"    // bad or missing shared secret
)

// KnownErrorCode reports whether code belongs to the dispatch taxonomy.
func KnownErrorCode(code string) bool {
	switch code {
	case ErrCodeUnknownTool, ErrCodeUnknownAction, ErrCodeRateLimited,
		ErrCodeAccessDenied, ErrCodeExecutionError, ErrCodeUnavailable,
		ErrCodeUnauthorized:
		return true
	}
	return false
}

// CodedError is an error carrying a taxonomy code. The kernel converts any
// CodedError returned by a collaborator into the matching error envelope.
type CodedError struct {
	Code         string
	Message      string
	RetryAfterMs int64 // populated only for RATE_LIMITED
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCodedError builds a CodedError with the given taxonomy code.
func NewCodedError(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}
