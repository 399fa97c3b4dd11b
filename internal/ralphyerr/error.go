// Package ralphyerr normalizes arbitrary failure values into a single
// uniform error shape and classifies them for the retry engine.
package ralphyerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies the broad category of a normalized error.
type Code string

const (
	CodeTimeout     Code = "TIMEOUT"
	CodeProcess     Code = "PROCESS"
	CodeNetwork     Code = "NETWORK"
	CodeRateLimit   Code = "RATE_LIMIT"
	CodeAuth        Code = "AUTH"
	CodeValidation  Code = "VALIDATION"
	CodeString      Code = "STRING_ERROR"
	CodeUnknown     Code = "UNKNOWN_ERROR"
)

// Error is the uniform error value carried across the kernel.
type Error struct {
	Message string
	Code    Code
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the original error stored in Context["cause"], if any, so
// errors.Is/As keep working through normalization.
func (e *Error) Unwrap() error {
	if e.Context == nil {
		return nil
	}
	if cause, ok := e.Context["cause"].(error); ok {
		return cause
	}
	return nil
}

// New builds an Error with an explicit code.
func New(code Code, message string, context map[string]any) *Error {
	return &Error{Message: message, Code: code, Context: context}
}

// Normalize converts an arbitrary value (typically a recovered panic, or an
// error returned from a boundary that may not use this package's Error) into
// an *Error. Errors keep their message and the original error in context;
// strings become STRING_ERROR; anything else is stringified as
// UNKNOWN_ERROR.
func Normalize(v any) *Error {
	switch val := v.(type) {
	case nil:
		return nil
	case *Error:
		return val
	case error:
		var e *Error
		if errors.As(val, &e) {
			return e
		}
		return &Error{
			Message: val.Error(),
			Code:    ClassifyMessage(val.Error(), CodeUnknown),
			Context: map[string]any{"cause": val},
		}
	case string:
		return &Error{Message: val, Code: CodeString}
	default:
		return &Error{Message: fmt.Sprintf("%v", val), Code: CodeUnknown}
	}
}

// retryablePatterns are substrings (case-insensitive) that mark a message as
// transient.
var retryablePatterns = []string{
	"timeout",
	"connection refused",
	"network",
	"rate limit",
	"too many requests",
	"temporary failure",
	"try again",
	"econnrefused",
	"econnreset",
	"socket hang up",
	"fetch failed",
	"unable to connect",
}

// fatalPatterns override retryablePatterns: a message matching one of these
// is never retried regardless of code or other pattern matches.
var fatalPatterns = []string{
	"not authenticated",
	"authentication failed",
	"invalid token",
	"invalid api key",
	"unauthorized",
	"401",
	"403",
	"command not found",
	"not installed",
	"not recognized",
}

var retryableCodes = map[Code]bool{
	CodeTimeout:   true,
	CodeProcess:   true,
	CodeNetwork:   true,
	CodeRateLimit: true,
}

// networkPatterns are substrings (case-insensitive) identifying a
// connection-class failure, the subset of retryablePatterns the circuit
// breaker tracks specifically.
var networkPatterns = []string{
	"connection refused",
	"network",
	"econnrefused",
	"econnreset",
	"socket hang up",
	"fetch failed",
	"unable to connect",
}

var timeoutPatterns = []string{
	"timeout",
	"deadline exceeded",
}

// ClassifyMessage inspects message for timeoutPatterns and networkPatterns
// and returns the Code it implies,
// or fallback if none match. Boundaries that only have a raw message (a
// subprocess's combined stdout/stderr, a wrapped exec error) use this to
// produce a properly-coded Error instead of defaulting every failure to
// one catch-all code.
func ClassifyMessage(message string, fallback Code) Code {
	lower := strings.ToLower(message)
	for _, p := range timeoutPatterns {
		if strings.Contains(lower, p) {
			return CodeTimeout
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(lower, p) {
			return CodeNetwork
		}
	}
	return fallback
}

// IsFatal reports whether err should never be retried.
func IsFatal(err *Error) bool {
	if err == nil {
		return false
	}
	if err.Code == CodeAuth {
		return true
	}
	lower := strings.ToLower(err.Message)
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is transient and worth retrying. Fatal
// patterns always win over retryable ones.
func IsRetryable(err *Error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	if retryableCodes[err.Code] {
		return true
	}
	lower := strings.ToLower(err.Message)
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
