// Package errors provides the unified error type used across the data access
// layer. Every failure that crosses a component boundary is classified into
// one of the taxonomy types below so that retry and fallback decisions are
// driven by the classification rather than by string matching.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// ERROR TAXONOMY
// ============================================================================

// ErrorType defines the category of error for retry and fallback handling.
type ErrorType string

const (
	// ErrorTypeTransport covers network-level failures: connection refused,
	// DNS, resets, and per-attempt timeouts. Always retryable.
	ErrorTypeTransport ErrorType = "TRANSPORT"

	// ErrorTypeRemoteRejection covers responses where the remote service
	// answered but its payload carried an embedded error. Retryable the same
	// way transport failures are.
	ErrorTypeRemoteRejection ErrorType = "REMOTE_REJECTION"

	// ErrorTypeValidation covers records rejected by a resource validator.
	// Per-record, never retried.
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConfiguration covers missing or invalid credentials and
	// endpoints. Fatal for the operation; never consumes retry budget.
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"

	// ErrorTypeTimeout marks a per-attempt timeout specifically. It is a
	// transport-class failure kept distinct for diagnostics.
	ErrorTypeTimeout ErrorType = "TIMEOUT"

	// ErrorTypeNotFound covers lookups for records that do not exist.
	ErrorTypeNotFound ErrorType = "NOT_FOUND"
)

// ============================================================================
// UNIFIED ERROR STRUCTURE
// ============================================================================

// Error is the single error type used by the cache, retry, strategy, and
// repository layers.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`

	// Context of the failing call.
	Operation string `json:"operation,omitempty"`
	Resource  string `json:"resource,omitempty"`

	// Retry metadata.
	Retryable  bool          `json:"retryable"`
	Attempts   int           `json:"attempts,omitempty"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithOperation attaches the name of the failing operation.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithResource attaches the logical resource being operated on.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithAttempts records how many attempts were made before giving up.
func (e *Error) WithAttempts(n int) *Error {
	e.Attempts = n
	return e
}

// ============================================================================
// CONSTRUCTORS
// ============================================================================

// Transport creates a retryable network-level error.
func Transport(code, message string) *Error {
	return &Error{Type: ErrorTypeTransport, Code: code, Message: message, Retryable: true}
}

// Timeout creates a retryable per-attempt timeout error.
func Timeout(code, message string) *Error {
	return &Error{Type: ErrorTypeTimeout, Code: code, Message: message, Retryable: true}
}

// RemoteRejection creates a retryable application-level rejection from the
// remote service's own error channel.
func RemoteRejection(code, message string) *Error {
	return &Error{Type: ErrorTypeRemoteRejection, Code: code, Message: message, Retryable: true}
}

// Validation creates a non-retryable per-record validation error.
func Validation(code, message string) *Error {
	return &Error{Type: ErrorTypeValidation, Code: code, Message: message, Retryable: false}
}

// Configuration creates a fatal configuration error. Configuration errors
// short-circuit retry sequences entirely.
func Configuration(code, message string) *Error {
	return &Error{Type: ErrorTypeConfiguration, Code: code, Message: message, Retryable: false}
}

// NotFound creates a non-retryable missing-record error.
func NotFound(code, message string) *Error {
	return &Error{Type: ErrorTypeNotFound, Code: code, Message: message, Retryable: false}
}

// ============================================================================
// CLASSIFICATION HELPERS
// ============================================================================

// TypeOf returns the taxonomy type of err, or empty string when err is not a
// unified error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsRetryable reports whether the retry engine may attempt err again.
// Unclassified errors are treated as retryable transport failures so that an
// unexpected driver error does not silently disable resilience.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// IsConfiguration reports whether err is fatal configuration trouble that
// must bypass the retry budget.
func IsConfiguration(err error) bool {
	return TypeOf(err) == ErrorTypeConfiguration
}

// IsTimeout reports whether err is a per-attempt timeout.
func IsTimeout(err error) bool {
	return TypeOf(err) == ErrorTypeTimeout
}

// IsValidation reports whether err is a record validation failure.
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}
