package errors

import (
	"errors"
	"fmt"
)

// RuntimeError is the unified error type for the workflow runtime.
type RuntimeError struct {
	// Code is a machine-readable error code.
	Code Code `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the failed operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *RuntimeError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *RuntimeError) WithCause(cause error) *RuntimeError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *RuntimeError) WithDetail(key string, value any) *RuntimeError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a RuntimeError with automatic retryable detection.
func New(code Code, message string) *RuntimeError {
	return &RuntimeError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// Newf creates a RuntimeError with a formatted message.
func Newf(code Code, format string, args ...any) *RuntimeError {
	return New(code, fmt.Sprintf(format, args...))
}

// --- Common Constructors ---

// PoolExhausted creates an error for a pool that could not serve an acquire
// within the timeout.
func PoolExhausted(resource string) *RuntimeError {
	return &RuntimeError{
		Code: CodePoolExhausted, Message: fmt.Sprintf("no connection available for resource %q within timeout", resource),
		Retryable: true,
		Details:   map[string]any{"resource": resource},
	}
}

// CircuitOpen creates an error for a call rejected by an open circuit breaker.
func CircuitOpen(resource string) *RuntimeError {
	return &RuntimeError{
		Code: CodeCircuitOpen, Message: fmt.Sprintf("circuit breaker open for resource %q", resource),
		Retryable: false,
		Details:   map[string]any{"resource": resource},
	}
}

// ConnectionFailed creates an error for a factory that could not open a
// connection to its backing service.
func ConnectionFailed(resource string, cause error) *RuntimeError {
	return &RuntimeError{
		Code: CodeConnectionFailed, Message: fmt.Sprintf("unable to connect to resource %q", resource),
		Retryable: true,
		Details:   map[string]any{"resource": resource},
		Cause:     cause,
	}
}

// ResourceUnknown creates an error for an unregistered resource name.
func ResourceUnknown(resource string) *RuntimeError {
	return &RuntimeError{
		Code: CodeResourceUnknown, Message: fmt.Sprintf("resource %q is not registered", resource),
		Retryable: false,
		Details:   map[string]any{"resource": resource},
	}
}

// NodeExecution creates an error for a node whose business logic failed.
func NodeExecution(nodeID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code: CodeNodeExecution, Message: fmt.Sprintf("node %q failed", nodeID),
		Retryable: false,
		Details:   map[string]any{"node_id": nodeID},
		Cause:     cause,
	}
}

// Timeout creates an error for a node- or workflow-level deadline.
func Timeout(scope string) *RuntimeError {
	return &RuntimeError{
		Code: CodeTimeout, Message: fmt.Sprintf("%s timed out", scope),
		Retryable: false,
		Details:   map[string]any{"scope": scope},
	}
}

// Cancelled creates an error for fail-fast or external cancellation.
func Cancelled(scope string) *RuntimeError {
	return &RuntimeError{
		Code: CodeCancelled, Message: fmt.Sprintf("%s cancelled", scope),
		Retryable: false,
		Details:   map[string]any{"scope": scope},
	}
}

// Internal creates an error for an unexpected runtime failure.
func Internal(message string, cause error) *RuntimeError {
	return &RuntimeError{
		Code: CodeInternal, Message: message,
		Retryable: false,
		Cause:     cause,
	}
}

// --- Inspection helpers ---

// AsRuntime extracts a *RuntimeError from an error chain.
func AsRuntime(err error) (*RuntimeError, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	if re, ok := AsRuntime(err); ok {
		return re.Code == code
	}
	return false
}

// IsRetryable reports whether the error is marked retryable. Errors outside
// the runtime taxonomy are treated as retryable unless they are context
// cancellations, mirroring the default retry predicate.
func IsRetryable(err error) bool {
	if re, ok := AsRuntime(err); ok {
		return re.Retryable
	}
	return err != nil
}
