package errors

// Code is a machine-readable error code.
type Code string

// Graph construction and validation errors (fatal before execution).
const (
	// CodeValidation indicates the workflow graph failed structural validation.
	CodeValidation Code = "VALIDATION_FAILED"
)

// Resource errors (retryable by the caller).
const (
	// CodePoolExhausted indicates no pooled connection became available
	// within the acquire timeout.
	CodePoolExhausted Code = "POOL_EXHAUSTED"
	// CodeConnectionFailed indicates a resource factory could not open a
	// connection.
	CodeConnectionFailed Code = "CONNECTION_FAILED"
	// CodeResourceUnknown indicates a node referenced a resource name that
	// is not registered.
	CodeResourceUnknown Code = "RESOURCE_UNKNOWN"
)

// Failure-isolation errors.
const (
	// CodeCircuitOpen indicates the circuit breaker rejected the call
	// without touching the protected resource.
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)

// Execution errors.
const (
	// CodeNodeExecution indicates a node's business logic failed after its
	// retry policy was exhausted.
	CodeNodeExecution Code = "NODE_EXECUTION_FAILED"
	// CodeTimeout indicates a node- or workflow-level deadline elapsed.
	CodeTimeout Code = "TIMEOUT"
	// CodeCancelled indicates the operation was cancelled by fail-fast
	// propagation or external cancellation. Never retried.
	CodeCancelled Code = "CANCELLED"
	// CodeInternal indicates an unexpected runtime failure.
	CodeInternal Code = "INTERNAL_ERROR"
)

var retryableCodes = map[Code]bool{
	CodePoolExhausted:    true,
	CodeConnectionFailed: true,
	CodeTimeout:          false,
	CodeCircuitOpen:      false,
	CodeValidation:       false,
	CodeCancelled:        false,
	CodeNodeExecution:    false,
	CodeInternal:         false,
}

// IsRetryableCode returns true if the code indicates a retryable error.
func IsRetryableCode(code Code) bool {
	return retryableCodes[code]
}
