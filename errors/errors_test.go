package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_RetryableDetection(t *testing.T) {
	if !New(CodePoolExhausted, "exhausted").Retryable {
		t.Error("POOL_EXHAUSTED should be retryable")
	}
	if New(CodeValidation, "bad graph").Retryable {
		t.Error("VALIDATION_FAILED should not be retryable")
	}
	if New(CodeCancelled, "cancelled").Retryable {
		t.Error("CANCELLED should never be retryable")
	}
}

func TestError_WithCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ConnectionFailed("db", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if got := err.Error(); got != fmt.Sprintf("%s: %s (cause: %v)", CodeConnectionFailed, err.Message, cause) {
		t.Errorf("unexpected error string: %q", got)
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", CircuitOpen("db"))

	if !HasCode(err, CodeCircuitOpen) {
		t.Error("expected CIRCUIT_OPEN through wrapping")
	}
	if HasCode(err, CodeTimeout) {
		t.Error("did not expect TIMEOUT")
	}
	if HasCode(nil, CodeTimeout) {
		t.Error("nil error has no code")
	}
}

func TestNodeExecution_Details(t *testing.T) {
	err := NodeExecution("transform", errors.New("boom"))
	if err.Details["node_id"] != "transform" {
		t.Errorf("expected node_id detail, got %v", err.Details)
	}
}

func TestIsRetryable_PlainError(t *testing.T) {
	if !IsRetryable(errors.New("transient")) {
		t.Error("plain errors default to retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(Cancelled("node")) {
		t.Error("cancellation is never retryable")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(CodeTimeout, "slow").WithDetail("node_id", "fetch")
	if err.Details["node_id"] != "fetch" {
		t.Errorf("expected detail, got %v", err.Details)
	}
}
