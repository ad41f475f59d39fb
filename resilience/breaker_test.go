package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	flowerrors "github.com/skillsenselab/flowkit/errors"
)

var errBoom = errors.New("boom")

func failingN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig("db"))
	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "db", FailureThreshold: 3, RecoveryTimeout: time.Minute})

	failingN(cb, 3)

	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	// The next call is rejected without touching the resource.
	touched := false
	err := cb.Execute(func() error {
		touched = true
		return nil
	})
	if !flowerrors.HasCode(err, flowerrors.CodeCircuitOpen) {
		t.Errorf("expected CIRCUIT_OPEN, got %v", err)
	}
	if touched {
		t.Error("open breaker must not invoke the operation")
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "db", FailureThreshold: 3, ErrorRateThreshold: 0})

	failingN(cb, 2)
	_ = cb.Execute(func() error { return nil })
	failingN(cb, 2)

	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestBreaker_OpensOnWindowErrorRate(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Name:               "db",
		FailureThreshold:   100, // consecutive threshold out of reach
		ErrorRateThreshold: 0.5,
		WindowSize:         10,
		WindowMinSamples:   10,
	})

	// Alternate success/failure: rate stays at 0.5 once the window fills.
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			_ = cb.Execute(func() error { return errBoom })
		} else {
			_ = cb.Execute(func() error { return nil })
		}
	}

	if cb.State() != StateOpen {
		t.Errorf("expected open at 50%% error rate, got %s", cb.State())
	}
}

func TestBreaker_RecoveryWalk(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "db",
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	})
	cb.now = func() time.Time { return now }

	failingN(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	// Recovery timeout elapses: next observation is half-open.
	now = now.Add(31 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after recovery timeout, got %s", cb.State())
	}

	// First probe success: still half-open (success threshold 2).
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after 1 success, got %s", cb.State())
	}

	// Second consecutive probe success closes the circuit.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 successes, got %s", cb.State())
	}
	if cb.Stats().ConsecutiveFailures != 0 {
		t.Error("closing must clear failure counters")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "db",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
	})
	cb.now = func() time.Time { return now }

	failingN(cb, 1)
	now = now.Add(2 * time.Second)

	// The probe fails: back to open with a fresh recovery timer.
	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", cb.State())
	}

	// Timer restarted: still open just before the new deadline.
	now = now.Add(900 * time.Millisecond)
	if cb.State() != StateOpen {
		t.Errorf("expected open before recovery timeout, got %s", cb.State())
	}
}

func TestBreaker_HalfOpenBoundsProbes(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "db",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
	})
	cb.now = func() time.Time { return now }

	failingN(cb, 1)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			<-release
			return nil
		})
	}()

	// Wait until the probe is in flight.
	deadline := time.After(time.Second)
	for cb.State() != StateHalfOpen {
		select {
		case <-deadline:
			t.Fatal("probe never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// A second call while the probe is in flight is rejected.
	err := cb.Execute(func() error { return nil })
	if !flowerrors.HasCode(err, flowerrors.CodeCircuitOpen) {
		t.Errorf("expected CIRCUIT_OPEN for excess probe, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
}

func TestBreaker_OnStateChangeHook(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "db",
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to BreakerState) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	failingN(cb, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

func TestBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{Name: "db", FailureThreshold: 1})
	failingN(cb, 1)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if cb.Stats().FailureCount != 0 {
		t.Error("expected counters cleared")
	}
}

func TestBreakerRegistry_SharedPerResource(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig(""), nil)

	if reg.Get("db") != reg.Get("db") {
		t.Error("expected one breaker per resource name")
	}
	if reg.Get("db") == reg.Get("http") {
		t.Error("expected distinct breakers for distinct resources")
	}
}

func TestBreakerRegistry_Overrides(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig(""), nil)
	reg.Configure("db", BreakerConfig{FailureThreshold: 1})

	_ = reg.Execute("db", func() error { return errBoom })

	states := reg.States()
	if states["db"] != StateOpen {
		t.Errorf("expected db open, got %s", states["db"])
	}
}

func TestBreaker_ConcurrentFailuresSingleTransition(t *testing.T) {
	var transitions int
	var mu sync.Mutex

	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "db",
		FailureThreshold: 5,
		OnStateChange: func(_ string, _, to BreakerState) {
			if to == StateOpen {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error { return errBoom })
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if transitions != 1 {
		t.Errorf("expected exactly one closed->open transition, got %d", transitions)
	}
}
