package resilience

import (
	"sync"
	"time"

	flowerrors "github.com/skillsenselab/flowkit/errors"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// StateClosed allows calls to pass through.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls without touching the resource.
	StateOpen
	// StateHalfOpen allows a bounded number of probe calls.
	StateHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Name identifies the protected resource for metrics/logging.
	Name string `yaml:"-" mapstructure:"-"`
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// ErrorRateThreshold opens the circuit when the failure rate over the
	// rolling window reaches this fraction (0 disables rate tripping).
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	// WindowSize is the rolling outcome window length.
	WindowSize int `yaml:"window_size" mapstructure:"window_size"`
	// WindowMinSamples is the minimum number of recorded outcomes before
	// the error rate is considered meaningful.
	WindowMinSamples int `yaml:"window_min_samples" mapstructure:"window_min_samples"`
	// RecoveryTimeout is how long the circuit stays open before the next
	// call is let through as a probe.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	// HalfOpenMaxCalls bounds concurrent probe calls in half-open state.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" mapstructure:"half_open_max_calls"`
	// SuccessThreshold is the number of consecutive probe successes that
	// closes the circuit.
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold"`
	// OnStateChange is called on every transition. It runs under the
	// breaker lock and must not call back into the breaker.
	OnStateChange func(name string, from, to BreakerState) `yaml:"-" mapstructure:"-"`
}

// DefaultBreakerConfig returns sensible defaults for a resource.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:               name,
		FailureThreshold:   5,
		ErrorRateThreshold: 0.5,
		WindowSize:         20,
		WindowMinSamples:   10,
		RecoveryTimeout:    30 * time.Second,
		HalfOpenMaxCalls:   1,
		SuccessThreshold:   1,
	}
}

// outcomeWindow is a fixed-size ring buffer of call outcomes.
type outcomeWindow struct {
	buf      []bool // true = failure
	next     int
	count    int
	failures int
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{buf: make([]bool, size)}
}

func (w *outcomeWindow) push(failed bool) {
	if w.count == len(w.buf) {
		if w.buf[w.next] {
			w.failures--
		}
	} else {
		w.count++
	}
	w.buf[w.next] = failed
	if failed {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.buf)
}

func (w *outcomeWindow) errorRate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.count)
}

func (w *outcomeWindow) reset() {
	w.next, w.count, w.failures = 0, 0, 0
}

// CircuitBreaker is the per-resource failure-isolation state machine. All
// state mutation happens under one mutex, so concurrent failure reports
// cannot lose transitions.
type CircuitBreaker struct {
	config BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	window              *outcomeWindow
	consecutiveFailures int
	failureCount        int
	successCount        int
	halfOpenInFlight    int
	lastStateChange     time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker, filling config defaults.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 20
	}
	if config.WindowMinSamples <= 0 {
		config.WindowMinSamples = config.WindowSize / 2
		if config.WindowMinSamples == 0 {
			config.WindowMinSamples = 1
		}
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
		window: newOutcomeWindow(config.WindowSize),
		now:    time.Now,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Execute runs fn through the breaker. Returns a CIRCUIT_OPEN runtime error
// without invoking fn when the circuit rejects the call.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

// Call runs a value-returning function through a breaker.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var result T
	err := cb.Execute(func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// State returns the current state, applying the lazy open→half-open
// transition if the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Snapshot describes the breaker's counters for observability.
type Snapshot struct {
	Name                string
	State               BreakerState
	FailureCount        int
	SuccessCount        int
	ConsecutiveFailures int
	WindowErrorRate     float64
	LastStateChange     time.Time
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:                cb.config.Name,
		State:               cb.state,
		FailureCount:        cb.failureCount,
		SuccessCount:        cb.successCount,
		ConsecutiveFailures: cb.consecutiveFailures,
		WindowErrorRate:     cb.window.errorRate(),
		LastStateChange:     cb.lastStateChange,
	}
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toState(StateClosed)
	cb.consecutiveFailures = 0
	cb.failureCount = 0
	cb.window.reset()
}

// beforeCall decides whether the call may proceed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMaxCalls {
			cb.halfOpenInFlight++
			return nil
		}
		return flowerrors.CircuitOpen(cb.config.Name)
	default:
		return flowerrors.CircuitOpen(cb.config.Name)
	}
}

// afterCall records the outcome of a call that was let through.
func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.window.push(false)
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.toState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		cb.window.push(true)
		if cb.consecutiveFailures >= cb.config.FailureThreshold || cb.windowTripped() {
			cb.toState(StateOpen)
		}
	case StateHalfOpen:
		// A single probe failure reopens the circuit and restarts the
		// recovery timer.
		cb.toState(StateOpen)
	}
}

func (cb *CircuitBreaker) windowTripped() bool {
	if cb.config.ErrorRateThreshold <= 0 {
		return false
	}
	if cb.window.count < cb.config.WindowMinSamples {
		return false
	}
	return cb.window.errorRate() >= cb.config.ErrorRateThreshold
}

// currentState applies the lazy open→half-open transition. The caller that
// observes the transition becomes the first probe.
func (cb *CircuitBreaker) currentState() BreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.lastStateChange) >= cb.config.RecoveryTimeout {
		cb.toState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) toState(to BreakerState) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.now()

	switch to {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.successCount = 0
		cb.halfOpenInFlight = 0
		cb.window.reset()
	case StateHalfOpen:
		cb.successCount = 0
		cb.halfOpenInFlight = 0
	case StateOpen:
		cb.halfOpenInFlight = 0
		cb.successCount = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
