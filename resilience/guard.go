package resilience

import "context"

// GuardConfig bundles optional protection policies for one resource.
// Nil fields are skipped; an empty config is pure passthrough.
type GuardConfig struct {
	// CircuitBreaker fails fast when the resource is degraded.
	CircuitBreaker *BreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	// Bulkhead limits concurrent calls against the resource.
	Bulkhead *BulkheadConfig `yaml:"bulkhead" mapstructure:"bulkhead"`
	// RateLimiter smooths the call rate against the resource.
	RateLimiter *RateLimiterConfig `yaml:"rate_limiter" mapstructure:"rate_limiter"`
}

// IsEmpty returns true if no policies are configured.
func (c GuardConfig) IsEmpty() bool {
	return c.CircuitBreaker == nil && c.Bulkhead == nil && c.RateLimiter == nil
}

// Guard chains the configured primitives around a resource call in the
// order RateLimiter → Bulkhead → CircuitBreaker, so rejected calls never
// consume a bulkhead slot and rate-limited calls never count as breaker
// outcomes.
type Guard struct {
	cb *CircuitBreaker
	bh *Bulkhead
	rl *RateLimiter
}

// NewGuard builds a guard from config. A guard built from an empty config
// executes calls directly.
func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{}
	if cfg.CircuitBreaker != nil {
		g.cb = NewCircuitBreaker(*cfg.CircuitBreaker)
	}
	if cfg.Bulkhead != nil {
		g.bh = NewBulkhead(*cfg.Bulkhead)
	}
	if cfg.RateLimiter != nil {
		g.rl = NewRateLimiter(*cfg.RateLimiter)
	}
	return g
}

// NewGuardWithBreaker builds a guard around an existing breaker, typically
// one owned by a BreakerRegistry so state is shared across callers.
func NewGuardWithBreaker(cb *CircuitBreaker, cfg GuardConfig) *Guard {
	g := NewGuard(cfg)
	g.cb = cb
	return g
}

// Breaker returns the guard's circuit breaker, or nil.
func (g *Guard) Breaker() *CircuitBreaker { return g.cb }

// Do runs fn through the configured protection chain.
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	call := fn
	if g.cb != nil {
		inner := call
		call = func() error { return g.cb.Execute(inner) }
	}
	if g.bh != nil {
		inner := call
		call = func() error { return g.bh.Execute(ctx, inner) }
	}
	if g.rl != nil {
		inner := call
		call = func() error {
			if err := g.rl.Wait(ctx); err != nil {
				return err
			}
			return inner()
		}
	}
	return call()
}

// GuardedCall runs a value-returning function through a guard.
func GuardedCall[T any](ctx context.Context, g *Guard, fn func() (T, error)) (T, error) {
	var result T
	err := g.Do(ctx, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}
