// Package resilience provides the failure-isolation primitives protecting
// calls to external resources: a circuit breaker with a rolling outcome
// window, retry with exponential backoff, a bulkhead concurrency limiter,
// and a token-bucket rate limiter.
//
// The primitives compose into a per-resource Guard applied in the order
// RateLimiter → Bulkhead → CircuitBreaker:
//
//	guard := resilience.NewGuard(resilience.GuardConfig{
//	    CircuitBreaker: &resilience.BreakerConfig{Name: "db", FailureThreshold: 3},
//	    Bulkhead:       &resilience.BulkheadConfig{MaxConcurrent: 10},
//	})
//	err := guard.Do(ctx, func() error { return db.PingContext(ctx) })
package resilience
