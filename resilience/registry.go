package resilience

import (
	"context"
	"sync"

	flowerrors "github.com/skillsenselab/flowkit/errors"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/metrics"
)

// BreakerRegistry owns one circuit breaker per protected resource name.
// Lookup is create-on-first-use, so concurrent failure reporting for one
// resource always lands on the same serialized breaker.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	defaults  BreakerConfig
	overrides map[string]BreakerConfig
	guards    map[string]*Guard
	guardCfgs map[string]GuardConfig
	collector *metrics.Collector
	log       *logger.Logger
}

// NewBreakerRegistry creates a registry. The defaults apply to every
// resource without an explicit override; the collector receives the
// circuit_breaker.state gauge on every transition and may be nil-safe via
// metrics.Nop().
func NewBreakerRegistry(defaults BreakerConfig, collector *metrics.Collector) *BreakerRegistry {
	if collector == nil {
		collector = metrics.Nop()
	}
	return &BreakerRegistry{
		breakers:  make(map[string]*CircuitBreaker),
		overrides: make(map[string]BreakerConfig),
		guards:    make(map[string]*Guard),
		guardCfgs: make(map[string]GuardConfig),
		defaults:  defaults,
		collector: collector,
		log:       logger.WithComponent("breaker"),
	}
}

// Configure sets a per-resource config override. Must be called before the
// first Get for that resource to take effect.
func (r *BreakerRegistry) Configure(resource string, cfg BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[resource] = cfg
}

// Get returns the breaker for a resource, creating it on first use.
func (r *BreakerRegistry) Get(resource string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[resource]; ok {
		return cb
	}

	cfg, ok := r.overrides[resource]
	if !ok {
		cfg = r.defaults
	}
	cfg.Name = resource

	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to BreakerState) {
		r.collector.SetGauge(metrics.MetricBreakerState,
			metrics.Labels{metrics.LabelResource: name}, float64(to))
		r.log.Warn("circuit breaker state change", logger.Fields(
			logger.FieldResource, name,
			"from", from.String(),
			"to", to.String(),
		))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	cb := NewCircuitBreaker(cfg)
	r.breakers[resource] = cb
	r.collector.SetGauge(metrics.MetricBreakerState,
		metrics.Labels{metrics.LabelResource: resource}, float64(StateClosed))
	return cb
}

// ConfigureGuard attaches bulkhead and rate-limit policies to a resource.
// The guard's circuit breaker is always the one this registry owns for the
// resource, so breaker state stays shared with every other caller; a
// CircuitBreaker block inside the guard config is applied as the breaker
// override. Must be called before the first Do/Execute for that resource.
func (r *BreakerRegistry) ConfigureGuard(resource string, cfg GuardConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guardCfgs[resource] = cfg
	if cfg.CircuitBreaker != nil {
		r.overrides[resource] = *cfg.CircuitBreaker
	}
}

// guardFor returns the resource's guard, building it on first use, or nil
// when no guard is configured.
func (r *BreakerRegistry) guardFor(resource string) *Guard {
	r.mu.Lock()
	if g, ok := r.guards[resource]; ok {
		r.mu.Unlock()
		return g
	}
	cfg, ok := r.guardCfgs[resource]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	cb := r.Get(resource)

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[resource]; ok {
		return g
	}
	cfg.CircuitBreaker = nil // the registry breaker is the only breaker
	if cfg.Bulkhead != nil && cfg.Bulkhead.Name == "" {
		cfg.Bulkhead.Name = resource
	}
	if cfg.RateLimiter != nil && cfg.RateLimiter.Name == "" {
		cfg.RateLimiter.Name = resource
	}
	g := NewGuardWithBreaker(cb, cfg)
	r.guards[resource] = g
	return g
}

// Do runs fn through the resource's full protection chain: rate limiter
// and bulkhead when a guard is configured, then the shared breaker.
func (r *BreakerRegistry) Do(ctx context.Context, resource string, fn func() error) error {
	var err error
	if g := r.guardFor(resource); g != nil {
		err = g.Do(ctx, fn)
	} else {
		err = r.Get(resource).Execute(fn)
	}
	r.countRejection(resource, err)
	return err
}

// Execute runs fn through the breaker for the named resource.
func (r *BreakerRegistry) Execute(resource string, fn func() error) error {
	err := r.Get(resource).Execute(fn)
	r.countRejection(resource, err)
	return err
}

// countRejection records calls the open breaker turned away.
func (r *BreakerRegistry) countRejection(resource string, err error) {
	if flowerrors.HasCode(err, flowerrors.CodeCircuitOpen) {
		r.collector.Inc(metrics.MetricBreakerRejections,
			metrics.Labels{metrics.LabelResource: resource})
	}
}

// States returns the current state of every known breaker.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerState, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
