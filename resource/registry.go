package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/skillsenselab/flowkit/component"
	flowerrors "github.com/skillsenselab/flowkit/errors"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/metrics"
)

// Registry owns one pool per named resource. It is created per runtime,
// pre-populated with factories before the first run, and torn down with
// Stop; nothing here is ambient process-global state.
type Registry struct {
	log       *logger.Logger
	collector *metrics.Collector

	mu      sync.RWMutex
	pools   map[string]*Pool
	started bool
}

// NewRegistry creates an empty resource registry.
func NewRegistry(log *logger.Logger, collector *metrics.Collector) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		log:       log.WithComponent("resource"),
		collector: collector,
		pools:     make(map[string]*Pool),
	}
}

// Register adds a named resource backed by a factory. Registering after
// Start warms the new pool immediately.
func (r *Registry) Register(name string, factory Factory, cfg PoolConfig) error {
	if name == "" {
		return fmt.Errorf("resource: name is required")
	}
	if err := func() error { cfg.ApplyDefaults(); return cfg.Validate() }(); err != nil {
		return fmt.Errorf("resource %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.pools[name]; dup {
		return fmt.Errorf("resource %q already registered", name)
	}
	pool := NewPool(name, factory, cfg, r.log, r.collector)
	r.pools[name] = pool

	if r.started {
		if err := pool.Start(context.Background()); err != nil {
			delete(r.pools, name)
			return err
		}
	}
	return nil
}

// Pool returns the pool for a resource name.
func (r *Registry) Pool(name string) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pool, ok := r.pools[name]
	if !ok {
		return nil, flowerrors.ResourceUnknown(name)
	}
	return pool, nil
}

// Names returns the registered resource names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Acquire borrows a connection from a named resource.
func (r *Registry) Acquire(ctx context.Context, name string) (*PooledConn, error) {
	pool, err := r.Pool(name)
	if err != nil {
		return nil, err
	}
	return pool.Acquire(ctx)
}

// Release returns a borrowed connection to its pool.
func (r *Registry) Release(pc *PooledConn) error {
	pool, err := r.Pool(pc.Resource())
	if err != nil {
		return err
	}
	pool.Release(pc)
	return nil
}

// WithConn borrows a connection from a named resource, runs fn, and
// returns the connection.
func (r *Registry) WithConn(ctx context.Context, name string, fn func(*PooledConn) error) error {
	pool, err := r.Pool(name)
	if err != nil {
		return err
	}
	return pool.WithConn(ctx, fn)
}

// HealthCheck pings one connection of a named resource.
func (r *Registry) HealthCheck(ctx context.Context, name string) bool {
	pool, err := r.Pool(name)
	if err != nil {
		return false
	}
	return pool.HealthCheck(ctx)
}

// Stats returns per-resource pool statistics.
func (r *Registry) Stats() map[string]PoolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]PoolStats, len(r.pools))
	for name, pool := range r.pools {
		out[name] = pool.Stats()
	}
	return out
}

// Name implements component.Component.
func (r *Registry) Name() string { return "resources" }

// Start warms every registered pool and launches their maintenance loops.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, pool := range r.pools {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("resource %q: %w", name, err)
		}
	}
	r.started = true
	return nil
}

// Stop closes every pool.
func (r *Registry) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, pool := range r.pools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("resource %q: %w", name, err)
		}
	}
	r.started = false
	return firstErr
}

// Health reports degraded when any resource fails its ping.
func (r *Registry) Health(ctx context.Context) component.Health {
	var failing []string
	for _, name := range r.Names() {
		if !r.HealthCheck(ctx, name) {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		return component.Health{
			Name:    r.Name(),
			Status:  component.StatusDegraded,
			Message: fmt.Sprintf("failing resources: %v", failing),
		}
	}
	return component.Health{Name: r.Name(), Status: component.StatusHealthy}
}

// Describe implements component.Describable.
func (r *Registry) Describe() component.Description {
	return component.Description{
		Name:    "Resource Registry",
		Type:    "pool",
		Details: fmt.Sprintf("%d resource(s): %v", len(r.Names()), r.Names()),
	}
}
