package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	flowerrors "github.com/skillsenselab/flowkit/errors"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/metrics"
)

// ErrPoolClosed is returned by acquires against a closed pool.
var ErrPoolClosed = errors.New("resource: pool is closed")

// PoolStats is a point-in-time view of one pool.
type PoolStats struct {
	Resource  string
	Total     int
	Idle      int
	InUse     int
	Exhausted int64
	Evictions int64
}

// Pool manages connections for one named resource. Borrowed connections
// are bounded by MaxConnections; acquire blocks up to ConnectionTimeout
// under exhaustion.
type Pool struct {
	name      string
	factory   Factory
	cfg       PoolConfig
	log       *logger.Logger
	collector *metrics.Collector

	// slots holds one token per borrowed connection.
	slots chan struct{}

	mu     sync.Mutex
	idle   []*PooledConn
	total  int
	closed bool

	// demand observed since the last adaptive tick
	waitSum       atomic.Int64
	waitCount     atomic.Int64
	exhaustedTick atomic.Int64
	lastResize    time.Time

	// lifetime counters
	exhausted atomic.Int64
	evictions atomic.Int64

	closing chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// NewPool creates a pool for one named resource. Call Start to warm the
// idle floor and launch the maintenance loops.
func NewPool(name string, factory Factory, cfg PoolConfig, log *logger.Logger, collector *metrics.Collector) *Pool {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		name:      name,
		factory:   factory,
		cfg:       cfg,
		log:       log.WithFields(map[string]interface{}{logger.FieldResource: name}),
		collector: collector,
		slots:     make(chan struct{}, cfg.MaxConnections),
		closing:   make(chan struct{}),
		now:       time.Now,
	}
}

// Name returns the resource name.
func (p *Pool) Name() string { return p.name }

// Acquire borrows a connection, blocking up to ConnectionTimeout when all
// connections are outstanding. Stale idle connections are evicted and
// replaced, never handed out.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	start := p.now()
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	wait := p.now().Sub(start)
	p.waitSum.Add(int64(wait))
	p.waitCount.Add(1)
	p.observeDuration(metrics.MetricPoolAcquireWait, wait)

	for {
		pc := p.popIdle()
		if pc == nil {
			break
		}
		if pc.expired(p.cfg, p.now()) {
			p.destroy(pc, "stale")
			continue
		}
		return p.borrowed(pc), nil
	}

	pc, err := p.dial(ctx)
	if err != nil {
		p.releaseSlot()
		return nil, flowerrors.ConnectionFailed(p.name, err)
	}
	return p.borrowed(pc), nil
}

// Release returns a borrowed connection to the idle set. Connections
// marked unhealthy (or past their lifetime) are destroyed instead.
func (p *Pool) Release(pc *PooledConn) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || pc.expired(p.cfg, p.now()) {
		p.destroy(pc, "on_release")
		p.releaseSlot()
		return
	}

	pc.lastUsedAt = p.now()
	p.mu.Lock()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	p.releaseSlot()
	p.updateGauges()
}

// WithConn borrows a connection, runs fn, and returns it. An error from fn
// marks the connection unhealthy only if fn did so explicitly.
func (p *Pool) WithConn(ctx context.Context, fn func(*PooledConn) error) error {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(pc)
	return fn(pc)
}

// HealthCheck borrows one connection and pings it.
func (p *Pool) HealthCheck(ctx context.Context) bool {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return false
	}
	defer p.Release(pc)
	if err := pc.conn.Ping(ctx); err != nil {
		pc.MarkUnhealthy()
		return false
	}
	return true
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Resource:  p.name,
		Total:     p.total,
		Idle:      len(p.idle),
		InUse:     len(p.slots),
		Exhausted: p.exhausted.Load(),
		Evictions: p.evictions.Load(),
	}
}

// Start warms the idle floor and launches the health-check and adaptive
// maintenance loops.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.warm(ctx, p.cfg.MinConnections); err != nil {
		return err
	}

	p.wg.Add(1)
	go p.healthLoop()
	if p.cfg.Adaptive.Enabled {
		p.wg.Add(1)
		go p.adaptiveLoop()
	}
	return nil
}

// Close stops the maintenance loops and destroys all idle connections.
// Borrowed connections are destroyed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.closing)
	p.wg.Wait()

	var firstErr error
	for _, pc := range idle {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.updateGauges()
	return firstErr
}

func (p *Pool) acquireSlot(ctx context.Context) error {
	select {
	case <-p.closing:
		return ErrPoolClosed
	default:
	}

	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
		return nil
	case <-timer.C:
		p.exhausted.Add(1)
		p.exhaustedTick.Add(1)
		p.inc(metrics.MetricPoolExhausted)
		return flowerrors.PoolExhausted(p.name)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closing:
		return ErrPoolClosed
	}
}

func (p *Pool) releaseSlot() {
	<-p.slots
	p.updateGauges()
}

func (p *Pool) popIdle() *PooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	pc := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return pc
}

func (p *Pool) dial(ctx context.Context) (*PooledConn, error) {
	conn, err := p.factory.Open(ctx)
	if err != nil {
		return nil, err
	}
	pc := newPooledConn(p.name, conn, p.now())
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	p.log.Debug("connection opened", map[string]interface{}{"conn_id": pc.id})
	return pc, nil
}

func (p *Pool) borrowed(pc *PooledConn) *PooledConn {
	pc.useCount++
	pc.lastUsedAt = p.now()
	p.updateGauges()
	return pc
}

func (p *Pool) destroy(pc *PooledConn, reason string) {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.evictions.Add(1)
	p.inc(metrics.MetricPoolEvictions)
	if err := pc.conn.Close(); err != nil {
		p.log.Warn("closing evicted connection failed", map[string]interface{}{
			"conn_id": pc.id, "reason": reason, logger.FieldError: err.Error(),
		})
	}
	p.updateGauges()
}

// warm opens connections until the idle set reaches n, within the total
// bound.
func (p *Pool) warm(ctx context.Context, n int) error {
	for {
		p.mu.Lock()
		need := len(p.idle) < n && p.total < p.cfg.MaxConnections && !p.closed
		p.mu.Unlock()
		if !need {
			return nil
		}
		pc, err := p.dial(ctx)
		if err != nil {
			return flowerrors.ConnectionFailed(p.name, err)
		}
		p.mu.Lock()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
		p.updateGauges()
	}
}

// healthLoop pings idle connections, evicts the stale and unhealthy, and
// keeps the idle floor at MinConnections.
func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closing:
			return
		case <-ticker.C:
			p.sweepIdle()
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
			if err := p.warm(ctx, p.cfg.MinConnections); err != nil {
				p.log.Warn("idle floor top-up failed", map[string]interface{}{logger.FieldError: err.Error()})
			}
			cancel()
		}
	}
}

// sweepIdle takes the whole idle set out of the pool, validates each
// connection, and puts survivors back. Acquires during the sweep simply
// dial fresh connections.
func (p *Pool) sweepIdle() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	now := p.now()
	var keep []*PooledConn
	for _, pc := range idle {
		if pc.expired(p.cfg, now) {
			p.destroy(pc, "sweep_stale")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
		err := pc.conn.Ping(ctx)
		cancel()
		if err != nil {
			pc.MarkUnhealthy()
			p.destroy(pc, "ping_failed")
			continue
		}
		keep = append(keep, pc)
	}

	p.mu.Lock()
	p.idle = append(p.idle, keep...)
	p.mu.Unlock()
	p.updateGauges()
}

// adaptiveLoop compares recent demand against pool size: sustained acquire
// waits or exhaustion grow the warm set toward MaxConnections, sustained
// idleness shrinks it toward MinConnections. Resizes respect a cooldown.
func (p *Pool) adaptiveLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Adaptive.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closing:
			return
		case <-ticker.C:
			p.resize()
		}
	}
}

func (p *Pool) resize() {
	waitSum := p.waitSum.Swap(0)
	waitCount := p.waitCount.Swap(0)
	exhausted := p.exhaustedTick.Swap(0)

	var avgWait time.Duration
	if waitCount > 0 {
		avgWait = time.Duration(waitSum / waitCount)
	}

	now := p.now()
	if now.Sub(p.lastResize) < p.cfg.Adaptive.Cooldown {
		return
	}

	contended := exhausted > 0 || avgWait > p.cfg.Adaptive.GrowWaitThreshold

	switch {
	case contended:
		p.mu.Lock()
		grow := p.total < p.cfg.MaxConnections
		target := len(p.idle) + growthStep(p.total, p.cfg.MaxConnections)
		p.mu.Unlock()
		if !grow {
			return
		}
		p.lastResize = now
		p.log.Info("growing pool under contention", map[string]interface{}{
			"avg_wait_ms": avgWait.Milliseconds(), "exhausted": exhausted,
		})
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
		if err := p.warm(ctx, target); err != nil {
			p.log.Warn("pool growth failed", map[string]interface{}{logger.FieldError: err.Error()})
		}
		cancel()

	case waitCount == 0:
		// No demand at all last interval: trim idle toward the floor.
		p.mu.Lock()
		excess := len(p.idle) - p.cfg.MinConnections
		var victims []*PooledConn
		if excess > 0 {
			trim := (excess + 1) / 2
			victims = p.idle[:trim]
			p.idle = append([]*PooledConn(nil), p.idle[trim:]...)
		}
		p.mu.Unlock()
		if len(victims) == 0 {
			return
		}
		p.lastResize = now
		p.log.Info("shrinking idle pool", map[string]interface{}{"trimmed": len(victims)})
		for _, pc := range victims {
			p.destroy(pc, "shrink")
		}
	}
}

func growthStep(total, max int) int {
	step := (max - total + 1) / 2
	if step < 1 {
		step = 1
	}
	return step
}

func (p *Pool) updateGauges() {
	if p.collector == nil {
		return
	}
	labels := metrics.Labels{metrics.LabelResource: p.name}
	p.collector.SetGauge(metrics.MetricPoolInUse, labels, float64(len(p.slots)))
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	p.collector.SetGauge(metrics.MetricPoolIdle, labels, float64(idle))
}

func (p *Pool) inc(name string) {
	if p.collector == nil {
		return
	}
	p.collector.Inc(name, metrics.Labels{metrics.LabelResource: p.name})
}

func (p *Pool) observeDuration(name string, d time.Duration) {
	if p.collector == nil {
		return
	}
	p.collector.ObserveDuration(name, metrics.Labels{metrics.LabelResource: p.name}, d)
}
