package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/skillsenselab/flowkit/component"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/metrics"
)

// DefaultBufferSize is the per-subscription channel buffer.
const DefaultBufferSize = 256

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id     uint64
	filter *Filter
	ch     chan Event
	// dropped counts events discarded because this subscriber was slow.
	dropped atomic.Uint64
}

// Events returns the channel events are delivered on. The channel is closed
// when the subscription is cancelled or the bus shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns the number of events dropped for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Bus fans lifecycle events out to subscribers.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	nextID    uint64
	closed    bool
	log       *logger.Logger
	collector *metrics.Collector
}

// Option configures a Bus during creation.
type Option func(*Bus)

// WithCollector records bus-wide drop totals on the given collector in
// addition to the per-subscription counts.
func WithCollector(c *metrics.Collector) Option {
	return func(b *Bus) {
		if c != nil {
			b.collector = c
		}
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[uint64]*Subscription),
		log:       logger.WithComponent("events"),
		collector: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber with an optional filter. A nil filter
// receives everything.
func (b *Bus) Subscribe(filter *Filter) *Subscription {
	return b.SubscribeBuffered(filter, DefaultBufferSize)
}

// SubscribeBuffered registers a subscriber with an explicit buffer size.
func (b *Bus) SubscribeBuffered(filter *Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Event, buffer),
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers an event to every matching subscriber without blocking.
// Events for subscribers with full buffers are dropped and counted.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.filter.Matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			b.collector.Inc(metrics.MetricEventsDropped,
				metrics.Labels{"event_type": string(e.Type)})
			b.log.Warn("subscriber buffer full, dropping event", logger.Fields(
				"event_type", string(e.Type),
				logger.FieldRunID, e.RunID,
			))
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes all subscriber channels. Safe to call
// multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// --- component.Component ---

// Name implements component.Component.
func (b *Bus) Name() string { return "events" }

// Start implements component.Component.
func (b *Bus) Start(_ context.Context) error { return nil }

// Stop implements component.Component.
func (b *Bus) Stop(_ context.Context) error {
	b.Close()
	return nil
}

// Health implements component.Component.
func (b *Bus) Health(_ context.Context) component.Health {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	status := component.StatusHealthy
	if closed {
		status = component.StatusUnhealthy
	}
	return component.Health{Name: b.Name(), Status: status}
}
