package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skillsenselab/flowkit/component"
)

// Labels is the label set attached to a metric series.
type Labels map[string]string

// sample is a single windowed histogram observation.
type sample struct {
	at    time.Time
	value float64
}

type counterSeries struct {
	labels Labels
	value  atomic.Int64
}

type gaugeSeries struct {
	labels Labels
	// value holds math.Float64bits of the current gauge value.
	value atomic.Uint64
}

type histogramSeries struct {
	labels  Labels
	mu      sync.Mutex
	samples []sample
}

// Collector records counters, gauges, and windowed histograms for the
// runtime. All methods are safe for concurrent use; counter increments are
// lock-free once a series exists.
type Collector struct {
	cfg       Config
	retention time.Duration

	mu         sync.RWMutex
	counters   map[string]map[string]*counterSeries
	gauges     map[string]map[string]*gaugeSeries
	histograms map[string]map[string]*histogramSeries

	// now is swappable for tests.
	now func() time.Time
}

// NewCollector creates a collector from config.
func NewCollector(cfg Config) *Collector {
	cfg.ApplyDefaults()
	return &Collector{
		cfg:        cfg,
		retention:  time.Duration(cfg.RetentionMinutes) * time.Minute,
		counters:   make(map[string]map[string]*counterSeries),
		gauges:     make(map[string]map[string]*gaugeSeries),
		histograms: make(map[string]map[string]*histogramSeries),
		now:        time.Now,
	}
}

// Nop returns a disabled collector; every method is a no-op.
func Nop() *Collector {
	return NewCollector(Config{Enabled: false})
}

// Inc increments a counter by one.
func (c *Collector) Inc(name string, labels Labels) {
	c.Add(name, labels, 1)
}

// Add increments a counter by n.
func (c *Collector) Add(name string, labels Labels, n int64) {
	if !c.cfg.Enabled {
		return
	}
	key := labelKey(labels)

	c.mu.RLock()
	series := lookupSeries(c.counters, name, key)
	c.mu.RUnlock()

	if series == nil {
		c.mu.Lock()
		series = lookupSeries(c.counters, name, key)
		if series == nil {
			series = &counterSeries{labels: cloneLabels(labels)}
			if c.counters[name] == nil {
				c.counters[name] = make(map[string]*counterSeries)
			}
			c.counters[name][key] = series
		}
		c.mu.Unlock()
	}
	series.value.Add(n)
}

// SetGauge sets a gauge to the given value.
func (c *Collector) SetGauge(name string, labels Labels, v float64) {
	if !c.cfg.Enabled {
		return
	}
	key := labelKey(labels)

	c.mu.RLock()
	series := lookupSeries(c.gauges, name, key)
	c.mu.RUnlock()

	if series == nil {
		c.mu.Lock()
		series = lookupSeries(c.gauges, name, key)
		if series == nil {
			series = &gaugeSeries{labels: cloneLabels(labels)}
			if c.gauges[name] == nil {
				c.gauges[name] = make(map[string]*gaugeSeries)
			}
			c.gauges[name][key] = series
		}
		c.mu.Unlock()
	}
	series.value.Store(floatBits(v))
}

// Observe records a histogram sample. Samples older than the retention
// window are pruned on the same write path.
func (c *Collector) Observe(name string, labels Labels, v float64) {
	if !c.cfg.Enabled {
		return
	}
	key := labelKey(labels)

	c.mu.RLock()
	series := lookupSeries(c.histograms, name, key)
	c.mu.RUnlock()

	if series == nil {
		c.mu.Lock()
		series = lookupSeries(c.histograms, name, key)
		if series == nil {
			series = &histogramSeries{labels: cloneLabels(labels)}
			if c.histograms[name] == nil {
				c.histograms[name] = make(map[string]*histogramSeries)
			}
			c.histograms[name][key] = series
		}
		c.mu.Unlock()
	}

	now := c.now()
	cutoff := now.Add(-c.retention)

	series.mu.Lock()
	series.samples = append(series.samples, sample{at: now, value: v})
	series.samples = pruneBefore(series.samples, cutoff)
	series.mu.Unlock()
}

// ObserveDuration records a duration in seconds.
func (c *Collector) ObserveDuration(name string, labels Labels, d time.Duration) {
	c.Observe(name, labels, d.Seconds())
}

// --- component.Component ---

// Name implements component.Component.
func (c *Collector) Name() string { return "metrics" }

// Start implements component.Component. The collector has no background
// work; pruning happens on write.
func (c *Collector) Start(_ context.Context) error { return nil }

// Stop implements component.Component.
func (c *Collector) Stop(_ context.Context) error { return nil }

// Health implements component.Component.
func (c *Collector) Health(_ context.Context) component.Health {
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe implements component.Describable.
func (c *Collector) Describe() component.Description {
	return component.Description{
		Name:    "Metrics Collector",
		Type:    "metrics",
		Details: "retention=" + c.retention.String(),
	}
}

// --- internal helpers ---

func lookupSeries[T any](m map[string]map[string]*T, name, key string) *T {
	byKey, ok := m[name]
	if !ok {
		return nil
	}
	return byKey[key]
}

func labelKey(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func cloneLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func pruneBefore(samples []sample, cutoff time.Time) []sample {
	// Samples are appended in time order, so find the first one to keep.
	idx := 0
	for idx < len(samples) && samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return samples
	}
	kept := make([]sample, len(samples)-idx)
	copy(kept, samples[idx:])
	return kept
}
