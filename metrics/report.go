package metrics

import (
	"math"
	"sort"
	"time"
)

// Report is a point-in-time snapshot of every recorded series.
type Report struct {
	At         time.Time           `json:"at"`
	Counters   []CounterSnapshot   `json:"counters"`
	Gauges     []GaugeSnapshot     `json:"gauges"`
	Histograms []HistogramSnapshot `json:"histograms"`
}

// CounterSnapshot is the value of one counter series.
type CounterSnapshot struct {
	Name   string `json:"name"`
	Labels Labels `json:"labels,omitempty"`
	Value  int64  `json:"value"`
}

// GaugeSnapshot is the value of one gauge series.
type GaugeSnapshot struct {
	Name   string  `json:"name"`
	Labels Labels  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// HistogramSnapshot summarizes the retained window of one histogram series.
type HistogramSnapshot struct {
	Name   string  `json:"name"`
	Labels Labels  `json:"labels,omitempty"`
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Snapshot returns a copy of the current state. The collector lock is held
// only long enough to copy series references; per-series locks are taken one
// at a time so writers are never blocked for the whole export.
func (c *Collector) Snapshot() *Report {
	report := &Report{At: c.now()}
	cutoff := report.At.Add(-c.retention)

	c.mu.RLock()
	counterRefs := make(map[string][]*counterSeries, len(c.counters))
	for name, byKey := range c.counters {
		for _, s := range byKey {
			counterRefs[name] = append(counterRefs[name], s)
		}
	}
	gaugeRefs := make(map[string][]*gaugeSeries, len(c.gauges))
	for name, byKey := range c.gauges {
		for _, s := range byKey {
			gaugeRefs[name] = append(gaugeRefs[name], s)
		}
	}
	histRefs := make(map[string][]*histogramSeries, len(c.histograms))
	for name, byKey := range c.histograms {
		for _, s := range byKey {
			histRefs[name] = append(histRefs[name], s)
		}
	}
	c.mu.RUnlock()

	for name, series := range counterRefs {
		for _, s := range series {
			report.Counters = append(report.Counters, CounterSnapshot{
				Name: name, Labels: cloneLabels(s.labels), Value: s.value.Load(),
			})
		}
	}
	for name, series := range gaugeRefs {
		for _, s := range series {
			report.Gauges = append(report.Gauges, GaugeSnapshot{
				Name: name, Labels: cloneLabels(s.labels), Value: floatFromBits(s.value.Load()),
			})
		}
	}
	for name, series := range histRefs {
		for _, s := range series {
			snap := summarize(name, s, cutoff)
			if snap.Count > 0 {
				report.Histograms = append(report.Histograms, snap)
			}
		}
	}

	sortReport(report)
	return report
}

func summarize(name string, s *histogramSeries, cutoff time.Time) HistogramSnapshot {
	s.mu.Lock()
	values := make([]float64, 0, len(s.samples))
	for _, smp := range s.samples {
		if !smp.at.Before(cutoff) {
			values = append(values, smp.value)
		}
	}
	labels := cloneLabels(s.labels)
	s.mu.Unlock()

	snap := HistogramSnapshot{Name: name, Labels: labels, Count: len(values)}
	if len(values) == 0 {
		return snap
	}

	sort.Float64s(values)
	snap.Min = values[0]
	snap.Max = values[len(values)-1]
	for _, v := range values {
		snap.Sum += v
	}
	snap.P50 = percentile(values, 0.50)
	snap.P95 = percentile(values, 0.95)
	snap.P99 = percentile(values, 0.99)
	return snap
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func sortReport(r *Report) {
	sort.Slice(r.Counters, func(i, j int) bool {
		if r.Counters[i].Name != r.Counters[j].Name {
			return r.Counters[i].Name < r.Counters[j].Name
		}
		return labelKey(r.Counters[i].Labels) < labelKey(r.Counters[j].Labels)
	})
	sort.Slice(r.Gauges, func(i, j int) bool {
		if r.Gauges[i].Name != r.Gauges[j].Name {
			return r.Gauges[i].Name < r.Gauges[j].Name
		}
		return labelKey(r.Gauges[i].Labels) < labelKey(r.Gauges[j].Labels)
	})
	sort.Slice(r.Histograms, func(i, j int) bool {
		if r.Histograms[i].Name != r.Histograms[j].Name {
			return r.Histograms[i].Name < r.Histograms[j].Name
		}
		return labelKey(r.Histograms[i].Labels) < labelKey(r.Histograms[j].Labels)
	})
}

func floatBits(v float64) uint64     { return math.Float64bits(v) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }
