package metrics

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ExportPrometheus renders the current snapshot in the Prometheus text
// exposition format. Counters and gauges map directly; histograms are
// exported as summaries carrying the windowed quantiles.
func (c *Collector) ExportPrometheus() (string, error) {
	report := c.Snapshot()

	reg := prometheus.NewRegistry()
	if err := reg.Register(&reportCollector{namespace: c.cfg.Namespace, report: report}); err != nil {
		return "", fmt.Errorf("registering export collector: %w", err)
	}

	families, err := reg.Gather()
	if err != nil {
		return "", fmt.Errorf("gathering metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// reportCollector adapts a Report to the prometheus.Collector interface
// using const metrics, so the export never holds collector locks.
type reportCollector struct {
	namespace string
	report    *Report
}

// Describe is intentionally empty: this is an unchecked collector built
// fresh per export.
func (rc *reportCollector) Describe(_ chan<- *prometheus.Desc) {}

func (rc *reportCollector) Collect(ch chan<- prometheus.Metric) {
	counterFamilies := groupCounters(rc.report.Counters)
	for name, series := range counterFamilies {
		keys := unionKeys(labelSets(series))
		desc := prometheus.NewDesc(rc.promName(name), "flowkit counter "+name, keys, nil)
		for _, s := range series {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue,
				float64(s.Value), labelValues(s.Labels, keys)...)
		}
	}

	gaugeFamilies := groupGauges(rc.report.Gauges)
	for name, series := range gaugeFamilies {
		keys := unionKeysG(series)
		desc := prometheus.NewDesc(rc.promName(name), "flowkit gauge "+name, keys, nil)
		for _, s := range series {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue,
				s.Value, labelValues(s.Labels, keys)...)
		}
	}

	histFamilies := groupHistograms(rc.report.Histograms)
	for name, series := range histFamilies {
		keys := unionKeysH(series)
		desc := prometheus.NewDesc(rc.promName(name), "flowkit summary "+name, keys, nil)
		for _, s := range series {
			quantiles := map[float64]float64{0.5: s.P50, 0.95: s.P95, 0.99: s.P99}
			ch <- prometheus.MustNewConstSummary(desc, uint64(s.Count), s.Sum,
				quantiles, labelValues(s.Labels, keys)...)
		}
	}
}

func (rc *reportCollector) promName(name string) string {
	sanitized := strings.ReplaceAll(name, ".", "_")
	if rc.namespace == "" {
		return sanitized
	}
	return rc.namespace + "_" + sanitized
}

func groupCounters(in []CounterSnapshot) map[string][]CounterSnapshot {
	out := make(map[string][]CounterSnapshot)
	for _, s := range in {
		out[s.Name] = append(out[s.Name], s)
	}
	return out
}

func groupGauges(in []GaugeSnapshot) map[string][]GaugeSnapshot {
	out := make(map[string][]GaugeSnapshot)
	for _, s := range in {
		out[s.Name] = append(out[s.Name], s)
	}
	return out
}

func groupHistograms(in []HistogramSnapshot) map[string][]HistogramSnapshot {
	out := make(map[string][]HistogramSnapshot)
	for _, s := range in {
		out[s.Name] = append(out[s.Name], s)
	}
	return out
}

func labelSets(series []CounterSnapshot) []Labels {
	out := make([]Labels, len(series))
	for i, s := range series {
		out[i] = s.Labels
	}
	return out
}

// unionKeys returns the sorted union of label keys across series, so every
// metric in a family carries the same label dimensions (missing values
// render as empty strings).
func unionKeys(sets []Labels) []string {
	seen := make(map[string]bool)
	for _, labels := range sets {
		for k := range labels {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionKeysG(series []GaugeSnapshot) []string {
	sets := make([]Labels, len(series))
	for i, s := range series {
		sets[i] = s.Labels
	}
	return unionKeys(sets)
}

func unionKeysH(series []HistogramSnapshot) []string {
	sets := make([]Labels, len(series))
	for i, s := range series {
		sets[i] = s.Labels
	}
	return unionKeys(sets)
}

func labelValues(labels Labels, keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = labels[k]
	}
	return out
}
