package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestCollector() *Collector {
	return NewCollector(Config{Enabled: true, RetentionMinutes: 15})
}

func TestCollector_IncAndSnapshot(t *testing.T) {
	c := newTestCollector()
	labels := Labels{LabelNode: "fetch"}

	c.Inc(MetricNodeTotal, labels)
	c.Add(MetricNodeTotal, labels, 2)

	report := c.Snapshot()
	if len(report.Counters) != 1 {
		t.Fatalf("expected 1 counter series, got %d", len(report.Counters))
	}
	if report.Counters[0].Value != 3 {
		t.Errorf("expected 3, got %d", report.Counters[0].Value)
	}
	if report.Counters[0].Labels[LabelNode] != "fetch" {
		t.Errorf("unexpected labels: %v", report.Counters[0].Labels)
	}
}

func TestCollector_SeparateLabelSets(t *testing.T) {
	c := newTestCollector()
	c.Inc(MetricNodeTotal, Labels{LabelNode: "a"})
	c.Inc(MetricNodeTotal, Labels{LabelNode: "b"})

	report := c.Snapshot()
	if len(report.Counters) != 2 {
		t.Fatalf("expected 2 series, got %d", len(report.Counters))
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := newTestCollector()
	labels := Labels{LabelNode: "x"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc(MetricNodeTotal, labels)
			}
		}()
	}
	wg.Wait()

	report := c.Snapshot()
	if report.Counters[0].Value != 5000 {
		t.Errorf("expected 5000, got %d", report.Counters[0].Value)
	}
}

func TestCollector_HistogramSummary(t *testing.T) {
	c := newTestCollector()
	labels := Labels{LabelNode: "slow"}

	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		c.Observe(MetricNodeDuration, labels, v)
	}

	report := c.Snapshot()
	if len(report.Histograms) != 1 {
		t.Fatalf("expected 1 histogram, got %d", len(report.Histograms))
	}
	h := report.Histograms[0]
	if h.Count != 5 {
		t.Errorf("expected 5 samples, got %d", h.Count)
	}
	if h.Min != 0.1 || h.Max != 0.5 {
		t.Errorf("unexpected min/max: %v/%v", h.Min, h.Max)
	}
	if h.P50 != 0.3 {
		t.Errorf("expected p50=0.3, got %v", h.P50)
	}
}

func TestCollector_RetentionPrunesOldSamples(t *testing.T) {
	c := NewCollector(Config{Enabled: true, RetentionMinutes: 1})
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Observe(MetricNodeDuration, nil, 1.0)

	// Advance past the retention window, then write again to trigger pruning.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Observe(MetricNodeDuration, nil, 2.0)

	report := c.Snapshot()
	if len(report.Histograms) != 1 {
		t.Fatalf("expected 1 histogram, got %d", len(report.Histograms))
	}
	if report.Histograms[0].Count != 1 {
		t.Errorf("expected old sample pruned, got count %d", report.Histograms[0].Count)
	}
	if report.Histograms[0].Min != 2.0 {
		t.Errorf("expected only the fresh sample, got min %v", report.Histograms[0].Min)
	}
}

func TestCollector_Gauge(t *testing.T) {
	c := newTestCollector()
	c.SetGauge(MetricBreakerState, Labels{LabelResource: "db"}, 1)
	c.SetGauge(MetricBreakerState, Labels{LabelResource: "db"}, 2)

	report := c.Snapshot()
	if len(report.Gauges) != 1 {
		t.Fatalf("expected 1 gauge, got %d", len(report.Gauges))
	}
	if report.Gauges[0].Value != 2 {
		t.Errorf("expected last value 2, got %v", report.Gauges[0].Value)
	}
}

func TestCollector_DisabledIsNoop(t *testing.T) {
	c := Nop()
	c.Inc(MetricNodeTotal, nil)
	c.Observe(MetricNodeDuration, nil, 1)
	c.SetGauge(MetricBreakerState, nil, 1)

	report := c.Snapshot()
	if len(report.Counters)+len(report.Gauges)+len(report.Histograms) != 0 {
		t.Error("disabled collector should record nothing")
	}
}

func TestCollector_ExportPrometheus(t *testing.T) {
	c := newTestCollector()
	c.Inc(MetricWorkflowTotal, Labels{LabelStatus: "success"})
	c.SetGauge(MetricBreakerState, Labels{LabelResource: "db"}, 1)
	c.Observe(MetricNodeDuration, Labels{LabelNode: "fetch"}, 0.25)

	text, err := c.ExportPrometheus()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		`flowkit_workflow_executions{status="success"} 1`,
		`flowkit_circuit_breaker_state{resource="db"} 1`,
		`flowkit_node_duration_seconds_count{node_id="fetch"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("export missing %q:\n%s", want, text)
		}
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(sorted, 0.5); got != 5 {
		t.Errorf("p50: expected 5, got %v", got)
	}
	if got := percentile(sorted, 0.99); got != 10 {
		t.Errorf("p99: expected 10, got %v", got)
	}
}
