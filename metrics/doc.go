// Package metrics provides the runtime's metrics collector: append-only
// counters, gauges, and sliding-window latency histograms keyed by metric
// name and label set.
//
// Counters increment through atomic operations so high node throughput does
// not serialize on a collector lock. Histogram samples older than the
// configured retention window are pruned lazily on write. Snapshot returns a
// point-in-time report; ExportPrometheus renders the Prometheus text
// exposition format through a client_golang registry.
package metrics
