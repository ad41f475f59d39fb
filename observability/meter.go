package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/skillsenselab/flowkit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the runtime instance.
	ServiceName string
	// ServiceVersion is the version of the runtime instance.
	ServiceVersion string
	// Environment is the deployment environment (development, staging, production).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// RunMetrics holds OpenTelemetry instruments for workflow execution.
type RunMetrics struct {
	workflowTotal    metric.Int64Counter
	workflowDuration metric.Float64Histogram
	workflowActive   metric.Int64UpDownCounter
	nodeTotal        metric.Int64Counter
	nodeDuration     metric.Float64Histogram
	errorTotal       metric.Int64Counter
}

// NewRunMetrics creates workflow execution instruments on the given meter.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	workflowTotal, err := meter.Int64Counter("workflow.total",
		metric.WithDescription("Total number of workflow executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating workflow.total counter: %w", err)
	}

	workflowDuration, err := meter.Float64Histogram("workflow.duration",
		metric.WithDescription("Duration of workflow executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating workflow.duration histogram: %w", err)
	}

	workflowActive, err := meter.Int64UpDownCounter("workflow.active",
		metric.WithDescription("Number of currently executing workflows"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating workflow.active gauge: %w", err)
	}

	nodeTotal, err := meter.Int64Counter("node.total",
		metric.WithDescription("Total number of node executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating node.total counter: %w", err)
	}

	nodeDuration, err := meter.Float64Histogram("node.duration",
		metric.WithDescription("Duration of node executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating node.duration histogram: %w", err)
	}

	errorTotal, err := meter.Int64Counter("error.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error.total counter: %w", err)
	}

	return &RunMetrics{
		workflowTotal:    workflowTotal,
		workflowDuration: workflowDuration,
		workflowActive:   workflowActive,
		nodeTotal:        nodeTotal,
		nodeDuration:     nodeDuration,
		errorTotal:       errorTotal,
	}, nil
}

// RecordWorkflowStart increments the active workflow count.
func (m *RunMetrics) RecordWorkflowStart(ctx context.Context) {
	m.workflowActive.Add(ctx, 1)
}

// RecordWorkflow decrements active workflows and records the completed run.
func (m *RunMetrics) RecordWorkflow(ctx context.Context, workflowID, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("status", status),
	)
	m.workflowActive.Add(ctx, -1)
	m.workflowTotal.Add(ctx, 1, attrs)
	m.workflowDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflowID),
	))
}

// RecordNode records a node execution.
func (m *RunMetrics) RecordNode(ctx context.Context, workflowID, nodeID, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("node", nodeID),
		attribute.String("status", status),
	)
	m.nodeTotal.Add(ctx, 1, attrs)
	m.nodeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("node", nodeID),
	))
}

// RecordError records an error by code and component.
func (m *RunMetrics) RecordError(ctx context.Context, code, component string) {
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("component", component),
	))
}
