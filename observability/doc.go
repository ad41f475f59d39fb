// Package observability provides OpenTelemetry tracing and metrics export
// for the workflow runtime.
//
// The metrics package keeps the runtime's own low-overhead collector; this
// package ships traces and aggregated run metrics to an OTLP endpoint for
// fleet-wide dashboards.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("flowkit"))
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanWorkflowExecute)
//	defer span.End()
//
// Metrics:
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("flowkit"))
//	defer mp.Shutdown(ctx)
//
//	rm, err := observability.NewRunMetrics(observability.Meter("flowkit"))
//	rm.RecordWorkflow(ctx, "etl", "SUCCESS", duration)
package observability
