package metrics

// Metric name constants used across the runtime. Centralized so engine,
// pool, breaker, and pipeline agree on spelling.
const (
	// Workflow-level metrics.
	MetricWorkflowTotal    = "workflow.executions"
	MetricWorkflowDuration = "workflow.duration_seconds"

	// Node-level metrics.
	MetricNodeTotal    = "node.executions"
	MetricNodeDuration = "node.duration_seconds"
	MetricNodeRetries  = "node.retries"

	// Circuit breaker metrics.
	MetricBreakerState      = "circuit_breaker.state"
	MetricBreakerRejections = "circuit_breaker.rejections"

	// Connection pool metrics.
	MetricPoolAcquireWait = "pool.acquire_wait_seconds"
	MetricPoolInUse       = "pool.in_use"
	MetricPoolIdle        = "pool.idle"
	MetricPoolExhausted   = "pool.exhausted"
	MetricPoolEvictions   = "pool.evictions"

	// Query pipeline metrics.
	MetricQueryBatchSize = "query.batch_size"
	MetricQueryFlushes   = "query.flushes"

	// Event bus metrics.
	MetricEventsDropped = "events.dropped"
)

// Standard label keys.
const (
	LabelWorkflow = "workflow_id"
	LabelNode     = "node_id"
	LabelResource = "resource"
	LabelStatus   = "status"
)
