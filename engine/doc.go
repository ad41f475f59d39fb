// Package engine drives level-by-level concurrent workflow execution.
//
// The scheduler consumes an analyzed execution plan, dispatches each
// level's eligible nodes concurrently under a global concurrency bound,
// and waits at the level barrier before advancing. Sync-mode nodes run on
// a bounded worker pool so blocking work never stalls the scheduler's own
// goroutines. Failures are handled per node policy: bounded retries with
// exponential backoff, continue-on-error with transitive skip of strict
// dependents, or fail-fast cancellation of the whole run.
//
// Nodes that declare a resource have their run wrapped in that resource's
// circuit breaker, with a connection borrowed from the pool for the single
// invocation and reachable through ConnFromContext.
package engine
