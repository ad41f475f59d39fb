// Package events provides the runtime's lifecycle event bus. The engine
// publishes workflow and node lifecycle events; subscribers receive them on
// buffered channels suitable for bridging to an external presentation layer
// (CLI, SSE, dashboard). Publishing never blocks: events for a slow
// subscriber are dropped and counted rather than stalling the scheduler.
package events
