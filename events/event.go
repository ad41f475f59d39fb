package events

import "time"

// Type categorizes lifecycle events emitted during workflow execution.
type Type string

const (
	// TypeWorkflowStarted is emitted when a workflow execution begins.
	TypeWorkflowStarted Type = "workflow.started"
	// TypeWorkflowCompleted is emitted when a workflow execution finishes,
	// whatever its final status.
	TypeWorkflowCompleted Type = "workflow.completed"

	// TypeNodeStarted is emitted when a node begins execution.
	TypeNodeStarted Type = "node.started"
	// TypeNodeCompleted is emitted when a node completes successfully.
	TypeNodeCompleted Type = "node.completed"
	// TypeNodeFailed is emitted when a node fails after retries.
	TypeNodeFailed Type = "node.failed"
	// TypeNodeSkipped is emitted when a node is skipped due to absent inputs.
	TypeNodeSkipped Type = "node.skipped"
	// TypeNodeCancelled is emitted when an in-flight node is cancelled.
	TypeNodeCancelled Type = "node.cancelled"
	// TypeNodeRetried is emitted before each retry attempt.
	TypeNodeRetried Type = "node.retried"

	// TypeIterationCompleted is emitted after each pass of an iteration group.
	TypeIterationCompleted Type = "iteration.completed"

	// TypeError is emitted for runtime errors not tied to a single node.
	TypeError Type = "error"
)

// Event is a single lifecycle event.
type Event struct {
	// Type categorizes the event.
	Type Type
	// Timestamp records when this event occurred.
	Timestamp time.Time
	// RunID identifies which execution this event belongs to.
	RunID string
	// NodeID identifies which node this event is about, if applicable.
	NodeID string
	// Status is the new node or workflow status, if applicable.
	Status string
	// Err contains error details if applicable.
	Err error
	// Meta contains additional event-specific data (attempt number,
	// iteration index, level index).
	Meta map[string]any
}

// Filter defines criteria for filtering events on a subscription.
type Filter struct {
	// Types specifies which event types to include (empty means all).
	Types []Type
	// NodeIDs specifies which node IDs to include (empty means all).
	NodeIDs []string
}

// Matches returns true if the event passes the filter.
func (f *Filter) Matches(e Event) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if e.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.NodeIDs) > 0 {
		if e.NodeID == "" {
			return false
		}
		matched := false
		for _, id := range f.NodeIDs {
			if e.NodeID == id {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
