package engine

import "time"

// Status is the terminal state of a node or workflow.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
	StatusCancelled Status = "CANCELLED"
)

// NodeResult is the finalized outcome of one node execution.
type NodeResult struct {
	NodeID     string
	Status     Status
	Outputs    map[string]any
	Err        error
	Retries    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time the node spent executing.
func (r NodeResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// WorkflowResult aggregates one full run. It is returned even on fail-fast
// abort or timeout, enumerating exactly which nodes succeeded, failed,
// were skipped, or were cancelled.
type WorkflowResult struct {
	RunID      string
	WorkflowID string
	Status     Status
	Nodes      map[string]NodeResult
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the whole run.
func (r *WorkflowResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts returns how many nodes finished in each status.
func (r *WorkflowResult) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, nr := range r.Nodes {
		counts[nr.Status]++
	}
	return counts
}
