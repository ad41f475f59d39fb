package graph

import "time"

// Mode declares how a node's work is scheduled.
type Mode string

const (
	// ModeAsync marks nodes whose Run is non-blocking (I/O bound, context
	// aware). They run directly on the scheduler's goroutines.
	ModeAsync Mode = "async"
	// ModeSync marks nodes doing blocking or CPU-bound work. The engine
	// dispatches them to a bounded worker pool.
	ModeSync Mode = "sync"
)

// ErrorPolicy declares how a node failure affects the rest of the run.
type ErrorPolicy string

const (
	// FailFast cancels the current level and aborts the workflow.
	FailFast ErrorPolicy = "fail_fast"
	// ContinueOnError records the failure and skips strict dependents.
	ContinueOnError ErrorPolicy = "continue_on_error"
)

// SkipPolicy declares when a node with several required inputs runs.
type SkipPolicy string

const (
	// SkipUnlessAllPresent runs the node only if every required input is
	// present. The default.
	SkipUnlessAllPresent SkipPolicy = "all_required_present"
	// SkipIfAllAbsent runs the node if at least one required input is
	// present, for join nodes fed by alternative branches.
	SkipIfAllAbsent SkipPolicy = "any_required_present"
)

// RetryPolicy bounds re-execution of a failed node.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor" mapstructure:"backoff_factor"`
}

// NodePolicy bundles the per-node execution knobs.
type NodePolicy struct {
	OnError ErrorPolicy   `yaml:"on_error" mapstructure:"on_error"`
	Skip    SkipPolicy    `yaml:"skip" mapstructure:"skip"`
	Retry   RetryPolicy   `yaml:"retry" mapstructure:"retry"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// Resource names the pooled resource this node calls, if any. Calls
	// are routed through that resource's circuit breaker.
	Resource string `yaml:"resource" mapstructure:"resource"`
	// Fallback names an output port to populate with a static config
	// value when the resource's circuit is open.
	Fallback string `yaml:"fallback" mapstructure:"fallback"`
}

// PortSpec declares one named input or output slot on a node.
type PortSpec struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Required bool   `yaml:"required" mapstructure:"required"`
}

// NodeSpec declares one unit of work in a workflow. The spec is data only;
// behavior comes from the engine's node registry keyed by Type.
type NodeSpec struct {
	ID      string         `yaml:"id" mapstructure:"id"`
	Type    string         `yaml:"type" mapstructure:"type"`
	Mode    Mode           `yaml:"mode" mapstructure:"mode"`
	Config  map[string]any `yaml:"config" mapstructure:"config"`
	Inputs  []PortSpec     `yaml:"inputs" mapstructure:"inputs"`
	Outputs []PortSpec     `yaml:"outputs" mapstructure:"outputs"`
	Policy  NodePolicy     `yaml:"policy" mapstructure:"policy"`
}

// Input returns the input port with the given name.
func (n NodeSpec) Input(name string) (PortSpec, bool) {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortSpec{}, false
}

// Output returns the output port with the given name.
func (n NodeSpec) Output(name string) (PortSpec, bool) {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortSpec{}, false
}

// IterationGroup tags a node subset as a bounded, deliberately cyclic
// region. The engine re-enters the group's sub-plan until the convergence
// predicate holds or MaxIterations is reached.
type IterationGroup struct {
	Name    string   `yaml:"name" mapstructure:"name"`
	Members []string `yaml:"members" mapstructure:"members"`
	// Entry and Exit are the single boundary nodes of the group.
	Entry string `yaml:"entry" mapstructure:"entry"`
	Exit  string `yaml:"exit" mapstructure:"exit"`
	// MaxIterations bounds re-entry. Must be positive.
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
	// Convergence references a predicate registered with the engine.
	Convergence string `yaml:"convergence" mapstructure:"convergence"`
}

// Contains reports whether id is a member of the group.
func (g IterationGroup) Contains(id string) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}
