package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Node is the behavior behind a graph.NodeSpec type tag. The engine is
// agnostic to what a node does; it only configures it and runs it.
type Node interface {
	// Configure applies the node's merged static and per-run options
	// before the first Run.
	Configure(options map[string]any) error
	// Run executes the node against its resolved inputs and returns its
	// named outputs.
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Factory creates a fresh node instance per run, so per-run configuration
// never leaks between executions.
type Factory func() Node

// Predicate decides iteration-group convergence from the exit node's
// outputs of the latest pass.
type Predicate func(outputs map[string]any) bool

// Registry maps node type tags to factories and convergence predicate
// names to predicates. External packages register their node catalogs
// here; the scheduler never hard-codes node semantics.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	predicates map[string]Predicate
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:  make(map[string]Factory),
		predicates: make(map[string]Predicate),
	}
}

// Register adds a node factory for a type tag.
func (r *Registry) Register(nodeType string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[nodeType]; dup {
		return fmt.Errorf("engine: node type %q already registered", nodeType)
	}
	r.factories[nodeType] = f
	return nil
}

// New instantiates a node for a type tag.
func (r *Registry) New(nodeType string) (Node, error) {
	r.mu.RLock()
	f, ok := r.factories[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: node type %q not registered", nodeType)
	}
	return f(), nil
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterPredicate adds a named convergence predicate.
func (r *Registry) RegisterPredicate(name string, p Predicate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.predicates[name]; dup {
		return fmt.Errorf("engine: predicate %q already registered", name)
	}
	r.predicates[name] = p
	return nil
}

// Predicate looks up a named convergence predicate.
func (r *Registry) Predicate(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.predicates[name]
	return p, ok
}

// FuncNode adapts a plain function to the Node interface. The configured
// options are made available to the function.
type FuncNode struct {
	fn      func(ctx context.Context, options, inputs map[string]any) (map[string]any, error)
	options map[string]any
}

// NewFuncNode wraps fn as a Node.
func NewFuncNode(fn func(ctx context.Context, options, inputs map[string]any) (map[string]any, error)) *FuncNode {
	return &FuncNode{fn: fn}
}

// Configure implements Node.
func (n *FuncNode) Configure(options map[string]any) error {
	n.options = options
	return nil
}

// Run implements Node.
func (n *FuncNode) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return n.fn(ctx, n.options, inputs)
}
