package engine

import (
	"fmt"
	"time"
)

// Options configures the scheduler.
type Options struct {
	// MaxConcurrentNodes bounds concurrently running node tasks across
	// the whole run.
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes" mapstructure:"max_concurrent_nodes"`
	// SyncWorkers is the size of the worker pool for sync-mode nodes.
	SyncWorkers int `yaml:"sync_workers" mapstructure:"sync_workers"`
	// NodeTimeout bounds a single node execution when the node's own
	// policy declares none. Zero means unbounded.
	NodeTimeout time.Duration `yaml:"node_timeout" mapstructure:"node_timeout"`
	// WorkflowTimeout bounds the whole run. Zero means unbounded.
	WorkflowTimeout time.Duration `yaml:"workflow_timeout" mapstructure:"workflow_timeout"`
}

// ApplyDefaults applies default values to scheduler options.
func (o *Options) ApplyDefaults() {
	if o.MaxConcurrentNodes <= 0 {
		o.MaxConcurrentNodes = 10
	}
	if o.SyncWorkers <= 0 {
		o.SyncWorkers = 4
	}
}

// Validate validates scheduler options.
func (o *Options) Validate() error {
	if o.MaxConcurrentNodes < 1 {
		return fmt.Errorf("engine.max_concurrent_nodes must be at least 1")
	}
	if o.SyncWorkers < 1 {
		return fmt.Errorf("engine.sync_workers must be at least 1")
	}
	return nil
}
