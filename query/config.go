package query

import (
	"fmt"
	"time"
)

// Strategy selects how a flushed batch handles individual failures.
type Strategy string

const (
	// BestEffort runs every statement; each result succeeds or fails
	// independently.
	BestEffort Strategy = "best_effort"
	// AllOrNothing wraps the batch in a transaction; any failure rolls the
	// whole batch back.
	AllOrNothing Strategy = "all_or_nothing"
)

// Config configures a query pipeline.
type Config struct {
	// Resource names the pooled SQL resource the pipeline flushes against.
	Resource string `yaml:"resource" mapstructure:"resource"`
	// BatchSize triggers an automatic flush once this many statements are
	// buffered.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// Strategy is the flush failure policy.
	Strategy Strategy `yaml:"strategy" mapstructure:"strategy"`
	// FlushTimeout bounds one flush round trip, including the pool acquire.
	FlushTimeout time.Duration `yaml:"flush_timeout" mapstructure:"flush_timeout"`
}

// ApplyDefaults applies default values to query pipeline settings.
func (c *Config) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Strategy == "" {
		c.Strategy = BestEffort
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
}

// Validate validates query pipeline settings.
func (c *Config) Validate() error {
	if c.Resource == "" {
		return fmt.Errorf("query.resource is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("query.batch_size must be at least 1")
	}
	switch c.Strategy {
	case BestEffort, AllOrNothing:
	default:
		return fmt.Errorf("query.strategy must be %q or %q", BestEffort, AllOrNothing)
	}
	return nil
}
