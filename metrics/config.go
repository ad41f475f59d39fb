package metrics

import "fmt"

// Config holds metrics collector configuration.
type Config struct {
	// Enabled controls whether the collector records anything.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RetentionMinutes is how long histogram samples are retained before
	// lazy pruning discards them.
	RetentionMinutes int `yaml:"retention_minutes" mapstructure:"retention_minutes"`

	// Namespace prefixes every exported metric name (e.g. "flowkit").
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.RetentionMinutes <= 0 {
		c.RetentionMinutes = 15
	}
	if c.Namespace == "" {
		c.Namespace = "flowkit"
	}
}

// Validate validates metrics configuration.
func (c *Config) Validate() error {
	if c.RetentionMinutes < 0 {
		return fmt.Errorf("metrics.retention_minutes must be positive (got: %d)", c.RetentionMinutes)
	}
	return nil
}
