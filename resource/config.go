package resource

import (
	"fmt"
	"time"
)

// AdaptiveConfig tunes demand-driven pool resizing.
type AdaptiveConfig struct {
	// Enabled turns the resize loop on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Interval is how often demand is compared against pool size.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// Cooldown is the minimum gap between two resize decisions, so the
	// pool does not oscillate.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	// GrowWaitThreshold grows the pool when the average acquire wait over
	// the last interval exceeds it.
	GrowWaitThreshold time.Duration `yaml:"grow_wait_threshold" mapstructure:"grow_wait_threshold"`
}

// PoolConfig configures one named resource pool.
type PoolConfig struct {
	// MinConnections is the idle floor kept warm by the maintenance loop.
	MinConnections int `yaml:"min_connections" mapstructure:"min_connections"`
	// MaxConnections bounds outstanding borrowed connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`
	// ConnectionTimeout is how long an acquire blocks under exhaustion
	// before failing with a pool-exhausted error.
	ConnectionTimeout time.Duration `yaml:"connection_timeout" mapstructure:"connection_timeout"`
	// MaxLifetime evicts connections older than this on next acquire.
	MaxLifetime time.Duration `yaml:"max_lifetime" mapstructure:"max_lifetime"`
	// MaxIdleTime evicts connections idle longer than this.
	MaxIdleTime time.Duration `yaml:"max_idle_time" mapstructure:"max_idle_time"`
	// HealthCheckInterval is how often idle connections are pinged.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" mapstructure:"health_check_interval"`
	// Adaptive tunes demand-driven resizing.
	Adaptive AdaptiveConfig `yaml:"adaptive" mapstructure:"adaptive"`
}

// ApplyDefaults applies default values to pool configuration.
func (c *PoolConfig) ApplyDefaults() {
	if c.MinConnections <= 0 {
		c.MinConnections = 1
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = 5 * time.Minute
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.Adaptive.Interval <= 0 {
		c.Adaptive.Interval = 15 * time.Second
	}
	if c.Adaptive.Cooldown <= 0 {
		c.Adaptive.Cooldown = time.Minute
	}
	if c.Adaptive.GrowWaitThreshold <= 0 {
		c.Adaptive.GrowWaitThreshold = 100 * time.Millisecond
	}
}

// Validate validates pool configuration.
func (c *PoolConfig) Validate() error {
	if c.MinConnections < 0 {
		return fmt.Errorf("pool.min_connections must not be negative")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("pool.max_connections must be at least 1")
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("pool.min_connections (%d) exceeds max_connections (%d)",
			c.MinConnections, c.MaxConnections)
	}
	return nil
}
