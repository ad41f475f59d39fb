package config

import (
	"fmt"

	"github.com/skillsenselab/flowkit/engine"
	"github.com/skillsenselab/flowkit/metrics"
	"github.com/skillsenselab/flowkit/query"
	"github.com/skillsenselab/flowkit/resilience"
	"github.com/skillsenselab/flowkit/resource"
)

// Resource kinds understood by ResourceConfig.Factory.
const (
	ResourceKindSQL  = "sql"
	ResourceKindHTTP = "http"
)

// ResourceConfig declares one named pooled resource.
type ResourceConfig struct {
	// Kind selects the connection factory: "sql" or "http".
	Kind string `yaml:"kind" mapstructure:"kind"`

	// Driver and DSN configure sql resources.
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`

	// BaseURL and HealthPath configure http resources.
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	HealthPath string `yaml:"health_path" mapstructure:"health_path"`

	Pool resource.PoolConfig `yaml:"pool" mapstructure:"pool"`

	// Breaker overrides the runtime-wide breaker defaults for this
	// resource when set.
	Breaker *resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Guard adds bulkhead and rate-limit policies in front of the
	// breaker for calls against this resource.
	Guard *resilience.GuardConfig `yaml:"guard" mapstructure:"guard"`
}

// Factory builds the connection factory for this resource declaration.
func (c *ResourceConfig) Factory() (resource.Factory, error) {
	switch c.Kind {
	case ResourceKindSQL:
		if c.Driver == "" || c.DSN == "" {
			return nil, fmt.Errorf("sql resource requires driver and dsn")
		}
		return resource.SQLFactory{Driver: c.Driver, DSN: c.DSN}, nil
	case ResourceKindHTTP:
		if c.BaseURL == "" {
			return nil, fmt.Errorf("http resource requires base_url")
		}
		return resource.HTTPFactory{BaseURL: c.BaseURL, HealthPath: c.HealthPath}, nil
	default:
		return nil, fmt.Errorf("unknown resource kind %q", c.Kind)
	}
}

// ApplyDefaults applies default values to the resource declaration.
func (c *ResourceConfig) ApplyDefaults() {
	if c.Kind == "" && c.DSN != "" {
		c.Kind = ResourceKindSQL
	}
	if c.Kind == "" && c.BaseURL != "" {
		c.Kind = ResourceKindHTTP
	}
	c.Pool.ApplyDefaults()
}

// Validate validates the resource declaration.
func (c *ResourceConfig) Validate() error {
	if _, err := c.Factory(); err != nil {
		return err
	}
	return c.Pool.Validate()
}

// RuntimeConfig is the full configuration of a workflow runtime instance.
type RuntimeConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`

	// Engine configures the scheduler.
	Engine engine.Options `yaml:"engine" mapstructure:"engine"`

	// Metrics configures the collector.
	Metrics metrics.Config `yaml:"metrics" mapstructure:"metrics"`

	// Resources declares the pooled resources by name.
	Resources map[string]ResourceConfig `yaml:"resources" mapstructure:"resources"`

	// Breaker holds runtime-wide circuit breaker defaults; per-resource
	// declarations may override them.
	Breaker resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Pipelines declares query pipelines by name.
	Pipelines map[string]query.Config `yaml:"pipelines" mapstructure:"pipelines"`

	// WorkflowPaths lists directories searched for workflow definition
	// files.
	WorkflowPaths []string `yaml:"workflow_paths" mapstructure:"workflow_paths"`
}

// ApplyDefaults applies default values across all sections.
func (c *RuntimeConfig) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Engine.ApplyDefaults()
	c.Metrics.ApplyDefaults()

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker = resilience.DefaultBreakerConfig("")
	}

	for name, rc := range c.Resources {
		rc.ApplyDefaults()
		c.Resources[name] = rc
	}
	for name, pc := range c.Pipelines {
		if pc.Resource == "" {
			pc.Resource = name
		}
		pc.ApplyDefaults()
		c.Pipelines[name] = pc
	}
}

// Validate validates all sections, including cross-references from
// pipelines to declared resources.
func (c *RuntimeConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	for name, rc := range c.Resources {
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("config.resources.%s: %w", name, err)
		}
	}
	for name, pc := range c.Pipelines {
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("config.pipelines.%s: %w", name, err)
		}
		if _, ok := c.Resources[pc.Resource]; !ok {
			return fmt.Errorf("config.pipelines.%s: unknown resource %q", name, pc.Resource)
		}
	}
	return nil
}
