package bootstrap

import (
	"time"

	"github.com/skillsenselab/flowkit/engine"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/observability"
)

// Option configures the Runtime during creation.
type Option func(*runtimeOptions)

// runtimeOptions collects all option values before applying to Runtime.
type runtimeOptions struct {
	logger          *logger.Logger
	middleware      []engine.Middleware
	runMetrics      *observability.RunMetrics
	gracefulTimeout *time.Duration
}

// resolveOptions applies all options and returns the collected values.
func resolveOptions(opts []Option) *runtimeOptions {
	o := &runtimeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger for the runtime.
// If not set, the logger is auto-initialized from the config's Logging field.
func WithLogger(l *logger.Logger) Option {
	return func(o *runtimeOptions) {
		o.logger = l
	}
}

// WithMiddleware wraps every node execution with the given middleware,
// outermost first.
func WithMiddleware(mws ...engine.Middleware) Option {
	return func(o *runtimeOptions) {
		o.middleware = append(o.middleware, mws...)
	}
}

// WithRunMetrics exports workflow and node execution metrics on the given
// OpenTelemetry instruments: the engine records every node run through an
// engine.WithMetrics middleware, and ExecuteWorkflow opens one traced span
// per run with workflow totals and durations.
func WithRunMetrics(rm *observability.RunMetrics) Option {
	return func(o *runtimeOptions) {
		o.runMetrics = rm
	}
}

// WithGracefulTimeout sets the maximum duration for graceful shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *runtimeOptions) {
		o.gracefulTimeout = &d
	}
}
