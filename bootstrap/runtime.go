package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillsenselab/flowkit/component"
	"github.com/skillsenselab/flowkit/config"
	"github.com/skillsenselab/flowkit/engine"
	"github.com/skillsenselab/flowkit/events"
	"github.com/skillsenselab/flowkit/graph"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/metrics"
	"github.com/skillsenselab/flowkit/observability"
	"github.com/skillsenselab/flowkit/query"
	"github.com/skillsenselab/flowkit/resilience"
	"github.com/skillsenselab/flowkit/resource"
	"github.com/skillsenselab/flowkit/version"
)

// Runtime is a fully wired workflow runtime instance with uniform
// lifecycle management.
type Runtime struct {
	Name    string
	Version string
	Cfg     *config.RuntimeConfig

	Logger     *logger.Logger
	Components *component.Registry
	Collector  *metrics.Collector
	Resources  *resource.Registry
	Breakers   *resilience.BreakerRegistry
	Nodes      *engine.Registry
	Events     *events.Bus
	Engine     *engine.Engine
	Workflows  graph.WorkflowLoader
	Pipelines  map[string]*query.Pipeline

	Summary *Summary

	runMetrics      *observability.RunMetrics
	gracefulTimeout time.Duration
	onConfigure     []func(ctx context.Context, rt *Runtime) error

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// New wires a runtime from config. It applies defaults, validates, and
// builds every subsystem; nothing is started until Start or Run.
func New(cfg *config.RuntimeConfig, opts ...Option) (*Runtime, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	ver := cfg.Version
	if ver == "" {
		ver = version.Short()
	}

	rt := &Runtime{
		Name:            cfg.Name,
		Version:         ver,
		Cfg:             cfg,
		Components:      component.NewRegistry(),
		Nodes:           engine.NewRegistry(),
		Pipelines:       make(map[string]*query.Pipeline),
		gracefulTimeout: 15 * time.Second,
	}

	o := resolveOptions(opts)
	if o.gracefulTimeout != nil {
		rt.gracefulTimeout = *o.gracefulTimeout
	}
	if o.logger != nil {
		rt.Logger = o.logger
	} else {
		logger.Init(cfg.Logging)
		rt.Logger = logger.GetGlobalLogger()
	}

	rt.Collector = metrics.NewCollector(cfg.Metrics)
	rt.Events = events.NewBus(events.WithCollector(rt.Collector))
	rt.Resources = resource.NewRegistry(rt.Logger, rt.Collector)
	rt.Breakers = resilience.NewBreakerRegistry(cfg.Breaker, rt.Collector)

	for name, rc := range cfg.Resources {
		factory, err := rc.Factory()
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", name, err)
		}
		if err := rt.Resources.Register(name, factory, rc.Pool); err != nil {
			return nil, err
		}
		if rc.Breaker != nil {
			rt.Breakers.Configure(name, *rc.Breaker)
		}
		if rc.Guard != nil {
			rt.Breakers.ConfigureGuard(name, *rc.Guard)
		}
	}

	middleware := o.middleware
	if o.runMetrics != nil {
		rt.runMetrics = o.runMetrics
		middleware = append(middleware, engine.WithMetrics(o.runMetrics))
	}

	eng, err := engine.New(cfg.Engine, engine.Deps{
		Nodes:      rt.Nodes,
		Resources:  rt.Resources,
		Breakers:   rt.Breakers,
		Metrics:    rt.Collector,
		Events:     rt.Events,
		Logger:     rt.Logger,
		Middleware: middleware,
	})
	if err != nil {
		return nil, err
	}
	rt.Engine = eng

	for name, pc := range cfg.Pipelines {
		pipe, err := query.NewPipeline(pc, rt.Resources, rt.Logger, rt.Collector)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		rt.Pipelines[name] = pipe
	}

	if len(cfg.WorkflowPaths) > 0 {
		rt.Workflows = graph.NewFileWorkflowLoader(cfg.WorkflowPaths...)
	}

	// Lifecycle order: collector first, then pools, then the bus; stopped
	// in reverse so the bus outlives in-flight runs' final events.
	for _, c := range []component.Component{rt.Collector, rt.Resources, rt.Events} {
		if err := rt.Components.Register(c); err != nil {
			return nil, err
		}
	}

	rt.Summary = NewSummary(cfg.Name, cfg.Version)
	return rt, nil
}

// RegisterComponent adds an extra component to the runtime's lifecycle.
func (rt *Runtime) RegisterComponent(c component.Component) error {
	return rt.Components.Register(c)
}

// OnConfigure registers a callback that runs after infrastructure is
// started, before the ready check. Use it to register node catalogs and
// convergence predicates.
func (rt *Runtime) OnConfigure(fn func(ctx context.Context, rt *Runtime) error) {
	rt.onConfigure = append(rt.onConfigure, fn)
}

// ExecuteWorkflow loads a named workflow definition, builds its graph, and
// executes it inside one traced, metered run span.
func (rt *Runtime) ExecuteWorkflow(ctx context.Context, name string, inputs, options map[string]map[string]any) (*engine.WorkflowResult, error) {
	if rt.Workflows == nil {
		return nil, fmt.Errorf("bootstrap: no workflow paths configured")
	}
	def, err := rt.Workflows.Load(name)
	if err != nil {
		return nil, err
	}
	g, err := def.Build()
	if err != nil {
		return nil, err
	}

	rc := observability.NewRunContext(name, "", rt.runMetrics)
	ctx = observability.WithRunContext(ctx, rc)
	ctx, span := rc.StartSpanForRun(ctx, observability.SpanWorkflowExecute)

	res, err := rt.Engine.Execute(ctx, engine.Request{
		WorkflowID: name,
		Graph:      g,
		Inputs:     inputs,
		Options:    options,
	})

	status := string(engine.StatusFailed)
	if res != nil {
		rc.RunID = res.RunID
		status = string(res.Status)
		observability.SetSpanAttribute(ctx, observability.AttrRunID, res.RunID)
	}
	rc.EndRun(ctx, span, status, err)

	return res, err
}

// ReadyCheck verifies that all registered components are healthy.
func (rt *Runtime) ReadyCheck(ctx context.Context) error {
	results := rt.Components.HealthAll(ctx)
	var unhealthy []string
	for _, h := range results {
		if h.Status != component.StatusHealthy {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			unhealthy = append(unhealthy, detail)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// Run executes the full lifecycle for long-running instances:
// Start → OnStart hooks → Configure → ReadyCheck → OnReady hooks →
// block on signal → OnStop hooks → graceful shutdown.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.startup(ctx); err != nil {
		return err
	}

	rt.Logger.Info("Runtime ready — waiting for shutdown signal")
	rt.WaitForSignal(ctx)

	return rt.stop()
}

// RunTask executes a finite task with the full bootstrap lifecycle.
// Unlike Run, it does not block on shutdown signals — it runs the task and
// shuts down when the task completes or the context is canceled.
func (rt *Runtime) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := rt.startup(ctx); err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			rt.Logger.Info("Received signal — canceling task", map[string]interface{}{
				"signal": sig.String(),
			})
			cancel()
		case <-taskCtx.Done():
		}
	}()

	taskErr := task(taskCtx)

	if stopErr := rt.stop(); stopErr != nil {
		if taskErr != nil {
			return taskErr
		}
		return stopErr
	}
	return taskErr
}

// startup performs the common initialization sequence shared by Run and RunTask.
func (rt *Runtime) startup(ctx context.Context) error {
	start := time.Now()

	rt.Logger.Info("Starting runtime", map[string]interface{}{
		"name":    rt.Name,
		"version": rt.Version,
	})

	if err := rt.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := runHooks(ctx, rt.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}

	for _, fn := range rt.onConfigure {
		if err := fn(ctx, rt); err != nil {
			return fmt.Errorf("configuration failed: %w", err)
		}
	}

	if err := rt.ReadyCheck(ctx); err != nil {
		rt.Logger.Warn("Ready check reported issues", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if err := runHooks(ctx, rt.onReady); err != nil {
		return fmt.Errorf("onReady hook failed: %w", err)
	}

	rt.Summary.SetStartupDuration(time.Since(start))
	rt.DisplaySummary()

	return nil
}

// DisplaySummary prints the startup summary, collecting resource and
// health state from the live registries.
func (rt *Runtime) DisplaySummary() {
	for name, stats := range rt.Resources.Stats() {
		rt.Summary.TrackResource(name, stats)
	}
	for _, nodeType := range rt.Nodes.Types() {
		rt.Summary.TrackNodeType(nodeType)
	}
	rt.Summary.DisplaySummary(rt.Components, rt.Logger)
}

// WaitForSignal blocks until an OS interrupt/term signal or context cancellation.
func (rt *Runtime) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		rt.Logger.Info("Received shutdown signal — graceful shutdown starting", map[string]interface{}{
			"signal": sig.String(),
		})
		return sig
	case <-ctx.Done():
		rt.Logger.Info("Context canceled — shutting down")
		return nil
	}
}

// Shutdown performs graceful shutdown. Use when managing your own lifecycle.
func (rt *Runtime) Shutdown(_ context.Context) error {
	return rt.stop()
}

// stop gracefully shuts down all components within the graceful timeout.
func (rt *Runtime) stop() error {
	rt.Logger.Info("Shutting down runtime", map[string]interface{}{
		"timeout": rt.gracefulTimeout.String(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), rt.gracefulTimeout)
	defer cancel()

	var shutdownErr error

	if err := runHooks(ctx, rt.onStop); err != nil {
		rt.Logger.Error("OnStop hook error", map[string]interface{}{
			"error": err.Error(),
		})
		shutdownErr = err
	}

	if err := rt.Components.StopAll(ctx); err != nil {
		rt.Logger.Error("Shutdown completed with errors", map[string]interface{}{
			"error": err.Error(),
		})
		shutdownErr = err
	}

	rt.Logger.Info("Runtime shutdown complete")
	return shutdownErr
}
