// Package bootstrap assembles a workflow runtime from configuration.
//
// New wires the full stack — logger, metrics collector, resource registry,
// circuit breakers, event bus, query pipelines, and the execution engine —
// from a config.RuntimeConfig, and manages it with a uniform lifecycle:
// Start, ready check, serve or run a task, graceful shutdown.
//
// # Quick Start
//
//	var cfg config.RuntimeConfig
//	if err := config.Load("flowkit", &cfg); err != nil { ... }
//
//	rt, err := bootstrap.New(&cfg)
//	rt.Nodes.Register("extract", newExtractNode)
//	err = rt.RunTask(ctx, func(ctx context.Context) error {
//	    res, err := rt.ExecuteWorkflow(ctx, "etl", nil, nil)
//	    ...
//	})
package bootstrap
