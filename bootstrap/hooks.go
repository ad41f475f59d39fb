package bootstrap

import (
	"context"
	"fmt"
)

// Hook is a lifecycle callback that runs during runtime startup or shutdown.
// Callers register hooks to perform setup/teardown without bootstrap knowing
// about specific infrastructure.
type Hook func(ctx context.Context) error

// OnStart registers a hook that runs after all components are started but
// before the runtime is marked as ready.
func (rt *Runtime) OnStart(hooks ...Hook) {
	rt.onStart = append(rt.onStart, hooks...)
}

// OnReady registers a hook that runs after the runtime passes its ready
// check and is about to begin accepting work.
func (rt *Runtime) OnReady(hooks ...Hook) {
	rt.onReady = append(rt.onReady, hooks...)
}

// OnStop registers a hook that runs during graceful shutdown before
// components are stopped. Use this for cleanup tasks like flushing query
// pipelines or draining event subscribers.
func (rt *Runtime) OnStop(hooks ...Hook) {
	rt.onStop = append(rt.onStop, hooks...)
}

// runHooks executes a slice of hooks sequentially, returning the first error.
func runHooks(ctx context.Context, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("hook %d failed: %w", i, err)
		}
	}
	return nil
}
