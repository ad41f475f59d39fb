package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	flowerrors "github.com/skillsenselab/flowkit/errors"
	"github.com/skillsenselab/flowkit/events"
	"github.com/skillsenselab/flowkit/graph"
	"github.com/skillsenselab/flowkit/logger"
	"github.com/skillsenselab/flowkit/metrics"
	"github.com/skillsenselab/flowkit/resilience"
	"github.com/skillsenselab/flowkit/resource"
)

// Deps carries the collaborators an engine executes against. Nodes is
// required; everything else is optional.
type Deps struct {
	Nodes      *Registry
	Resources  *resource.Registry
	Breakers   *resilience.BreakerRegistry
	Metrics    *metrics.Collector
	Events     *events.Bus
	Logger     *logger.Logger
	Middleware []Middleware
}

// Engine schedules workflow runs. It is safe for concurrent use; each run
// gets its own state, worker pool, and concurrency bound.
type Engine struct {
	opts Options
	deps Deps
	log  *logger.Logger
}

// New creates an engine.
func New(opts Options, deps Deps) (*Engine, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Nodes == nil {
		return nil, fmt.Errorf("engine: node registry is required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{opts: opts, deps: deps, log: log.WithComponent("engine")}, nil
}

// Request describes one workflow invocation. Inputs and Options are keyed
// by node id; values supplied for one node are never visible to siblings.
type Request struct {
	WorkflowID string
	Graph      *graph.WorkflowGraph
	// Inputs are runtime input-port values per node, overlaid on values
	// resolved from connections.
	Inputs map[string]map[string]any
	// Options are runtime config overrides per node, overlaid on the
	// node's static config before Configure.
	Options map[string]map[string]any
}

// Execute runs a workflow to completion. Node-level failures are reported
// inside the WorkflowResult; the returned error is reserved for requests
// that cannot start at all (nil graph, cyclic plan).
func (e *Engine) Execute(ctx context.Context, req Request) (*WorkflowResult, error) {
	if req.Graph == nil {
		return nil, fmt.Errorf("engine: request has no graph")
	}
	plan, err := graph.Analyze(req.Graph)
	if err != nil {
		return nil, err
	}

	r := &run{
		e:       e,
		req:     req,
		plan:    plan,
		runID:   uuid.NewString(),
		results: make(map[string]NodeResult),
		outputs: make(map[string]map[string]any),
		sem:     semaphore.NewWeighted(int64(e.opts.MaxConcurrentNodes)),
	}
	r.log = e.log.WithRun(r.runID)
	return r.execute(ctx), nil
}

type run struct {
	e     *Engine
	req   Request
	plan  *graph.ExecutionPlan
	runID string
	log   *logger.Logger

	sem     *semaphore.Weighted
	workers *workerPool

	mu       sync.Mutex
	results  map[string]NodeResult
	outputs  map[string]map[string]any
	aborted  bool
	abortErr error

	cancelRun context.CancelFunc
}

func (r *run) execute(parent context.Context) *WorkflowResult {
	started := time.Now()

	var ctx context.Context
	if r.e.opts.WorkflowTimeout > 0 {
		ctx, r.cancelRun = context.WithTimeout(parent, r.e.opts.WorkflowTimeout)
	} else {
		ctx, r.cancelRun = context.WithCancel(parent)
	}
	defer r.cancelRun()

	r.workers = newWorkerPool(r.e.opts.SyncWorkers)
	defer r.workers.close()

	r.log.Info("workflow started", map[string]interface{}{
		logger.FieldWorkflow: r.req.WorkflowID,
		"levels":             len(r.plan.Levels),
		"strategy":           string(r.plan.Strategy()),
	})
	r.emit(events.Event{Type: events.TypeWorkflowStarted})

	for levelIdx, level := range r.plan.Levels {
		if ctx.Err() != nil || r.isAborted() {
			break
		}
		r.runLevel(ctx, levelIdx, level)
	}

	result := r.assemble(parent, ctx, started)

	r.log.Info("workflow finished", map[string]interface{}{
		logger.FieldWorkflow: r.req.WorkflowID,
		logger.FieldStatus:   string(result.Status),
		logger.FieldDuration: result.Duration().Milliseconds(),
	})
	r.emit(events.Event{Type: events.TypeWorkflowCompleted, Status: string(result.Status)})
	if c := r.e.deps.Metrics; c != nil {
		labels := metrics.Labels{
			metrics.LabelWorkflow: r.req.WorkflowID,
			metrics.LabelStatus:   string(result.Status),
		}
		c.Inc(metrics.MetricWorkflowTotal, labels)
		c.ObserveDuration(metrics.MetricWorkflowDuration, labels, result.Duration())
	}
	return result
}

// runLevel dispatches one level's eligible nodes concurrently and waits at
// the barrier. Iteration groups placed in the level run as one task each.
func (r *run) runLevel(ctx context.Context, levelIdx int, level []string) {
	levelCtx, cancelLevel := context.WithCancel(ctx)
	defer cancelLevel()

	r.log.Debug("level started", map[string]interface{}{
		logger.FieldLevel: levelIdx,
		"nodes":           len(level),
	})

	seenGroups := make(map[string]bool)
	var wg sync.WaitGroup

	for _, id := range level {
		if grp, inGroup := r.req.Graph.GroupOf(id); inGroup {
			if seenGroups[grp.Name] {
				continue
			}
			seenGroups[grp.Name] = true
			wg.Add(1)
			go func(grp graph.IterationGroup) {
				defer wg.Done()
				r.runGroup(levelCtx, grp, cancelLevel)
			}(grp)
			continue
		}

		inputs, eligible := r.resolveInputs(id)
		if !eligible {
			r.recordSkip(id)
			continue
		}

		wg.Add(1)
		go func(id string, inputs map[string]any) {
			defer wg.Done()
			r.dispatch(levelCtx, id, inputs, cancelLevel)
		}(id, inputs)
	}

	wg.Wait()
}

// dispatch runs one node under the global concurrency bound and reacts to
// its outcome.
func (r *run) dispatch(ctx context.Context, id string, inputs map[string]any, cancelLevel context.CancelFunc) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.store(NodeResult{
			NodeID: id, Status: StatusCancelled,
			Err:       flowerrors.Cancelled(id),
			StartedAt: time.Now(), FinishedAt: time.Now(),
		})
		r.emit(events.Event{Type: events.TypeNodeCancelled, NodeID: id, Status: string(StatusCancelled)})
		return
	}
	defer r.sem.Release(1)

	nr := r.executeNode(ctx, id, inputs)
	r.store(nr)

	if nr.Status == StatusFailed && r.failFast(id) {
		r.abort(nr.Err)
		cancelLevel()
	}
}

func (r *run) failFast(id string) bool {
	spec, ok := r.req.Graph.Node(id)
	if !ok {
		return true
	}
	// Fail-fast is the engine's base semantics; tolerating a failure is
	// the explicit opt-in.
	return spec.Policy.OnError != graph.ContinueOnError
}

// resolveInputs builds a node's input map from its inbound connections and
// per-run overrides, then applies the node's skip policy against its
// required ports. A false return means the node is skipped, not failed.
func (r *run) resolveInputs(id string) (map[string]any, bool) {
	spec, _ := r.req.Graph.Node(id)
	inputs := make(map[string]any)

	byPort := make(map[string][]graph.Connection)
	for _, c := range r.req.Graph.Inbound(id) {
		byPort[c.ToInput] = append(byPort[c.ToInput], c)
	}

	r.mu.Lock()
	for port, conns := range byPort {
		merged := make(map[string]any)
		var single any
		var singleOK bool
		contributions := 0

		for _, c := range conns {
			srcOutputs, ok := r.outputs[c.FromNode]
			if !ok {
				continue
			}
			srcVal, ok := srcOutputs[c.FromOutput]
			if !ok {
				continue
			}
			projected, ok := graph.ResolvePath(srcVal, c.Path)
			if !ok {
				continue
			}
			contributions++
			if len(conns) == 1 {
				single, singleOK = projected, true
			} else {
				// Disjointness was checked at validation time.
				graph.MergeAt(merged, c.Path, projected)
			}
		}

		if contributions == 0 {
			continue
		}
		if singleOK {
			inputs[port] = single
		} else {
			inputs[port] = merged
		}
	}
	r.mu.Unlock()

	for port, val := range r.req.Inputs[id] {
		inputs[port] = val
	}

	var required, present int
	for _, p := range spec.Inputs {
		if !p.Required {
			continue
		}
		required++
		if _, ok := inputs[p.Name]; ok {
			present++
			continue
		}
		if _, ok := spec.Config[p.Name]; ok {
			present++
		}
	}
	if required == 0 {
		return inputs, true
	}

	switch spec.Policy.Skip {
	case graph.SkipIfAllAbsent:
		return inputs, present > 0
	default:
		return inputs, present == required
	}
}

// executeNode runs one node to a terminal status: configure, wrap with
// breaker and borrowed connection when a resource is declared, retry per
// policy, classify the outcome.
func (r *run) executeNode(parent context.Context, id string, inputs map[string]any) NodeResult {
	spec, _ := r.req.Graph.Node(id)
	started := time.Now()
	result := NodeResult{NodeID: id, StartedAt: started}

	r.emit(events.Event{Type: events.TypeNodeStarted, NodeID: id})

	finish := func(status Status, outputs map[string]any, err error) NodeResult {
		result.Status = status
		result.Outputs = outputs
		result.Err = err
		result.FinishedAt = time.Now()
		r.observeNode(id, result)
		return result
	}

	node, err := r.e.deps.Nodes.New(spec.Type)
	if err != nil {
		return finish(StatusFailed, nil, flowerrors.NodeExecution(id, err))
	}
	if err := node.Configure(r.mergedConfig(spec)); err != nil {
		return finish(StatusFailed, nil, flowerrors.NodeExecution(id, err))
	}

	ctx := withNodeID(withRunID(withWorkflowID(parent, r.req.WorkflowID), r.runID), id)
	timeout := spec.Policy.Timeout
	if timeout <= 0 {
		timeout = r.e.opts.NodeTimeout
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fn := r.runFunc(spec, node)
	fn = Chain(fn, r.e.deps.Middleware...)
	attempt := r.attemptFunc(ctx, spec, fn, inputs)

	outputs, err := resilience.Retry(ctx, r.retryConfig(id, &result), attempt)

	switch {
	case err == nil:
		r.storeOutputs(id, outputs)
		r.emit(events.Event{Type: events.TypeNodeCompleted, NodeID: id, Status: string(StatusSuccess)})
		return finish(StatusSuccess, outputs, nil)

	case parent.Err() != nil || errors.Is(err, context.Canceled):
		r.emit(events.Event{Type: events.TypeNodeCancelled, NodeID: id, Status: string(StatusCancelled)})
		return finish(StatusCancelled, nil, flowerrors.Cancelled(id).WithCause(err))

	case errors.Is(err, context.DeadlineExceeded):
		timeoutErr := flowerrors.Timeout(id).WithCause(err)
		r.emit(events.Event{Type: events.TypeNodeFailed, NodeID: id, Status: string(StatusFailed), Err: timeoutErr})
		return finish(StatusFailed, nil, timeoutErr)

	case flowerrors.HasCode(err, flowerrors.CodeCircuitOpen) && spec.Policy.Fallback != "":
		// Declared fallback path: serve the static value instead of
		// failing the node while the dependency is degraded.
		outputs = map[string]any{spec.Policy.Fallback: spec.Config[spec.Policy.Fallback]}
		r.storeOutputs(id, outputs)
		r.emit(events.Event{Type: events.TypeNodeCompleted, NodeID: id, Status: string(StatusSuccess)})
		return finish(StatusSuccess, outputs, nil)

	default:
		nodeErr := err
		if !flowerrors.HasCode(err, flowerrors.CodeCircuitOpen) &&
			!flowerrors.HasCode(err, flowerrors.CodePoolExhausted) {
			nodeErr = flowerrors.NodeExecution(id, err)
		}
		r.emit(events.Event{Type: events.TypeNodeFailed, NodeID: id, Status: string(StatusFailed), Err: nodeErr})
		return finish(StatusFailed, nil, nodeErr)
	}
}

// runFunc builds the innermost execution closure. Nodes with a declared
// resource get the call routed through that resource's protection chain
// (rate limiter, bulkhead, circuit breaker as configured) with a
// connection borrowed for exactly this invocation.
func (r *run) runFunc(spec graph.NodeSpec, node Node) RunFunc {
	resName := spec.Policy.Resource
	if resName == "" {
		return node.Run
	}

	return func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		var outputs map[string]any
		call := func() error {
			if r.e.deps.Resources == nil {
				return flowerrors.ResourceUnknown(resName)
			}
			pc, err := r.e.deps.Resources.Acquire(ctx, resName)
			if err != nil {
				return err
			}
			defer func() { _ = r.e.deps.Resources.Release(pc) }()

			outputs, err = node.Run(withConn(ctx, pc), inputs)
			return err
		}

		var err error
		if r.e.deps.Breakers != nil {
			err = r.e.deps.Breakers.Do(ctx, resName, call)
		} else {
			err = call()
		}
		return outputs, err
	}
}

// attemptFunc adapts fn to a single retryable attempt, routing sync-mode
// nodes through the bounded worker pool.
func (r *run) attemptFunc(ctx context.Context, spec graph.NodeSpec, fn RunFunc, inputs map[string]any) func() (map[string]any, error) {
	if spec.Mode != graph.ModeSync {
		return func() (map[string]any, error) {
			return fn(ctx, inputs)
		}
	}

	return func() (map[string]any, error) {
		var outputs map[string]any
		var runErr error
		done, err := r.workers.submit(ctx, func() {
			outputs, runErr = fn(ctx, inputs)
		})
		if err != nil {
			return nil, err
		}
		select {
		case <-done:
			return outputs, runErr
		case <-ctx.Done():
			// The worker finishes the blocking call on its own; the
			// scheduler moves on.
			return nil, ctx.Err()
		}
	}
}

func (r *run) retryConfig(id string, result *NodeResult) resilience.RetryConfig {
	spec, _ := r.req.Graph.Node(id)
	pol := spec.Policy.Retry

	maxAttempts := pol.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return resilience.RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: pol.InitialBackoff,
		MaxBackoff:     pol.MaxBackoff,
		BackoffFactor:  pol.BackoffFactor,
		RetryIf:        resilience.DefaultRetryIf,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			result.Retries = attempt
			r.emit(events.Event{
				Type: events.TypeNodeRetried, NodeID: id, Err: err,
				Meta: map[string]any{"attempt": attempt, "backoff_ms": backoff.Milliseconds()},
			})
			if c := r.e.deps.Metrics; c != nil {
				c.Inc(metrics.MetricNodeRetries, metrics.Labels{
					metrics.LabelWorkflow: r.req.WorkflowID,
					metrics.LabelNode:     id,
				})
			}
			r.log.Warn("node retrying", map[string]interface{}{
				logger.FieldNodeID:  id,
				logger.FieldAttempt: attempt,
				logger.FieldError:   err.Error(),
			})
		},
	}
}

// runGroup executes a bounded iteration group: its members run as a nested
// sub-plan re-entered until the convergence predicate holds on the exit
// node's outputs or MaxIterations is reached.
func (r *run) runGroup(ctx context.Context, grp graph.IterationGroup, cancelLevel context.CancelFunc) {
	subLevels := r.groupLevels(grp)
	pred, predOK := r.e.deps.Nodes.Predicate(grp.Convergence)
	if !predOK {
		r.log.Warn("convergence predicate not registered, running a single pass",
			map[string]interface{}{"group": grp.Name, "predicate": grp.Convergence})
	}

	for iter := 1; iter <= grp.MaxIterations; iter++ {
		for _, level := range subLevels {
			if ctx.Err() != nil || r.isAborted() {
				return
			}
			for _, id := range level {
				inputs, eligible := r.resolveInputs(id)
				if !eligible {
					r.recordSkip(id)
					continue
				}
				if err := r.sem.Acquire(ctx, 1); err != nil {
					return
				}
				nr := r.executeNode(ctx, id, inputs)
				r.sem.Release(1)
				r.store(nr)
				if nr.Status == StatusFailed && r.failFast(id) {
					r.abort(nr.Err)
					cancelLevel()
					return
				}
			}
		}

		r.emit(events.Event{
			Type: events.TypeIterationCompleted, NodeID: grp.Exit,
			Meta: map[string]any{"group": grp.Name, "iteration": iter},
		})

		if !predOK {
			return
		}
		r.mu.Lock()
		exitOutputs := r.outputs[grp.Exit]
		r.mu.Unlock()
		if pred(exitOutputs) {
			return
		}
	}
}

// groupLevels computes the intra-group schedule, ignoring the back edges
// that leave the exit node; those only carry state between iterations.
func (r *run) groupLevels(grp graph.IterationGroup) [][]string {
	members := make(map[string]bool, len(grp.Members))
	for _, m := range grp.Members {
		members[m] = true
	}

	inDegree := make(map[string]int, len(grp.Members))
	dependents := make(map[string][]string)
	for _, m := range grp.Members {
		inDegree[m] = 0
	}
	for _, c := range r.req.Graph.Connections() {
		if !members[c.FromNode] || !members[c.ToNode] || c.FromNode == grp.Exit {
			continue
		}
		inDegree[c.ToNode]++
		dependents[c.FromNode] = append(dependents[c.FromNode], c.ToNode)
	}

	var queue []string
	for m, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, m)
		}
	}

	var levels [][]string
	for len(queue) > 0 {
		levels = append(levels, queue)
		var next []string
		for _, m := range queue {
			for _, dep := range dependents[m] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}
	return levels
}

func (r *run) mergedConfig(spec graph.NodeSpec) map[string]any {
	merged := make(map[string]any, len(spec.Config))
	for k, v := range spec.Config {
		merged[k] = v
	}
	for k, v := range r.req.Options[spec.ID] {
		merged[k] = v
	}
	return merged
}

func (r *run) store(nr NodeResult) {
	r.mu.Lock()
	r.results[nr.NodeID] = nr
	r.mu.Unlock()
}

func (r *run) storeOutputs(id string, outputs map[string]any) {
	r.mu.Lock()
	r.outputs[id] = outputs
	r.mu.Unlock()
}

func (r *run) recordSkip(id string) {
	now := time.Now()
	r.store(NodeResult{NodeID: id, Status: StatusSkipped, StartedAt: now, FinishedAt: now})
	r.emit(events.Event{Type: events.TypeNodeSkipped, NodeID: id, Status: string(StatusSkipped)})
	r.log.Debug("node skipped", map[string]interface{}{logger.FieldNodeID: id})
}

func (r *run) abort(err error) {
	r.mu.Lock()
	if !r.aborted {
		r.aborted = true
		r.abortErr = err
	}
	r.mu.Unlock()
}

func (r *run) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// assemble finalizes the WorkflowResult, marking never-dispatched nodes
// CANCELLED when the run was cut short.
func (r *run) assemble(parent, ctx context.Context, started time.Time) *WorkflowResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, id := range r.req.Graph.NodeIDs() {
		if _, ok := r.results[id]; ok {
			continue
		}
		r.results[id] = NodeResult{
			NodeID: id, Status: StatusCancelled,
			Err:       flowerrors.Cancelled(id),
			StartedAt: now, FinishedAt: now,
		}
	}

	res := &WorkflowResult{
		RunID:      r.runID,
		WorkflowID: r.req.WorkflowID,
		Nodes:      make(map[string]NodeResult, len(r.results)),
		StartedAt:  started,
		FinishedAt: now,
	}
	for id, nr := range r.results {
		res.Nodes[id] = nr
	}

	anyFailed := false
	for _, nr := range r.results {
		if nr.Status == StatusFailed {
			anyFailed = true
			break
		}
	}

	switch {
	case r.abortErr != nil:
		res.Status = StatusFailed
		res.Err = r.abortErr
	case parent.Err() != nil:
		res.Status = StatusCancelled
		res.Err = flowerrors.Cancelled("workflow").WithCause(parent.Err())
	case ctx.Err() != nil:
		// The workflow deadline fired; the parent is still live.
		res.Status = StatusFailed
		res.Err = flowerrors.Timeout("workflow").WithCause(ctx.Err())
	case anyFailed:
		res.Status = StatusFailed
	default:
		res.Status = StatusSuccess
	}
	return res
}

func (r *run) observeNode(id string, nr NodeResult) {
	c := r.e.deps.Metrics
	if c == nil {
		return
	}
	labels := metrics.Labels{
		metrics.LabelWorkflow: r.req.WorkflowID,
		metrics.LabelNode:     id,
		metrics.LabelStatus:   string(nr.Status),
	}
	c.Inc(metrics.MetricNodeTotal, labels)
	c.ObserveDuration(metrics.MetricNodeDuration, metrics.Labels{
		metrics.LabelWorkflow: r.req.WorkflowID,
		metrics.LabelNode:     id,
	}, nr.Duration())
}

func (r *run) emit(e events.Event) {
	bus := r.e.deps.Events
	if bus == nil {
		return
	}
	e.RunID = r.runID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	bus.Publish(e)
}
