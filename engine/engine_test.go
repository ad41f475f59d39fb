package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	flowerrors "github.com/skillsenselab/flowkit/errors"
	"github.com/skillsenselab/flowkit/graph"
	"github.com/skillsenselab/flowkit/observability"
	"github.com/skillsenselab/flowkit/resilience"
	"github.com/skillsenselab/flowkit/resource"
)

func testSpec(id, typ string, mode graph.Mode) graph.NodeSpec {
	return graph.NodeSpec{
		ID:      id,
		Type:    typ,
		Mode:    mode,
		Inputs:  []graph.PortSpec{{Name: "in"}},
		Outputs: []graph.PortSpec{{Name: "out"}},
	}
}

func testConn(from, to string) graph.Connection {
	return graph.Connection{FromNode: from, FromOutput: "out", ToNode: to, ToInput: "in"}
}

func mustGraph(t *testing.T, nodes []graph.NodeSpec, conns []graph.Connection, groups ...graph.IterationGroup) *graph.WorkflowGraph {
	t.Helper()
	g, err := graph.Build(nodes, conns, groups...)
	if err != nil {
		t.Fatalf("graph build: %v", err)
	}
	return g
}

func newTestEngine(t *testing.T, opts Options, deps Deps) *Engine {
	t.Helper()
	e, err := New(opts, deps)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func registerPassthrough(t *testing.T, reg *Registry, typ string) {
	t.Helper()
	err := reg.Register(typ, func() Node {
		return NewFuncNode(func(_ context.Context, _, inputs map[string]any) (map[string]any, error) {
			v, ok := inputs["in"]
			if !ok {
				v = typ
			}
			return map[string]any{"out": v}, nil
		})
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestExecute_ChainAllSuccess(t *testing.T) {
	reg := NewRegistry()
	registerPassthrough(t, reg, "step")

	g := mustGraph(t,
		[]graph.NodeSpec{testSpec("a", "step", graph.ModeAsync), testSpec("b", "step", graph.ModeAsync), testSpec("c", "step", graph.ModeAsync)},
		[]graph.Connection{testConn("a", "b"), testConn("b", "c")},
	)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{WorkflowID: "wf", Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.RunID == "" {
		t.Error("run id missing")
	}
	for _, id := range []string{"a", "b", "c"} {
		if res.Nodes[id].Status != StatusSuccess {
			t.Errorf("%s status = %s", id, res.Nodes[id].Status)
		}
	}
}

func TestExecute_OutputsFlowThroughConnections(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("emit", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			return map[string]any{"out": map[string]any{"value": 41}}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}
	var got atomic.Value
	if err := reg.Register("recv", func() Node {
		return NewFuncNode(func(_ context.Context, _, inputs map[string]any) (map[string]any, error) {
			got.Store(inputs["in"])
			return nil, nil
		})
	}); err != nil {
		t.Fatal(err)
	}

	conn := graph.Connection{FromNode: "a", FromOutput: "out", ToNode: "b", ToInput: "in", Path: "value"}
	g := mustGraph(t,
		[]graph.NodeSpec{testSpec("a", "emit", graph.ModeAsync), testSpec("b", "recv", graph.ModeAsync)},
		[]graph.Connection{conn},
	)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("execute: %v / %+v", err, res)
	}
	if got.Load() != 41 {
		t.Errorf("projected input = %v, want 41", got.Load())
	}
}

func TestExecute_MergesDisjointPaths(t *testing.T) {
	reg := NewRegistry()
	emit := func(key string, v any) Factory {
		return func() Node {
			return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
				return map[string]any{"out": map[string]any{"metrics": map[string]any{key: v}}}, nil
			})
		}
	}
	if err := reg.Register("left", emit("accuracy", 0.9)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("right", emit("loss", 0.1)); err != nil {
		t.Fatal(err)
	}
	var got atomic.Value
	if err := reg.Register("join", func() Node {
		return NewFuncNode(func(_ context.Context, _, inputs map[string]any) (map[string]any, error) {
			got.Store(inputs["in"])
			return nil, nil
		})
	}); err != nil {
		t.Fatal(err)
	}

	conns := []graph.Connection{
		{FromNode: "l", FromOutput: "out", ToNode: "j", ToInput: "in", Path: "metrics.accuracy"},
		{FromNode: "r", FromOutput: "out", ToNode: "j", ToInput: "in", Path: "metrics.loss"},
	}
	g := mustGraph(t,
		[]graph.NodeSpec{testSpec("l", "left", graph.ModeAsync), testSpec("r", "right", graph.ModeAsync), testSpec("j", "join", graph.ModeAsync)},
		conns,
	)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("execute: %v / %v", err, res.Err)
	}

	merged, ok := got.Load().(map[string]any)
	if !ok {
		t.Fatalf("join input = %T", got.Load())
	}
	metricsMap := merged["metrics"].(map[string]any)
	if metricsMap["accuracy"] != 0.9 || metricsMap["loss"] != 0.1 {
		t.Errorf("merged = %v", merged)
	}
}

func TestExecute_RetrySucceedsAfterFailures(t *testing.T) {
	reg := NewRegistry()
	var calls atomic.Int64
	if err := reg.Register("flaky", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return map[string]any{"out": "ok"}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}

	spec := testSpec("b", "flaky", graph.ModeAsync)
	spec.Policy.OnError = graph.ContinueOnError
	spec.Policy.Retry = graph.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	g := mustGraph(t, []graph.NodeSpec{spec}, nil)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	b := res.Nodes["b"]
	if b.Status != StatusSuccess {
		t.Fatalf("b status = %s, err = %v", b.Status, b.Err)
	}
	if b.Retries != 2 {
		t.Errorf("retries = %d, want 2", b.Retries)
	}
}

func TestExecute_FailFastCancelsLevelAndStops(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("boom", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		})
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("slow", func() Node {
		return NewFuncNode(func(ctx context.Context, _, _ map[string]any) (map[string]any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return map[string]any{"out": 1}, nil
			}
		})
	}); err != nil {
		t.Fatal(err)
	}
	registerPassthrough(t, reg, "step")

	x := testSpec("x", "boom", graph.ModeAsync)
	y := testSpec("y", "slow", graph.ModeAsync)
	z := testSpec("z", "step", graph.ModeAsync)
	g := mustGraph(t, []graph.NodeSpec{x, y, z}, []graph.Connection{testConn("y", "z")})

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	start := time.Now()
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("fail-fast did not cancel the slow sibling")
	}

	if res.Status != StatusFailed {
		t.Errorf("workflow status = %s", res.Status)
	}
	if res.Nodes["x"].Status != StatusFailed {
		t.Errorf("x status = %s", res.Nodes["x"].Status)
	}
	if res.Nodes["y"].Status != StatusCancelled {
		t.Errorf("y status = %s", res.Nodes["y"].Status)
	}
	if res.Nodes["z"].Status != StatusCancelled {
		t.Errorf("z status = %s (further levels must not run)", res.Nodes["z"].Status)
	}
}

func TestExecute_ContinueOnErrorSkipsStrictDependents(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("boom", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		})
	}); err != nil {
		t.Fatal(err)
	}
	registerPassthrough(t, reg, "step")

	a := testSpec("a", "boom", graph.ModeAsync)
	a.Policy.OnError = graph.ContinueOnError
	b := testSpec("b", "step", graph.ModeAsync)
	b.Inputs = []graph.PortSpec{{Name: "in", Required: true}}
	c := testSpec("c", "step", graph.ModeAsync)
	c.Inputs = []graph.PortSpec{{Name: "in", Required: true}}
	// Independent branch keeps running.
	d := testSpec("d", "step", graph.ModeAsync)

	g := mustGraph(t,
		[]graph.NodeSpec{a, b, c, d},
		[]graph.Connection{testConn("a", "b"), testConn("b", "c")},
	)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Nodes["a"].Status != StatusFailed {
		t.Errorf("a status = %s", res.Nodes["a"].Status)
	}
	if res.Nodes["b"].Status != StatusSkipped {
		t.Errorf("b status = %s (skip must propagate)", res.Nodes["b"].Status)
	}
	if res.Nodes["c"].Status != StatusSkipped {
		t.Errorf("c status = %s (skip must propagate transitively)", res.Nodes["c"].Status)
	}
	if res.Nodes["d"].Status != StatusSuccess {
		t.Errorf("d status = %s (independent branch must run)", res.Nodes["d"].Status)
	}
	if res.Status != StatusFailed {
		t.Errorf("workflow status = %s", res.Status)
	}
}

func TestExecute_SkipOnAbsentBranchOutput(t *testing.T) {
	reg := NewRegistry()
	// Branch node completes but emits nothing on "out".
	if err := reg.Register("branch", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}
	registerPassthrough(t, reg, "step")

	a := testSpec("a", "branch", graph.ModeAsync)
	b := testSpec("b", "step", graph.ModeAsync)
	b.Inputs = []graph.PortSpec{{Name: "in", Required: true}}
	g := mustGraph(t, []graph.NodeSpec{a, b}, []graph.Connection{testConn("a", "b")})

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Nodes["b"].Status != StatusSkipped {
		t.Errorf("b status = %s, want SKIPPED", res.Nodes["b"].Status)
	}
}

func TestExecute_AnyRequiredPresentPolicy(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("silent", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}
	registerPassthrough(t, reg, "step")

	a := testSpec("a", "silent", graph.ModeAsync)
	b := testSpec("b", "step", graph.ModeAsync)
	j := testSpec("j", "step", graph.ModeAsync)
	j.Inputs = []graph.PortSpec{{Name: "in", Required: true}, {Name: "alt", Required: true}}
	j.Policy.Skip = graph.SkipIfAllAbsent

	conns := []graph.Connection{
		testConn("a", "j"),
		{FromNode: "b", FromOutput: "out", ToNode: "j", ToInput: "alt"},
	}
	g := mustGraph(t, []graph.NodeSpec{a, b, j}, conns)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Nodes["j"].Status != StatusSuccess {
		t.Errorf("j status = %s, want SUCCESS with one branch present", res.Nodes["j"].Status)
	}
}

func TestExecute_ConcurrencyBound(t *testing.T) {
	reg := NewRegistry()
	var current, peak atomic.Int64
	if err := reg.Register("track", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		})
	}); err != nil {
		t.Fatal(err)
	}

	nodes := make([]graph.NodeSpec, 8)
	for i := range nodes {
		nodes[i] = testSpec(string(rune('a'+i)), "track", graph.ModeAsync)
	}
	g := mustGraph(t, nodes, nil)

	e := newTestEngine(t, Options{MaxConcurrentNodes: 2}, Deps{Nodes: reg})
	if _, err := e.Execute(context.Background(), Request{Graph: g}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("concurrent nodes peaked at %d, bound is 2", peak.Load())
	}
}

func TestExecute_SyncNodesBoundedByWorkerPool(t *testing.T) {
	reg := NewRegistry()
	var current, peak atomic.Int64
	if err := reg.Register("block", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		})
	}); err != nil {
		t.Fatal(err)
	}

	nodes := make([]graph.NodeSpec, 6)
	for i := range nodes {
		nodes[i] = testSpec(string(rune('a'+i)), "block", graph.ModeSync)
	}
	g := mustGraph(t, nodes, nil)

	e := newTestEngine(t, Options{MaxConcurrentNodes: 10, SyncWorkers: 2}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("execute: %v / %v", err, res.Err)
	}
	if peak.Load() > 2 {
		t.Errorf("sync work peaked at %d concurrent, pool size is 2", peak.Load())
	}
}

func TestExecute_NodeTimeout(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("hang", func() Node {
		return NewFuncNode(func(ctx context.Context, _, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}); err != nil {
		t.Fatal(err)
	}

	spec := testSpec("a", "hang", graph.ModeAsync)
	spec.Policy.Timeout = 20 * time.Millisecond
	spec.Policy.OnError = graph.ContinueOnError
	g := mustGraph(t, []graph.NodeSpec{spec}, nil)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	a := res.Nodes["a"]
	if a.Status != StatusFailed {
		t.Fatalf("a status = %s", a.Status)
	}
	if !flowerrors.HasCode(a.Err, flowerrors.CodeTimeout) {
		t.Errorf("a err = %v, want TIMEOUT", a.Err)
	}
}

func TestExecute_WorkflowTimeoutReturnsPartialResult(t *testing.T) {
	reg := NewRegistry()
	registerPassthrough(t, reg, "step")
	if err := reg.Register("hang", func() Node {
		return NewFuncNode(func(ctx context.Context, _, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}); err != nil {
		t.Fatal(err)
	}

	a := testSpec("a", "step", graph.ModeAsync)
	b := testSpec("b", "hang", graph.ModeAsync)
	g := mustGraph(t, []graph.NodeSpec{a, b}, []graph.Connection{testConn("a", "b")})

	e := newTestEngine(t, Options{WorkflowTimeout: 50 * time.Millisecond}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Status != StatusFailed || !flowerrors.HasCode(res.Err, flowerrors.CodeTimeout) {
		t.Errorf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Nodes["a"].Status != StatusSuccess {
		t.Errorf("completed level lost: a = %s", res.Nodes["a"].Status)
	}
	if res.Nodes["b"].Status != StatusCancelled {
		t.Errorf("b status = %s", res.Nodes["b"].Status)
	}
}

func TestExecute_ExternalCancellation(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("hang", func() Node {
		return NewFuncNode(func(ctx context.Context, _, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}); err != nil {
		t.Fatal(err)
	}
	g := mustGraph(t, []graph.NodeSpec{testSpec("a", "hang", graph.ModeAsync)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(ctx, Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", res.Status)
	}
}

func TestExecute_ResourceNodeBorrowsConnection(t *testing.T) {
	reg := NewRegistry()
	var sawConn atomic.Bool
	if err := reg.Register("query", func() Node {
		return NewFuncNode(func(ctx context.Context, _, _ map[string]any) (map[string]any, error) {
			if _, ok := ConnFromContext(ctx); ok {
				sawConn.Store(true)
			}
			return map[string]any{"out": 1}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}

	resources := resource.NewRegistry(nil, nil)
	factory := resource.FactoryFunc(func(_ context.Context) (resource.Conn, error) {
		return nopConn{}, nil
	})
	if err := resources.Register("db", factory, resource.PoolConfig{MaxConnections: 2}); err != nil {
		t.Fatal(err)
	}

	spec := testSpec("a", "query", graph.ModeAsync)
	spec.Policy.Resource = "db"
	g := mustGraph(t, []graph.NodeSpec{spec}, nil)

	e := newTestEngine(t, Options{}, Deps{
		Nodes:     reg,
		Resources: resources,
		Breakers:  resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(""), nil),
	})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("execute: %v / %v", err, res.Err)
	}
	if !sawConn.Load() {
		t.Error("node never saw its borrowed connection")
	}

	pool, _ := resources.Pool("db")
	if st := pool.Stats(); st.InUse != 0 {
		t.Errorf("connection leaked: %+v", st)
	}
}

func TestExecute_CircuitOpenFallback(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("query", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("db down")
		})
	}); err != nil {
		t.Fatal(err)
	}

	resources := resource.NewRegistry(nil, nil)
	factory := resource.FactoryFunc(func(_ context.Context) (resource.Conn, error) {
		return nopConn{}, nil
	})
	if err := resources.Register("db", factory, resource.PoolConfig{MaxConnections: 2}); err != nil {
		t.Fatal(err)
	}
	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{FailureThreshold: 1}, nil)
	// Trip the breaker before the run.
	_ = breakers.Execute("db", func() error { return errors.New("boom") })

	spec := testSpec("a", "query", graph.ModeAsync)
	spec.Policy.Resource = "db"
	spec.Policy.Fallback = "out"
	spec.Config = map[string]any{"out": "cached"}
	g := mustGraph(t, []graph.NodeSpec{spec}, nil)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg, Resources: resources, Breakers: breakers})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	a := res.Nodes["a"]
	if a.Status != StatusSuccess {
		t.Fatalf("a status = %s, err = %v", a.Status, a.Err)
	}
	if a.Outputs["out"] != "cached" {
		t.Errorf("fallback output = %v", a.Outputs["out"])
	}
}

func TestExecute_IterationGroupConvergence(t *testing.T) {
	reg := NewRegistry()
	var passes atomic.Int64
	if err := reg.Register("inc", func() Node {
		return NewFuncNode(func(_ context.Context, _, inputs map[string]any) (map[string]any, error) {
			v, _ := inputs["in"].(int)
			return map[string]any{"out": v + 1}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("check", func() Node {
		return NewFuncNode(func(_ context.Context, _, inputs map[string]any) (map[string]any, error) {
			passes.Add(1)
			return map[string]any{"out": inputs["in"]}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterPredicate("reached", func(outputs map[string]any) bool {
		v, _ := outputs["out"].(int)
		return v >= 3
	}); err != nil {
		t.Fatal(err)
	}

	entry := testSpec("entry", "inc", graph.ModeAsync)
	exit := testSpec("exit", "check", graph.ModeAsync)
	group := graph.IterationGroup{
		Name: "loop", Members: []string{"entry", "exit"},
		Entry: "entry", Exit: "exit",
		MaxIterations: 10, Convergence: "reached",
	}
	conns := []graph.Connection{
		testConn("entry", "exit"),
		testConn("exit", "entry"), // back edge
	}
	g := mustGraph(t, []graph.NodeSpec{entry, exit}, conns, group)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if passes.Load() != 3 {
		t.Errorf("iterations = %d, want 3", passes.Load())
	}
	if res.Nodes["exit"].Outputs["out"] != 3 {
		t.Errorf("final value = %v, want 3", res.Nodes["exit"].Outputs["out"])
	}
}

func TestExecute_RuntimeInputsAreNodeScoped(t *testing.T) {
	reg := NewRegistry()
	var aIn, bIn atomic.Value
	record := func(dst *atomic.Value) Factory {
		return func() Node {
			return NewFuncNode(func(_ context.Context, _, inputs map[string]any) (map[string]any, error) {
				if v, ok := inputs["in"]; ok {
					dst.Store(v)
				} else {
					dst.Store("absent")
				}
				return nil, nil
			})
		}
	}
	if err := reg.Register("recA", record(&aIn)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("recB", record(&bIn)); err != nil {
		t.Fatal(err)
	}

	g := mustGraph(t, []graph.NodeSpec{testSpec("a", "recA", graph.ModeAsync), testSpec("b", "recB", graph.ModeAsync)}, nil)
	e := newTestEngine(t, Options{}, Deps{Nodes: reg})

	res, err := e.Execute(context.Background(), Request{
		Graph:  g,
		Inputs: map[string]map[string]any{"a": {"in": "only-for-a"}},
	})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("execute: %v / %v", err, res.Err)
	}
	if aIn.Load() != "only-for-a" {
		t.Errorf("a input = %v", aIn.Load())
	}
	if bIn.Load() != "absent" {
		t.Errorf("runtime input leaked to sibling: %v", bIn.Load())
	}
}

func TestExecute_UnknownNodeTypeFails(t *testing.T) {
	reg := NewRegistry()
	spec := testSpec("a", "ghost", graph.ModeAsync)
	spec.Policy.OnError = graph.ContinueOnError
	g := mustGraph(t, []graph.NodeSpec{spec}, nil)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Nodes["a"].Status != StatusFailed {
		t.Errorf("a status = %s", res.Nodes["a"].Status)
	}
	if !flowerrors.HasCode(res.Nodes["a"].Err, flowerrors.CodeNodeExecution) {
		t.Errorf("a err = %v", res.Nodes["a"].Err)
	}
}

type nopConn struct{}

func (nopConn) Ping(context.Context) error { return nil }
func (nopConn) Close() error               { return nil }

func TestExecute_GuardedResourceBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	reg := NewRegistry()
	if err := reg.Register("guarded", func() Node {
		return NewFuncNode(func(_ context.Context, _, _ map[string]any) (map[string]any, error) {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return map[string]any{"out": 1}, nil
		})
	}); err != nil {
		t.Fatal(err)
	}

	resources := resource.NewRegistry(nil, nil)
	factory := resource.FactoryFunc(func(_ context.Context) (resource.Conn, error) {
		return nopConn{}, nil
	})
	if err := resources.Register("db", factory, resource.PoolConfig{MaxConnections: 8}); err != nil {
		t.Fatal(err)
	}

	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(""), nil)
	breakers.ConfigureGuard("db", resilience.GuardConfig{
		Bulkhead: &resilience.BulkheadConfig{MaxConcurrent: 1, MaxWait: 5 * time.Second},
	})

	var specs []graph.NodeSpec
	for _, id := range []string{"g1", "g2", "g3", "g4"} {
		spec := testSpec(id, "guarded", graph.ModeAsync)
		spec.Policy.Resource = "db"
		specs = append(specs, spec)
	}
	g := mustGraph(t, specs, nil)

	e := newTestEngine(t, Options{}, Deps{Nodes: reg, Resources: resources, Breakers: breakers})
	res, err := e.Execute(context.Background(), Request{Graph: g})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("execute: %v / %v", err, res.Err)
	}
	if p := peak.Load(); p > 1 {
		t.Errorf("bulkhead admitted %d concurrent resource calls, want 1", p)
	}
}

func TestExecute_MetricsMiddlewareRecordsNodes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rm, err := observability.NewRunMetrics(mp.Meter("flowkit-test"))
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}

	reg := NewRegistry()
	registerPassthrough(t, reg, "step")
	g := mustGraph(t,
		[]graph.NodeSpec{testSpec("a", "step", graph.ModeAsync), testSpec("b", "step", graph.ModeAsync)},
		[]graph.Connection{testConn("a", "b")},
	)

	e := newTestEngine(t, Options{}, Deps{
		Nodes:      reg,
		Middleware: []Middleware{WithMetrics(rm)},
	})
	res, err := e.Execute(context.Background(), Request{WorkflowID: "wf", Graph: g})
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("execute: %v / %v", err, res.Err)
	}

	var data metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &data); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var nodeTotal int64
	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "node.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("node.total data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				nodeTotal += dp.Value
			}
		}
	}
	if nodeTotal != 2 {
		t.Errorf("node.total = %d, want 2", nodeTotal)
	}
}

var _ = sync.Mutex{}
