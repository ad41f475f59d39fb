package graph

import (
	"fmt"
	"sort"
)

// Strategy tells the engine which dispatch mechanism a plan needs.
type Strategy string

const (
	// StrategyAsync: every node is async, no worker pool required.
	StrategyAsync Strategy = "async"
	// StrategySync: every node is sync, everything routes through the pool.
	StrategySync Strategy = "sync"
	// StrategyMixed: both kinds present.
	StrategyMixed Strategy = "mixed"
)

// ExecutionPlan is the leveled schedule for one run. Level 0 holds the
// nodes with no dependencies; a node's level is strictly greater than the
// level of every node it depends on. All members of an iteration group
// share one level and are executed as a nested sub-plan.
type ExecutionPlan struct {
	Levels   [][]string
	LevelOf  map[string]int
	HasAsync bool
	HasSync  bool
}

// Strategy derives the dispatch strategy from the plan's node modes.
func (p *ExecutionPlan) Strategy() Strategy {
	switch {
	case p.HasAsync && p.HasSync:
		return StrategyMixed
	case p.HasSync:
		return StrategySync
	default:
		return StrategyAsync
	}
}

// Analyze computes the execution plan for a validated graph. Build already
// rejects cyclic graphs; the residual check here guards against a graph
// constructed by other means.
func Analyze(g *WorkflowGraph) (*ExecutionPlan, error) {
	superLevels, residual := levelCollapsed(g)
	if len(residual) > 0 {
		return nil, fmt.Errorf("graph: cycle detected, unplaced nodes %v", residual)
	}

	plan := &ExecutionPlan{
		LevelOf: make(map[string]int, g.Len()),
	}

	for levelIdx, supers := range superLevels {
		var level []string
		for _, super := range supers {
			for _, id := range expandSuper(g, super) {
				level = append(level, id)
				plan.LevelOf[id] = levelIdx
			}
		}
		sort.Strings(level)
		plan.Levels = append(plan.Levels, level)
	}

	for _, id := range g.ids {
		switch g.nodes[id].Mode {
		case ModeSync:
			plan.HasSync = true
		default:
			plan.HasAsync = true
		}
	}

	return plan, nil
}

// levelCollapsed runs Kahn's algorithm with iteration groups collapsed to
// super-nodes. It returns the leveled super-node ids plus any residual ids
// that could not be placed (a cycle outside the groups).
func levelCollapsed(g *WorkflowGraph) ([][]string, []string) {
	superOf := func(id string) string {
		if idx, ok := g.groupOf[id]; ok {
			return groupNodeID(g.groups[idx].Name)
		}
		return id
	}

	inDegree := make(map[string]int)
	dependents := make(map[string][]string)
	seenEdge := make(map[[2]string]bool)

	for _, id := range g.ids {
		if _, ok := inDegree[superOf(id)]; !ok {
			inDegree[superOf(id)] = 0
		}
	}
	for _, c := range g.conns {
		from, to := superOf(c.FromNode), superOf(c.ToNode)
		if _, ok := g.nodes[c.FromNode]; !ok {
			continue
		}
		if _, ok := g.nodes[c.ToNode]; !ok {
			continue
		}
		if from == to {
			continue // intra-group edge
		}
		key := [2]string{from, to}
		if seenEdge[key] {
			continue
		}
		seenEdge[key] = true
		inDegree[to]++
		dependents[from] = append(dependents[from], to)
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var levels [][]string
	placed := make(map[string]bool)

	for len(queue) > 0 {
		levels = append(levels, queue)
		for _, name := range queue {
			placed[name] = true
		}

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		queue = next
	}

	var residual []string
	for name := range inDegree {
		if !placed[name] {
			residual = append(residual, name)
		}
	}
	sort.Strings(residual)
	return levels, residual
}

func groupNodeID(name string) string { return "group:" + name }

func expandSuper(g *WorkflowGraph, super string) []string {
	for _, grp := range g.groups {
		if groupNodeID(grp.Name) == super {
			members := append([]string(nil), grp.Members...)
			sort.Strings(members)
			return members
		}
	}
	return []string{super}
}
