package graph

import "sort"

// Connection is a directed data-flow edge: ToNode's ToInput receives
// FromNode's FromOutput, optionally projected through a dot-separated Path.
// Multiple connections may target the same (ToNode, ToInput) pair only if
// their paths are pairwise disjoint; the engine merges the projections.
type Connection struct {
	FromNode   string `yaml:"from_node" mapstructure:"from_node"`
	FromOutput string `yaml:"from_output" mapstructure:"from_output"`
	ToNode     string `yaml:"to_node" mapstructure:"to_node"`
	ToInput    string `yaml:"to_input" mapstructure:"to_input"`
	Path       string `yaml:"path" mapstructure:"path"`
}

// WorkflowGraph is the validated, immutable workflow structure. Construct
// it with Build; the zero value is not usable.
type WorkflowGraph struct {
	nodes   map[string]NodeSpec
	ids     []string
	conns   []Connection
	groups  []IterationGroup
	inbound map[string][]Connection
	deps    map[string][]string
	dents   map[string][]string
	groupOf map[string]int
}

// Build validates nodes, connections and iteration groups and assembles a
// WorkflowGraph. On failure it returns a *ValidationError enumerating every
// violation found, not just the first.
func Build(nodes []NodeSpec, conns []Connection, groups ...IterationGroup) (*WorkflowGraph, error) {
	vs := &violations{}

	g := &WorkflowGraph{
		nodes:   make(map[string]NodeSpec, len(nodes)),
		conns:   append([]Connection(nil), conns...),
		groups:  append([]IterationGroup(nil), groups...),
		inbound: make(map[string][]Connection),
		deps:    make(map[string][]string),
		dents:   make(map[string][]string),
		groupOf: make(map[string]int),
	}

	for _, n := range nodes {
		if n.ID == "" {
			vs.add(RuleDuplicateNode, "", "node with empty id")
			continue
		}
		if _, dup := g.nodes[n.ID]; dup {
			vs.add(RuleDuplicateNode, n.ID, "node id declared more than once")
			continue
		}
		g.nodes[n.ID] = n
		g.ids = append(g.ids, n.ID)
	}
	sort.Strings(g.ids)

	g.validateConnections(vs)
	g.validateGroups(vs)
	g.validateRequiredInputs(vs)
	g.validatePathConflicts(vs)

	g.buildAdjacency()
	g.validateAcyclic(vs)

	if err := vs.err(); err != nil {
		return nil, err
	}
	return g, nil
}

// Node returns the spec for an id.
func (g *WorkflowGraph) Node(id string) (NodeSpec, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in sorted order.
func (g *WorkflowGraph) NodeIDs() []string {
	return append([]string(nil), g.ids...)
}

// Len returns the number of nodes.
func (g *WorkflowGraph) Len() int { return len(g.nodes) }

// Connections returns a copy of all edges.
func (g *WorkflowGraph) Connections() []Connection {
	return append([]Connection(nil), g.conns...)
}

// Inbound returns the connections targeting a node.
func (g *WorkflowGraph) Inbound(id string) []Connection {
	return append([]Connection(nil), g.inbound[id]...)
}

// Dependencies returns the distinct upstream node ids of id, sorted.
func (g *WorkflowGraph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the distinct downstream node ids of id, sorted.
func (g *WorkflowGraph) Dependents(id string) []string {
	return append([]string(nil), g.dents[id]...)
}

// Groups returns the declared iteration groups.
func (g *WorkflowGraph) Groups() []IterationGroup {
	return append([]IterationGroup(nil), g.groups...)
}

// GroupOf returns the iteration group containing id, if any.
func (g *WorkflowGraph) GroupOf(id string) (IterationGroup, bool) {
	idx, ok := g.groupOf[id]
	if !ok {
		return IterationGroup{}, false
	}
	return g.groups[idx], true
}

func (g *WorkflowGraph) validateConnections(vs *violations) {
	for _, c := range g.conns {
		from, fromOK := g.nodes[c.FromNode]
		if !fromOK {
			vs.add(RuleUnknownNode, c.FromNode, "connection references unknown source node")
		}
		to, toOK := g.nodes[c.ToNode]
		if !toOK {
			vs.add(RuleUnknownNode, c.ToNode, "connection references unknown target node")
		}
		if fromOK {
			if _, ok := from.Output(c.FromOutput); !ok {
				vs.add(RuleUnknownPort, c.FromNode, "output port %q not declared", c.FromOutput)
			}
		}
		if toOK {
			if _, ok := to.Input(c.ToInput); !ok {
				vs.add(RuleUnknownPort, c.ToNode, "input port %q not declared", c.ToInput)
			}
		}
	}
}

func (g *WorkflowGraph) validateGroups(vs *violations) {
	for i, grp := range g.groups {
		if grp.MaxIterations <= 0 {
			vs.add(RuleIterationGroup, grp.Name, "max_iterations must be positive (got %d)", grp.MaxIterations)
		}
		if grp.Convergence == "" {
			vs.add(RuleIterationGroup, grp.Name, "convergence predicate is required")
		}
		if len(grp.Members) == 0 {
			vs.add(RuleIterationGroup, grp.Name, "group has no members")
		}
		for _, m := range grp.Members {
			if _, ok := g.nodes[m]; !ok {
				vs.add(RuleIterationGroup, grp.Name, "member %q is not a declared node", m)
				continue
			}
			if prev, taken := g.groupOf[m]; taken {
				vs.add(RuleIterationGroup, grp.Name, "member %q already belongs to group %q", m, g.groups[prev].Name)
				continue
			}
			g.groupOf[m] = i
		}
		if grp.Entry == "" || !grp.Contains(grp.Entry) {
			vs.add(RuleIterationGroup, grp.Name, "entry %q must be a group member", grp.Entry)
		}
		if grp.Exit == "" || !grp.Contains(grp.Exit) {
			vs.add(RuleIterationGroup, grp.Name, "exit %q must be a group member", grp.Exit)
		}
	}

	// Boundary check: edges into the group must target the entry node,
	// edges out of the group must leave from the exit node.
	for _, c := range g.conns {
		fromIdx, fromIn := g.groupOf[c.FromNode]
		toIdx, toIn := g.groupOf[c.ToNode]
		if toIn && (!fromIn || fromIdx != toIdx) {
			grp := g.groups[toIdx]
			if c.ToNode != grp.Entry {
				vs.add(RuleIterationGroup, grp.Name,
					"connection from %q enters the group at %q, only entry %q may receive external inputs",
					c.FromNode, c.ToNode, grp.Entry)
			}
		}
		if fromIn && (!toIn || fromIdx != toIdx) {
			grp := g.groups[fromIdx]
			if c.FromNode != grp.Exit {
				vs.add(RuleIterationGroup, grp.Name,
					"connection to %q leaves the group from %q, only exit %q may feed external nodes",
					c.ToNode, c.FromNode, grp.Exit)
			}
		}
	}
}

func (g *WorkflowGraph) validateRequiredInputs(vs *violations) {
	satisfied := make(map[string]map[string]bool)
	for _, c := range g.conns {
		if satisfied[c.ToNode] == nil {
			satisfied[c.ToNode] = make(map[string]bool)
		}
		satisfied[c.ToNode][c.ToInput] = true
	}

	for _, id := range g.ids {
		n := g.nodes[id]
		for _, p := range n.Inputs {
			if !p.Required {
				continue
			}
			if satisfied[id][p.Name] {
				continue
			}
			if _, ok := n.Config[p.Name]; ok {
				continue
			}
			vs.add(RuleUnsatisfiedInput, id,
				"required input %q has no connection and no static config value", p.Name)
		}
	}
}

func (g *WorkflowGraph) validatePathConflicts(vs *violations) {
	byTarget := make(map[[2]string][]Connection)
	for _, c := range g.conns {
		key := [2]string{c.ToNode, c.ToInput}
		byTarget[key] = append(byTarget[key], c)
	}
	for key, list := range byTarget {
		if len(list) < 2 {
			continue
		}
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				if PathsDisjoint(list[i].Path, list[j].Path) {
					continue
				}
				vs.add(RuleConflictingPaths, key[0],
					"input %q receives overlapping paths %q and %q from %q and %q",
					key[1], list[i].Path, list[j].Path, list[i].FromNode, list[j].FromNode)
			}
		}
	}
}

func (g *WorkflowGraph) buildAdjacency() {
	depSet := make(map[string]map[string]bool)
	dentSet := make(map[string]map[string]bool)
	for _, c := range g.conns {
		if _, ok := g.nodes[c.FromNode]; !ok {
			continue
		}
		if _, ok := g.nodes[c.ToNode]; !ok {
			continue
		}
		g.inbound[c.ToNode] = append(g.inbound[c.ToNode], c)
		if depSet[c.ToNode] == nil {
			depSet[c.ToNode] = make(map[string]bool)
		}
		depSet[c.ToNode][c.FromNode] = true
		if dentSet[c.FromNode] == nil {
			dentSet[c.FromNode] = make(map[string]bool)
		}
		dentSet[c.FromNode][c.ToNode] = true
	}
	for id, set := range depSet {
		g.deps[id] = sortedKeys(set)
	}
	for id, set := range dentSet {
		g.dents[id] = sortedKeys(set)
	}
}

// validateAcyclic runs Kahn's algorithm over the graph with each iteration
// group collapsed into a single super-node, so deliberately bounded cycles
// inside a group do not count as violations.
func (g *WorkflowGraph) validateAcyclic(vs *violations) {
	_, residual := levelCollapsed(g)
	if len(residual) > 0 {
		vs.add(RuleCycle, "", "cycle detected outside iteration groups involving %v", residual)
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
