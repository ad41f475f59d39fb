package graph

import (
	"errors"
	"testing"
)

func spec(id string, mode Mode) NodeSpec {
	return NodeSpec{
		ID:      id,
		Type:    "test",
		Mode:    mode,
		Inputs:  []PortSpec{{Name: "in"}},
		Outputs: []PortSpec{{Name: "out"}},
	}
}

func conn(from, to string) Connection {
	return Connection{FromNode: from, FromOutput: "out", ToNode: to, ToInput: "in"}
}

func asValidation(t *testing.T, err error) *ValidationError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	return ve
}

func TestBuild_ValidChain(t *testing.T) {
	g, err := Build(
		[]NodeSpec{spec("a", ModeAsync), spec("b", ModeAsync), spec("c", ModeAsync)},
		[]Connection{conn("a", "b"), conn("b", "c")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Len() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Len())
	}
	if deps := g.Dependencies("b"); len(deps) != 1 || deps[0] != "a" {
		t.Errorf("b dependencies: %v", deps)
	}
	if dents := g.Dependents("b"); len(dents) != 1 || dents[0] != "c" {
		t.Errorf("b dependents: %v", dents)
	}
}

func TestBuild_DuplicateNodeID(t *testing.T) {
	_, err := Build([]NodeSpec{spec("a", ModeAsync), spec("a", ModeAsync)}, nil)
	ve := asValidation(t, err)
	if !ve.Has(RuleDuplicateNode) {
		t.Errorf("expected duplicate_node violation, got %v", ve.Violations)
	}
}

func TestBuild_UnknownEndpoints(t *testing.T) {
	_, err := Build([]NodeSpec{spec("a", ModeAsync)}, []Connection{conn("a", "ghost")})
	ve := asValidation(t, err)
	if !ve.Has(RuleUnknownNode) {
		t.Errorf("expected unknown_node violation, got %v", ve.Violations)
	}
}

func TestBuild_UnknownPort(t *testing.T) {
	c := Connection{FromNode: "a", FromOutput: "nope", ToNode: "b", ToInput: "in"}
	_, err := Build([]NodeSpec{spec("a", ModeAsync), spec("b", ModeAsync)}, []Connection{c})
	ve := asValidation(t, err)
	if !ve.Has(RuleUnknownPort) {
		t.Errorf("expected unknown_port violation, got %v", ve.Violations)
	}
}

func TestBuild_RequiredInputUnsatisfied(t *testing.T) {
	n := spec("b", ModeAsync)
	n.Inputs = []PortSpec{{Name: "in", Required: true}}

	_, err := Build([]NodeSpec{n}, nil)
	ve := asValidation(t, err)
	if !ve.Has(RuleUnsatisfiedInput) {
		t.Errorf("expected unsatisfied_input violation, got %v", ve.Violations)
	}
}

func TestBuild_RequiredInputFromStaticConfig(t *testing.T) {
	n := spec("b", ModeAsync)
	n.Inputs = []PortSpec{{Name: "in", Required: true}}
	n.Config = map[string]any{"in": 42}

	if _, err := Build([]NodeSpec{n}, nil); err != nil {
		t.Errorf("static config should satisfy the input: %v", err)
	}
}

func TestBuild_ConflictingPaths(t *testing.T) {
	a, b, c := spec("a", ModeAsync), spec("b", ModeAsync), spec("c", ModeAsync)

	cases := []struct {
		name     string
		p1, p2   string
		conflict bool
	}{
		{"disjoint branches", "result.x", "result.y", false},
		{"identical paths", "result.x", "result.x", true},
		{"prefix overlap", "result", "result.x", true},
		{"whole-value overlap", "", "result.x", true},
	}
	for _, tc := range cases {
		c1 := Connection{FromNode: "a", FromOutput: "out", ToNode: "c", ToInput: "in", Path: tc.p1}
		c2 := Connection{FromNode: "b", FromOutput: "out", ToNode: "c", ToInput: "in", Path: tc.p2}
		_, err := Build([]NodeSpec{a, b, c}, []Connection{c1, c2})
		if tc.conflict {
			ve := asValidation(t, err)
			if !ve.Has(RuleConflictingPaths) {
				t.Errorf("%s: expected conflicting_paths, got %v", tc.name, ve.Violations)
			}
		} else if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestBuild_CycleRejected(t *testing.T) {
	_, err := Build(
		[]NodeSpec{spec("a", ModeAsync), spec("b", ModeAsync)},
		[]Connection{conn("a", "b"), conn("b", "a")},
	)
	ve := asValidation(t, err)
	if !ve.Has(RuleCycle) {
		t.Errorf("expected cycle violation, got %v", ve.Violations)
	}
}

func TestBuild_CycleInsideIterationGroupAllowed(t *testing.T) {
	group := IterationGroup{
		Name:          "refine",
		Members:       []string{"b", "c"},
		Entry:         "b",
		Exit:          "c",
		MaxIterations: 5,
		Convergence:   "converged",
	}
	g, err := Build(
		[]NodeSpec{spec("a", ModeAsync), spec("b", ModeAsync), spec("c", ModeAsync)},
		[]Connection{conn("a", "b"), conn("b", "c"), conn("c", "b")},
		group,
	)
	if err != nil {
		t.Fatalf("bounded cycle inside a group should validate: %v", err)
	}
	if grp, ok := g.GroupOf("b"); !ok || grp.Name != "refine" {
		t.Errorf("GroupOf(b) = %v, %v", grp, ok)
	}
}

func TestBuild_IterationGroupViolations(t *testing.T) {
	group := IterationGroup{
		Name:    "bad",
		Members: []string{"b", "ghost"},
		Entry:   "x",
		Exit:    "",
		// MaxIterations zero, no convergence predicate.
	}
	_, err := Build([]NodeSpec{spec("a", ModeAsync), spec("b", ModeAsync)}, nil, group)
	ve := asValidation(t, err)
	if !ve.Has(RuleIterationGroup) {
		t.Fatalf("expected invalid_iteration_group, got %v", ve.Violations)
	}
	if len(ve.Violations) < 4 {
		t.Errorf("expected every group problem reported, got %v", ve.Violations)
	}
}

func TestBuild_GroupBoundaryEnforced(t *testing.T) {
	group := IterationGroup{
		Name:          "refine",
		Members:       []string{"b", "c"},
		Entry:         "b",
		Exit:          "c",
		MaxIterations: 3,
		Convergence:   "converged",
	}
	// External edge lands on c, which is not the entry.
	_, err := Build(
		[]NodeSpec{spec("a", ModeAsync), spec("b", ModeAsync), spec("c", ModeAsync)},
		[]Connection{conn("a", "c"), conn("b", "c")},
		group,
	)
	ve := asValidation(t, err)
	if !ve.Has(RuleIterationGroup) {
		t.Errorf("expected boundary violation, got %v", ve.Violations)
	}
}

func TestBuild_ReportsAllViolationsAtOnce(t *testing.T) {
	n := spec("a", ModeAsync)
	n.Inputs = []PortSpec{{Name: "in", Required: true}}

	_, err := Build(
		[]NodeSpec{n, spec("a", ModeAsync)},
		[]Connection{conn("a", "ghost")},
	)
	ve := asValidation(t, err)
	for _, rule := range []string{RuleDuplicateNode, RuleUnknownNode, RuleUnsatisfiedInput} {
		if !ve.Has(rule) {
			t.Errorf("expected %s in one pass, got %v", rule, ve.Violations)
		}
	}
}
