package graph

import (
	"fmt"
	"strings"
)

// Violation rule identifiers.
const (
	RuleDuplicateNode    = "duplicate_node"
	RuleUnknownNode      = "unknown_node"
	RuleUnknownPort      = "unknown_port"
	RuleUnsatisfiedInput = "unsatisfied_input"
	RuleConflictingPaths = "conflicting_paths"
	RuleCycle            = "cycle"
	RuleIterationGroup   = "invalid_iteration_group"
)

// Violation describes one structural problem found during Build.
type Violation struct {
	Rule    string
	NodeID  string
	Message string
}

func (v Violation) String() string {
	if v.NodeID != "" {
		return fmt.Sprintf("%s [%s]: %s", v.Rule, v.NodeID, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// ValidationError carries every violation found in one validation pass so
// a malformed workflow can be fixed without re-running per problem.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("graph: %d validation violation(s): %s",
		len(e.Violations), strings.Join(msgs, "; "))
}

// Has reports whether any violation matches the given rule.
func (e *ValidationError) Has(rule string) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

type violations struct {
	list []Violation
}

func (vs *violations) add(rule, nodeID, format string, args ...any) {
	vs.list = append(vs.list, Violation{
		Rule:    rule,
		NodeID:  nodeID,
		Message: fmt.Sprintf(format, args...),
	})
}

func (vs *violations) err() error {
	if len(vs.list) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs.list}
}
