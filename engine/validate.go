package engine

import "fmt"

// Validate checks a graph definition against the structural invariants:
// the entry node exists, node ids are unique, every condition target
// references an existing node (or Halt), every tool is registered, and
// every comparison operator is known. The graph need not be acyclic.
//
// All violations are collected and reported together in a single
// GraphValidationError.
func Validate(g *Graph, registry *ToolRegistry) error {
	var violations []string

	if len(g.Nodes) == 0 {
		violations = append(violations, "graph has no nodes")
	}

	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			violations = append(violations, "node with empty id")
			continue
		}
		if seen[n.ID] {
			violations = append(violations, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	if g.EntryPoint == "" {
		violations = append(violations, "entry point not set")
	} else if !seen[g.EntryPoint] {
		violations = append(violations, fmt.Sprintf("entry point %q references missing node", g.EntryPoint))
	}

	for _, n := range g.Nodes {
		if n.Tool == "" {
			violations = append(violations, fmt.Sprintf("node %q has no tool", n.ID))
		} else if registry != nil && !registry.Has(n.Tool) {
			violations = append(violations, fmt.Sprintf("node %q references unknown tool %q", n.ID, n.Tool))
		}

		for i, c := range n.Conditions {
			if c.Target == "" {
				violations = append(violations, fmt.Sprintf("node %q condition %d has no target", n.ID, i))
			} else if c.Target != Halt && !seen[c.Target] {
				violations = append(violations, fmt.Sprintf("node %q condition %d targets missing node %q", n.ID, i, c.Target))
			}
			if !c.unconditional() && !validOps[c.Op] {
				violations = append(violations, fmt.Sprintf("node %q condition %d has invalid op %q", n.ID, i, c.Op))
			}
		}
	}

	for _, id := range g.Terminals {
		if !seen[id] {
			violations = append(violations, fmt.Sprintf("terminal %q references missing node", id))
		}
	}

	if len(violations) > 0 {
		return &GraphValidationError{Violations: violations}
	}
	return nil
}
