package engine

// Halt is the special routing target that completes a run.
const Halt = "HALT"

// Condition is one outgoing route of a node, evaluated against the
// post-merge state. Conditions are evaluated in declared order and the
// first match wins, so multi-match graphs stay deterministic.
//
// A condition with an empty Metric is unconditional (a default route).
// A condition with OnError set is only considered when the node's tool
// invocation fails; it is skipped during normal routing.
type Condition struct {
	// Metric is a dotted path into the state, e.g. "anomalies.count".
	Metric string `json:"metric,omitempty"`

	// Op is one of "<", "<=", ">", ">=", "==", "!=".
	Op string `json:"op,omitempty"`

	// Value is the comparison operand.
	Value any `json:"value,omitempty"`

	// Target is the next node id, or Halt to complete the run.
	Target string `json:"target"`

	// OnError marks this route as the node's error route.
	OnError bool `json:"on_error,omitempty"`
}

// Node is a single step of a graph: one tool invocation plus the ordered
// routing conditions applied afterwards.
type Node struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Conditions []Condition    `json:"conditions,omitempty"`
}

// errorRoute returns the node's first OnError condition, if any.
func (n *Node) errorRoute() (Condition, bool) {
	for _, c := range n.Conditions {
		if c.OnError {
			return c, true
		}
	}
	return Condition{}, false
}

// Graph is an immutable workflow definition. Cycles are allowed; the
// interpreter's termination guard bounds every run.
type Graph struct {
	ID         string   `json:"id"`
	EntryPoint string   `json:"entry_point"`
	Nodes      []Node   `json:"nodes"`
	Terminals  []string `json:"terminals,omitempty"`

	byID      map[string]*Node
	terminals map[string]bool
}

// index builds the node lookup tables. Called once after validation;
// the graph must not be mutated afterwards.
func (g *Graph) index() {
	g.byID = make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		g.byID[g.Nodes[i].ID] = &g.Nodes[i]
	}
	g.terminals = make(map[string]bool, len(g.Terminals))
	for _, id := range g.Terminals {
		g.terminals[id] = true
	}
}

// node returns the node with the given id.
func (g *Graph) node(id string) (*Node, bool) {
	if g.byID == nil {
		g.index()
	}
	n, ok := g.byID[id]
	return n, ok
}

// isTerminal reports whether the node id is a declared terminal node.
func (g *Graph) isTerminal(id string) bool {
	if g.terminals == nil {
		g.index()
	}
	return g.terminals[id]
}

// clone deep-copies the graph definition so callers can't mutate a
// stored graph through the definition they submitted.
func (g *Graph) clone() *Graph {
	cp := &Graph{
		ID:         g.ID,
		EntryPoint: g.EntryPoint,
		Nodes:      make([]Node, len(g.Nodes)),
		Terminals:  append([]string(nil), g.Terminals...),
	}
	for i, n := range g.Nodes {
		cloned := n
		cloned.Parameters = cloneMap(n.Parameters)
		cloned.Conditions = append([]Condition(nil), n.Conditions...)
		cp.Nodes[i] = cloned
	}
	cp.index()
	return cp
}
