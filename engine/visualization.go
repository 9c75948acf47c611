package engine

import (
	"fmt"
	"strings"
)

// Exporter provides methods to export graphs in different formats
type Exporter struct {
	graph *Graph
}

// NewExporter creates a new graph exporter for the given graph
func NewExporter(g *Graph) *Exporter {
	return &Exporter{graph: g}
}

// MermaidOptions defines configuration for Mermaid diagram generation
type MermaidOptions struct {
	// Direction of the flowchart (e.g., "TD", "LR")
	Direction string
}

// DrawMermaid generates a Mermaid diagram representation of the graph
func (ge *Exporter) DrawMermaid() string {
	return ge.DrawMermaidWithOptions(MermaidOptions{
		Direction: "TD",
	})
}

// DrawMermaidWithOptions generates a Mermaid diagram with custom options
func (ge *Exporter) DrawMermaidWithOptions(opts MermaidOptions) string {
	var sb strings.Builder

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}
	sb.WriteString(fmt.Sprintf("flowchart %s\n", direction))

	if ge.graph.EntryPoint != "" {
		sb.WriteString("    START([\"START\"])\n")
		sb.WriteString("    style START fill:#90EE90\n")
		sb.WriteString(fmt.Sprintf("    START --> %s\n", ge.graph.EntryPoint))
	}

	for _, n := range ge.graph.Nodes {
		sb.WriteString(fmt.Sprintf("    %s[\"%s (%s)\"]\n", n.ID, n.ID, n.Tool))
	}

	hasHalt := false
	for _, n := range ge.graph.Nodes {
		for _, c := range n.Conditions {
			if c.Target == Halt {
				hasHalt = true
			}
		}
	}
	if hasHalt {
		sb.WriteString("    HALT([\"HALT\"])\n")
		sb.WriteString("    style HALT fill:#FFB6C1\n")
	}

	for _, n := range ge.graph.Nodes {
		for _, c := range n.Conditions {
			label := conditionLabel(c)
			if c.OnError {
				sb.WriteString(fmt.Sprintf("    %s -.->|%s| %s\n", n.ID, label, c.Target))
			} else {
				sb.WriteString(fmt.Sprintf("    %s -->|%s| %s\n", n.ID, label, c.Target))
			}
		}
	}

	if ge.graph.EntryPoint != "" {
		sb.WriteString(fmt.Sprintf("    style %s fill:#87CEEB\n", ge.graph.EntryPoint))
	}

	return sb.String()
}

// DrawDOT generates a DOT (Graphviz) representation of the graph
func (ge *Exporter) DrawDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TD;\n")
	sb.WriteString("    node [shape=box];\n")

	if ge.graph.EntryPoint != "" {
		sb.WriteString("    START [label=\"START\", shape=ellipse, style=filled, fillcolor=lightgreen];\n")
		sb.WriteString(fmt.Sprintf("    START -> %s;\n", ge.graph.EntryPoint))
		sb.WriteString(fmt.Sprintf("    %s [style=filled, fillcolor=lightblue];\n", ge.graph.EntryPoint))
	}

	hasHalt := false
	for _, n := range ge.graph.Nodes {
		for _, c := range n.Conditions {
			if c.Target == Halt {
				hasHalt = true
			}
		}
	}
	if hasHalt {
		sb.WriteString("    HALT [label=\"HALT\", shape=ellipse, style=filled, fillcolor=lightpink];\n")
	}

	for _, n := range ge.graph.Nodes {
		for _, c := range n.Conditions {
			style := ""
			if c.OnError {
				style = ", style=dashed"
			}
			sb.WriteString(fmt.Sprintf("    %s -> %s [label=\"%s\"%s];\n", n.ID, c.Target, conditionLabel(c), style))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// conditionLabel renders a routing condition as an edge label.
func conditionLabel(c Condition) string {
	if c.OnError {
		return "error"
	}
	if c.unconditional() {
		return "default"
	}
	return fmt.Sprintf("%s %s %v", c.Metric, c.Op, c.Value)
}
