// Package engine contains the workflow graph model and its execution
// machinery: the tool registry, graph validation, the interpreter that
// drives a single run, and the orchestrator that owns graphs and run
// lifecycles.
//
// A Graph is a set of nodes, each binding a tool name to ordered routing
// conditions. Tools are ToolFunc values registered in a ToolRegistry
// under a Contract that declares their input and output keys. The
// interpreter invokes the current node's tool with a copy of the run
// state, merges the returned delta, appends a step record, evaluates the
// node's conditions against the post-merge state, and follows the first
// match. Cycles are legal; the termination guard (iteration cap plus
// convergence stall detection) guarantees every run terminates.
//
// The Orchestrator is the public surface: CreateGraph validates and
// stores a definition, StartRun launches a detached background run,
// RunSync blocks for the final record, GetRunState snapshots an
// in-flight run, and Cancel stops one cooperatively between steps.
package engine
