// RunFlow - A Workflow Graph Engine in Go
//
// RunFlow executes directed workflow graphs whose nodes invoke named
// tools against a shared run state. Graphs may contain cycles; a
// termination guard (iteration cap plus convergence detection) bounds
// every run, so even a deliberately looping workflow reaches a terminal
// status.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/smallnest/runflow
//
// Basic example:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/runflow/engine"
//		"github.com/smallnest/runflow/store/memory"
//		"github.com/smallnest/runflow/tools"
//	)
//
//	func main() {
//		registry := engine.NewToolRegistry()
//		tools.RegisterBuiltins(registry)
//
//		orch := engine.NewOrchestrator(registry, memory.NewRunStore(), engine.Config{})
//
//		graphID, _ := orch.CreateGraph(&engine.Graph{
//			EntryPoint: "profile",
//			Nodes: []engine.Node{
//				{ID: "profile", Tool: "profile", Conditions: []engine.Condition{
//					{Target: "detect"},
//				}},
//				{ID: "detect", Tool: "detect_anomalies", Conditions: []engine.Condition{
//					{Metric: "anomalies.count", Op: ">", Value: 0, Target: "HALT"},
//					{Target: "HALT"},
//				}},
//			},
//		})
//
//		run, _ := orch.RunSync(context.Background(), graphID, map[string]any{
//			"data": []any{1.0, 2.0, 250.0},
//		})
//		fmt.Println(run.Status, run.State["anomalies"])
//	}
//
// # Packages
//
//   - engine: graph model, tool registry, execution interpreter, and the
//     run orchestrator (async StartRun, blocking RunSync, GetRunState,
//     Cancel)
//   - store: run persistence interface with memory, redis, sqlite, and
//     postgres backends
//   - tools: built-in data-quality tools (profile, detect_anomalies,
//     generate_rules, apply_rules)
//   - log: pluggable logging with a golog adapter
//
// # Termination Guard
//
// Two independent guard branches bound every run:
//
//   - Iteration cap: revisiting a node counts as a loop iteration; the
//     run halts once the count reaches engine.Config.MaxIterations.
//   - Convergence stall: if the full run state is unchanged across
//     consecutive visits to the same node, the run halts early.
//
// A guard halt is a safe stop, not an error: the run finishes in status
// halted_by_guard with its state and step log intact.
package runflow
