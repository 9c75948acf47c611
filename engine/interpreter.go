package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/runflow/log"
	"github.com/smallnest/runflow/store"
)

// Config holds the process-wide guard policy. It is deliberately not a
// per-run parameter so guard behavior stays uniform and auditable.
type Config struct {
	// MaxIterations is the hard cap on loop iterations per run.
	MaxIterations int

	// ConvergenceWindow is how many consecutive state snapshots at the
	// same node must be equal before the run is declared stalled.
	ConvergenceWindow int
}

const (
	// DefaultMaxIterations is the default loop iteration cap.
	DefaultMaxIterations = 100

	// DefaultConvergenceWindow is the default convergence window size.
	DefaultConvergenceWindow = 2
)

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ConvergenceWindow < 2 {
		c.ConvergenceWindow = DefaultConvergenceWindow
	}
	return c
}

// Guard halt reasons recorded on the run when the termination guard fires.
const (
	// GuardReasonIterationCap marks a safe stop at the iteration cap.
	GuardReasonIterationCap = "iteration cap reached"

	// GuardReasonNoProgress marks a safe stop on a convergence stall.
	GuardReasonNoProgress = "no progress"
)

// Interpreter drives a single run through its graph: resolve the current
// node's tool, invoke it, merge the delta, evaluate routing conditions,
// and enforce the termination guard. One interpreter instance is shared
// by all runs; all per-run mutable state lives on the stack of Execute.
type Interpreter struct {
	registry *ToolRegistry
	runs     store.RunStore
	config   Config
	logger   log.Logger
}

// NewInterpreter creates an interpreter over the given registry and run
// store.
func NewInterpreter(registry *ToolRegistry, runs store.RunStore, config Config) *Interpreter {
	return &Interpreter{
		registry: registry,
		runs:     runs,
		config:   config.withDefaults(),
		logger:   log.GetDefaultLogger(),
	}
}

// SetLogger replaces the interpreter's logger.
func (it *Interpreter) SetLogger(logger log.Logger) {
	it.logger = logger
}

// Execute runs the graph to a terminal status, writing progress into the
// run store after every step. The returned record is the final snapshot.
// The returned error covers store failures only; run-level failures are
// reported through the run's status and log.
//
// Within a run, steps are strictly sequential: conditions are always
// evaluated against a single consistent post-merge snapshot, and the
// guard requires a total order over steps.
func (it *Interpreter) Execute(ctx context.Context, g *Graph, runID string) (*store.RunRecord, error) {
	run, err := it.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	state := run.State
	if state == nil {
		state = make(map[string]any)
	}

	current := g.EntryPoint
	seq := 0
	iterations := run.Iterations
	visited := make(map[string]bool)
	// Store writes must land even after Cancel fires mid-tool: the step
	// in progress is kept and the cancelled status is persisted through
	// the same detached context.
	persistCtx := context.WithoutCancel(ctx)
	// Per-node ring of the last ConvergenceWindow post-step snapshots,
	// used by the stall branch of the guard.
	history := make(map[string][]map[string]any)

	it.logger.Debug("run %s: starting at node %s", runID, current)

	for {
		// Cancellation is honored between steps, never mid-tool.
		if ctx.Err() != nil {
			return it.finish(runID, store.StatusCancelled, ctx.Err().Error())
		}

		node, ok := g.node(current)
		if !ok {
			return it.finish(runID, store.StatusFailed, fmt.Sprintf("node %q not found", current))
		}

		contract, err := it.registry.Resolve(node.Tool)
		if err != nil {
			return it.finish(runID, store.StatusFailed, err.Error())
		}

		delta, invErr := it.registry.Invoke(ctx, node.Tool, state, node.Parameters)

		var next string
		var halted bool

		if invErr != nil {
			route, hasRoute := node.errorRoute()
			rec := store.StepRecord{
				Seq:       seq + 1,
				NodeID:    current,
				Tool:      node.Tool,
				Iteration: iterations,
				Note:      invErr.Error(),
				Timestamp: time.Now(),
			}
			seq++
			if err := it.runs.AppendStep(persistCtx, runID, rec); err != nil {
				return nil, err
			}
			if !hasRoute {
				it.logger.Error("run %s: node %s: %v", runID, current, invErr)
				return it.finish(runID, store.StatusFailed, invErr.Error())
			}
			it.logger.Warn("run %s: node %s error-routed to %s: %v", runID, current, route.Target, invErr)
			next = route.Target
			halted = route.Target == Halt
		} else {
			undeclared := mergeDelta(state, delta, contract.Outputs)
			note := ""
			if len(undeclared) > 0 {
				note = "undeclared output keys: " + strings.Join(undeclared, ", ")
				it.logger.Warn("run %s: tool %s produced undeclared keys: %v", runID, node.Tool, undeclared)
			}

			rec := store.StepRecord{
				Seq:       seq + 1,
				NodeID:    current,
				Tool:      node.Tool,
				Delta:     delta,
				Iteration: iterations,
				Note:      note,
				Timestamp: time.Now(),
			}
			seq++
			if err := it.runs.AppendStep(persistCtx, runID, rec); err != nil {
				return nil, err
			}
			if err := it.runs.UpdateState(persistCtx, runID, state, iterations); err != nil {
				return nil, err
			}
		}

		// Convergence stall branch of the guard: the state at the last
		// ConvergenceWindow visits to this node is structurally identical.
		snaps := append(history[current], cloneMap(state))
		if len(snaps) > it.config.ConvergenceWindow {
			snaps = snaps[1:]
		}
		history[current] = snaps
		if len(snaps) == it.config.ConvergenceWindow && allEqual(snaps) {
			reason := fmt.Sprintf("%s: state unchanged across %d visits to node %s", GuardReasonNoProgress, len(snaps), current)
			return it.haltByGuard(ctx, runID, seq, current, node.Tool, iterations, reason)
		}

		if !halted {
			if len(node.Conditions) == 0 {
				if g.isTerminal(current) {
					return it.finish(runID, store.StatusCompleted, "")
				}
				return it.finish(runID, store.StatusFailed,
					fmt.Sprintf("%v: node %q has no outgoing conditions", ErrNoMatchingTransition, current))
			}

			if invErr == nil {
				selected, ok := selectNext(node, state)
				if !ok {
					return it.finish(runID, store.StatusFailed,
						fmt.Sprintf("%v: no condition matched at node %q", ErrNoMatchingTransition, current))
				}
				next = selected
				halted = next == Halt
			}
		}

		if halted {
			return it.finish(runID, store.StatusCompleted, "")
		}

		visited[current] = true

		// Revisiting any node counts as a loop iteration; the cap branch
		// of the guard fires before the revisited node runs again.
		if visited[next] {
			iterations++
			if err := it.runs.UpdateState(persistCtx, runID, state, iterations); err != nil {
				return nil, err
			}
			if iterations >= it.config.MaxIterations {
				reason := fmt.Sprintf("%s (%d)", GuardReasonIterationCap, iterations)
				return it.haltByGuard(ctx, runID, seq, current, node.Tool, iterations, reason)
			}
		}

		current = next
	}
}

// haltByGuard records the guard trigger in the log and moves the run to
// the halted status, preserving all records up to this point.
func (it *Interpreter) haltByGuard(ctx context.Context, runID string, seq int, nodeID, tool string, iterations int, reason string) (*store.RunRecord, error) {
	rec := store.StepRecord{
		Seq:       seq + 1,
		NodeID:    nodeID,
		Tool:      tool,
		Iteration: iterations,
		Note:      "termination guard: " + reason,
		Timestamp: time.Now(),
	}
	if err := it.runs.AppendStep(context.WithoutCancel(ctx), runID, rec); err != nil {
		return nil, err
	}
	it.logger.Info("run %s: halted by guard: %s", runID, reason)
	return it.finish(runID, store.StatusHaltedByGuard, reason)
}

func (it *Interpreter) finish(runID string, status store.Status, reason string) (*store.RunRecord, error) {
	// Status writes must land even when the run context was cancelled.
	ctx := context.Background()
	if err := it.runs.SetStatus(ctx, runID, status, reason); err != nil {
		return nil, err
	}
	it.logger.Debug("run %s: %s", runID, status)
	return it.runs.Get(ctx, runID)
}

// selectNext evaluates a node's conditions in declared order against the
// post-merge state and returns the first matching target. Error routes
// are skipped during normal routing.
func selectNext(node *Node, state map[string]any) (string, bool) {
	for _, c := range node.Conditions {
		if c.OnError {
			continue
		}
		if c.matches(state) {
			return c.Target, true
		}
	}
	return "", false
}

func allEqual(snaps []map[string]any) bool {
	for i := 1; i < len(snaps); i++ {
		if !statesEqual(snaps[0], snaps[i]) {
			return false
		}
	}
	return true
}
