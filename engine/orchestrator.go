package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/runflow/log"
	"github.com/smallnest/runflow/store"
)

// activeRun tracks a run the orchestrator launched and has not yet seen
// finish. done is closed by the worker goroutine after the final status
// is persisted.
type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator is the engine's front door: it validates and stores
// graphs, launches runs (detached or blocking), and exposes run state
// and cancellation. Both StartRun and RunSync drive the same
// interpreter; RunSync is StartRun plus a wait.
type Orchestrator struct {
	registry    *ToolRegistry
	runs        store.RunStore
	interpreter *Interpreter
	logger      log.Logger

	mu     sync.RWMutex
	graphs map[string]*Graph
	active map[string]*activeRun
}

// NewOrchestrator creates an orchestrator over the given registry and
// run store.
func NewOrchestrator(registry *ToolRegistry, runs store.RunStore, config Config) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		runs:        runs,
		interpreter: NewInterpreter(registry, runs, config),
		logger:      log.GetDefaultLogger(),
		graphs:      make(map[string]*Graph),
		active:      make(map[string]*activeRun),
	}
}

// SetLogger replaces the logger on the orchestrator and its interpreter.
func (o *Orchestrator) SetLogger(logger log.Logger) {
	o.logger = logger
	o.interpreter.SetLogger(logger)
}

// CreateGraph validates the definition and stores it under a fresh id.
// The stored graph is a private copy; later mutation of the argument has
// no effect on stored definitions or in-flight runs.
func (o *Orchestrator) CreateGraph(g *Graph) (string, error) {
	if err := Validate(g, o.registry); err != nil {
		return "", err
	}

	stored := g.clone()
	stored.ID = uuid.New().String()
	stored.index()

	o.mu.Lock()
	o.graphs[stored.ID] = stored
	o.mu.Unlock()

	o.logger.Debug("graph %s created with %d nodes", stored.ID, len(stored.Nodes))
	return stored.ID, nil
}

// GetGraph returns the stored graph definition.
func (o *Orchestrator) GetGraph(graphID string) (*Graph, error) {
	o.mu.RLock()
	g, ok := o.graphs[graphID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return g.clone(), nil
}

// StartRun creates a run record in status running and launches execution
// in the background, returning the run id immediately. The run detaches
// from the caller's context; cancelling the request context does not
// cancel the run. Use Cancel for that.
func (o *Orchestrator) StartRun(ctx context.Context, graphID string, initial map[string]any) (string, error) {
	o.mu.RLock()
	g, ok := o.graphs[graphID]
	o.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}

	runID := uuid.New().String()
	now := time.Now()
	rec := &store.RunRecord{
		ID:        runID,
		GraphID:   graphID,
		State:     store.CloneState(initial),
		Status:    store.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.State == nil {
		rec.State = make(map[string]any)
	}
	if err := o.runs.Create(ctx, rec); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.active[runID] = ar
	o.mu.Unlock()

	go func() {
		defer close(ar.done)
		defer cancel()
		defer func() {
			o.mu.Lock()
			delete(o.active, runID)
			o.mu.Unlock()
		}()

		if _, err := o.interpreter.Execute(runCtx, g, runID); err != nil {
			o.logger.Error("run %s: store failure: %v", runID, err)
			_ = o.runs.SetStatus(context.Background(), runID, store.StatusFailed, err.Error())
		}
	}()

	o.logger.Debug("run %s started on graph %s", runID, graphID)
	return runID, nil
}

// Wait blocks until the run reaches a terminal status or the context is
// done, then returns the final record. A run that was never active (or
// already finished) is returned as-is.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*store.RunRecord, error) {
	o.mu.RLock()
	ar, ok := o.active[runID]
	o.mu.RUnlock()

	if ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.runs.Get(ctx, runID)
}

// RunSync executes a run to completion and returns the final record. It
// is StartRun followed by Wait over the same interpreter, so a graph
// produces the same terminal state either way.
func (o *Orchestrator) RunSync(ctx context.Context, graphID string, initial map[string]any) (*store.RunRecord, error) {
	runID, err := o.StartRun(ctx, graphID, initial)
	if err != nil {
		return nil, err
	}
	return o.Wait(ctx, runID)
}

// GetRunState returns a snapshot of the run: current state, step log,
// status, and iteration count. Safe to call while the run is in flight.
func (o *Orchestrator) GetRunState(ctx context.Context, runID string) (*store.RunRecord, error) {
	return o.runs.Get(ctx, runID)
}

// Cancel requests cooperative cancellation of an in-flight run and
// blocks until the interpreter has persisted the cancelled status. The
// step in progress finishes; no new step starts. Cancelling a run that
// already reached a terminal status is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.RLock()
	ar, ok := o.active[runID]
	o.mu.RUnlock()

	if !ok {
		// Not active: verify the run exists so unknown ids still error.
		_, err := o.runs.Get(ctx, runID)
		return err
	}

	ar.cancel()
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
