package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/runflow/engine"
	"github.com/smallnest/runflow/store"
	"github.com/smallnest/runflow/store/memory"
	redisstore "github.com/smallnest/runflow/store/redis"
)

// counterTool increments "count" on every invocation, so looping graphs
// built on it always make progress.
func counterTool(ctx context.Context, input map[string]any) (map[string]any, error) {
	count, _ := input["count"].(int)
	return map[string]any{"count": count + 1}, nil
}

func newTestOrchestrator(t *testing.T, config engine.Config, register func(*engine.ToolRegistry)) *engine.Orchestrator {
	t.Helper()
	registry := engine.NewToolRegistry()
	require.NoError(t, registry.Register("count", engine.Contract{Outputs: []string{"count"}}, counterTool))
	require.NoError(t, registry.Register("noop", engine.Contract{}, noopTool))
	if register != nil {
		register(registry)
	}
	return engine.NewOrchestrator(registry, memory.NewRunStore(), config)
}

func TestExecute_LinearGraphCompletes(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, nil)

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "first",
		Nodes: []engine.Node{
			{ID: "first", Tool: "count", Conditions: []engine.Condition{{Target: "second"}}},
			{ID: "second", Tool: "count", Conditions: []engine.Condition{{Target: engine.Halt}}},
		},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Equal(t, 2, run.State["count"])
	// One log entry per node visited, in visit order.
	require.Len(t, run.Log, 2)
	assert.Equal(t, "first", run.Log[0].NodeID)
	assert.Equal(t, "second", run.Log[1].NodeID)
	assert.Equal(t, 1, run.Log[0].Seq)
	assert.Equal(t, 2, run.Log[1].Seq)
	assert.Equal(t, 0, run.Iterations)
}

func TestExecute_TerminalNodeCompletes(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, nil)

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "only",
		Nodes:      []engine.Node{{ID: "only", Tool: "count"}},
		Terminals:  []string{"only"},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Len(t, run.Log, 1)
}

func TestExecute_SelfLoopHaltsAtIterationCap(t *testing.T) {
	t.Parallel()

	const maxIter = 5
	orch := newTestOrchestrator(t, engine.Config{MaxIterations: maxIter}, nil)

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "loop",
		Nodes: []engine.Node{
			{ID: "loop", Tool: "count", Conditions: []engine.Condition{{Target: "loop"}}},
		},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusHaltedByGuard, run.Status)
	assert.Contains(t, run.StatusReason, engine.GuardReasonIterationCap)
	assert.Equal(t, maxIter, run.Iterations)
	// The state from every completed step survives the halt.
	assert.Equal(t, maxIter, run.State["count"])
}

func TestExecute_ConvergenceStallHaltsBeforeCap(t *testing.T) {
	t.Parallel()

	const maxIter = 50
	orch := newTestOrchestrator(t, engine.Config{MaxIterations: maxIter}, func(r *engine.ToolRegistry) {
		// Constant delta: merging it never changes the state again.
		require.NoError(t, r.Register("constant", engine.Contract{Outputs: []string{"value"}},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"value": "fixed"}, nil
			}))
	})

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "loop",
		Nodes: []engine.Node{
			{ID: "loop", Tool: "constant", Conditions: []engine.Condition{{Target: "loop"}}},
		},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusHaltedByGuard, run.Status)
	assert.Contains(t, run.StatusReason, engine.GuardReasonNoProgress)
	// The stall fires strictly before the iteration cap.
	assert.Less(t, run.Iterations, maxIter)
	assert.Equal(t, "fixed", run.State["value"])
}

func TestExecute_ToolFailureWithoutRouteFailsRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("dataset unreadable")
	orch := newTestOrchestrator(t, engine.Config{}, func(r *engine.ToolRegistry) {
		require.NoError(t, r.Register("explode", engine.Contract{},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return nil, boom
			}))
	})

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "a",
		Nodes: []engine.Node{
			{ID: "a", Tool: "explode", Conditions: []engine.Condition{{Target: engine.Halt}}},
		},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.StatusReason, "dataset unreadable")
	// The failed step is still logged.
	require.Len(t, run.Log, 1)
	assert.Contains(t, run.Log[0].Note, "dataset unreadable")
}

func TestExecute_ErrorRouteRecovers(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, func(r *engine.ToolRegistry) {
		require.NoError(t, r.Register("explode", engine.Contract{},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return nil, errors.New("transient")
			}))
		require.NoError(t, r.Register("recover", engine.Contract{Outputs: []string{"recovered"}},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"recovered": true}, nil
			}))
	})

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "risky",
		Nodes: []engine.Node{
			{ID: "risky", Tool: "explode", Conditions: []engine.Condition{
				{Target: engine.Halt},
				{OnError: true, Target: "cleanup"},
			}},
			{ID: "cleanup", Tool: "recover", Conditions: []engine.Condition{{Target: engine.Halt}}},
		},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Equal(t, true, run.State["recovered"])
	require.Len(t, run.Log, 2)
	assert.Contains(t, run.Log[0].Note, "transient")
}

func TestExecute_NoMatchingTransitionFailsRun(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, nil)

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "a",
		Nodes: []engine.Node{
			{ID: "a", Tool: "count", Conditions: []engine.Condition{
				{Metric: "count", Op: ">", Value: 100, Target: engine.Halt},
			}},
		},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.StatusReason, "no matching transition")
}

func TestExecute_DanglingNodeWithoutConditionsFailsRun(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, nil)

	// Not in Terminals and no outgoing conditions: the run cannot proceed.
	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "a",
		Nodes:      []engine.Node{{ID: "a", Tool: "count"}},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.StatusReason, "no matching transition")
}

func TestExecute_UndeclaredOutputKeysAreMergedAndNoted(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, func(r *engine.ToolRegistry) {
		require.NoError(t, r.Register("chatty", engine.Contract{Outputs: []string{"declared"}},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"declared": 1, "surprise": 2}, nil
			}))
	})

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "a",
		Nodes: []engine.Node{
			{ID: "a", Tool: "chatty", Conditions: []engine.Condition{{Target: engine.Halt}}},
		},
	})
	require.NoError(t, err)

	run, err := orch.RunSync(context.Background(), graphID, nil)
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Equal(t, 2, run.State["surprise"])
	require.Len(t, run.Log, 1)
	assert.Contains(t, run.Log[0].Note, "surprise")
}

func TestExecute_BranchingFollowsFirstMatch(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, func(r *engine.ToolRegistry) {
		require.NoError(t, r.Register("score", engine.Contract{Outputs: []string{"score"}},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"score": input["seed"]}, nil
			}))
		require.NoError(t, r.Register("mark", engine.Contract{Outputs: []string{"branch"}},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"branch": input["label"]}, nil
			}))
	})

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "score",
		Nodes: []engine.Node{
			{ID: "score", Tool: "score", Conditions: []engine.Condition{
				{Metric: "score", Op: ">=", Value: 10, Target: "high"},
				{Target: "low"},
			}},
			{ID: "high", Tool: "mark", Parameters: map[string]any{"label": "high"},
				Conditions: []engine.Condition{{Target: engine.Halt}}},
			{ID: "low", Tool: "mark", Parameters: map[string]any{"label": "low"},
				Conditions: []engine.Condition{{Target: engine.Halt}}},
		},
	})
	require.NoError(t, err)

	ctx := context.Background()

	run, err := orch.RunSync(ctx, graphID, map[string]any{"seed": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, "high", run.State["branch"])

	run, err = orch.RunSync(ctx, graphID, map[string]any{"seed": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "low", run.State["branch"])
}

// Cancelling while a tool is in flight must still persist that step and
// land the run on cancelled, even when the store honors context (the
// database backends all do). The redis backend stands in for them here.
func TestExecute_CancelMidToolPersistsStep(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	runs := redisstore.NewRunStore(redisstore.Options{Addr: mr.Addr()})
	t.Cleanup(func() { runs.Close() })

	started := make(chan struct{})
	release := make(chan struct{})
	registry := engine.NewToolRegistry()
	require.NoError(t, registry.Register("gate", engine.Contract{Outputs: []string{"passed"}},
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{"passed": true}, nil
		}))

	interp := engine.NewInterpreter(registry, runs, engine.Config{})

	require.NoError(t, runs.Create(context.Background(), &store.RunRecord{
		ID:     "run-1",
		Status: store.StatusRunning,
		State:  map[string]any{},
	}))

	g := &engine.Graph{
		EntryPoint: "loop",
		Nodes: []engine.Node{
			{ID: "loop", Tool: "gate", Conditions: []engine.Condition{{Target: "loop"}}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan *store.RunRecord, 1)
	go func() {
		rec, err := interp.Execute(ctx, g, "run-1")
		assert.NoError(t, err)
		result <- rec
	}()

	<-started
	cancel()
	close(release)

	run := <-result
	require.NotNil(t, run)
	assert.Equal(t, store.StatusCancelled, run.Status)
	// The in-flight step finished: its record and its merged delta stay.
	require.Len(t, run.Log, 1)
	assert.Equal(t, "loop", run.Log[0].NodeID)
	assert.Equal(t, true, run.State["passed"])
}

// Driving the interpreter directly over an unvalidated graph exercises
// the step-time unknown tool path that CreateGraph normally rules out.
func TestExecute_UnknownToolFailsRun(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	interp := engine.NewInterpreter(engine.NewToolRegistry(), runs, engine.Config{})

	ctx := context.Background()
	require.NoError(t, runs.Create(ctx, &store.RunRecord{
		ID:     "run-1",
		Status: store.StatusRunning,
		State:  map[string]any{},
	}))

	run, err := interp.Execute(ctx, &engine.Graph{
		EntryPoint: "a",
		Nodes:      []engine.Node{{ID: "a", Tool: "ghost"}},
	}, "run-1")
	require.NoError(t, err)

	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.StatusReason, "unknown tool")
}

func TestRunSync_Deterministic(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{MaxIterations: 4}, nil)

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "loop",
		Nodes: []engine.Node{
			{ID: "loop", Tool: "count", Conditions: []engine.Condition{
				{Metric: "count", Op: ">=", Value: 3, Target: engine.Halt},
				{Target: "loop"},
			}},
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	first, err := orch.RunSync(ctx, graphID, map[string]any{"seed": "x"})
	require.NoError(t, err)
	second, err := orch.RunSync(ctx, graphID, map[string]any{"seed": "x"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Iterations, second.Iterations)
	assert.Equal(t, len(first.Log), len(second.Log))
}

func TestExecute_ConcurrentRunsAreIsolated(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, engine.Config{}, func(r *engine.ToolRegistry) {
		require.NoError(t, r.Register("stamp", engine.Contract{Inputs: []string{"who"}, Outputs: []string{"stamped"}},
			func(ctx context.Context, input map[string]any) (map[string]any, error) {
				time.Sleep(time.Millisecond)
				return map[string]any{"stamped": input["who"]}, nil
			}))
	})

	graphID, err := orch.CreateGraph(&engine.Graph{
		EntryPoint: "a",
		Nodes: []engine.Node{
			{ID: "a", Tool: "stamp", Conditions: []engine.Condition{{Target: "b"}}},
			{ID: "b", Tool: "stamp", Conditions: []engine.Condition{{Target: engine.Halt}}},
		},
	})
	require.NoError(t, err)

	const n = 16
	results := make([]*store.RunRecord, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := orch.RunSync(context.Background(), graphID, map[string]any{"who": i})
			assert.NoError(t, err)
			results[i] = run
		}(i)
	}
	wg.Wait()

	for i, run := range results {
		require.NotNil(t, run)
		assert.Equal(t, store.StatusCompleted, run.Status)
		assert.Equal(t, i, run.State["who"])
		assert.Equal(t, i, run.State["stamped"])
		assert.Len(t, run.Log, 2)
	}
}
