package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/runflow/engine"
)

func echoTool(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{"echo": input["in"]}, nil
}

func TestToolRegistry_Register(t *testing.T) {
	t.Parallel()

	r := engine.NewToolRegistry()

	err := r.Register("echo", engine.Contract{Inputs: []string{"in"}, Outputs: []string{"echo"}}, echoTool)
	require.NoError(t, err)
	assert.True(t, r.Has("echo"))

	// Second registration under the same name is rejected.
	err = r.Register("echo", engine.Contract{}, echoTool)
	assert.ErrorIs(t, err, engine.ErrDuplicateTool)
}

func TestToolRegistry_ResolveUnknown(t *testing.T) {
	t.Parallel()

	r := engine.NewToolRegistry()

	_, err := r.Resolve("missing")
	assert.ErrorIs(t, err, engine.ErrUnknownTool)
	assert.False(t, r.Has("missing"))
}

func TestToolRegistry_InvokeContract(t *testing.T) {
	t.Parallel()

	r := engine.NewToolRegistry()
	require.NoError(t, r.Register("echo", engine.Contract{Inputs: []string{"in"}, Outputs: []string{"echo"}}, echoTool))

	ctx := context.Background()

	// Missing input key fails before the tool runs.
	_, err := r.Invoke(ctx, "echo", map[string]any{}, nil)
	var execErr *engine.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "echo", execErr.Tool)

	// Satisfied contract returns the delta.
	delta, err := r.Invoke(ctx, "echo", map[string]any{"in": "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", delta["echo"])
}

func TestToolRegistry_InvokeMissingOutput(t *testing.T) {
	t.Parallel()

	r := engine.NewToolRegistry()
	require.NoError(t, r.Register("noop", engine.Contract{Outputs: []string{"result"}},
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		}))

	_, err := r.Invoke(context.Background(), "noop", map[string]any{}, nil)
	var execErr *engine.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "result")
}

func TestToolRegistry_InvokeWrapsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := engine.NewToolRegistry()
	require.NoError(t, r.Register("fail", engine.Contract{},
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, boom
		}))

	_, err := r.Invoke(context.Background(), "fail", map[string]any{}, nil)
	var execErr *engine.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, boom)
}

func TestToolRegistry_ParameterOverlay(t *testing.T) {
	t.Parallel()

	r := engine.NewToolRegistry()
	require.NoError(t, r.Register("inspect", engine.Contract{Inputs: []string{"threshold"}, Outputs: []string{"seen"}},
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"seen": input["threshold"]}, nil
		}))

	// Node parameters win over state keys of the same name.
	delta, err := r.Invoke(context.Background(), "inspect",
		map[string]any{"threshold": 1},
		map[string]any{"threshold": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, delta["seen"])
}

func TestToolRegistry_InvokeDoesNotMutateState(t *testing.T) {
	t.Parallel()

	r := engine.NewToolRegistry()
	require.NoError(t, r.Register("mutate", engine.Contract{},
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			input["injected"] = true
			if nested, ok := input["nested"].(map[string]any); ok {
				nested["touched"] = true
			}
			return map[string]any{}, nil
		}))

	state := map[string]any{"nested": map[string]any{"value": 1}}
	_, err := r.Invoke(context.Background(), "mutate", state, nil)
	require.NoError(t, err)

	assert.NotContains(t, state, "injected")
	assert.NotContains(t, state["nested"], "touched")
}
