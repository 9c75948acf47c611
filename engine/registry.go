package engine

import (
	"context"
	"fmt"
	"sync"
)

// Contract declares a tool's state shape: the keys it requires in its
// input and the keys its delta is expected to produce. The engine checks
// key presence only; value semantics are opaque to it.
type Contract struct {
	Inputs  []string
	Outputs []string
}

// ToolFunc is a tool implementation. It receives a private copy of the
// run state with the node's parameters overlaid, and returns a delta to
// merge into the run state. Implementations may perform arbitrary
// external effects; the engine never retries a failed call.
type ToolFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

type registeredTool struct {
	contract Contract
	fn       ToolFunc
}

// ToolRegistry maps tool names to their contracts and implementations.
// Registration happens at process start; during execution the registry
// is effectively immutable and safe for concurrent reads.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]registeredTool),
	}
}

// Register adds a tool under a fixed name.
func (r *ToolRegistry) Register(name string, contract Contract, fn ToolFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = registeredTool{contract: contract, fn: fn}
	return nil
}

// Resolve returns the contract registered under name.
func (r *ToolRegistry) Resolve(name string) (Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.contract, nil
}

// Has reports whether a tool is registered under name.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Invoke calls the named tool with a copy of state overlaid with the
// node's parameters, enforcing the tool's declared contract on both
// sides. The returned delta has not been merged yet.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, state, parameters map[string]any) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	input := cloneMap(state)
	if input == nil {
		input = make(map[string]any)
	}
	for k, v := range cloneMap(parameters) {
		input[k] = v
	}

	for _, key := range t.contract.Inputs {
		if _, ok := input[key]; !ok {
			return nil, &ToolExecutionError{Tool: name, Err: fmt.Errorf("missing required input key %q", key)}
		}
	}

	delta, err := t.fn(ctx, input)
	if err != nil {
		return nil, &ToolExecutionError{Tool: name, Err: err}
	}

	for _, key := range t.contract.Outputs {
		if _, ok := delta[key]; !ok {
			return nil, &ToolExecutionError{Tool: name, Err: fmt.Errorf("did not produce declared output key %q", key)}
		}
	}

	return delta, nil
}
