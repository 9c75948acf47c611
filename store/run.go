package store

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a run. Transitions are monotonic:
// a run starts Running and moves to exactly one terminal status.
type Status string

const (
	// StatusRunning means the interpreter is still driving the run.
	StatusRunning Status = "running"
	// StatusCompleted means the run reached a halt marker or terminal node.
	StatusCompleted Status = "completed"
	// StatusHaltedByGuard means the termination guard stopped the run,
	// either at the iteration cap or on a convergence stall.
	StatusHaltedByGuard Status = "halted_by_guard"
	// StatusFailed means a tool error or routing error ended the run.
	StatusFailed Status = "failed"
	// StatusCancelled means external cancellation was honored.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != ""
}

// ErrRunNotFound is returned when a run id is not known to the store.
var ErrRunNotFound = errors.New("run not found")

// ErrDuplicateRun is returned when creating a run whose id already exists.
var ErrDuplicateRun = errors.New("run already exists")

// StepRecord is one entry in a run's append-only execution log.
type StepRecord struct {
	Seq       int            `json:"seq"`
	NodeID    string         `json:"node_id"`
	Tool      string         `json:"tool"`
	Delta     map[string]any `json:"delta,omitempty"`
	Iteration int            `json:"iteration"`
	Note      string         `json:"note,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunRecord holds everything the engine tracks for one run of a graph.
// The run references its graph by id only; many runs share one graph.
type RunRecord struct {
	ID           string         `json:"id"`
	GraphID      string         `json:"graph_id"`
	State        map[string]any `json:"state"`
	Log          []StepRecord   `json:"log"`
	Status       Status         `json:"status"`
	StatusReason string         `json:"status_reason,omitempty"`
	Iterations   int            `json:"iterations"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RunStore persists run records. Get returns a snapshot, never a live
// reference, so status polling cannot race the interpreter driving the
// run. Writes for a single run come from exactly one interpreter
// goroutine; implementations only need to serialize writes per run.
type RunStore interface {
	// Create stores a new run record.
	Create(ctx context.Context, run *RunRecord) error

	// Get returns a deep-copied snapshot of the run.
	Get(ctx context.Context, runID string) (*RunRecord, error)

	// AppendStep appends one record to the run's execution log.
	AppendStep(ctx context.Context, runID string, rec StepRecord) error

	// UpdateState replaces the run's state snapshot and iteration count.
	UpdateState(ctx context.Context, runID string, state map[string]any, iterations int) error

	// SetStatus moves the run to the given status with an optional reason.
	SetStatus(ctx context.Context, runID string, status Status, reason string) error
}

// CloneState deep-copies a state mapping. Values are copied recursively
// for maps and slices; scalar values are shared, which is safe because
// the engine never mutates values in place.
func CloneState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneState(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// CloneSteps copies an execution log. Deltas are deep-copied.
func CloneSteps(log []StepRecord) []StepRecord {
	if log == nil {
		return nil
	}
	out := make([]StepRecord, len(log))
	for i, rec := range log {
		rec.Delta = CloneState(rec.Delta)
		out[i] = rec
	}
	return out
}

// Snapshot returns a deep copy of the record.
func (r *RunRecord) Snapshot() *RunRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.State = CloneState(r.State)
	cp.Log = CloneSteps(r.Log)
	return &cp
}
