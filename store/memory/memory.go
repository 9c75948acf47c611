package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/runflow/store"
)

// RunStore is an in-memory implementation of store.RunStore.
//
// Each run carries its own lock so concurrent runs never contend with each
// other. Reads copy the record inside a short critical section and hand the
// snapshot back outside it.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

type runEntry struct {
	mu  sync.RWMutex
	rec *store.RunRecord
}

// NewRunStore creates an empty in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*runEntry),
	}
}

// Create stores a new run record.
func (s *RunStore) Create(_ context.Context, run *store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateRun, run.ID)
	}

	rec := run.Snapshot()
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.runs[run.ID] = &runEntry{rec: rec}
	return nil
}

func (s *RunStore) entry(runID string) (*runEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	return e, nil
}

// Get returns a deep-copied snapshot of the run.
func (s *RunStore) Get(_ context.Context, runID string) (*store.RunRecord, error) {
	e, err := s.entry(runID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rec.Snapshot(), nil
}

// AppendStep appends one record to the run's execution log.
func (s *RunStore) AppendStep(_ context.Context, runID string, rec store.StepRecord) error {
	e, err := s.entry(runID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec.Delta = store.CloneState(rec.Delta)
	e.rec.Log = append(e.rec.Log, rec)
	e.rec.UpdatedAt = time.Now()
	return nil
}

// UpdateState replaces the run's state snapshot and iteration count.
func (s *RunStore) UpdateState(_ context.Context, runID string, state map[string]any, iterations int) error {
	e, err := s.entry(runID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.State = store.CloneState(state)
	e.rec.Iterations = iterations
	e.rec.UpdatedAt = time.Now()
	return nil
}

// SetStatus moves the run to the given status.
func (s *RunStore) SetStatus(_ context.Context, runID string, status store.Status, reason string) error {
	e, err := s.entry(runID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Status = status
	e.rec.StatusReason = reason
	e.rec.UpdatedAt = time.Now()
	return nil
}
