package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/runflow/store"
)

// RunStore implements store.RunStore using Redis.
//
// The run header (state, status, iterations) lives under one key as JSON;
// the execution log is a Redis list so AppendStep is a single RPUSH. The
// engine guarantees a single writer per run, so read-modify-write on the
// header key needs no locking.
type RunStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configuration for the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "runflow:"
	TTL      time.Duration // Expiration for runs, default 0 (no expiration)
}

// NewRunStore creates a new Redis run store.
func NewRunStore(opts Options) *RunStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "runflow:"
	}

	return &RunStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// runHeader is the persisted form of a run minus its log.
type runHeader struct {
	ID           string         `json:"id"`
	GraphID      string         `json:"graph_id"`
	State        map[string]any `json:"state"`
	Status       store.Status   `json:"status"`
	StatusReason string         `json:"status_reason,omitempty"`
	Iterations   int            `json:"iterations"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (s *RunStore) runKey(id string) string {
	return fmt.Sprintf("%srun:%s", s.prefix, id)
}

func (s *RunStore) logKey(id string) string {
	return fmt.Sprintf("%srun:%s:log", s.prefix, id)
}

// Create stores a new run record.
func (s *RunStore) Create(ctx context.Context, run *store.RunRecord) error {
	key := s.runKey(run.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check run existence: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", store.ErrDuplicateRun, run.ID)
	}

	now := time.Now()
	hdr := runHeader{
		ID:           run.ID,
		GraphID:      run.GraphID,
		State:        run.State,
		Status:       run.Status,
		StatusReason: run.StatusReason,
		Iterations:   run.Iterations,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !run.CreatedAt.IsZero() {
		hdr.CreatedAt = run.CreatedAt
	}

	if err := s.saveHeader(ctx, &hdr); err != nil {
		return err
	}

	for _, rec := range run.Log {
		if err := s.AppendStep(ctx, run.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *RunStore) saveHeader(ctx context.Context, hdr *runHeader) error {
	data, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := s.client.Set(ctx, s.runKey(hdr.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run to redis: %w", err)
	}
	return nil
}

func (s *RunStore) loadHeader(ctx context.Context, runID string) (*runHeader, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load run from redis: %w", err)
	}

	var hdr runHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &hdr, nil
}

// Get returns a snapshot of the run, including its full log.
func (s *RunStore) Get(ctx context.Context, runID string) (*store.RunRecord, error) {
	hdr, err := s.loadHeader(ctx, runID)
	if err != nil {
		return nil, err
	}

	entries, err := s.client.LRange(ctx, s.logKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load run log: %w", err)
	}

	log := make([]store.StepRecord, 0, len(entries))
	for _, entry := range entries {
		var rec store.StepRecord
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step record: %w", err)
		}
		log = append(log, rec)
	}

	return &store.RunRecord{
		ID:           hdr.ID,
		GraphID:      hdr.GraphID,
		State:        hdr.State,
		Log:          log,
		Status:       hdr.Status,
		StatusReason: hdr.StatusReason,
		Iterations:   hdr.Iterations,
		CreatedAt:    hdr.CreatedAt,
		UpdatedAt:    hdr.UpdatedAt,
	}, nil
}

// AppendStep appends one record to the run's execution log.
func (s *RunStore) AppendStep(ctx context.Context, runID string, rec store.StepRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}

	key := s.logKey(runID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}
	return nil
}

// UpdateState replaces the run's state snapshot and iteration count.
func (s *RunStore) UpdateState(ctx context.Context, runID string, state map[string]any, iterations int) error {
	hdr, err := s.loadHeader(ctx, runID)
	if err != nil {
		return err
	}
	hdr.State = state
	hdr.Iterations = iterations
	hdr.UpdatedAt = time.Now()
	return s.saveHeader(ctx, hdr)
}

// SetStatus moves the run to the given status.
func (s *RunStore) SetStatus(ctx context.Context, runID string, status store.Status, reason string) error {
	hdr, err := s.loadHeader(ctx, runID)
	if err != nil {
		return err
	}
	hdr.Status = status
	hdr.StatusReason = reason
	hdr.UpdatedAt = time.Now()
	return s.saveHeader(ctx, hdr)
}

// Close closes the underlying Redis client.
func (s *RunStore) Close() error {
	return s.client.Close()
}
