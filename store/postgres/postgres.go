package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/runflow/store"
)

// DBPool defines the interface for the database connection pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunStore using PostgreSQL.
type RunStore struct {
	pool DBPool
}

// Options configuration for the Postgres connection.
type Options struct {
	ConnString string
}

// NewRunStore creates a new Postgres run store.
func NewRunStore(ctx context.Context, opts Options) (*RunStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool creates a run store with an existing pool.
// Useful for testing with mocks.
func NewRunStoreWithPool(pool DBPool) *RunStore {
	return &RunStore{pool: pool}
}

// InitSchema creates the necessary tables if they don't exist.
func (s *RunStore) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL,
			state JSONB NOT NULL,
			status TEXT NOT NULL,
			status_reason TEXT,
			iterations INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS run_log (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			record JSONB NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// Create stores a new run record.
func (s *RunStore) Create(ctx context.Context, run *store.RunRecord) error {
	stateJSON, err := json.Marshal(run.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	now := time.Now()
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, graph_id, state, status, status_reason, iterations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.GraphID, stateJSON, string(run.Status), run.StatusReason, run.Iterations, createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for _, rec := range run.Log {
		if err := s.AppendStep(ctx, run.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a snapshot of the run, including its full log.
func (s *RunStore) Get(ctx context.Context, runID string) (*store.RunRecord, error) {
	var rec store.RunRecord
	var stateJSON []byte
	var status string

	err := s.pool.QueryRow(ctx, `
		SELECT id, graph_id, state, status, status_reason, iterations, created_at, updated_at
		FROM runs WHERE id = $1
	`, runID).Scan(
		&rec.ID,
		&rec.GraphID,
		&stateJSON,
		&status,
		&rec.StatusReason,
		&rec.Iterations,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	rec.Status = store.Status(status)
	if err := json.Unmarshal(stateJSON, &rec.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT record FROM run_log WHERE run_id = $1 ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		var step store.StepRecord
		if err := json.Unmarshal(recordJSON, &step); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step record: %w", err)
		}
		rec.Log = append(rec.Log, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log rows: %w", err)
	}

	return &rec, nil
}

// AppendStep appends one record to the run's execution log.
func (s *RunStore) AppendStep(ctx context.Context, runID string, rec store.StepRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_log (run_id, seq, record) VALUES ($1, $2, $3)
	`, runID, rec.Seq, recordJSON)
	if err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}
	return nil
}

// UpdateState replaces the run's state snapshot and iteration count.
func (s *RunStore) UpdateState(ctx context.Context, runID string, state map[string]any, iterations int) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET state = $1, iterations = $2, updated_at = $3 WHERE id = $4
	`, stateJSON, iterations, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	return nil
}

// SetStatus moves the run to the given status.
func (s *RunStore) SetStatus(ctx context.Context, runID string, status store.Status, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $1, status_reason = $2, updated_at = $3 WHERE id = $4
	`, string(status), reason, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	return nil
}
