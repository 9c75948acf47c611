package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/runflow/store"
)

// RunStore implements store.RunStore using SQLite.
type RunStore struct {
	db *sql.DB
}

// Options configuration for the SQLite connection.
type Options struct {
	Path string // e.g. "./runs.db" or ":memory:"
}

// NewRunStore opens (or creates) the database and initializes the schema.
func NewRunStore(opts Options) (*RunStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	s := &RunStore{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStore) initSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL,
			state TEXT NOT NULL,
			status TEXT NOT NULL,
			status_reason TEXT,
			iterations INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS run_log (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			record TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_run_log_run_id ON run_log (run_id);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, graph_id, state, status, status_reason, iterations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.GraphID, string(stateJSON), string(run.Status), run.StatusReason, run.Iterations, createdAt, now)
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
	var stateJSON, status string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, graph_id, state, status, status_reason, iterations, created_at, updated_at
		FROM runs WHERE id = ?
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
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	rec.Status = store.Status(status)
	if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM run_log WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		var step store.StepRecord
		if err := json.Unmarshal([]byte(recordJSON), &step); err != nil {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_log (run_id, seq, record) VALUES (?, ?, ?)
	`, runID, rec.Seq, string(recordJSON))
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

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, iterations = ?, updated_at = ? WHERE id = ?
	`, string(stateJSON), iterations, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return checkAffected(res, runID)
}

// SetStatus moves the run to the given status.
func (s *RunStore) SetStatus(ctx context.Context, runID string, status store.Status, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?
	`, string(status), reason, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return checkAffected(res, runID)
}

func checkAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	return nil
}
