package scandb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run records one pipeline invocation for audit: a detect sweep, a trigger
// pass, or a locate batch.
type Run struct {
	ID       uuid.UUID `json:"id"`
	Kind     string    `json:"kind"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Status   string    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
}

// StartRun inserts a new run in the running state and returns its ID.
func (db *DB) StartRun(ctx context.Context, kind string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, kind, started_ns, status) VALUES (?, ?, ?, ?)`,
		id.String(), kind, time.Now().UTC().UnixNano(), RunRunning,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// CompleteRun marks the run completed with a summary line.
func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, detail string) error {
	return db.finishRun(ctx, id, RunCompleted, detail)
}

// FailRun marks the run failed with the error message.
func (db *DB) FailRun(ctx context.Context, id uuid.UUID, errMsg string) error {
	return db.finishRun(ctx, id, RunFailed, errMsg)
}

func (db *DB) finishRun(ctx context.Context, id uuid.UUID, status, detail string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET finished_ns = ?, status = ?, detail = ? WHERE run_id = ?`,
		time.Now().UTC().UnixNano(), status, nullString(detail), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves one run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT run_id, kind, started_ns, finished_ns, status, detail FROM runs WHERE run_id = ?`,
		id.String(),
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// RunsBetween lists runs started within [start, end], newest first.
func (db *DB) RunsBetween(ctx context.Context, start, end time.Time) ([]*Run, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, kind, started_ns, finished_ns, status, detail
		 FROM runs WHERE started_ns BETWEEN ? AND ? ORDER BY started_ns DESC`,
		start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var idStr string
	var startedNs int64
	var finishedNs sql.NullInt64
	var detail sql.NullString

	if err := row.Scan(&idStr, &run.Kind, &startedNs, &finishedNs, &run.Status, &detail); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", idStr, err)
	}
	run.ID = id
	run.Started = time.Unix(0, startedNs).UTC()
	if finishedNs.Valid {
		run.Finished = time.Unix(0, finishedNs.Int64).UTC()
	}
	if detail.Valid {
		run.Detail = detail.String
	}
	return &run, nil
}

// nullString converts the empty string to NULL for storage.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
