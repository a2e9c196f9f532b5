package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// Run is a row of the run index.
type Run struct {
	models.RunSummary
	// PID is the process that last recorded the run.
	PID       int       `json:"pid"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Status   models.RunStatus
	Workflow string
	Limit    int
}

// RecordRun inserts or updates the index row of a run.
func (db *DB) RecordRun(ctx context.Context, s models.RunSummary) error {
	if s.RunID == "" {
		return errors.New("record run: empty run id")
	}
	status := s.Status
	if status == "" || status == models.RunStatusIdle {
		status = models.RunStatusRunning
	}
	started := s.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO runs (id, workflow, status, success, total, succeeded, failed, skipped, started_at, finished_at, pid, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow = CASE WHEN excluded.workflow != '' THEN excluded.workflow ELSE runs.workflow END,
			status = excluded.status,
			success = excluded.success,
			total = excluded.total,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			finished_at = excluded.finished_at,
			pid = excluded.pid,
			updated_at = excluded.updated_at
	`, s.RunID, s.Workflow, string(status), s.Success, s.Total, s.Succeeded, s.Failed, s.Skipped,
		formatTime(started), nullableTime(s.FinishedAt), os.Getpid(), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record run %s: %w", s.RunID, err)
	}
	return nil
}

const runColumns = `id, workflow, status, success, total, succeeded, failed, skipped, started_at, finished_at, pid, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var status, startedAt, updatedAt string
	var finishedAt sql.NullString
	err := row.Scan(&r.RunID, &r.Workflow, &status, &r.Success, &r.Total, &r.Succeeded, &r.Failed, &r.Skipped,
		&startedAt, &finishedAt, &r.PID, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = models.RunStatus(status)
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return &r, nil
}

// GetRun retrieves a run by ID. Returns nil, nil if the run is unknown.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs, newest first.
func (db *DB) ListRuns(filter *RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var where []string
	var args []any
	limit := 0
	if filter != nil {
		if filter.Status != "" {
			where = append(where, "status = ?")
			args = append(args, string(filter.Status))
		}
		if filter.Workflow != "" {
			where = append(where, "workflow = ?")
			args = append(args, filter.Workflow)
		}
		limit = filter.Limit
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpdateRunStatus sets a run's status without touching its counters.
func (db *DB) UpdateRunStatus(id string, status models.RunStatus) error {
	result, err := db.Exec(`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}
