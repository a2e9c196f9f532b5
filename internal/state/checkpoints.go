package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoCheckpoint is returned when a run has no saved checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpoint is one saved snapshot of a run.
type Checkpoint struct {
	RunID     string
	Seq       int64
	Size      int
	CreatedAt time.Time
}

// SaveCheckpoint stores a checkpoint blob. A run row is created if the run
// was never recorded.
func (db *DB) SaveCheckpoint(ctx context.Context, runID string, seq int64, blob []byte) error {
	if runID == "" {
		return errors.New("save checkpoint: empty run id")
	}
	now := formatTime(time.Now())

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO runs (id, status, started_at, updated_at) VALUES (?, 'running', ?, ?)
	`, runID, now, now); err != nil {
		return fmt.Errorf("ensure run %s: %w", runID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, seq, blob, created_at) VALUES (?, ?, ?, ?)
	`, runID, seq, blob, now); err != nil {
		return fmt.Errorf("save checkpoint %s/%d: %w", runID, seq, err)
	}
	if db.keepCheckpoints > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM checkpoints WHERE run_id = ? AND id NOT IN (
				SELECT id FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT ?
			)
		`, runID, runID, db.keepCheckpoints); err != nil {
			return fmt.Errorf("prune checkpoints for %s: %w", runID, err)
		}
	}
	return tx.Commit()
}

// LoadCheckpoint returns the most recently saved checkpoint of a run.
func (db *DB) LoadCheckpoint(ctx context.Context, runID string) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var blob []byte
	err := db.conn.QueryRowContext(ctx, `
		SELECT blob FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT 1
	`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNoCheckpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return blob, nil
}

// ListCheckpoints returns a run's checkpoints, oldest first.
func (db *DB) ListCheckpoints(runID string) ([]Checkpoint, error) {
	rows, err := db.Query(`
		SELECT run_id, seq, length(blob), created_at FROM checkpoints WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var c Checkpoint
		var created string
		if err := rows.Scan(&c.RunID, &c.Seq, &c.Size, &created); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		c.CreatedAt, _ = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}
