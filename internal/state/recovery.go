package state

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

// InterruptedRun describes a run that was left marked running by a process
// that no longer exists.
type InterruptedRun struct {
	RunID        string
	Workflow     string
	StartedAt    time.Time
	LastActivity time.Time
	PID          int
	Checkpoints  int
}

// RecoveryManager detects runs interrupted by a crash.
type RecoveryManager struct {
	db *DB
	// alive reports whether a process still exists. Replaced in tests.
	alive func(pid int) bool
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, alive: isProcessAlive}
}

// CheckForInterrupted returns every run still marked running whose owning
// process is gone, newest first.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedRun, error) {
	runs, err := rm.db.ListRuns(&RunFilter{Status: models.RunStatusRunning})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var out []InterruptedRun
	for _, r := range runs {
		if r.PID > 0 && rm.alive(r.PID) {
			continue
		}
		cps, err := rm.db.ListCheckpoints(r.RunID)
		if err != nil {
			return nil, err
		}
		last := r.UpdatedAt
		if n := len(cps); n > 0 && cps[n-1].CreatedAt.After(last) {
			last = cps[n-1].CreatedAt
		}
		out = append(out, InterruptedRun{
			RunID:        r.RunID,
			Workflow:     r.Workflow,
			StartedAt:    r.StartedAt,
			LastActivity: last,
			PID:          r.PID,
			Checkpoints:  len(cps),
		})
	}
	return out, nil
}

// Abandon marks an interrupted run aborted so it is no longer offered for
// resumption. Its checkpoints are kept.
func (rm *RecoveryManager) Abandon(runID string) error {
	if err := rm.db.UpdateRunStatus(runID, models.RunStatusAborted); err != nil {
		return fmt.Errorf("abandon run: %w", err)
	}
	log.Printf("[state] run %s marked aborted", runID)
	return nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
