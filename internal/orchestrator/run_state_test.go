package orchestrator

import (
	"testing"
	"time"

	"github.com/ShayCichocki/pipewright/pkg/models"
)

func TestRunState_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rs := NewRunState("r1", []string{"a", "b"})
	rs.Start(now)

	if err := rs.MarkSucceeded("a", models.OutputRef{}, "", now); err != nil {
		t.Errorf("pending -> succeeded should be allowed: %v", err)
	}
	if err := rs.MarkRunning("a", now); err == nil {
		t.Error("succeeded -> running should be rejected")
	}
	if err := rs.MarkFailed("a", "late", models.StrategyAbort, now); err == nil {
		t.Error("terminal states must not change")
	}
	if err := rs.MarkRunning("b", now); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := rs.MarkRunning("b", now); err == nil {
		t.Error("running -> running should be rejected")
	}
	if got := rs.RecordAttempt("b"); got != 1 {
		t.Errorf("RecordAttempt = %d, want 1", got)
	}
	if err := rs.MarkFailed("b", "boom", models.StrategyAbort, now.Add(time.Second)); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := rs.MarkRunning("missing", now); err == nil {
		t.Error("unknown task should be rejected")
	}

	if status := rs.Finish(now.Add(2 * time.Second)); status != models.RunStatusAborted {
		t.Errorf("Finish = %s, want aborted when a task failed", status)
	}
	snap := rs.Snapshot()
	b, _ := snap.Task("b")
	if b.Duration() != time.Second || b.Cause != "boom" {
		t.Errorf("b = %+v", b)
	}
}

func TestRunState_FinishCompletedAndCancelled(t *testing.T) {
	rs := NewRunState("r1", []string{"a"})
	rs.Start(time.Now())
	rs.MarkSkipped("a", "failed: x", models.StrategySkip, time.Now())
	if status := rs.Finish(time.Now()); status != models.RunStatusCompleted {
		t.Errorf("skipped tasks alone should complete, got %s", status)
	}

	rs = NewRunState("r2", []string{"a"})
	rs.SetCancelled()
	if status := rs.Finish(time.Now()); status != models.RunStatusAborted {
		t.Errorf("cancelled run = %s, want aborted", status)
	}
	if !rs.Cancelled() {
		t.Error("Cancelled() should be true")
	}
}

func TestRunState_SnapshotIsCopy(t *testing.T) {
	rs := NewRunState("r1", []string{"a"})
	rs.MarkSucceeded("a", models.OutputRef{Key: "task/a", Version: 1}, "", time.Now())

	snap := rs.Snapshot()
	snap.Tasks[0].Output.Version = 99
	snap.Order[0] = "zzz"

	again := rs.Snapshot()
	if again.Tasks[0].Output.Version != 1 || again.Order[0] != "a" {
		t.Error("mutating a snapshot must not affect the run state")
	}
}

func TestRestoreRunState(t *testing.T) {
	rs := NewRunState("r1", []string{"a", "b", "c"})
	rs.Start(time.Now())
	rs.MarkSucceeded("a", models.OutputRef{Key: "task/a", Version: 1}, "", time.Now())
	rs.MarkRunning("b", time.Now())
	rs.RecordAttempt("b")
	rs.RecordError(models.ErrorRecord{TaskID: "b", Attempt: 1, Message: "boom"})
	rs.MarkFailed("b", "boom", models.StrategyAbort, time.Now())
	rs.MarkSkipped("c", "run aborted", models.StrategyAbort, time.Now())
	rs.Finish(time.Now())

	restored := RestoreRunState(rs.Snapshot())
	if got := restored.TaskStatus("a"); got != models.TaskStatusSucceeded {
		t.Errorf("a = %s, want succeeded", got)
	}
	pending := restored.Pending()
	if len(pending) != 2 || pending[0] != "b" || pending[1] != "c" {
		t.Errorf("pending = %v, want [b c]", pending)
	}
	b, _ := restored.Task("b")
	if b.Attempts != 0 || b.Cause != "" {
		t.Errorf("b should be reset, got %+v", b)
	}
	if len(restored.Snapshot().Errors) != 1 {
		t.Error("error history should survive a restore")
	}
	if restored.Status() != models.RunStatusIdle {
		t.Errorf("restored status = %s, want idle", restored.Status())
	}
}
