package models

import (
	"testing"
	"time"
)

func sampleSnapshot() RunSnapshot {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return RunSnapshot{
		RunID:  "run-1",
		Status: RunStatusAborted,
		Order:  []string{"a", "b", "c", "d"},
		Tasks: []TaskState{
			{ID: "a", Status: TaskStatusSucceeded, Attempts: 1, StartedAt: start, FinishedAt: start.Add(time.Second)},
			{ID: "b", Status: TaskStatusFailed, Attempts: 3},
			{ID: "c", Status: TaskStatusSkipped, Cause: "run aborted"},
			{ID: "d", Status: TaskStatusPending},
		},
		Errors: []ErrorRecord{
			{TaskID: "b", Attempt: 1, Kind: ErrorKindTransient, Message: "timeout"},
			{TaskID: "b", Attempt: 2, Kind: ErrorKindTransient, Message: "timeout"},
		},
		StartedAt: start,
	}
}

func TestProgressOf(t *testing.T) {
	p := ProgressOf(sampleSnapshot())

	if p.Total != 4 || p.Succeeded != 1 || p.Failed != 1 || p.Skipped != 1 || p.Pending != 1 {
		t.Errorf("ProgressOf() = %+v", p)
	}
	if p.Percentage != 75 {
		t.Errorf("Percentage = %v, want 75", p.Percentage)
	}
	if got, want := p.String(), "3/4 tasks done (75%), 1 failed, 1 skipped"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestProgressOf_Empty(t *testing.T) {
	p := ProgressOf(RunSnapshot{})
	if p.Percentage != 0 {
		t.Errorf("Percentage = %v, want 0", p.Percentage)
	}
}

func TestRunSnapshot_Queries(t *testing.T) {
	s := sampleSnapshot()

	if ts, ok := s.Task("a"); !ok || ts.Duration() != time.Second {
		t.Errorf("Task(a) = %+v, %v", ts, ok)
	}
	if _, ok := s.Task("zz"); ok {
		t.Error("Task(zz) should not be found")
	}
	if got := s.TasksWithStatus(TaskStatusSkipped); len(got) != 1 || got[0] != "c" {
		t.Errorf("TasksWithStatus(skipped) = %v", got)
	}
	if got := s.ErrorsFor("b"); len(got) != 2 {
		t.Errorf("ErrorsFor(b) = %d records, want 2", len(got))
	}
}

func TestSummaryOf(t *testing.T) {
	sum := SummaryOf(sampleSnapshot(), "demo")
	if sum.Success {
		t.Error("aborted run should not be successful")
	}
	if sum.Workflow != "demo" || sum.Total != 4 || sum.Failed != 1 {
		t.Errorf("SummaryOf() = %+v", sum)
	}
}
