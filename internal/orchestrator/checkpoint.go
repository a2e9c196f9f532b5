package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/pipewright/internal/store"
	"github.com/ShayCichocki/pipewright/pkg/models"
)

// checkpointFormat is bumped when the blob layout changes incompatibly.
const checkpointFormat = 1

// Checkpointer persists opaque run checkpoints between tasks.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, runID string, seq int64, blob []byte) error
	// LoadCheckpoint returns the most recent checkpoint of a run.
	LoadCheckpoint(ctx context.Context, runID string) ([]byte, error)
}

// RunRecorder is optionally implemented by a Checkpointer to keep a run index.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary models.RunSummary) error
}

type checkpointBlob struct {
	Format   int                `json:"format"`
	Workflow string             `json:"workflow,omitempty"`
	State    models.RunSnapshot `json:"state"`
	Store    store.Snapshot     `json:"store"`
}

// EncodeCheckpoint serializes a run snapshot and its store into one blob.
func EncodeCheckpoint(snap models.RunSnapshot, st *store.SharedStore) ([]byte, error) {
	return encodeCheckpoint(snap, st, "")
}

func encodeCheckpoint(snap models.RunSnapshot, st *store.SharedStore, workflow string) ([]byte, error) {
	blob := checkpointBlob{
		Format:   checkpointFormat,
		Workflow: workflow,
		State:    snap,
		Store:    st.Snapshot(),
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// DecodeCheckpoint restores a run snapshot and a populated store from a blob.
func DecodeCheckpoint(data []byte) (models.RunSnapshot, *store.SharedStore, error) {
	var blob checkpointBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return models.RunSnapshot{}, nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if blob.Format != checkpointFormat {
		return models.RunSnapshot{}, nil, fmt.Errorf("decode checkpoint: unsupported format %d", blob.Format)
	}

	st := store.New()
	if err := st.Restore(blob.Store); err != nil {
		return models.RunSnapshot{}, nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return blob.State, st, nil
}

// checkpoint writes the current state of a run. Failures are logged only.
func (c *Coordinator) checkpoint(run *activeRun) {
	if c.opts.checkpointer == nil {
		return
	}

	run.checkpointMu.Lock()
	defer run.checkpointMu.Unlock()

	data, err := encodeCheckpoint(run.state.Snapshot(), run.store, c.opts.workflowName)
	if err != nil {
		c.logger.Log("[checkpoint] run %s: %v", run.id, err)
		return
	}
	run.checkpointSeq++
	// Saving must survive run cancellation.
	ctx := context.WithoutCancel(run.ctx)
	if err := c.opts.checkpointer.SaveCheckpoint(ctx, run.id, run.checkpointSeq, data); err != nil {
		c.logger.Log("[checkpoint] run %s seq %d: save failed: %v", run.id, run.checkpointSeq, err)
	}
}

// recordRun updates the run index when the checkpointer keeps one.
func (c *Coordinator) recordRun(run *activeRun) {
	rec, ok := c.opts.checkpointer.(RunRecorder)
	if !ok {
		return
	}
	summary := models.SummaryOf(run.state.Snapshot(), c.opts.workflowName)
	if err := rec.RecordRun(context.WithoutCancel(run.ctx), summary); err != nil {
		c.logger.Log("[checkpoint] run %s: record run failed: %v", run.id, err)
	}
}
