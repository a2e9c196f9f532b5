package state

import (
	"io"

	"github.com/ShayCichocki/pipewright/internal/orchestrator"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// RunIndex lists and inspects recorded runs.
type RunIndex interface {
	GetRun(id string) (*Run, error)
	ListRuns(filter *RunFilter) ([]Run, error)
}

// Store is everything the CLI needs from run persistence.
type Store interface {
	io.Closer
	Migrator
	RunIndex
	orchestrator.Checkpointer
	orchestrator.RunRecorder
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store                     = (*DB)(nil)
	_ orchestrator.Checkpointer = (*DB)(nil)
	_ orchestrator.RunRecorder  = (*DB)(nil)
)
