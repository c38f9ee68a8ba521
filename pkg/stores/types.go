// Package stores persists diagnostic run history: one row per run and one
// row per executed module.
package stores

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded diagnostic run.
type Run struct {
	// ID is the run's UUID.
	ID string

	// Status is the run's lifecycle state.
	Status RunStatus

	// StartedAt and CompletedAt bound the run. CompletedAt is nil while
	// the run is in flight.
	StartedAt   time.Time
	CompletedAt *time.Time

	// Summary is a one-line outcome description.
	Summary string
}

// ModuleResult is the recorded outcome of one module execution.
type ModuleResult struct {
	// RunID ties the result to its run.
	RunID string

	// Name, Class, Verdict, and Summary are the module's identity and
	// parsed outcome.
	Name    string
	Class   string
	Verdict string
	Summary string
}

// Store is the persistence interface for run history.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// Close releases the database.
	Close() error

	// CreateRun records the start of a run.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun records a run's terminal status and summary.
	FinishRun(ctx context.Context, id string, status RunStatus, summary string) error

	// GetRun retrieves one run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest-first.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// CreateModuleResult records one module outcome.
	CreateModuleResult(ctx context.Context, result *ModuleResult) error

	// ListModuleResults returns the module outcomes of a run in recorded
	// order.
	ListModuleResults(ctx context.Context, runID string) ([]*ModuleResult, error)
}
