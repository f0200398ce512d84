package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoPositions signals a keyword with no recorded observations yet.
var ErrNoPositions = errors.New("no positions recorded for keyword")

// ErrRunNotFound signals that no run record matches the query.
var ErrRunNotFound = errors.New("run record not found")

// ProjectSource loads the eligible project aggregates for a run.
type ProjectSource interface {
	// ListEligibleProjects returns every project with a provider linkage id,
	// eagerly loaded with its groups and keywords.
	ListEligibleProjects(ctx context.Context) ([]Project, error)
}

// PositionStore reads observation history and opens staging batches.
type PositionStore interface {
	// LastPosition returns the newest observation for a keyword, or
	// ErrNoPositions when none exists.
	LastPosition(ctx context.Context, keywordID uuid.UUID) (Position, error)
	// BeginBatch opens a transactional batch of staged inserts. The caller
	// owns the commit boundary.
	BeginBatch(ctx context.Context) (PositionBatch, error)
}

// PositionBatch stages Position inserts inside one transaction. Insert is
// safe for concurrent use; Commit and Rollback are not.
type PositionBatch interface {
	Insert(ctx context.Context, pos Position) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RunStore persists run records.
type RunStore interface {
	// CreateRun inserts the record as returned; called once at run start.
	CreateRun(ctx context.Context, rec RunRecord) error
	// CompleteRun marks the run finished with a terminal status. Exactly one
	// of result and errMsg is set.
	CompleteRun(
		ctx context.Context,
		id uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		result *RunResult,
		errMsg *string,
	) error
	// LatestRunByDate returns the most recent run with the given job name
	// started on the given UTC date, or ErrRunNotFound.
	LatestRunByDate(ctx context.Context, jobName string, date time.Time) (RunRecord, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
