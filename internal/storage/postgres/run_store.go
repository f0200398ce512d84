package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rankmon/rankmon/internal/tracker"
)

// RunStore persists run records.
type RunStore struct {
	pool Pool
}

// NewRunStoreWithPool constructs a store from an existing pool.
func NewRunStoreWithPool(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// CreateRun inserts the record as given.
func (s *RunStore) CreateRun(ctx context.Context, rec tracker.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO run_records (id, job_id, job_name, status, started_at)
VALUES ($1,$2,$3,$4,$5)`,
		rec.ID, rec.JobID, rec.JobName, rec.Status, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished. result is stored as JSONB when set.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status tracker.RunStatus,
	result *tracker.RunResult,
	errMsg *string,
) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal run result: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE run_records
SET finished_at = $2, status = $3, result = $4, error_message = $5
WHERE id = $1`,
		id, finishedAt, status, resultJSON, errMsg,
	)
	if err != nil {
		return fmt.Errorf("update run record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrRunNotFound
	}
	return nil
}

// LatestRunByDate returns the most recent run with the given job name started
// on the given UTC date.
func (s *RunStore) LatestRunByDate(ctx context.Context, jobName string, date time.Time) (tracker.RunRecord, error) {
	var (
		rec        tracker.RunRecord
		resultJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, job_id, job_name, status, started_at, finished_at, result, error_message
FROM run_records
WHERE job_name = $1 AND started_at::date = $2::date
ORDER BY started_at DESC
LIMIT 1`, jobName, date).Scan(
		&rec.ID, &rec.JobID, &rec.JobName, &rec.Status,
		&rec.StartedAt, &rec.FinishedAt, &resultJSON, &rec.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.RunRecord{}, tracker.ErrRunNotFound
	}
	if err != nil {
		return tracker.RunRecord{}, fmt.Errorf("query run record: %w", err)
	}
	if len(resultJSON) > 0 {
		var result tracker.RunResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return tracker.RunRecord{}, fmt.Errorf("decode run result: %w", err)
		}
		rec.Result = &result
	}
	return rec, nil
}
