// Package reconciler turns one provider result batch into at most one new
// Position observation per keyword.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/provider"
	"github.com/rankmon/rankmon/internal/tracker"
)

// Input carries everything needed to reconcile one keyword against a fetched
// result batch.
type Input struct {
	Batch       provider.ResultBatch
	Frequencies tracker.FrequencyMap
	Keyword     tracker.Keyword
	ProjectID   int64
	RegionIndex int
	Date        string
}

// Reconciler extracts rank and search volume for single keywords and stages
// new observations. It never commits; the orchestrator owns that boundary.
type Reconciler struct {
	store  tracker.PositionStore
	clock  tracker.Clock
	logger *zap.Logger
}

// New builds a Reconciler.
func New(store tracker.PositionStore, clock tracker.Clock, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, clock: clock, logger: logger}
}

// Reconcile stages a new Position for the keyword when the batch or the
// frequency map carries new information. It returns false with a nil error
// when there is nothing to record; callers count that as a per-keyword
// failure for the run summary, not an operator-facing error.
func (r *Reconciler) Reconcile(ctx context.Context, batch tracker.PositionBatch, in Input) (bool, error) {
	position := extractPosition(in)
	frequency := lookupFrequency(in)
	if position == nil && frequency == nil {
		return false, nil
	}

	var previous *int
	last, err := r.store.LastPosition(ctx, in.Keyword.ID)
	switch {
	case errors.Is(err, tracker.ErrNoPositions):
		// First observation for this keyword.
	case err != nil:
		return false, fmt.Errorf("load last position: %w", err)
	default:
		previous = last.Position
	}

	pos := tracker.Position{
		ID:               uuid.New(),
		KeywordID:        in.Keyword.ID,
		CheckedAt:        r.clock.Now(),
		Position:         position,
		Frequency:        frequency,
		PreviousPosition: previous,
		Cost:             in.Keyword.Cost(position),
		Trend:            tracker.TrendOf(position, previous),
	}
	if err := batch.Insert(ctx, pos); err != nil {
		return false, fmt.Errorf("stage position: %w", err)
	}
	return true, nil
}

// extractPosition finds the keyword's rank in the batch, nil when the
// provider has no numeric rank for it.
func extractPosition(in Input) *int {
	dataKey := fmt.Sprintf("%s:%d:%d", in.Date, in.ProjectID, in.RegionIndex)
	for _, item := range in.Batch {
		if !strings.EqualFold(item.Name, in.Keyword.Text) {
			continue
		}
		cell, ok := item.PositionsData[dataKey]
		if !ok || cell.Position == provider.NotFoundSentinel {
			return nil
		}
		rank, err := strconv.Atoi(cell.Position)
		if err != nil {
			return nil
		}
		return &rank
	}
	return nil
}

func lookupFrequency(in Input) *int {
	volume, ok := in.Frequencies[strings.ToLower(in.Keyword.Text)]
	if !ok {
		return nil
	}
	return &volume
}
