package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rankmon/rankmon/internal/tracker"
)

// PositionStore reads and stages rank observations.
type PositionStore struct {
	pool Pool
}

// NewPositionStoreWithPool constructs a store from an existing pool.
func NewPositionStoreWithPool(pool Pool) (*PositionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PositionStore{pool: pool}, nil
}

// LastPosition returns the newest observation for a keyword, or
// tracker.ErrNoPositions when the keyword has no history yet.
func (s *PositionStore) LastPosition(ctx context.Context, keywordID uuid.UUID) (tracker.Position, error) {
	var pos tracker.Position
	err := s.pool.QueryRow(ctx, `
SELECT id, keyword_id, checked_at, position, frequency, previous_position, cost, trend
FROM positions
WHERE keyword_id = $1
ORDER BY checked_at DESC
LIMIT 1`, keywordID).Scan(
		&pos.ID, &pos.KeywordID, &pos.CheckedAt,
		&pos.Position, &pos.Frequency, &pos.PreviousPosition,
		&pos.Cost, &pos.Trend,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Position{}, tracker.ErrNoPositions
	}
	if err != nil {
		return tracker.Position{}, fmt.Errorf("query last position: %w", err)
	}
	return pos, nil
}

// BeginBatch opens a transaction-backed batch of staged inserts.
func (s *PositionStore) BeginBatch(ctx context.Context) (tracker.PositionBatch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin position batch: %w", err)
	}
	return &txBatch{tx: tx}, nil
}

// txBatch serializes inserts onto one pgx transaction. pgx transactions are
// not safe for concurrent use, so Insert takes a mutex; the contention window
// is one INSERT statement.
type txBatch struct {
	mu sync.Mutex
	tx pgx.Tx
}

func (b *txBatch) Insert(ctx context.Context, pos tracker.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.tx.Exec(ctx, `
INSERT INTO positions (
	id, keyword_id, checked_at, position, frequency, previous_position, cost, trend
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		pos.ID, pos.KeywordID, pos.CheckedAt,
		pos.Position, pos.Frequency, pos.PreviousPosition,
		pos.Cost, pos.Trend,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (b *txBatch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit position batch: %w", err)
	}
	return nil
}

func (b *txBatch) Rollback(ctx context.Context) error {
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback position batch: %w", err)
	}
	return nil
}
