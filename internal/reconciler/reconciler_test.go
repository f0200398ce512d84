package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/provider"
	"github.com/rankmon/rankmon/internal/tracker"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// fakeStore serves LastPosition from a map and collects staged inserts.
type fakeStore struct {
	last map[uuid.UUID]tracker.Position
}

func (s *fakeStore) LastPosition(_ context.Context, keywordID uuid.UUID) (tracker.Position, error) {
	pos, ok := s.last[keywordID]
	if !ok {
		return tracker.Position{}, tracker.ErrNoPositions
	}
	return pos, nil
}

func (s *fakeStore) BeginBatch(context.Context) (tracker.PositionBatch, error) {
	return &fakeBatch{}, nil
}

type fakeBatch struct {
	staged []tracker.Position
}

func (b *fakeBatch) Insert(_ context.Context, pos tracker.Position) error {
	b.staged = append(b.staged, pos)
	return nil
}

func (b *fakeBatch) Commit(context.Context) error   { return nil }
func (b *fakeBatch) Rollback(context.Context) error { return nil }

func intp(v int) *int { return &v }

func batchFor(keyword, dataKey, position string) provider.ResultBatch {
	return provider.ResultBatch{{
		Name:          keyword,
		PositionsData: map[string]provider.PositionCell{dataKey: {Position: position}},
	}}
}

func testInput(batch provider.ResultBatch, freq tracker.FrequencyMap, kw tracker.Keyword) Input {
	return Input{
		Batch:       batch,
		Frequencies: freq,
		Keyword:     kw,
		ProjectID:   555,
		RegionIndex: 1,
		Date:        "2025-01-01",
	}
}

func TestReconcileFirstObservation(t *testing.T) {
	t.Parallel()

	kw := tracker.Keyword{ID: uuid.New(), Text: "shoes", PriceTop6_10: 100, IsCheck: true}
	store := &fakeStore{last: map[uuid.UUID]tracker.Position{}}
	batch := &fakeBatch{}
	r := New(store, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())

	written, err := r.Reconcile(context.Background(), batch,
		testInput(batchFor("shoes", "2025-01-01:555:1", "7"), nil, kw))
	require.NoError(t, err)
	require.True(t, written)
	require.Len(t, batch.staged, 1)

	pos := batch.staged[0]
	require.Equal(t, intp(7), pos.Position)
	require.Nil(t, pos.PreviousPosition)
	require.Equal(t, tracker.TrendStable, pos.Trend)
	require.Equal(t, 100, pos.Cost)
	require.Nil(t, pos.Frequency)
}

func TestReconcileAgainstPriorObservation(t *testing.T) {
	t.Parallel()

	kw := tracker.Keyword{ID: uuid.New(), Text: "shoes", PriceTop6_10: 100, IsCheck: true}
	store := &fakeStore{last: map[uuid.UUID]tracker.Position{
		kw.ID: {KeywordID: kw.ID, Position: intp(12)},
	}}
	batch := &fakeBatch{}
	r := New(store, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())

	written, err := r.Reconcile(context.Background(), batch,
		testInput(batchFor("shoes", "2025-01-01:555:1", "7"), nil, kw))
	require.NoError(t, err)
	require.True(t, written)

	pos := batch.staged[0]
	require.Equal(t, intp(12), pos.PreviousPosition)
	require.Equal(t, tracker.TrendUp, pos.Trend)
	require.Equal(t, 100, pos.Cost)
}

func TestReconcileNoNewInformationWritesNothing(t *testing.T) {
	t.Parallel()

	kw := tracker.Keyword{ID: uuid.New(), Text: "shoes", IsCheck: true}
	store := &fakeStore{last: map[uuid.UUID]tracker.Position{}}
	batch := &fakeBatch{}
	r := New(store, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())

	in := testInput(batchFor("shoes", "2025-01-01:555:1", provider.NotFoundSentinel), nil, kw)

	// Retried invocations with the same empty input must stay idempotent.
	for i := 0; i < 2; i++ {
		written, err := r.Reconcile(context.Background(), batch, in)
		require.NoError(t, err)
		require.False(t, written)
	}
	require.Empty(t, batch.staged)
}

func TestReconcileFrequencyOnlyObservation(t *testing.T) {
	t.Parallel()

	kw := tracker.Keyword{ID: uuid.New(), Text: "Shoes", PriceTop1_3: 300, IsCheck: true}
	store := &fakeStore{last: map[uuid.UUID]tracker.Position{}}
	batch := &fakeBatch{}
	r := New(store, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())

	freq := tracker.FrequencyMap{"shoes": 420}
	written, err := r.Reconcile(context.Background(), batch,
		testInput(batchFor("shoes", "2025-01-01:555:1", "--"), freq, kw))
	require.NoError(t, err)
	require.True(t, written)

	pos := batch.staged[0]
	require.Nil(t, pos.Position)
	require.Equal(t, intp(420), pos.Frequency)
	require.Equal(t, 0, pos.Cost)
	require.Equal(t, tracker.TrendStable, pos.Trend)
}

func TestReconcileNonNumericRankTreatedAsUnknown(t *testing.T) {
	t.Parallel()

	kw := tracker.Keyword{ID: uuid.New(), Text: "shoes", IsCheck: true}
	store := &fakeStore{last: map[uuid.UUID]tracker.Position{}}
	batch := &fakeBatch{}
	r := New(store, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())

	written, err := r.Reconcile(context.Background(), batch,
		testInput(batchFor("shoes", "2025-01-01:555:1", "n/a"), nil, kw))
	require.NoError(t, err)
	require.False(t, written)
	require.Empty(t, batch.staged)
}

func TestReconcileKeywordMatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	kw := tracker.Keyword{ID: uuid.New(), Text: "SHOES", PriceTop1_3: 300, IsCheck: true}
	store := &fakeStore{last: map[uuid.UUID]tracker.Position{}}
	batch := &fakeBatch{}
	r := New(store, &fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())

	written, err := r.Reconcile(context.Background(), batch,
		testInput(batchFor("shoes", "2025-01-01:555:1", "2"), nil, kw))
	require.NoError(t, err)
	require.True(t, written)
	require.Equal(t, 300, batch.staged[0].Cost)
}
