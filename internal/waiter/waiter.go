// Package waiter adapts the provider's poll-only history API into a
// bounded-wait primitive. The provider computes rankings in an asynchronous
// background job on its side; the waiter polls until every tracked keyword
// has data or the wall-clock ceiling elapses.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/metrics"
	"github.com/rankmon/rankmon/internal/provider"
	"github.com/rankmon/rankmon/internal/tracker"
)

// ErrTimeout signals that the check job did not finish within MaxWait.
// Recoverable: callers fail the affected keywords and move on.
var ErrTimeout = errors.New("timed out waiting for provider check to finish")

// HistoryFetcher is the slice of the provider client the waiter needs.
type HistoryFetcher interface {
	History(ctx context.Context, projectID int64, regionIndex, searcherKey int, date string) (provider.ResultBatch, error)
}

// Config bounds the poll loop.
type Config struct {
	MaxWait      time.Duration
	PollInterval time.Duration
}

// Waiter polls the provider until a result batch is ready.
type Waiter struct {
	fetcher HistoryFetcher
	clock   tracker.Clock
	sleep   func(ctx context.Context, d time.Duration) error
	cfg     Config
	logger  *zap.Logger
}

// New builds a Waiter with a real sleeper.
func New(fetcher HistoryFetcher, clock tracker.Clock, cfg Config, logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Waiter{
		fetcher: fetcher,
		clock:   clock,
		sleep:   realSleep,
		cfg:     cfg,
		logger:  logger,
	}
}

// NewWithSleeper builds a Waiter with an injected sleeper so tests run
// without real delays.
func NewWithSleeper(
	fetcher HistoryFetcher,
	clock tracker.Clock,
	cfg Config,
	sleep func(ctx context.Context, d time.Duration) error,
	logger *zap.Logger,
) *Waiter {
	w := New(fetcher, clock, cfg, logger)
	w.sleep = sleep
	return w
}

// WaitForReady polls the history endpoint until the batch is complete,
// returning it as soon as it is. It returns ErrTimeout once MaxWait elapses
// with the batch still incomplete.
func (w *Waiter) WaitForReady(
	ctx context.Context,
	projectID int64,
	regionIndex int,
	searcherKey int,
	date string,
) (provider.ResultBatch, error) {
	start := w.clock.Now()
	deadline := start.Add(w.cfg.MaxWait)

	for w.clock.Now().Before(deadline) {
		batch, err := w.fetcher.History(ctx, projectID, regionIndex, searcherKey, date)
		switch {
		case err != nil:
			// The client already retried transport failures; log and keep
			// polling until the ceiling.
			w.logger.Warn("history fetch failed while polling",
				zap.Int64("provider_project_id", projectID),
				zap.Error(err),
			)
		case batch.Ready():
			metrics.ObservePollWait(w.clock.Now().Sub(start))
			return batch, nil
		}

		if err := w.sleep(ctx, w.cfg.PollInterval); err != nil {
			return nil, fmt.Errorf("poll wait: %w", err)
		}
	}

	metrics.ObservePollWait(w.clock.Now().Sub(start))
	return nil, ErrTimeout
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
