// Package orchestrator drives the per-project reconciliation flow: for each
// group it obtains or triggers the provider's ranking check, fetches search
// volumes, and fans keyword reconciliation out under a bounded concurrency
// limit. Failures aggregate bottom-up as data, not exceptions.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rankmon/rankmon/internal/metrics"
	"github.com/rankmon/rankmon/internal/provider"
	"github.com/rankmon/rankmon/internal/reconciler"
	"github.com/rankmon/rankmon/internal/region"
	"github.com/rankmon/rankmon/internal/tracker"
)

// ProviderClient is the slice of the provider API the orchestrator calls.
type ProviderClient interface {
	GetProject(ctx context.Context, projectID int64) (provider.ProjectInfo, error)
	AddSearcher(ctx context.Context, projectID int64, searcherKey int) error
	AddSearcherRegion(ctx context.Context, projectID int64, searcherKey, regionKey int) error
	StartCheck(ctx context.Context, projectID int64) error
	History(ctx context.Context, projectID int64, regionIndex, searcherKey int, date string) (provider.ResultBatch, error)
	KeywordVolumes(ctx context.Context, projectID int64, regionKey, searcherKey int) (map[string]int, error)
}

// ReadyWaiter blocks until a check job's results are complete or a wall-clock
// ceiling elapses.
type ReadyWaiter interface {
	WaitForReady(ctx context.Context, projectID int64, regionIndex, searcherKey int, date string) (provider.ResultBatch, error)
}

// KeywordReconciler stages one observation per keyword.
type KeywordReconciler interface {
	Reconcile(ctx context.Context, batch tracker.PositionBatch, in reconciler.Input) (bool, error)
}

// Config controls orchestrator behavior.
type Config struct {
	// SearcherKey selects the provider search engine (0 = Yandex).
	SearcherKey int
	// KeywordConcurrency bounds in-flight keyword reconciliations. The
	// provider throttle is the real request bound; this chiefly limits local
	// resource use.
	KeywordConcurrency int64
}

// Outcome aggregates one project's failures.
type Outcome struct {
	FailedKeywords map[uuid.UUID]struct{}
	AccessDenied   map[string]struct{}
}

func newOutcome() Outcome {
	return Outcome{
		FailedKeywords: make(map[uuid.UUID]struct{}),
		AccessDenied:   make(map[string]struct{}),
	}
}

// Failed reports whether the outcome carries any failure.
func (o Outcome) Failed() bool {
	return len(o.FailedKeywords) > 0 || len(o.AccessDenied) > 0
}

// Orchestrator processes one project at a time. The semaphore is shared by
// every keyword operation dispatched through this instance.
type Orchestrator struct {
	client     ProviderClient
	waiter     ReadyWaiter
	reconciler KeywordReconciler
	store      tracker.PositionStore
	clock      tracker.Clock
	sem        *semaphore.Weighted
	cfg        Config
	logger     *zap.Logger
}

// New builds an Orchestrator.
func New(
	client ProviderClient,
	waiter ReadyWaiter,
	rec KeywordReconciler,
	store tracker.PositionStore,
	clock tracker.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeywordConcurrency <= 0 {
		cfg.KeywordConcurrency = 4
	}
	return &Orchestrator{
		client:     client,
		waiter:     waiter,
		reconciler: rec,
		store:      store,
		clock:      clock,
		sem:        semaphore.NewWeighted(cfg.KeywordConcurrency),
		cfg:        cfg,
		logger:     logger,
	}
}

// ProcessProject reconciles every group of one project, returning the
// aggregated per-keyword failures and access-denied domains. Group-level
// problems degrade to failed keywords; only context cancellation aborts.
func (o *Orchestrator) ProcessProject(ctx context.Context, project tracker.Project) (Outcome, error) {
	out := newOutcome()
	for _, group := range project.Groups {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("project %s canceled: %w", project.Domain, err)
		}
		o.processGroup(ctx, &out, project, group)
	}
	return out, nil
}

func (o *Orchestrator) processGroup(ctx context.Context, out *Outcome, project tracker.Project, group tracker.Group) {
	log := o.logger.With(
		zap.String("domain", project.Domain),
		zap.String("group", group.Title),
	)

	if group.IsArchived {
		log.Info("skipping archived group")
		return
	}
	if group.TopvisorID == nil || len(group.Keywords) == 0 {
		log.Warn("group misconfigured, failing its keywords",
			zap.Bool("linked", group.TopvisorID != nil),
			zap.Int("keywords", len(group.Keywords)),
		)
		o.failGroup(out, group)
		return
	}
	reg, ok := region.Resolve(group.Region)
	if !ok {
		log.Warn("unknown region", zap.String("region", group.Region))
		o.failGroup(out, group)
		return
	}
	providerID := *group.TopvisorID

	if _, err := o.client.GetProject(ctx, providerID); err != nil {
		o.handleGroupError(out, project, group, log, "project metadata", err)
		return
	}
	if err := o.client.AddSearcher(ctx, providerID, o.cfg.SearcherKey); err != nil {
		o.handleGroupError(out, project, group, log, "register searcher", err)
		return
	}
	if err := o.client.AddSearcherRegion(ctx, providerID, o.cfg.SearcherKey, reg.Key); err != nil {
		o.handleGroupError(out, project, group, log, "register region", err)
		return
	}

	date := o.clock.Now().Format("2006-01-02")
	batch, ok := o.obtainRankings(ctx, out, project, group, log, providerID, reg, date)
	if !ok {
		return
	}

	freq := tracker.FrequencyMap{}
	if volumes, err := o.client.KeywordVolumes(ctx, providerID, reg.Key, o.cfg.SearcherKey); err != nil {
		log.Warn("volume fetch failed, continuing without frequencies", zap.Error(err))
	} else {
		freq = volumes
	}

	o.reconcileGroupKeywords(ctx, out, group, reconcileScope{
		providerID:  providerID,
		regionIndex: reg.Index,
		date:        date,
		batch:       batch,
		freq:        freq,
	}, log)
}

// obtainRankings fetches today's result batch, triggering the provider's
// check job and waiting when the data is absent or still incomplete.
func (o *Orchestrator) obtainRankings(
	ctx context.Context,
	out *Outcome,
	project tracker.Project,
	group tracker.Group,
	log *zap.Logger,
	providerID int64,
	reg region.Region,
	date string,
) (provider.ResultBatch, bool) {
	batch, err := o.client.History(ctx, providerID, reg.Index, o.cfg.SearcherKey, date)
	if err != nil {
		if provider.IsAccessDenied(err) {
			o.handleGroupError(out, project, group, log, "fetch rankings", err)
			return nil, false
		}
		log.Warn("initial history fetch failed", zap.Error(err))
	}
	if batch.Ready() {
		return batch, true
	}

	if err := o.client.StartCheck(ctx, providerID); err != nil {
		o.handleGroupError(out, project, group, log, "start check", err)
		return nil, false
	}
	batch, err = o.waiter.WaitForReady(ctx, providerID, reg.Index, o.cfg.SearcherKey, date)
	if err != nil {
		log.Warn("check job did not finish in time, failing group keywords", zap.Error(err))
		o.failGroup(out, group)
		return nil, false
	}
	return batch, true
}

type reconcileScope struct {
	providerID  int64
	regionIndex int
	date        string
	batch       provider.ResultBatch
	freq        tracker.FrequencyMap
}

// reconcileGroupKeywords dispatches active keywords under the semaphore,
// retries the failed ones once, and commits the staged observations as one
// transaction. Keywords whose observation was already staged are not
// re-dispatched. A failed commit fails every keyword touched by the batch,
// never the whole run.
func (o *Orchestrator) reconcileGroupKeywords(
	ctx context.Context,
	out *Outcome,
	group tracker.Group,
	scope reconcileScope,
	log *zap.Logger,
) {
	batch, err := o.store.BeginBatch(ctx)
	if err != nil {
		log.Error("open position batch failed", zap.Error(err))
		o.failGroup(out, group)
		return
	}

	actives := make([]tracker.Keyword, 0, len(group.Keywords))
	for _, kw := range group.Keywords {
		if kw.IsCheck {
			actives = append(actives, kw)
		}
	}

	failed := o.dispatchKeywords(ctx, batch, actives, scope, log)
	if len(failed) > 0 {
		log.Info("retrying failed keywords", zap.Int("count", len(failed)))
		failed = o.dispatchKeywords(ctx, batch, failed, scope, log)
	}

	if err := batch.Commit(ctx); err != nil {
		log.Error("position batch commit failed", zap.Error(err))
		if rbErr := batch.Rollback(ctx); rbErr != nil {
			log.Warn("rollback failed", zap.Error(rbErr))
		}
		o.failGroup(out, group)
		return
	}
	for _, kw := range failed {
		out.FailedKeywords[kw.ID] = struct{}{}
	}
}

// dispatchKeywords reconciles the given keywords under the shared semaphore
// and returns the ones that produced no observation.
func (o *Orchestrator) dispatchKeywords(
	ctx context.Context,
	batch tracker.PositionBatch,
	keywords []tracker.Keyword,
	scope reconcileScope,
	log *zap.Logger,
) []tracker.Keyword {
	var (
		mu     sync.Mutex
		failed []tracker.Keyword
		wg     sync.WaitGroup
	)
	for _, kw := range keywords {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed = append(failed, kw)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(kw tracker.Keyword) {
			defer wg.Done()
			defer o.sem.Release(1)
			written, err := o.reconciler.Reconcile(ctx, batch, reconciler.Input{
				Batch:       scope.batch,
				Frequencies: scope.freq,
				Keyword:     kw,
				ProjectID:   scope.providerID,
				RegionIndex: scope.regionIndex,
				Date:        scope.date,
			})
			switch {
			case err != nil:
				log.Error("keyword reconciliation failed",
					zap.String("keyword", kw.Text), zap.Error(err))
				metrics.ObserveKeyword("error")
			case !written:
				metrics.ObserveKeyword("no_data")
			default:
				metrics.ObserveKeyword("written")
				return
			}
			mu.Lock()
			failed = append(failed, kw)
			mu.Unlock()
		}(kw)
	}
	wg.Wait()
	return failed
}

// handleGroupError interprets a provider call failure for one group. The
// access-denied code short-circuits the group and records its domain; every
// other failure just fails the group's keywords.
func (o *Orchestrator) handleGroupError(
	out *Outcome,
	project tracker.Project,
	group tracker.Group,
	log *zap.Logger,
	operation string,
	err error,
) {
	if provider.IsAccessDenied(err) {
		log.Warn("provider denied access", zap.String("operation", operation))
		out.AccessDenied[project.Domain] = struct{}{}
		metrics.IncAccessDenied()
	} else {
		log.Error("provider call failed", zap.String("operation", operation), zap.Error(err))
	}
	o.failGroup(out, group)
}

func (o *Orchestrator) failGroup(out *Outcome, group tracker.Group) {
	for _, kw := range group.Keywords {
		if kw.IsCheck {
			out.FailedKeywords[kw.ID] = struct{}{}
		}
	}
}
