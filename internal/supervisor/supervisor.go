// Package supervisor owns the run lifecycle: it persists a run record,
// walks every eligible project through the orchestrator, and records the
// aggregated outcome as the run's terminal state.
package supervisor

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/metrics"
	"github.com/rankmon/rankmon/internal/orchestrator"
	"github.com/rankmon/rankmon/internal/tracker"
)

// ProjectProcessor is the orchestrator surface the supervisor drives.
type ProjectProcessor interface {
	ProcessProject(ctx context.Context, project tracker.Project) (orchestrator.Outcome, error)
}

// Supervisor executes one reconciliation run end to end.
type Supervisor struct {
	projects  tracker.ProjectSource
	runs      tracker.RunStore
	processor ProjectProcessor
	clock     tracker.Clock
	ids       tracker.IDGenerator
	logger    *zap.Logger
}

// New builds a Supervisor.
func New(
	projects tracker.ProjectSource,
	runs tracker.RunStore,
	processor ProjectProcessor,
	clock tracker.Clock,
	ids tracker.IDGenerator,
	logger *zap.Logger,
) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		projects:  projects,
		runs:      runs,
		processor: processor,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Run performs one complete run. Per-project failures are absorbed into the
// run result; only run-record persistence failures and context cancellation
// are fatal. Fatal errors still attempt to mark the record failed before
// returning.
func (s *Supervisor) Run(ctx context.Context) (tracker.RunResult, error) {
	started := s.clock.Now()
	jobID, err := s.ids.NewID()
	if err != nil {
		return tracker.RunResult{}, fmt.Errorf("generate job id: %w", err)
	}
	rec := tracker.RunRecord{
		ID:        uuid.New(),
		JobID:     jobID,
		JobName:   tracker.RunJobName,
		Status:    tracker.RunInProgress,
		StartedAt: started,
	}
	if err := s.runs.CreateRun(ctx, rec); err != nil {
		return tracker.RunResult{}, fmt.Errorf("create run record: %w", err)
	}
	log := s.logger.With(zap.String("job_id", jobID))
	log.Info("run started")

	result, runErr := s.execute(ctx, log)
	finished := s.clock.Now()
	duration := finished.Sub(started)

	if runErr != nil {
		msg := runErr.Error()
		if err := s.runs.CompleteRun(ctx, rec.ID, finished, tracker.RunFailed, nil, &msg); err != nil {
			log.Error("marking run failed did not persist", zap.Error(err))
		}
		metrics.ObserveRun(string(tracker.RunFailed), duration)
		log.Error("run failed", zap.Error(runErr))
		return tracker.RunResult{}, runErr
	}

	if err := s.runs.CompleteRun(ctx, rec.ID, finished, tracker.RunCompleted, &result, nil); err != nil {
		metrics.ObserveRun(string(tracker.RunFailed), duration)
		return tracker.RunResult{}, fmt.Errorf("complete run record: %w", err)
	}
	metrics.ObserveRun(string(tracker.RunCompleted), duration)
	log.Info("run completed",
		zap.Int("failed_projects", len(result.FailedProjects)),
		zap.Int("access_denied_domains", len(result.AccessDeniedDomains)),
		zap.Duration("duration", duration),
	)
	return result, nil
}

func (s *Supervisor) execute(ctx context.Context, log *zap.Logger) (tracker.RunResult, error) {
	projects, err := s.projects.ListEligibleProjects(ctx)
	if err != nil {
		return tracker.RunResult{}, fmt.Errorf("load eligible projects: %w", err)
	}
	result := tracker.RunResult{
		FailedProjects:      []string{},
		AccessDeniedDomains: []string{},
	}
	if len(projects) == 0 {
		log.Info("no eligible projects")
		return result, nil
	}

	failed := make(map[string]struct{})
	denied := make(map[string]struct{})
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return tracker.RunResult{}, fmt.Errorf("run canceled: %w", err)
		}
		out, err := s.processProject(ctx, project)
		if err != nil {
			log.Error("project processing failed",
				zap.String("domain", project.Domain), zap.Error(err))
			failed[project.Domain] = struct{}{}
			continue
		}
		for domain := range out.AccessDenied {
			denied[domain] = struct{}{}
		}
		// Access denial means the project could not be fully checked.
		if len(out.AccessDenied) > 0 {
			failed[project.Domain] = struct{}{}
		}
		if len(out.FailedKeywords) > 0 {
			log.Warn("project finished with keyword failures",
				zap.String("domain", project.Domain),
				zap.Int("failed_keywords", len(out.FailedKeywords)),
			)
		}
	}
	result.FailedProjects = sortedKeys(failed)
	result.AccessDeniedDomains = sortedKeys(denied)
	return result, nil
}

// processProject isolates one project so a panic in provider decoding or
// reconciliation degrades to a failed project instead of killing the run.
func (s *Supervisor) processProject(ctx context.Context, project tracker.Project) (out orchestrator.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing project %s: %v", project.Domain, r)
		}
	}()
	return s.processor.ProcessProject(ctx, project)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
