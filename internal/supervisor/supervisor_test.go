package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/orchestrator"
	"github.com/rankmon/rankmon/internal/tracker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeIDs struct{ err error }

func (g *fakeIDs) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return uuid.NewString(), nil
}

type fakeProjects struct {
	projects []tracker.Project
	err      error
}

func (f *fakeProjects) ListEligibleProjects(context.Context) ([]tracker.Project, error) {
	return f.projects, f.err
}

type fakeRuns struct {
	created     []tracker.RunRecord
	completed   []completion
	createErr   error
	completeErr error
}

type completion struct {
	id     uuid.UUID
	status tracker.RunStatus
	result *tracker.RunResult
	errMsg *string
}

func (f *fakeRuns) CreateRun(_ context.Context, rec tracker.RunRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeRuns) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	_ time.Time,
	status tracker.RunStatus,
	result *tracker.RunResult,
	errMsg *string,
) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, completion{id: id, status: status, result: result, errMsg: errMsg})
	return nil
}

func (f *fakeRuns) LatestRunByDate(context.Context, string, time.Time) (tracker.RunRecord, error) {
	return tracker.RunRecord{}, tracker.ErrRunNotFound
}

type fakeProcessor struct {
	outcomes map[string]orchestrator.Outcome
	errs     map[string]error
	panics   map[string]bool
	calls    []string
}

func (f *fakeProcessor) ProcessProject(_ context.Context, project tracker.Project) (orchestrator.Outcome, error) {
	f.calls = append(f.calls, project.Domain)
	if f.panics[project.Domain] {
		panic("decoder blew up")
	}
	if err := f.errs[project.Domain]; err != nil {
		return orchestrator.Outcome{}, err
	}
	return f.outcomes[project.Domain], nil
}

func project(domain string) tracker.Project {
	return tracker.Project{ID: uuid.New(), Domain: domain}
}

func newSupervisor(projects *fakeProjects, runs *fakeRuns, proc *fakeProcessor) *Supervisor {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)}
	return New(projects, runs, proc, clock, &fakeIDs{}, zap.NewNop())
}

func TestRunCompletesCleanly(t *testing.T) {
	t.Parallel()

	projects := &fakeProjects{projects: []tracker.Project{project("a.example"), project("b.example")}}
	runs := &fakeRuns{}
	proc := &fakeProcessor{}
	s := newSupervisor(projects, runs, proc)

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.FailedProjects)
	require.Empty(t, result.AccessDeniedDomains)
	require.Equal(t, []string{"a.example", "b.example"}, proc.calls)

	require.Len(t, runs.created, 1)
	require.Equal(t, tracker.RunInProgress, runs.created[0].Status)
	require.Equal(t, tracker.RunJobName, runs.created[0].JobName)
	require.NotEmpty(t, runs.created[0].JobID)

	require.Len(t, runs.completed, 1)
	require.Equal(t, tracker.RunCompleted, runs.completed[0].status)
	require.NotNil(t, runs.completed[0].result)
	require.Nil(t, runs.completed[0].errMsg)
}

func TestRunNoEligibleProjects(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{}
	s := newSupervisor(&fakeProjects{}, runs, &fakeProcessor{})

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.FailedProjects)
	require.Empty(t, result.FailedProjects)
	require.Len(t, runs.completed, 1)
	require.Equal(t, tracker.RunCompleted, runs.completed[0].status)
}

func TestRunAggregatesProjectFailures(t *testing.T) {
	t.Parallel()

	kwID := uuid.New()
	projects := &fakeProjects{projects: []tracker.Project{
		project("broken.example"),
		project("denied.example"),
		project("fine.example"),
	}}
	proc := &fakeProcessor{
		errs: map[string]error{"broken.example": errors.New("provider unreachable")},
		outcomes: map[string]orchestrator.Outcome{
			"denied.example": {
				FailedKeywords: map[uuid.UUID]struct{}{kwID: {}},
				AccessDenied:   map[string]struct{}{"denied.example": {}},
			},
		},
	}
	runs := &fakeRuns{}
	s := newSupervisor(projects, runs, proc)

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"broken.example", "denied.example"}, result.FailedProjects)
	require.Equal(t, []string{"denied.example"}, result.AccessDeniedDomains)
	require.Equal(t, tracker.RunCompleted, runs.completed[0].status)
}

func TestRunRecoversFromProjectPanic(t *testing.T) {
	t.Parallel()

	projects := &fakeProjects{projects: []tracker.Project{
		project("panicky.example"),
		project("fine.example"),
	}}
	proc := &fakeProcessor{panics: map[string]bool{"panicky.example": true}}
	s := newSupervisor(projects, &fakeRuns{}, proc)

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"panicky.example"}, result.FailedProjects)
	require.Equal(t, []string{"panicky.example", "fine.example"}, proc.calls)
}

func TestRunProjectLoadFailureMarksRunFailed(t *testing.T) {
	t.Parallel()

	projects := &fakeProjects{err: errors.New("database gone")}
	runs := &fakeRuns{}
	s := newSupervisor(projects, runs, &fakeProcessor{})

	_, err := s.Run(context.Background())
	require.Error(t, err)
	require.Len(t, runs.completed, 1)
	require.Equal(t, tracker.RunFailed, runs.completed[0].status)
	require.NotNil(t, runs.completed[0].errMsg)
	require.Contains(t, *runs.completed[0].errMsg, "database gone")
}

func TestRunCreateRecordFailureIsFatal(t *testing.T) {
	t.Parallel()

	runs := &fakeRuns{createErr: errors.New("insert failed")}
	proc := &fakeProcessor{}
	s := newSupervisor(&fakeProjects{projects: []tracker.Project{project("a.example")}}, runs, proc)

	_, err := s.Run(context.Background())
	require.Error(t, err)
	require.Empty(t, proc.calls)
}
