package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/tracker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeRunStore struct {
	rec     tracker.RunRecord
	err     error
	gotName string
	gotDate time.Time
}

func (f *fakeRunStore) CreateRun(context.Context, tracker.RunRecord) error { return nil }

func (f *fakeRunStore) CompleteRun(
	context.Context, uuid.UUID, time.Time, tracker.RunStatus, *tracker.RunResult, *string,
) error {
	return nil
}

func (f *fakeRunStore) LatestRunByDate(_ context.Context, jobName string, date time.Time) (tracker.RunRecord, error) {
	f.gotName = jobName
	f.gotDate = date
	if f.err != nil {
		return tracker.RunRecord{}, f.err
	}
	return f.rec, nil
}

func newTestServer(store *fakeRunStore) *Server {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewServer(store, clock, zap.NewNop())
}

func getJSON(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	code, body := getJSON(t, newTestServer(&fakeRunStore{}), "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestGetRunStatusDefaultsToToday(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{rec: tracker.RunRecord{
		JobID:     "job-1",
		JobName:   tracker.RunJobName,
		Status:    tracker.RunInProgress,
		StartedAt: time.Date(2025, 1, 1, 11, 30, 0, 0, time.UTC),
	}}
	s := newTestServer(store)

	code, body := getJSON(t, s, "/api/runs")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "in_progress", body["status"])
	require.Contains(t, body["message"], "still running")
	require.Equal(t, tracker.RunJobName, store.gotName)
	require.Equal(t, "2025-01-01", store.gotDate.Format("2006-01-02"))
}

func TestGetRunStatusExplicitDate(t *testing.T) {
	t.Parallel()

	finished := time.Date(2024, 12, 30, 11, 45, 0, 0, time.UTC)
	store := &fakeRunStore{rec: tracker.RunRecord{
		JobID:      "job-2",
		JobName:    tracker.RunJobName,
		Status:     tracker.RunCompleted,
		StartedAt:  finished.Add(-15 * time.Minute),
		FinishedAt: &finished,
		Result: &tracker.RunResult{
			FailedProjects:      []string{"denied.example"},
			AccessDeniedDomains: []string{"denied.example"},
		},
	}}
	s := newTestServer(store)

	code, body := getJSON(t, s, "/api/runs?date=2024-12-30")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["status"])
	require.Contains(t, body["message"], "warnings")
	require.Contains(t, body["message"], "denied.example")
	require.Equal(t, "2024-12-30", store.gotDate.Format("2006-01-02"))
	require.NotNil(t, body["result"])
}

func TestGetRunStatusCleanCompletion(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{rec: tracker.RunRecord{
		JobID:     "job-3",
		JobName:   tracker.RunJobName,
		Status:    tracker.RunCompleted,
		StartedAt: time.Date(2025, 1, 1, 11, 30, 0, 0, time.UTC),
		Result:    &tracker.RunResult{FailedProjects: []string{}, AccessDeniedDomains: []string{}},
	}}

	code, body := getJSON(t, newTestServer(store), "/api/runs")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body["message"], "completed successfully")
}

func TestGetRunStatusFailedRun(t *testing.T) {
	t.Parallel()

	msg := "provider unreachable"
	store := &fakeRunStore{rec: tracker.RunRecord{
		JobID:        "job-4",
		JobName:      tracker.RunJobName,
		Status:       tracker.RunFailed,
		StartedAt:    time.Date(2025, 1, 1, 11, 30, 0, 0, time.UTC),
		ErrorMessage: &msg,
	}}

	code, body := getJSON(t, newTestServer(store), "/api/runs")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "failed", body["status"])
	require.Equal(t, msg, body["error_message"])
}

func TestGetRunStatusNotFound(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{err: tracker.ErrRunNotFound}
	code, body := getJSON(t, newTestServer(store), "/api/runs")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "not_found", body["status"])
	require.Contains(t, body["message"], "2025-01-01")
}

func TestGetRunStatusBadDate(t *testing.T) {
	t.Parallel()

	code, body := getJSON(t, newTestServer(&fakeRunStore{}), "/api/runs?date=yesterday")
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body["error"], "YYYY-MM-DD")
}

func TestGetRunStatusStoreFailure(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{err: errors.New("connection refused")}
	code, body := getJSON(t, newTestServer(store), "/api/runs")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Contains(t, body["error"], "look up run")
}
