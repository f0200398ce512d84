// Package api exposes the HTTP interface for the rank tracking service.
// Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs for run status lookups by date.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/metrics"
	"github.com/rankmon/rankmon/internal/tracker"
)

const runLookupTimeout = 3 * time.Second

// Server wires HTTP handlers to the run store.
type Server struct {
	router chi.Router
	runs   tracker.RunStore
	clock  tracker.Clock
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs tracker.RunStore, clock tracker.Clock, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runs:   runs,
		clock:  clock,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.getRunStatus)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getRunStatus handles GET /api/runs?date=YYYY-MM-DD. Without a date it
// reports on today's run. A missing run is a 200 with status "not_found",
// not an error: callers poll this before the scheduled run has started.
func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), runLookupTimeout)
	defer cancel()

	date := s.clock.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		date = parsed
	}

	rec, err := s.runs.LatestRunByDate(ctx, tracker.RunJobName, date)
	if errors.Is(err, tracker.ErrRunNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "not_found",
			"message": fmt.Sprintf(
				"No position check run found for %s. The run starts on its schedule; contact an administrator if it is overdue.",
				date.Format("2006-01-02")),
		})
		return
	}
	if err != nil {
		s.logger.Error("run lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to look up run")
		return
	}
	writeJSON(w, http.StatusOK, runResponse(rec))
}

func runResponse(rec tracker.RunRecord) map[string]any {
	resp := map[string]any{
		"job_id":     rec.JobID,
		"job_name":   rec.JobName,
		"status":     string(rec.Status),
		"started_at": rec.StartedAt.Format(time.RFC3339),
	}
	if rec.FinishedAt != nil {
		resp["finished_at"] = rec.FinishedAt.Format(time.RFC3339)
	}
	switch rec.Status {
	case tracker.RunInProgress:
		resp["message"] = "The position check is still running, please wait for it to finish."
	case tracker.RunCompleted:
		resp["message"] = completionMessage(rec.Result)
		if rec.Result != nil {
			resp["result"] = rec.Result
		}
	case tracker.RunFailed:
		resp["message"] = "The position check failed."
		if rec.ErrorMessage != nil {
			resp["error_message"] = *rec.ErrorMessage
		}
	default:
		resp["message"] = fmt.Sprintf("Run status: %s", rec.Status)
	}
	return resp
}

func completionMessage(result *tracker.RunResult) string {
	if result == nil || (len(result.FailedProjects) == 0 && len(result.AccessDeniedDomains) == 0) {
		return "The position check completed successfully. All projects were processed."
	}
	var parts []string
	if len(result.FailedProjects) > 0 {
		parts = append(parts, "Positions could not be updated for: "+strings.Join(result.FailedProjects, ", "))
	}
	if len(result.AccessDeniedDomains) > 0 {
		parts = append(parts, "Provider access is denied for: "+strings.Join(result.AccessDeniedDomains, ", "))
	}
	return "The position check completed with warnings. " + strings.Join(parts, ". ")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
