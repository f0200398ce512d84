// Package metrics exposes Prometheus collectors for the rank tracker.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal             *prometheus.CounterVec
	runDurationSeconds    prometheus.Histogram
	keywordsTotal         *prometheus.CounterVec
	providerRequestsTotal *prometheus.CounterVec
	rateLimitDelaySeconds prometheus.Histogram
	pollWaitSeconds       prometheus.Histogram
	accessDeniedTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranktracker_runs_total",
				Help: "Total reconciliation runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ranktracker_run_duration_seconds",
				Help:    "Wall-clock duration of a full reconciliation run.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
			},
		)

		keywordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranktracker_keywords_total",
				Help: "Total keyword reconciliations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		providerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranktracker_provider_requests_total",
				Help: "Total provider API requests, labeled by path and outcome.",
			},
			[]string{"path", "outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ranktracker_rate_limit_delay_seconds",
				Help:    "Histogram of provider rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		)

		pollWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ranktracker_poll_wait_seconds",
				Help:    "Time spent waiting for provider check jobs to finish.",
				Buckets: []float64{1, 10, 30, 60, 180, 600, 900},
			},
		)

		accessDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ranktracker_access_denied_total",
				Help: "Total groups skipped due to provider access denial.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a completed run with its terminal status.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveKeyword increments the keyword counter for the given outcome.
func ObserveKeyword(outcome string) {
	Init()
	keywordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProviderRequest counts one provider API request.
func ObserveProviderRequest(path, outcome string) {
	Init()
	providerRequestsTotal.WithLabelValues(path, outcome).Inc()
}

// ObserveRateLimitDelay records time spent blocked on the provider throttle.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObservePollWait records time spent in the poll-until-ready loop.
func ObservePollWait(d time.Duration) {
	Init()
	pollWaitSeconds.Observe(d.Seconds())
}

// IncAccessDenied counts a group skipped for provider access denial.
func IncAccessDenied() {
	Init()
	accessDeniedTotal.Inc()
}
