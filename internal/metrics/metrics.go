// Package metrics exposes Prometheus collectors for the discovery pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	candidatesTotal         *prometheus.CounterVec
	candidatesRejectedTotal *prometheus.CounterVec
	extractorFailuresTotal  *prometheus.CounterVec
	fetchFailuresTotal      *prometheus.CounterVec
	fetchRetriesTotal       *prometheus.CounterVec
	batchesAbandonedTotal   *prometheus.CounterVec
	fuzzyFlaggedTotal       prometheus.Counter
	backoffDelaySeconds     *prometheus.HistogramVec
	rateLimitDelaySeconds   *prometheus.HistogramVec
	activeWorkers           prometheus.Gauge
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_candidates_total",
				Help: "Candidates produced, labeled by extractor kind.",
			},
			[]string{"extractor"},
		)

		candidatesRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_candidates_rejected_total",
				Help: "Candidates rejected before merge, labeled by reason.",
			},
			[]string{"reason"},
		)

		extractorFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_extractor_failures_total",
				Help: "Soft extractor failures recovered locally, labeled by kind.",
			},
			[]string{"extractor"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetch_failures_total",
				Help: "Fetch-stage failures, labeled by source.",
			},
			[]string{"source"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetch_retries_total",
				Help: "Fetch retries after backoff, labeled by source.",
			},
			[]string{"source"},
		)

		batchesAbandonedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_batches_abandoned_total",
				Help: "Source batches abandoned after exhausting fetch attempts.",
			},
			[]string{"source"},
		)

		fuzzyFlaggedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_fuzzy_duplicates_flagged_total",
				Help: "Contacts created with a possible-duplicate flag for review.",
			},
		)

		backoffDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_backoff_delay_seconds",
				Help:    "Histogram of fetch backoff delays.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_rate_limit_delay_seconds",
				Help:    "Histogram of per-source rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of workers currently processing a listing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Ops API requests, labeled by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Ops API request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCandidate increments the candidates-produced counter.
func ObserveCandidate(extractor string) {
	candidatesTotal.WithLabelValues(extractor).Inc()
}

// ObserveRejection increments the rejection counter for the given reason.
func ObserveRejection(reason string) {
	candidatesRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveExtractorFailure counts a soft extractor failure.
func ObserveExtractorFailure(extractor string) {
	extractorFailuresTotal.WithLabelValues(extractor).Inc()
}

// ObserveFetchFailure counts a fetch failure for a source.
func ObserveFetchFailure(source string) {
	fetchFailuresTotal.WithLabelValues(source).Inc()
}

// ObserveFetchRetry counts a retry after backoff for a source.
func ObserveFetchRetry(source string) {
	fetchRetriesTotal.WithLabelValues(source).Inc()
}

// ObserveBatchAbandoned counts an abandoned batch for a source.
func ObserveBatchAbandoned(source string) {
	batchesAbandonedTotal.WithLabelValues(source).Inc()
}

// ObserveFuzzyFlagged counts a contact flagged as a possible duplicate.
func ObserveFuzzyFlagged() {
	fuzzyFlaggedTotal.Inc()
}

// ObserveBackoffDelay records the duration of a backoff sleep.
func ObserveBackoffDelay(source string, d time.Duration) {
	backoffDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest records one ops API request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
