// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for canonicalized records.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeDropped  = "dropped"
)

var (
	harvestRowsTotal       *prometheus.CounterVec
	harvestRecordsTotal    *prometheus.CounterVec
	writerRecordsTotal     *prometheus.CounterVec
	writerFailuresTotal    *prometheus.CounterVec
	harvestRunsTotal       *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	rateLimitDelaySeconds  *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_rows_total",
				Help: "Total number of table rows harvested, labeled by site.",
			},
			[]string{"site"},
		)

		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_records_total",
				Help: "Canonicalized records, labeled by gate outcome.",
			},
			[]string{"outcome"},
		)

		writerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "writer_records_total",
				Help: "Records persisted by the streaming writers, labeled by stream.",
			},
			[]string{"stream"},
		)

		writerFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "writer_failures_total",
				Help: "Streaming writer consumers that terminated with an error.",
			},
			[]string{"stream"},
		)

		harvestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_runs_total",
				Help: "Harvesting runs, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_duration_seconds",
				Help:    "Page fetch latency, labeled by fetcher.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"fetcher"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_delay_seconds",
				Help:    "Time fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRows counts harvested rows for the page's site.
func ObserveRows(pageURL string, rows int) {
	Init()
	if rows > 0 {
		harvestRowsTotal.WithLabelValues(SanitizeSite(pageURL)).Add(float64(rows))
	}
}

// ObserveRecord counts one canonicalized record by gate outcome.
func ObserveRecord(outcome string) {
	Init()
	harvestRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWriterRecord counts one persisted record.
func ObserveWriterRecord(stream string) {
	Init()
	writerRecordsTotal.WithLabelValues(stream).Inc()
}

// ObserveWriterFailure counts a failed writer consumer.
func ObserveWriterFailure(stream string) {
	Init()
	writerFailuresTotal.WithLabelValues(stream).Inc()
}

// ObserveRun counts a finished run.
func ObserveRun(kind, status string) {
	Init()
	harvestRunsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveFetch records how long a fetch took.
func ObserveFetch(fetcher string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records a wait imposed by the rate limiter.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(host)).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(duration.Seconds())
}
