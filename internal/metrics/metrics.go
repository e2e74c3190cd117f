// Package metrics exposes Prometheus collectors for the mirroring service.
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
	pagesFetchedTotal          *prometheus.CounterVec
	imagesMirroredTotal        *prometheus.CounterVec
	bytesMirroredTotal         *prometheus.CounterVec
	chaptersTotal              *prometheus.CounterVec
	ingestRunsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmirror_pages_fetched_total",
				Help: "Total source pages fetched, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		imagesMirroredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmirror_images_mirrored_total",
				Help: "Total images copied into owned storage, labeled by source.",
			},
			[]string{"source"},
		)

		bytesMirroredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmirror_bytes_mirrored_total",
				Help: "Total image bytes copied into owned storage, labeled by source.",
			},
			[]string{"source"},
		)

		chaptersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmirror_chapters_total",
				Help: "Total chapters flushed to the catalog, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmirror_ingest_runs_total",
				Help: "Total ingest runs, labeled by source and halt reason.",
			},
			[]string{"source", "halt"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageFetch counts one source-page fetch attempt.
func ObservePageFetch(source string, outcome string) {
	if pagesFetchedTotal == nil {
		return
	}
	pagesFetchedTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveMirroredImages records a completed chapter or thumbnail transfer.
func ObserveMirroredImages(source string, images int, bytes int64) {
	if imagesMirroredTotal == nil {
		return
	}
	imagesMirroredTotal.WithLabelValues(source).Add(float64(images))
	if bytes > 0 {
		bytesMirroredTotal.WithLabelValues(source).Add(float64(bytes))
	}
}

// ObserveChapters counts chapters flushed to the catalog by status.
func ObserveChapters(source string, status string, n int) {
	if chaptersTotal == nil {
		return
	}
	chaptersTotal.WithLabelValues(source, status).Add(float64(n))
}

// ObserveIngestRun counts one finished ingest run. halt is empty for runs
// that reached their target.
func ObserveIngestRun(source string, halt string) {
	if ingestRunsTotal == nil {
		return
	}
	if halt == "" {
		halt = "none"
	}
	ingestRunsTotal.WithLabelValues(source, halt).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
