// Package metrics exposes Prometheus collectors for the harvester service.
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

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	sourceFetchesTotal         *prometheus.CounterVec
	sourceBytesTotal           *prometheus.CounterVec
	inFlight                   *prometheus.GaugeVec
	pacingDelaySeconds         prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		sourceFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_source_fetches_total",
				Help: "Source list fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		sourceBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_source_bytes_total",
				Help: "Bytes downloaded from source lists, labeled by site.",
			},
			[]string{"site"},
		)

		inFlight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_inflight",
				Help: "Operations currently holding a concurrency permit, labeled by stage.",
			},
			[]string{"stage"},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_pacing_delay_seconds",
				Help:    "Histogram of waits between harvest batches.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSourceFetch records one source list download.
func ObserveSourceFetch(source, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(source)
	sourceFetchesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		sourceBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// SetInFlight publishes the number of permits held by a stage.
func SetInFlight(stage string, n int) {
	Init()
	inFlight.WithLabelValues(stage).Set(float64(n))
}

// ObservePacingDelay records the duration of a pause between batches.
func ObservePacingDelay(d time.Duration) {
	Init()
	pacingDelaySeconds.Observe(d.Seconds())
}
