// Package metrics exposes Prometheus collectors for the syndicate service.
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
	uploadsTotal               *prometheus.CounterVec
	uploadBytesTotal           prometheus.Counter
	resizesTotal               *prometheus.CounterVec
	previewFetchesTotal        *prometheus.CounterVec
	headlessRendersTotal       *prometheus.CounterVec
	publishesTotal             *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

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

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_uploads_total",
				Help: "Total number of file uploads, labeled by status.",
			},
			[]string{"status"},
		)

		uploadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syndicate_upload_bytes_total",
				Help: "Total number of bytes accepted through file uploads.",
			},
		)

		resizesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_image_resizes_total",
				Help: "Total number of image resize operations, labeled by status.",
			},
			[]string{"status"},
		)

		previewFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_preview_fetches_total",
				Help: "Total number of link preview fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		headlessRendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_headless_renders_total",
				Help: "Total number of headless browser renders, labeled by status.",
			},
			[]string{"status"},
		)

		publishesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_publishes_total",
				Help: "Total number of completion messages published, labeled by status.",
			},
			[]string{"status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syndicate_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by platform.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"platform"},
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
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpload increments the upload counter for the given status and adds
// the accepted byte count.
func ObserveUpload(status string, bytes int64) {
	uploadsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// ObserveResize increments the resize counter for the given status.
func ObserveResize(status string) {
	resizesTotal.WithLabelValues(status).Inc()
}

// ObservePreviewFetch increments the preview fetch counter.
func ObservePreviewFetch(site, status string) {
	previewFetchesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveHeadlessRender increments the headless render counter.
func ObserveHeadlessRender(status string) {
	headlessRendersTotal.WithLabelValues(status).Inc()
}

// ObservePublish increments the publish counter for the given status.
func ObservePublish(status string) {
	publishesTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(platform string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}
