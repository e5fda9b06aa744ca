// Package metrics exposes Prometheus collectors for the operator API and the
// probe pipeline. Scan and loader progress collectors live in progress/sinks.
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
	rateLimitDelaySeconds      *prometheus.HistogramVec
	notificationsTotal         *prometheus.CounterVec
	reportExportsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posterwatch_http_requests_total",
				Help: "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "posterwatch_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "posterwatch_probe_rate_limit_delay_seconds",
				Help:    "Time probes spent waiting on the per-site rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"site"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posterwatch_scan_notifications_total",
				Help: "Scan-completed notifications, labeled by result.",
			},
			[]string{"result"},
		)

		reportExportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "posterwatch_report_exports_total",
				Help: "Scan report exports to blob storage, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
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

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveNotification counts a scan-completed publish attempt.
func ObserveNotification(err error) {
	notificationsTotal.WithLabelValues(result(err)).Inc()
}

// ObserveReportExport counts a report export attempt.
func ObserveReportExport(err error) {
	reportExportsTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
