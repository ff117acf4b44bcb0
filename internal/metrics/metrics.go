// Package metrics exposes Prometheus collectors for the marketupdate processes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketupdate"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, labeled by method, route and code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	signupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "Signup attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	quoteFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_fetches_total",
			Help:      "Quote fetch attempts, labeled by index and status.",
		},
		[]string{"index", "status"},
	)

	digestEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digest_emails_total",
			Help:      "Digest emails attempted, labeled by status.",
		},
		[]string{"status"},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs, labeled by job and status.",
		},
		[]string{"job", "status"},
	)

	jobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"job"},
	)

	rateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for an outbound request token, labeled by host.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"host"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSignup counts a signup attempt by outcome (created, already_exists, invalid,
// captcha_failed, error).
func ObserveSignup(outcome string) {
	signupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveQuoteFetch counts a per-index fetch result (stored, missing, error).
func ObserveQuoteFetch(index, status string) {
	quoteFetchesTotal.WithLabelValues(index, status).Inc()
}

// ObserveDigestEmail counts one per-recipient send (sent, failed).
func ObserveDigestEmail(status string) {
	digestEmailsTotal.WithLabelValues(status).Inc()
}

// ObserveJob records a finished job run.
func ObserveJob(job string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveRateLimitWait records how long a call waited on the outbound limiter.
func ObserveRateLimitWait(host string, waited time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(host).Observe(waited.Seconds())
}
