// Package metrics exposes Prometheus collectors for the scraper.
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
	instanceAttemptsTotal      *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	challengeWaitsTotal        *prometheus.CounterVec
	mediaValidationsTotal      *prometheus.CounterVec
	posterSynthesisTotal       *prometheus.CounterVec
	postsStoredTotal           *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		instanceAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_instance_attempts_total",
				Help: "Instance attempts, labeled by mirror host and outcome.",
			},
			[]string{"instance", "outcome"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetches_total",
				Help: "Fetch runs, labeled by target kind and result.",
			},
			[]string{"kind", "result"},
		)

		challengeWaitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_challenge_waits_total",
				Help: "Challenge-page waits performed, labeled by mirror host.",
			},
			[]string{"instance"},
		)

		mediaValidationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_media_validations_total",
				Help: "Image validations, labeled by result.",
			},
			[]string{"result"},
		)

		posterSynthesisTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_poster_synthesis_total",
				Help: "Poster synthesis runs, labeled by result.",
			},
			[]string{"result"},
		)

		postsStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_posts_stored_total",
				Help: "Post upserts, labeled by result.",
			},
			[]string{"result"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_cycle_duration_seconds",
				Help:    "Duration of monitor cycles.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// ObserveAttempt records the outcome of one instance attempt.
func ObserveAttempt(instance, outcome string) {
	Init()
	instanceAttemptsTotal.WithLabelValues(SanitizeSite(instance), outcome).Inc()
}

// ObserveFetch records the terminal state of a fetch run.
func ObserveFetch(kind, result string) {
	Init()
	fetchesTotal.WithLabelValues(kind, result).Inc()
}

// ObserveChallengeWait records one challenge-page sleep.
func ObserveChallengeWait(instance string) {
	Init()
	challengeWaitsTotal.WithLabelValues(SanitizeSite(instance)).Inc()
}

// ObserveMediaValidation records an image validation verdict.
func ObserveMediaValidation(result string) {
	Init()
	mediaValidationsTotal.WithLabelValues(result).Inc()
}

// ObservePosterSynthesis records a poster synthesis verdict.
func ObservePosterSynthesis(result string) {
	Init()
	posterSynthesisTotal.WithLabelValues(result).Inc()
}

// ObserveStored records a storage upsert.
func ObserveStored(result string) {
	Init()
	postsStoredTotal.WithLabelValues(result).Inc()
}

// ObserveCycle records how long a monitor cycle took.
func ObserveCycle(duration time.Duration) {
	Init()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
