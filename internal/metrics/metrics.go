// Package metrics exposes Prometheus collectors for the ingestion daemon.
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
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       *prometheus.HistogramVec
	consecutiveFailures        *prometheus.GaugeVec
	pageRebuildsTotal          *prometheus.CounterVec
	browserRelaunchesTotal     *prometheus.CounterVec
	lastPrice                  *prometheus.GaugeVec
	publishTotal               *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	roundsTotal                *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_cycles_total",
				Help: "Total number of worker cycles, labeled by target and outcome.",
			},
			[]string{"target", "outcome"},
		)

		cycleDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricefeed_cycle_duration_seconds",
				Help:    "Histogram of cycle latencies, labeled by target.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40},
			},
			[]string{"target"},
		)

		consecutiveFailures = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricefeed_consecutive_failures",
				Help: "Consecutive failed cycles per target.",
			},
			[]string{"target"},
		)

		pageRebuildsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_page_rebuilds_total",
				Help: "Total number of page rebuilds, labeled by target and reason.",
			},
			[]string{"target", "reason"},
		)

		browserRelaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_browser_relaunches_total",
				Help: "Total number of browser process launches, labeled by reason.",
			},
			[]string{"reason"},
		)

		lastPrice = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricefeed_last_price",
				Help: "Last published price per target.",
			},
			[]string{"target"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_publish_total",
				Help: "Total store writes, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricefeed_rate_limit_delays_seconds",
				Help:    "Histogram of navigation rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		roundsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_rounds_total",
				Help: "Completed sequential rounds, labeled by whether any target succeeded.",
			},
			[]string{"outcome"},
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
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveCycle records one worker cycle.
func ObserveCycle(target, outcome string, duration time.Duration) {
	cyclesTotal.WithLabelValues(target, outcome).Inc()
	cycleDurationSeconds.WithLabelValues(target).Observe(duration.Seconds())
}

// SetConsecutiveFailures records the current failure streak of a target.
func SetConsecutiveFailures(target string, n int) {
	consecutiveFailures.WithLabelValues(target).Set(float64(n))
}

// ObservePageRebuild counts a page rebuild.
func ObservePageRebuild(target, reason string) {
	pageRebuildsTotal.WithLabelValues(target, reason).Inc()
}

// ObserveBrowserLaunch counts a browser process launch.
func ObserveBrowserLaunch(reason string) {
	browserRelaunchesTotal.WithLabelValues(reason).Inc()
}

// SetLastPrice records the last published price.
func SetLastPrice(target string, price float64) {
	lastPrice.WithLabelValues(target).Set(price)
}

// ObservePublish counts a store write.
func ObservePublish(backend, outcome string) {
	publishTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRound counts a completed sequential round.
func ObserveRound(succeeded int) {
	outcome := "ok"
	if succeeded == 0 {
		outcome = "failed"
	}
	roundsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
