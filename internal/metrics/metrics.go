// Package metrics exposes Prometheus collectors for the pipeline and API.
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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	discoveredItemsTotal       *prometheus.CounterVec
	detailItemsTotal           *prometheus.CounterVec
	classifiedItemsTotal       *prometheus.CounterVec
	jobRunsTotal               *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	digestsTotal               *prometheus.CounterVec
	headlessPromotionsTotal    prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_fetches_total",
				Help: "Total number of remote fetches, labeled by stage, site and outcome.",
			},
			[]string{"stage", "site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "radar_fetch_duration_seconds",
				Help:    "Histogram of remote fetch latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		)

		discoveredItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_discovered_items_total",
				Help: "Links seen on source pages, labeled by whether they were new.",
			},
			[]string{"result"},
		)

		detailItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_detail_items_total",
				Help: "Detail pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		classifiedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_classified_items_total",
				Help: "Subsidy items assigned a category, labeled by category.",
			},
			[]string{"category"},
		)

		jobRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_job_runs_total",
				Help: "Batch job executions, labeled by job and status.",
			},
			[]string{"job", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "radar_job_duration_seconds",
				Help:    "Histogram of batch job wall time, labeled by job.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"job"},
		)

		digestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_digests_total",
				Help: "Daily digest outcomes, labeled by status.",
			},
			[]string{"status"},
		)

		headlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "radar_headless_promotions_total",
				Help: "Fetches retried through the headless browser.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "radar_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveFetch records a remote fetch for the given pipeline stage.
func ObserveFetch(stage, site, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(stage, sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveDiscovered counts a link seen on a source page.
func ObserveDiscovered(inserted bool) {
	Init()
	result := "existing"
	if inserted {
		result = "new"
	}
	discoveredItemsTotal.WithLabelValues(result).Inc()
}

// ObserveDetail counts a processed detail page.
func ObserveDetail(outcome string) {
	Init()
	detailItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveClassified counts a category assignment.
func ObserveClassified(category string) {
	Init()
	classifiedItemsTotal.WithLabelValues(category).Inc()
}

// ObserveJob records a finished batch job.
func ObserveJob(job, status string, duration time.Duration) {
	Init()
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveDigest counts a digest outcome.
func ObserveDigest(status string) {
	Init()
	digestsTotal.WithLabelValues(status).Inc()
}

// ObserveHeadlessPromotion counts a fetch escalated to the headless browser.
func ObserveHeadlessPromotion() {
	Init()
	headlessPromotionsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
