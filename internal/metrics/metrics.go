// Package metrics exposes Prometheus collectors for the market data tools.
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
	linksDiscoveredTotal       prometheus.Counter
	itemsTotal                 *prometheus.CounterVec
	bytesDownloadedTotal       *prometheus.CounterVec
	membersExtractedTotal      prometheus.Counter
	runDurationSeconds         *prometheus.HistogramVec
	tradesLoadedTotal          prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		linksDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "b3_links_discovered_total",
				Help: "Total number of archive links that passed discovery filtering.",
			},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "b3_items_total",
				Help: "Total number of fetched links, labeled by site and outcome status.",
			},
			[]string{"site", "status"},
		)

		bytesDownloadedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "b3_bytes_downloaded_total",
				Help: "Total number of archive bytes written, labeled by site.",
			},
			[]string{"site"},
		)

		membersExtractedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "b3_members_extracted_total",
				Help: "Total number of archive members written to the output directory.",
			},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "b3_run_duration_seconds",
				Help:    "Histogram of retrieval run durations, labeled by result.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"result"},
		)

		tradesLoadedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "b3_trades_loaded_total",
				Help: "Total number of trade rows inserted into the database.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "b3_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by site.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

// ObserveDiscovered adds n to the discovered links counter.
func ObserveDiscovered(n int) {
	Init()
	linksDiscoveredTotal.Add(float64(n))
}

// ObserveItem records the outcome of one fetched link.
func ObserveItem(link string, status string, bytesWritten int64) {
	Init()
	site := SanitizeSite(link)
	itemsTotal.WithLabelValues(site, status).Inc()
	if bytesWritten > 0 {
		bytesDownloadedTotal.WithLabelValues(site).Add(float64(bytesWritten))
	}
}

// ObserveExtracted adds n to the extracted members counter.
func ObserveExtracted(n int) {
	Init()
	membersExtractedTotal.Add(float64(n))
}

// ObserveRun records the duration of a retrieval run.
func ObserveRun(result string, duration time.Duration) {
	Init()
	runDurationSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveTradesLoaded adds n to the loaded trades counter.
func ObserveTradesLoaded(n int) {
	Init()
	tradesLoadedTotal.Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
