// Package metrics exposes Prometheus collectors for the NetWatch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetcherRestartsTotal       *prometheus.CounterVec
	changesTotal               prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	batchesTotal               *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	schedulerDueItems          prometheus.Histogram
	schedulerBacklog           prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netwatch_fetches_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netwatch_fetch_bytes_total",
				Help: "Total number of content bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetcherRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netwatch_fetcher_restarts_total",
				Help: "Times a fetcher recreated its underlying client after a timeout.",
			},
			[]string{"mode"},
		)

		changesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "netwatch_changes_total",
				Help: "Total number of detected content changes.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netwatch_notifications_total",
				Help: "Total number of notification attempts, labeled by transport and status.",
			},
			[]string{"transport", "status"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netwatch_batches_total",
				Help: "Total number of processed batches, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "netwatch_active_workers",
				Help: "Number of workers currently processing a batch.",
			},
		)

		schedulerDueItems = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "netwatch_scheduler_due_items",
				Help:    "Number of watch items found due per scheduler evaluation.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		)

		schedulerBacklog = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "netwatch_scheduler_backlog",
				Help: "Due batches waiting to be handed to the worker pool.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netwatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
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

// ObserveFetch records one fetch outcome.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetcherRestart counts a fetcher client restart.
func ObserveFetcherRestart(mode string) {
	Init()
	fetcherRestartsTotal.WithLabelValues(mode).Inc()
}

// ObserveChange counts a detected content change.
func ObserveChange() {
	Init()
	changesTotal.Inc()
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(transport, status string) {
	Init()
	notificationsTotal.WithLabelValues(transport, status).Inc()
}

// ObserveBatch counts a processed batch.
func ObserveBatch(source, status string) {
	Init()
	batchesTotal.WithLabelValues(source, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveDueItems records how many items one scheduler evaluation found due.
func ObserveDueItems(n int) {
	Init()
	schedulerDueItems.Observe(float64(n))
}

// SetSchedulerBacklog records the number of due batches not yet handed to the pool.
func SetSchedulerBacklog(n int) {
	Init()
	schedulerBacklog.Set(float64(n))
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

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		routePattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, rec.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
