// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JakeFAU/ingest-crawler/internal/crawler"
)

var _ crawler.Observer = (*Recorder)(nil)

// Recorder implements crawler.Observer on top of Prometheus collectors.
// Collectors are registered on the Registerer handed to NewRecorder so tests
// and multiple runs can use isolated registries.
type Recorder struct {
	pages         *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	skips         *prometheus.CounterVec
	failures      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	robots        *prometheus.CounterVec
	politeness    *prometheus.HistogramVec
	handler       *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// NewRecorder registers the crawl collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		pages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of responses received, labeled by site and status class.",
			},
			[]string{"site", "status"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		),
		skips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_skips_total",
				Help: "Total number of jobs skipped, labeled by site and reason.",
			},
			[]string{"site", "reason"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_errors_total",
				Help: "Total number of jobs that ended in an error, labeled by site.",
			},
			[]string{"site"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of fetch retries, labeled by site.",
			},
			[]string{"site"},
		),
		robots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fetches_total",
				Help: "Total number of robots.txt resolutions, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		),
		politeness: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_politeness_wait_seconds",
				Help:    "Histogram of per-origin politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		handler: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_handler_duration_seconds",
				Help:    "Histogram of page handler durations, labeled by result.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"result"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpDurations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// SanitizeSite extracts a lowercase hostname from an origin or URL.
// It returns "unknown" if the input has no usable host.
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

// StatusClass buckets an HTTP status code as "2xx", "3xx" and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// PageFetched counts a response and its body size.
func (r *Recorder) PageFetched(origin string, status int, bytes int) {
	site := SanitizeSite(origin)
	r.pages.WithLabelValues(site, StatusClass(status)).Inc()
	if bytes > 0 {
		r.bytes.WithLabelValues(site).Add(float64(bytes))
	}
}

// PageSkipped counts a job skipped for reason.
func (r *Recorder) PageSkipped(origin string, reason string) {
	r.skips.WithLabelValues(SanitizeSite(origin), reason).Inc()
}

// JobFailed counts a job recorded as an error.
func (r *Recorder) JobFailed(origin string) {
	r.failures.WithLabelValues(SanitizeSite(origin)).Inc()
}

// RetryScheduled counts a retry.
func (r *Recorder) RetryScheduled(origin string, _ time.Duration) {
	r.retries.WithLabelValues(SanitizeSite(origin)).Inc()
}

// RobotsResolved counts a robots.txt resolution.
func (r *Recorder) RobotsResolved(origin string, outcome string) {
	r.robots.WithLabelValues(SanitizeSite(origin), outcome).Inc()
}

// PolitenessWaited records a politeness wait.
func (r *Recorder) PolitenessWaited(origin string, wait time.Duration) {
	r.politeness.WithLabelValues(SanitizeSite(origin)).Observe(wait.Seconds())
}

// HandlerFinished records how long the page handler ran.
func (r *Recorder) HandlerFinished(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.handler.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveHTTPRequest records a request served by the metrics router.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	r.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpDurations.WithLabelValues(method, route).Observe(duration.Seconds())
}
