// Package metrics exposes Prometheus collectors for the link capture service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitDeniedTotal       *prometheus.CounterVec
	ssrfRejectionsTotal        *prometheus.CounterVec
	publishTotal               *prometheus.CounterVec
	publishStepDuration        *prometheus.HistogramVec
	sideEffectFailuresTotal    *prometheus.CounterVec
	hostPacingDelaySeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcapture_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcapture_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcapture_fetch_total",
				Help: "Outbound fetches, labeled by kind (page, image, oembed) and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcapture_fetch_bytes_total",
				Help: "Bytes read by outbound fetches, labeled by kind.",
			},
			[]string{"kind"},
		)

		rateLimitDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcapture_ratelimit_denied_total",
				Help: "Requests denied by the rate limiter, labeled by quota class.",
			},
			[]string{"class"},
		)

		ssrfRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcapture_ssrf_rejections_total",
				Help: "URLs refused by the safety validator, labeled by rule.",
			},
			[]string{"rule"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcapture_publish_total",
				Help: "Commit pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		publishStepDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcapture_publish_step_duration_seconds",
				Help:    "Duration of each commit pipeline step.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"step"},
		)

		sideEffectFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcapture_side_effect_failures_total",
				Help: "Best-effort side effects (ledger, notify, archive) that failed.",
			},
			[]string{"effect"},
		)

		hostPacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcapture_host_pacing_delay_seconds",
				Help:    "Time spent waiting on the per-host outbound pacer.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname for use as a label.
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
	Init()
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetch records one outbound fetch.
func ObserveFetch(kind, outcome string, bytesRead int) {
	Init()
	fetchTotal.WithLabelValues(kind, outcome).Inc()
	if bytesRead > 0 {
		fetchBytesTotal.WithLabelValues(kind).Add(float64(bytesRead))
	}
}

// ObserveRateLimitDenied counts a denied request for a quota class.
func ObserveRateLimitDenied(class string) {
	Init()
	rateLimitDeniedTotal.WithLabelValues(class).Inc()
}

// ObserveSSRFRejection counts a URL refused by the given rule.
func ObserveSSRFRejection(rule string) {
	Init()
	ssrfRejectionsTotal.WithLabelValues(rule).Inc()
}

// ObservePublish counts a commit pipeline outcome.
func ObservePublish(outcome string) {
	Init()
	publishTotal.WithLabelValues(outcome).Inc()
}

// ObservePublishStep records how long a pipeline step took.
func ObservePublishStep(step string, duration time.Duration) {
	Init()
	publishStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// ObserveSideEffectFailure counts a failed best-effort side effect.
func ObserveSideEffectFailure(effect string) {
	Init()
	sideEffectFailuresTotal.WithLabelValues(effect).Inc()
}

// ObserveHostPacing records the wait imposed by the outbound pacer.
func ObserveHostPacing(host string, duration time.Duration) {
	Init()
	hostPacingDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// Middleware records request counts and latencies by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
