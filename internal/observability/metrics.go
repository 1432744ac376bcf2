package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets       = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	transitionDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets           = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the workflow service.
// It satisfies the recorder interfaces of the workflow, events and identity
// packages.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	IntakesTotal       *prometheus.CounterVec

	// Event metrics
	EventsPublishedTotal *prometheus.CounterVec

	// Identity metrics
	IdentityCacheHitsTotal   prometheus.Counter
	IdentityCacheMissesTotal prometheus.Counter
	ProfileReloadTotal       *prometheus.CounterVec
	ProfilesLoaded           prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talibon_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talibon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talibon_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talibon_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflow
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talibon_transitions_total",
			Help: "Total number of requested stage transitions by outcome.",
		}, []string{"kind", "action", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talibon_transition_duration_seconds",
			Help:    "Stage transition duration in seconds.",
			Buckets: transitionDurationBuckets,
		}, []string{"kind"}),
		IntakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talibon_intakes_total",
			Help: "Total number of record intakes by outcome.",
		}, []string{"kind", "outcome"}),

		// Events
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talibon_events_published_total",
			Help: "Total number of transition events published by outcome.",
		}, []string{"outcome"}),

		// Identity
		IdentityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talibon_identity_cache_hits_total",
			Help: "Total officer profile cache hits.",
		}),
		IdentityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talibon_identity_cache_misses_total",
			Help: "Total officer profile cache misses.",
		}),
		ProfileReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talibon_profile_reload_total",
			Help: "Total officer directory reloads.",
		}, []string{"status"}),
		ProfilesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "talibon_profiles_loaded",
			Help: "Number of officer profiles in the directory.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflow
		m.TransitionsTotal,
		m.TransitionDuration,
		m.IntakesTotal,
		// Events
		m.EventsPublishedTotal,
		// Identity
		m.IdentityCacheHitsTotal,
		m.IdentityCacheMissesTotal,
		m.ProfileReloadTotal,
		m.ProfilesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordTransition records one requested transition. outcome is "ok" or the
// lowercased error code.
func (m *Metrics) RecordTransition(kind, action, outcome string, duration time.Duration) {
	m.TransitionsTotal.WithLabelValues(kind, action, outcome).Inc()
	m.TransitionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordIntake records one record intake.
func (m *Metrics) RecordIntake(kind, outcome string) {
	m.IntakesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordEventPublished records one transition event publish attempt.
func (m *Metrics) RecordEventPublished(outcome string) {
	m.EventsPublishedTotal.WithLabelValues(outcome).Inc()
}

// RecordIdentityCacheHit records an officer profile cache hit.
func (m *Metrics) RecordIdentityCacheHit() {
	m.IdentityCacheHitsTotal.Inc()
}

// RecordIdentityCacheMiss records an officer profile cache miss.
func (m *Metrics) RecordIdentityCacheMiss() {
	m.IdentityCacheMissesTotal.Inc()
}

// RecordProfileReload records an officer directory reload.
func (m *Metrics) RecordProfileReload(status string) {
	m.ProfileReloadTotal.WithLabelValues(status).Inc()
}

// SetProfilesLoaded sets the number of loaded officer profiles.
func (m *Metrics) SetProfilesLoaded(count float64) {
	m.ProfilesLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
