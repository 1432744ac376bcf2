package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"talibon_http_requests_total",
		"talibon_http_request_duration_seconds",
		"talibon_http_request_size_bytes",
		"talibon_http_response_size_bytes",
		"talibon_transitions_total",
		"talibon_transition_duration_seconds",
		"talibon_intakes_total",
		"talibon_events_published_total",
		"talibon_identity_cache_hits_total",
		"talibon_identity_cache_misses_total",
		"talibon_profile_reload_total",
		"talibon_profiles_loaded",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordTransition("application", "verify_and_forward", "ok", time.Millisecond)
	m.RecordIntake("document", "ok")
	m.RecordEventPublished("ok")
	m.RecordIdentityCacheHit()
	m.RecordIdentityCacheMiss()
	m.RecordProfileReload("success")
	m.SetProfilesLoaded(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/records/{kind}/{id}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/api/records/{kind}/{id}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/api/records/{kind}/{id}/actions/{action}", 409, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/records/{kind}/{id}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/records/{kind}/{id}/actions/{action}", "409"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordTransition(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordTransition("voucher", "sign", "ok", 3*time.Millisecond)
	m.RecordTransition("voucher", "sign", "ok", 4*time.Millisecond)
	m.RecordTransition("voucher", "sign", "wrong_department", time.Millisecond)

	ok := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("voucher", "sign", "ok"))
	if ok != 2 {
		t.Errorf("ok transitions = %v, want 2", ok)
	}
	denied := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("voucher", "sign", "wrong_department"))
	if denied != 1 {
		t.Errorf("denied transitions = %v, want 1", denied)
	}
	if count := testutil.CollectAndCount(m.TransitionDuration); count != 1 {
		t.Errorf("duration series = %d, want 1 (labelled by kind only)", count)
	}
}

func TestRecordIntake(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordIntake("application", "ok")
	m.RecordIntake("application", "invalid_payload")

	if v := testutil.ToFloat64(m.IntakesTotal.WithLabelValues("application", "ok")); v != 1 {
		t.Errorf("ok intakes = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.IntakesTotal.WithLabelValues("application", "invalid_payload")); v != 1 {
		t.Errorf("rejected intakes = %v, want 1", v)
	}
}

func TestRecordEventPublished(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordEventPublished("ok")
	m.RecordEventPublished("error")
	m.RecordEventPublished("ok")

	if v := testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("ok")); v != 2 {
		t.Errorf("published ok = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("error")); v != 1 {
		t.Errorf("published error = %v, want 1", v)
	}
}

func TestRecordIdentityCache(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordIdentityCacheHit()
	m.RecordIdentityCacheHit()
	m.RecordIdentityCacheMiss()

	hits := testutil.ToFloat64(m.IdentityCacheHitsTotal)
	if hits != 2 {
		t.Errorf("cache hits = %v, want 2", hits)
	}
	misses := testutil.ToFloat64(m.IdentityCacheMissesTotal)
	if misses != 1 {
		t.Errorf("cache misses = %v, want 1", misses)
	}
}

func TestRecordProfileReload(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordProfileReload("success")
	m.RecordProfileReload("failure")
	m.SetProfilesLoaded(12)

	if v := testutil.ToFloat64(m.ProfileReloadTotal.WithLabelValues("failure")); v != 1 {
		t.Errorf("failed reloads = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.ProfilesLoaded); v != 12 {
		t.Errorf("profiles loaded = %v, want 12", v)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/records/{kind}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/records/voucher/v-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/records/{kind}/{id}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/records/{kind}/{id}/actions/{action}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/records/voucher/v-1/actions/sign", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/records/{kind}/{id}/actions/{action}", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(transitionDurationBuckets) != 9 {
		t.Errorf("transitionDurationBuckets length = %d, want 9", len(transitionDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
	for i := 1; i < len(transitionDurationBuckets); i++ {
		if transitionDurationBuckets[i] <= transitionDurationBuckets[i-1] {
			t.Errorf("transitionDurationBuckets not sorted at index %d", i)
		}
	}
}
