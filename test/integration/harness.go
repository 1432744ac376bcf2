// Package integration provides a reusable test harness for end-to-end
// integration testing of the workflow service. It starts a full HTTP server
// backed by an on-disk SQLite store, a seeded record set, the officer
// directory, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rynzz22/digital.talibon/internal/config"
	"github.com/rynzz22/digital.talibon/internal/facade"
	"github.com/rynzz22/digital.talibon/internal/identity"
	"github.com/rynzz22/digital.talibon/internal/observability"
	"github.com/rynzz22/digital.talibon/internal/transport"
	"github.com/rynzz22/digital.talibon/internal/workflow"
	"github.com/rynzz22/digital.talibon/model"
)

// TestHarness encapsulates a fully wired workflow service for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Repository       *workflow.SQLiteRepository
	Engine           *workflow.Engine
	IdempotencyStore *workflow.MemoryIdempotencyStore
	Directory        *identity.Directory
	Events           *RecordingPublisher

	dbPath string
	cfg    *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	seedFile           string
	profilesFile       string
	dbPath             string
	idempotencyEnabled bool
	handlerTimeout     time.Duration
}

// WithSeedFile sets the seed file loaded into the store. An empty path
// disables seeding.
func WithSeedFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.seedFile = path
	}
}

// WithProfilesFile sets the officer directory file.
func WithProfilesFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.profilesFile = path
	}
}

// WithDatabase reuses an existing SQLite file instead of a fresh one.
func WithDatabase(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.dbPath = path
	}
}

// WithIdempotency enables idempotency checking with an in-memory store.
func WithIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotencyEnabled = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full service instance. The server and
// database are automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	testdata := testdataDir()
	hc := &harnessConfig{
		seedFile:       filepath.Join(testdata, "seed.yaml"),
		profilesFile:   filepath.Join(testdata, "profiles.yaml"),
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.dbPath == "" {
		hc.dbPath = filepath.Join(t.TempDir(), "workflow.db")
	}

	ctx := context.Background()
	h := &TestHarness{t: t, dbPath: hc.dbPath}

	// Step 1: Open the record store.
	repo, err := workflow.OpenSQLite(ctx, hc.dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	h.Repository = repo

	// Step 2: Seed.
	if hc.seedFile != "" {
		recs, err := workflow.LoadSeedFile(hc.seedFile)
		if err != nil {
			t.Fatalf("load seed: %v", err)
		}
		if _, err := workflow.Seed(ctx, repo, recs); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	// Step 3: Officer directory.
	h.Directory, err = identity.NewDirectory(hc.profilesFile)
	if err != nil {
		t.Fatalf("load profiles: %v", err)
	}

	// Step 4: Engine.
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	h.Events = &RecordingPublisher{}
	engineOpts := []workflow.Option{
		workflow.WithPublisher(h.Events),
		workflow.WithRecorder(metrics),
	}
	readiness := observability.ReadinessChecks{Repository: repo, Profiles: h.Directory}
	if hc.idempotencyEnabled {
		h.IdempotencyStore = workflow.NewMemoryIdempotencyStore()
		engineOpts = append(engineOpts, workflow.WithIdempotency(h.IdempotencyStore, time.Hour))
		readiness.IdempotencyStore = h.IdempotencyStore
	}
	h.Engine = workflow.NewEngine(repo, engineOpts...)

	// Step 5: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 6: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS = config.CORSConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id", "X-Idempotency-Key"},
		MaxAge:         3600,
	}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Identity.Algorithms = []string{"RS256"}
	h.cfg.Observability.Metrics.Enabled = true

	// Step 7: Build router with full middleware chain.
	auth, err := transport.NewAuthenticator(h.cfg.Identity, nil)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	profiles := identity.NewCachedSource(h.Directory, time.Minute, metrics)

	router := transport.NewRouter(transport.Dependencies{
		Config:        h.cfg,
		Authenticate:  auth,
		ActorResolver: facade.NewActorResolver(profiles, nil),
		Facades:       facade.NewSet(h.Engine),
		Metrics:       metrics,
		Readiness:     readiness,
	})

	// Step 8: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// DatabasePath returns the SQLite file behind the harness.
func (h *TestHarness) DatabasePath() string {
	return h.dbPath
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// TokenFor issues a token for a subject listed in the officer directory.
func (h *TestHarness) TokenFor(subjectID string) string {
	return h.issuer.GenerateToken(TestClaims{SubjectID: subjectID})
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// POSTRaw performs an authenticated POST request with a literal body.
func (h *TestHarness) POSTRaw(path, body, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, rawBody(body), token, nil)
}

type rawBody string

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case rawBody:
		bodyReader = strings.NewReader(string(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and envelope code of an error response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return body.Error
}

// Act invokes action on a record and returns the updated record, failing the
// test on any non-200 response.
func (h *TestHarness) Act(t *testing.T, kind model.Kind, id string, action model.ActionName, payload map[string]any, token string) model.Record {
	t.Helper()
	body := map[string]any{}
	if payload != nil {
		body["payload"] = payload
	}
	resp := h.POST(actionPath(kind, id, action), body, token)
	var rec model.Record
	h.AssertJSON(t, resp, http.StatusOK, &rec)
	return rec
}

// Record fetches a record through the API.
func (h *TestHarness) Record(t *testing.T, kind model.Kind, id, token string) model.Record {
	t.Helper()
	var rec model.Record
	h.AssertJSON(t, h.GET(recordPath(kind, id), token), http.StatusOK, &rec)
	return rec
}

// --- Recording publisher ---

// RecordingPublisher captures transition events in publication order.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []workflow.TransitionEvent
}

// Publish implements workflow.Publisher.
func (p *RecordingPublisher) Publish(_ context.Context, ev workflow.TransitionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// For returns the events published for one record.
func (p *RecordingPublisher) For(kind model.Kind, id string) []workflow.TransitionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []workflow.TransitionEvent
	for _, ev := range p.events {
		if ev.Kind == kind && ev.RecordID == id {
			out = append(out, ev)
		}
	}
	return out
}

// --- Helpers ---

func recordPath(kind model.Kind, id string) string {
	return fmt.Sprintf("/api/records/%s/%s", kind, id)
}

func actionPath(kind model.Kind, id string, action model.ActionName) string {
	return fmt.Sprintf("/api/records/%s/%s/actions/%s", kind, id, action)
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
