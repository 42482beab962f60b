package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/export"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/config"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/database"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/logging"
	"github.com/nerrad567/sensor-relay/internal/relay"
	"github.com/nerrad567/sensor-relay/internal/session"
	"github.com/nerrad567/sensor-relay/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type testOptions struct {
	withSessions  bool
	collaborators map[string]HealthChecker
	export        ExportStatter
}

// testServer creates a Server over a fresh relay. With withSessions the
// session log is backed by in-memory SQLite.
func testServer(t *testing.T, opts testOptions) *Server {
	t.Helper()

	log := logging.Discard()
	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"https://ui.example"},
			},
		},
		WS: config.WebSocketConfig{
			DevicePath:     "/device",
			AppPath:        "/app",
			MaxMessageSize: 8192,
			SendBuffer:     16,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:        log,
		Relay:         relay.New(relay.Options{Logger: log}),
		Verifier:      auth.NewVerifier(auth.VerifierConfig{Secret: testSecret}),
		Collaborators: opts.collaborators,
		Export:        opts.export,
		Version:       "test",
	}

	if opts.withSessions {
		db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
		if err != nil {
			t.Fatalf("database.Open() error = %v", err)
		}
		t.Cleanup(func() { db.Close() })
		if err := db.Migrate(context.Background(), migrations.Files); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		deps.Sessions = session.NewSQLiteRepository(db.DB)
		deps.DB = db
		deps.Migrations = migrations.Files
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

// mintToken signs a home token with the test secret.
func mintToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.MintHomeToken(auth.MintOptions{
		Secret:  testSecret,
		Subject: subject,
		HomeID:  "home-" + subject,
		TTL:     time.Hour,
	})
	if err != nil {
		t.Fatalf("MintHomeToken() error = %v", err)
	}
	return token
}

func serve(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.Discard()
	r := relay.New(relay.Options{})
	v := auth.NewVerifier(auth.VerifierConfig{Secret: testSecret})

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Relay: r, Verifier: v}},
		{"no relay", Deps{Logger: log, Verifier: v}},
		{"no verifier", Deps{Logger: log, Relay: r}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv := testServer(t, testOptions{})
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start() should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start() error = %v", err)
	}
}

// ─── Health and Metrics ────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, testOptions{})

	w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp healthResponse
	decodeBody(t, w, &resp)
	if !resp.OK {
		t.Error("health ok = false, want true")
	}
	if _, err := time.Parse(time.RFC3339Nano, resp.Time); err != nil {
		t.Errorf("health time %q not RFC3339: %v", resp.Time, err)
	}
	if resp.Version != "test" {
		t.Errorf("health version = %q, want test", resp.Version)
	}
}

type stubChecker struct{ err error }

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

func TestMetrics(t *testing.T) {
	srv := testServer(t, testOptions{
		withSessions: true,
		collaborators: map[string]HealthChecker{
			"mqtt":     stubChecker{},
			"influxdb": stubChecker{err: errors.New("unreachable")},
		},
		export: export.NewDispatcher(nil, 4, stubSink{}),
	})

	w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}

	var m SystemMetrics
	decodeBody(t, w, &m)
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0, want > 0")
	}
	if m.Database == nil || m.Database.OpenConnections < 1 {
		t.Fatalf("database = %+v, want an open connection", m.Database)
	}
	if m.Database.SchemaVersion != "20260301_120000" || m.Database.PendingMigrations != 0 {
		t.Errorf("schema = %q with %d pending, want 20260301_120000 with none (error %q)",
			m.Database.SchemaVersion, m.Database.PendingMigrations, m.Database.MigrationError)
	}
	if !m.Collaborators["mqtt"].Healthy {
		t.Error("mqtt collaborator should be healthy")
	}
	if c := m.Collaborators["influxdb"]; c.Healthy || c.Error != "unreachable" {
		t.Errorf("influxdb collaborator = %+v, want unhealthy with error", c)
	}
	if m.Export == nil || len(m.Export.Sinks) != 1 || m.Export.Sinks[0] != "stub" {
		t.Errorf("export = %+v, want one stub sink", m.Export)
	}
}

type stubSink struct{}

func (stubSink) Name() string                          { return "stub" }
func (stubSink) Telemetry(export.TelemetryEvent) error { return nil }
func (stubSink) Presence(export.PresenceEvent) error   { return nil }

// ─── Token-scoped endpoints ────────────────────────────────────────

func TestHomeAuth_Rejections(t *testing.T) {
	srv := testServer(t, testOptions{})

	expired, err := auth.MintHomeToken(auth.MintOptions{
		Secret: testSecret,
		TTL:    time.Minute,
		Now:    time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("MintHomeToken() error = %v", err)
	}
	foreign, err := auth.MintHomeToken(auth.MintOptions{Secret: "another-secret-of-enough-length", TTL: time.Hour})
	if err != nil {
		t.Fatalf("MintHomeToken() error = %v", err)
	}

	tests := []struct {
		name   string
		target string
		header string
	}{
		{"no token", "/api/whoami", ""},
		{"malformed", "/api/whoami?token=abc", ""},
		{"expired", "/api/whoami", "Bearer " + expired},
		{"wrong secret", "/api/devices/online?token=" + foreign, ""},
		{"not bearer", "/api/whoami", "Basic " + mintToken(t, "u")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(t, srv, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			var body map[string]string
			decodeBody(t, w, &body)
			if body["error"] != "invalid_home_token" {
				t.Errorf("body = %v, want error invalid_home_token", body)
			}
		})
	}
}

func TestWhoAmI(t *testing.T) {
	srv := testServer(t, testOptions{})
	token := mintToken(t, "alice")

	for _, mode := range []string{"bearer", "query"} {
		t.Run(mode, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			if mode == "bearer" {
				req.Header.Set("Authorization", "Bearer "+token)
			} else {
				req = httptest.NewRequest(http.MethodGet, "/api/whoami?token="+token, nil)
			}

			w := serve(t, srv, req)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp whoAmIResponse
			decodeBody(t, w, &resp)
			if resp.Sub != "alice" || resp.HomeID != "home-alice" {
				t.Errorf("whoami = %+v, want alice/home-alice", resp)
			}
			if resp.Exp == nil || *resp.Exp <= time.Now().Unix() {
				t.Errorf("exp = %v, want a future timestamp", resp.Exp)
			}
		})
	}
}

func TestWhoAmI_NoExpiry(t *testing.T) {
	srv := testServer(t, testOptions{})
	token, err := auth.MintHomeToken(auth.MintOptions{Secret: testSecret, Subject: "forever"})
	if err != nil {
		t.Fatalf("MintHomeToken() error = %v", err)
	}

	w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/whoami?token="+token, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"exp":null`) {
		t.Errorf("body = %s, want exp null", w.Body.String())
	}
}

func TestOnlineDevices_Empty(t *testing.T) {
	srv := testServer(t, testOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/devices/online", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "bob"))

	w := serve(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"devices":[]}` {
		t.Errorf("body = %s, want empty device list", got)
	}
}

func TestSessions_Disabled(t *testing.T) {
	srv := testServer(t, testOptions{})
	w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/sessions?token="+mintToken(t, "u"), nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var e Error
	decodeBody(t, w, &e)
	if e.Code != ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeUnavailable)
	}
}

func TestSessions_QueryValidation(t *testing.T) {
	srv := testServer(t, testOptions{withSessions: true})
	token := mintToken(t, "u")

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"defaults", "", http.StatusOK},
		{"mac and role", "&mac=AA:BB:CC:DD:EE:FF&role=device", http.StatusOK},
		{"bad role", "&role=admin", http.StatusBadRequest},
		{"bad limit", "&limit=ten", http.StatusBadRequest},
		{"zero limit", "&limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/sessions?token="+token+tt.query, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// ─── Routing and middleware ────────────────────────────────────────

func TestUnknownAPIRoute(t *testing.T) {
	srv := testServer(t, testOptions{})
	w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var e Error
	decodeBody(t, w, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestUIFallback(t *testing.T) {
	srv := testServer(t, testOptions{})
	w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/some/client/route", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Content-Type = %q, want text/html", w.Header().Get("Content-Type"))
	}
}

func TestCORS(t *testing.T) {
	srv := testServer(t, testOptions{})

	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{"allowed origin echoed", "https://ui.example", "https://ui.example"},
		{"other origin ignored", "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/whoami", nil)
			req.Header.Set("Origin", tt.origin)
			w := serve(t, srv, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t, testOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	if got := serve(t, srv, req).Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want echoed abc123", got)
	}

	w := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if len(w.Header().Get("X-Request-ID")) != 2*requestIDBytes {
		t.Errorf("generated X-Request-ID = %q, want %d hex chars", w.Header().Get("X-Request-ID"), 2*requestIDBytes)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, testOptions{})
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRequestToken(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"bearer wins", "/x?token=query", "Bearer header", "header"},
		{"query fallback", "/x?token=query", "", "query"},
		{"empty bearer falls back", "/x?token=query", "Bearer ", "query"},
		{"none", "/x", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := requestToken(req); got != tt.want {
				t.Errorf("requestToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
