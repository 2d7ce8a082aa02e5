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

	"github.com/nerrad567/fieldrelay/internal/audit"
	"github.com/nerrad567/fieldrelay/internal/device"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/config"
	"github.com/nerrad567/fieldrelay/internal/infrastructure/logging"
	"github.com/nerrad567/fieldrelay/internal/relay"
)

type fixedState relay.ConnectionState

func (s fixedState) State() relay.ConnectionState { return relay.ConnectionState(s) }

type mockAudit struct {
	commands    []audit.CommandEntry
	events      []audit.ConnectionEvent
	err         error
	gotFilter   audit.CommandFilter
	gotLimit    int
	listCalled  bool
	eventCalled bool
}

func (m *mockAudit) ListCommands(_ context.Context, filter audit.CommandFilter) ([]audit.CommandEntry, error) {
	m.listCalled = true
	m.gotFilter = filter
	return m.commands, m.err
}

func (m *mockAudit) ListConnectionEvents(_ context.Context, limit int) ([]audit.ConnectionEvent, error) {
	m.eventCalled = true
	m.gotLimit = limit
	return m.events, m.err
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testDevices(t *testing.T) *device.Set {
	t.Helper()
	set, err := device.Build([]config.DeviceConfig{
		{Name: "bench", Type: config.DeviceTypeSim},
		{Name: "plug-a", Type: config.DeviceTypeP110, Address: "192.168.1.20",
			Credentials: config.CredentialsConfig{Username: "u", Password: "hunter2"}},
	}, device.Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("device.Build() error = %v", err)
	}
	return set
}

func newTestServer(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Connection == nil {
		deps.Connection = fixedState(relay.StateConnected)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv.buildRouter()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, rec.Body.String())
	}
}

func TestNew_RequiresConnection(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without Connection should fail")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      relay.ConnectionState
		wantStatus int
		wantBody   string
	}{
		{"connected", relay.StateConnected, http.StatusOK, "ok"},
		{"authenticating", relay.StateAuthenticating, http.StatusServiceUnavailable, "degraded"},
		{"disconnected", relay.StateDisconnected, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, Deps{Connection: fixedState(tt.state), Version: "1.2.3"})
			rec := get(t, h, "/api/v1/health")

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body HealthResponse
			decode(t, rec, &body)
			if body.Status != tt.wantBody {
				t.Errorf("Status = %q, want %q", body.Status, tt.wantBody)
			}
			if body.Connection != tt.state.String() {
				t.Errorf("Connection = %q, want %q", body.Connection, tt.state.String())
			}
			if body.Version != "1.2.3" {
				t.Errorf("Version = %q", body.Version)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	stats := &relay.Stats{}
	queue := relay.NewQueue(4)
	queue.TrySend(device.Batch{device.NumberReading("bench", "power", 1)})

	h := newTestServer(t, Deps{
		AgentID: "greenhouse-01",
		Version: "dev",
		Stats:   stats,
		Queue:   queue,
		Devices: testDevices(t),
		Components: map[string]HealthChecker{
			"database": checkerFunc(func(context.Context) error { return nil }),
			"mqtt":     checkerFunc(func(context.Context) error { return errors.New("not connected") }),
		},
	})

	rec := get(t, h, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatal("status response leaked device credentials")
	}

	var body StatusResponse
	decode(t, rec, &body)

	if body.AgentID != "greenhouse-01" {
		t.Errorf("AgentID = %q", body.AgentID)
	}
	if body.Connection != "connected" {
		t.Errorf("Connection = %q", body.Connection)
	}
	if body.Queue == nil || body.Queue.Depth != 1 || body.Queue.Capacity != 4 {
		t.Errorf("Queue = %+v, want depth 1 capacity 4", body.Queue)
	}
	if body.Poller != nil {
		t.Errorf("Poller = %+v, want omitted", body.Poller)
	}
	if len(body.Devices) != 2 || body.Devices[0].Name != "bench" || body.Devices[1].Address != "192.168.1.20" {
		t.Errorf("Devices = %+v", body.Devices)
	}
	if body.Components["database"] != "ok" {
		t.Errorf("Components[database] = %q", body.Components["database"])
	}
	if body.Components["mqtt"] != "error: not connected" {
		t.Errorf("Components[mqtt] = %q", body.Components["mqtt"])
	}
}

func TestListCommands(t *testing.T) {
	received := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo := &mockAudit{commands: []audit.CommandEntry{
		{ID: "cmd-1", Device: "plug-a", Action: relay.ActionSetState, Value: 1,
			Source: "server", Outcome: audit.OutcomeApplied, ReceivedAt: received},
	}}
	h := newTestServer(t, Deps{Audit: repo})

	rec := get(t, h, "/api/v1/commands?limit=10&device=plug-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if repo.gotFilter.Device != "plug-a" || repo.gotFilter.Limit != 10 {
		t.Errorf("filter = %+v", repo.gotFilter)
	}

	var body struct {
		Commands []audit.CommandEntry `json:"commands"`
		Count    int                  `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 1 || len(body.Commands) != 1 || body.Commands[0].ID != "cmd-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestListCommands_BadLimit(t *testing.T) {
	for _, limit := range []string{"abc", "0", "-1", "201"} {
		t.Run(limit, func(t *testing.T) {
			repo := &mockAudit{}
			h := newTestServer(t, Deps{Audit: repo})

			rec := get(t, h, "/api/v1/commands?limit="+limit)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if repo.listCalled {
				t.Error("repository should not be queried on a bad limit")
			}
		})
	}
}

func TestAuditEndpoints_Disabled(t *testing.T) {
	h := newTestServer(t, Deps{})

	for _, path := range []string{"/api/v1/commands", "/api/v1/connections"} {
		rec := get(t, h, path)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, rec.Code)
		}
		var body Error
		decode(t, rec, &body)
		if body.Code != ErrCodeUnavailable {
			t.Errorf("GET %s code = %q", path, body.Code)
		}
	}
}

func TestListConnections(t *testing.T) {
	repo := &mockAudit{events: []audit.ConnectionEvent{
		{ID: "conn-1", From: "authenticating", To: "connected"},
	}}
	h := newTestServer(t, Deps{Audit: repo})

	rec := get(t, h, "/api/v1/connections")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if repo.gotLimit != 0 {
		t.Errorf("limit = %d, want 0 (repository default)", repo.gotLimit)
	}

	var body struct {
		Events []audit.ConnectionEvent `json:"events"`
		Count  int                     `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 1 || body.Events[0].To != "connected" {
		t.Errorf("body = %+v", body)
	}
}

func TestListConnections_RepositoryError(t *testing.T) {
	h := newTestServer(t, Deps{Audit: &mockAudit{err: errors.New("disk I/O error")}})

	rec := get(t, h, "/api/v1/connections")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk I/O") {
		t.Error("internal error details should not be exposed")
	}
}

func TestRequestID(t *testing.T) {
	h := newTestServer(t, Deps{})

	rec := get(t, h, "/api/v1/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want propagated value", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, err := New(Deps{Connection: fixedState(relay.StateConnected), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := get(t, h, "/")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestNotFound(t *testing.T) {
	h := newTestServer(t, Deps{})
	rec := get(t, h, "/api/v1/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		Connection: fixedState(relay.StateConnected),
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
