package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/minerctl/internal/audit"
	"github.com/nerrad567/minerctl/internal/auth"
	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/history"
	"github.com/nerrad567/minerctl/internal/infrastructure/config"
	"github.com/nerrad567/minerctl/internal/infrastructure/database"
	"github.com/nerrad567/minerctl/internal/infrastructure/logging"
	"github.com/nerrad567/minerctl/internal/miner"
	"github.com/nerrad567/minerctl/internal/telemetry"
	"github.com/nerrad567/minerctl/internal/tuning"
	"github.com/nerrad567/minerctl/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeMiner mimics the supervisor's Start/Stop contract.
type fakeMiner struct {
	mu      sync.Mutex
	running bool
	gen     uint64
	snap    telemetry.Snapshot
	stops   int
}

func (m *fakeMiner) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return miner.ErrAlreadyRunning
	}
	m.running = true
	m.gen++
	m.snap = telemetry.Snapshot{}
	return nil
}

func (m *fakeMiner) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.running = false
	return nil
}

func (m *fakeMiner) Stats() miner.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := miner.Stats{State: miner.StateIdle, Generation: m.gen, Snapshot: m.snap}
	if m.running {
		st.State = miner.StateRunning
		st.PID = 4242
		st.Uptime = 90 * time.Second
	}
	return st
}

func (m *fakeMiner) Snapshot() telemetry.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// fakeTuner knows a fixed profile list.
type fakeTuner struct {
	mu       sync.Mutex
	profiles []string
	applied  []string
}

func (f *fakeTuner) Apply(_ context.Context, profile string, gpu int) tuning.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, fmt.Sprintf("%s@%d", profile, gpu))
	for _, p := range f.profiles {
		if p == profile {
			return tuning.Result{Outcome: tuning.OutcomeSucceeded, Profile: profile, GPUIndex: gpu, Message: "ok"}
		}
	}
	return tuning.Result{
		Outcome: tuning.OutcomeFailed, Profile: profile, GPUIndex: gpu,
		Err: fmt.Errorf("%w: %q", tuning.ErrUnknownProfile, profile),
	}
}

func (f *fakeTuner) Profiles() ([]string, error) {
	return f.profiles, nil
}

func (f *fakeTuner) Diagnose(_ context.Context, profile string) tuning.Diagnosis {
	return tuning.Diagnosis{
		ToolPath:  "/opt/odnt/OverdriveNTool.exe",
		ToolFound: true,
		Profiles:  f.profiles,
		Command:   "/opt/odnt/OverdriveNTool.exe -p0" + profile,
		Ran:       true,
	}
}

func (f *fakeTuner) Config() tuning.Config {
	return tuning.Config{Mode: tuning.ModeExternalTool, GPUIndex: 1}
}

func (f *fakeTuner) appliedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

type testEnv struct {
	srv     *Server
	router  http.Handler
	miner   *fakeMiner
	tuner   *fakeTuner
	history *history.SQLiteRepository
	audit   *audit.SQLiteRepository
	bus     *events.Bus
	logPath string
}

// testServer creates a Server backed by fakes and a migrated SQLite history.
func testServer(t *testing.T, secret string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Open(database.Config{Path: filepath.Join(dir, "minerctl.db"), BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	env := &testEnv{
		miner:   &fakeMiner{snap: telemetry.Snapshot{Hashrate: 412.5, Accepted: 7}},
		tuner:   &fakeTuner{profiles: []string{"Kaspa", "Default"}},
		history: history.NewSQLiteRepository(db.DB),
		audit:   audit.NewSQLiteRepository(db.DB),
		bus:     bus,
		logPath: filepath.Join(dir, "bzminer_controller.log"),
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			CORS:     config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
		WS: config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, AccessTokenTTL: 15},
		},
		Logger:        logging.Discard(),
		Miner:         env.miner,
		Bus:           bus,
		Tuner:         env.tuner,
		History:       env.history,
		Audit:         env.audit,
		DB:            db,
		LogPath:       env.logPath,
		WebURL:        "http://127.0.0.1:4014",
		ProfileActive: "Kaspa",
		Version:       "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	env.srv = srv
	env.router = srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func mustToken(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken("tester", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

// ─── Health and middleware ─────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() with no miner should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard(), Miner: &fakeMiner{}}); err == nil {
		t.Error("New() with no bus should fail")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t, "")

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t, "")

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	env := testServer(t, "")

	tests := []struct {
		origin     string
		wantStatus int
		wantACAO   string
	}{
		{"http://localhost:3000", http.StatusNoContent, "http://localhost:3000"},
		{"http://evil.example", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("preflight status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("ACAO = %q, want %q", got, tt.wantACAO)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, "")

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeNotFound {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeNotFound)
	}
}

// ─── Auth ──────────────────────────────────────────────────────────

func TestAuth_Permissions(t *testing.T) {
	env := testServer(t, testSecret)
	viewer := mustToken(t, auth.RoleViewer)
	operator := mustToken(t, auth.RoleOperator)
	admin := mustToken(t, auth.RoleAdmin)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"health needs no token", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"status without token", http.MethodGet, "/api/v1/status", "", http.StatusUnauthorized},
		{"status with garbage", http.MethodGet, "/api/v1/status", "not-a-jwt", http.StatusUnauthorized},
		{"viewer reads status", http.MethodGet, "/api/v1/status", viewer, http.StatusOK},
		{"viewer cannot start", http.MethodPost, "/api/v1/miner/start", viewer, http.StatusForbidden},
		{"operator starts", http.MethodPost, "/api/v1/miner/start", operator, http.StatusAccepted},
		{"operator cannot diagnose", http.MethodPost, "/api/v1/tuning/diagnose", operator, http.StatusForbidden},
		{"admin diagnoses", http.MethodPost, "/api/v1/tuning/diagnose", admin, http.StatusOK},
		{"operator cannot read audit", http.MethodGet, "/api/v1/audit", operator, http.StatusForbidden},
		{"admin reads audit", http.MethodGet, "/api/v1/audit", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, "", tt.token)
			if w.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	env := testServer(t, testSecret)
	tok, err := auth.GenerateToken("tester", auth.RoleAdmin, "another-secret-of-sufficient-length!!", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/status", "", tok)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		query  string
		want   string
	}{
		{"Bearer abc", "", "abc"},
		{"bearer  abc ", "", "abc"},
		{"Basic abc", "", ""},
		{"", "xyz", "xyz"},
		{"Bearer abc", "xyz", "abc"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+tt.query, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q, %q) = %q, want %q", tt.header, tt.query, got, tt.want)
		}
	}
}

// ─── Miner ─────────────────────────────────────────────────────────

func TestStatus(t *testing.T) {
	env := testServer(t, "")

	resp := decode(t, env.do(t, http.MethodGet, "/api/v1/status", "", ""))
	if resp["state"] != "idle" {
		t.Errorf("state = %v, want idle", resp["state"])
	}
	if resp["web_url"] != "http://127.0.0.1:4014" {
		t.Errorf("web_url = %v", resp["web_url"])
	}
	if resp["tuning_mode"] != "odnt" {
		t.Errorf("tuning_mode = %v, want odnt", resp["tuning_mode"])
	}
}

func TestSnapshot(t *testing.T) {
	env := testServer(t, "")

	resp := decode(t, env.do(t, http.MethodGet, "/api/v1/snapshot", "", ""))
	if resp["hashrate_mhs"] != 412.5 {
		t.Errorf("hashrate_mhs = %v, want 412.5", resp["hashrate_mhs"])
	}
	if resp["accepted"] != float64(7) {
		t.Errorf("accepted = %v, want 7", resp["accepted"])
	}
}

func TestMinerStartStop(t *testing.T) {
	env := testServer(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/miner/start", "", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d", w.Code, http.StatusAccepted)
	}
	resp := decode(t, w)
	if resp["state"] != "running" || resp["pid"] != float64(4242) {
		t.Errorf("start response = %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/v1/miner/start", "", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", w.Code, http.StatusConflict)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeAlreadyRunning {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeAlreadyRunning)
	}

	for range 2 {
		w = env.do(t, http.MethodPost, "/api/v1/miner/stop", "", "")
		if w.Code != http.StatusOK {
			t.Errorf("stop status = %d, want %d", w.Code, http.StatusOK)
		}
	}
	if resp := decode(t, w); resp["state"] != "idle" {
		t.Errorf("state after stop = %v, want idle", resp["state"])
	}
}

func TestLogTail(t *testing.T) {
	env := testServer(t, "")

	w := env.do(t, http.MethodGet, "/api/v1/logs/tail", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("missing log status = %d, want %d", w.Code, http.StatusOK)
	}
	if lines := decode(t, w)["lines"].([]any); len(lines) != 0 {
		t.Errorf("missing log lines = %v, want none", lines)
	}

	content := "first line\nsecond line\nthird line\n"
	if err := os.WriteFile(env.logPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	lines := decode(t, env.do(t, http.MethodGet, "/api/v1/logs/tail", "", ""))["lines"].([]any)
	if len(lines) != 3 || lines[2] != "third line" {
		t.Errorf("lines = %v", lines)
	}

	lines = decode(t, env.do(t, http.MethodGet, "/api/v1/logs/tail?bytes=14", "", ""))["lines"].([]any)
	if len(lines) != 1 || lines[0] != "third line" {
		t.Errorf("tail of 14 bytes = %v, want [third line]", lines)
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		w := env.do(t, http.MethodGet, "/api/v1/logs/tail?bytes="+bad, "", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("bytes=%s status = %d, want %d", bad, w.Code, http.StatusBadRequest)
		}
	}
}

// ─── Tuning ────────────────────────────────────────────────────────

func TestTuningProfiles(t *testing.T) {
	env := testServer(t, "")

	resp := decode(t, env.do(t, http.MethodGet, "/api/v1/tuning/profiles", "", ""))
	if resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

func TestTuningApply(t *testing.T) {
	env := testServer(t, "")
	sub := env.bus.Subscribe(4, events.KindTuning)
	defer sub.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCall   string
	}{
		{"default gpu", `{"profile":"Kaspa"}`, http.StatusOK, "Kaspa@1"},
		{"explicit gpu", `{"profile":"Default","gpu_index":0}`, http.StatusOK, "Default@0"},
		{"unknown profile", `{"profile":"Nope"}`, http.StatusNotFound, "Nope@1"},
		{"missing profile", `{}`, http.StatusBadRequest, ""},
		{"negative gpu", `{"profile":"Kaspa","gpu_index":-1}`, http.StatusBadRequest, ""},
		{"bad json", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(env.tuner.appliedCalls())
			w := env.do(t, http.MethodPost, "/api/v1/tuning/apply", tt.body, "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			calls := env.tuner.appliedCalls()
			if tt.wantCall == "" {
				if len(calls) != before {
					t.Errorf("tool called for rejected request: %v", calls[before:])
				}
				return
			}
			if len(calls) != before+1 || calls[before] != tt.wantCall {
				t.Errorf("calls = %v, want %s appended", calls, tt.wantCall)
			}

			select {
			case e := <-sub.C():
				if tr := e.(events.TuningResult); tr.Phase != events.PhaseManual {
					t.Errorf("phase = %q, want %q", tr.Phase, events.PhaseManual)
				}
			case <-time.After(time.Second):
				t.Error("no tuning event published")
			}
		})
	}
}

func TestTuningDiagnose(t *testing.T) {
	env := testServer(t, "")

	resp := decode(t, env.do(t, http.MethodPost, "/api/v1/tuning/diagnose", "", ""))
	if !strings.HasSuffix(resp["command"].(string), "-p0Kaspa") {
		t.Errorf("command = %v, want default profile Kaspa", resp["command"])
	}

	resp = decode(t, env.do(t, http.MethodPost, "/api/v1/tuning/diagnose?profile=Default", "", ""))
	if !strings.HasSuffix(resp["command"].(string), "-p0Default") {
		t.Errorf("command = %v, want profile Default", resp["command"])
	}
}

func TestTuning_Unconfigured(t *testing.T) {
	env := testServer(t, "")
	env.srv.tuner = nil
	env.router = env.srv.buildRouter()

	w := env.do(t, http.MethodGet, "/api/v1/tuning/profiles", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decode(t, env.do(t, http.MethodGet, "/api/v1/status", "", "")); resp["tuning_mode"] != "none" {
		t.Errorf("tuning_mode = %v, want none", resp["tuning_mode"])
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestHistoryRoutes(t *testing.T) {
	env := testServer(t, "")
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 3 {
		e := events.NewBlockFound(fmt.Sprintf("[SOLO] Block found! #%d", i), 1)
		if err := env.history.RecordBlock(ctx, history.Block{ID: e.ID, FoundAt: now.Add(time.Duration(i) * time.Second), Generation: 1, RawLine: e.RawLine}); err != nil {
			t.Fatalf("RecordBlock: %v", err)
		}
	}
	if _, err := env.history.StartRun(ctx, 1, 4242, now); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := env.history.RecordTuning(ctx, history.TuningRecord{AppliedAt: now, Phase: events.PhaseActive, Outcome: "succeeded", Profile: "Kaspa"}); err != nil {
		t.Fatalf("RecordTuning: %v", err)
	}

	resp := decode(t, env.do(t, http.MethodGet, "/api/v1/blocks", "", ""))
	if resp["count"] != float64(3) {
		t.Errorf("blocks count = %v, want 3", resp["count"])
	}
	resp = decode(t, env.do(t, http.MethodGet, "/api/v1/blocks?limit=2", "", ""))
	if resp["count"] != float64(2) {
		t.Errorf("limited blocks count = %v, want 2", resp["count"])
	}
	resp = decode(t, env.do(t, http.MethodGet, "/api/v1/runs", "", ""))
	if resp["count"] != float64(1) {
		t.Errorf("runs count = %v, want 1", resp["count"])
	}
	resp = decode(t, env.do(t, http.MethodGet, "/api/v1/tuning/history", "", ""))
	if resp["count"] != float64(1) {
		t.Errorf("tuning history count = %v, want 1", resp["count"])
	}

	if w := env.do(t, http.MethodGet, "/api/v1/blocks?limit=0", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHistory_Disabled(t *testing.T) {
	env := testServer(t, "")
	env.srv.history = nil
	env.srv.audit = nil

	for _, path := range []string{"/api/v1/blocks", "/api/v1/runs", "/api/v1/tuning/history", "/api/v1/audit"} {
		if w := env.do(t, http.MethodGet, path, "", ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestAuditRoute(t *testing.T) {
	env := testServer(t, testSecret)
	admin := mustToken(t, auth.RoleAdmin)

	if w := env.do(t, http.MethodPost, "/api/v1/miner/start", "", admin); w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/miner/start", "", admin); w.Code != http.StatusConflict {
		t.Fatalf("second start status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/tuning/apply", `{"profile":"Kaspa"}`, admin); w.Code != http.StatusOK {
		t.Fatalf("apply status = %d (%s)", w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit", "", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d", w.Code)
	}
	var res audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding audit list: %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("Total = %d, want 3", res.Total)
	}

	var starts, failed int
	for _, e := range res.Entries {
		if e.Source != audit.SourceAPI || e.Subject != "tester" {
			t.Errorf("entry source/subject = %q/%q, want api/tester", e.Source, e.Subject)
		}
		if e.Action == audit.ActionMinerStart {
			starts++
			if e.Outcome == audit.OutcomeFailed {
				failed++
			}
		}
		if e.Action == audit.ActionTuningApply && e.Details["profile"] != "Kaspa" {
			t.Errorf("apply details = %v", e.Details)
		}
	}
	if starts != 2 || failed != 1 {
		t.Errorf("starts = %d (failed %d), want 2 (failed 1)", starts, failed)
	}

	w = env.do(t, http.MethodGet, "/api/v1/audit?action=tuning.apply", "", admin)
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding filtered audit list: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("filtered Total = %d, want 1", res.Total)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/audit?offset=-1", "", admin); w.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d, want 400", w.Code)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestSystemMetrics(t *testing.T) {
	env := testServer(t, "")

	resp := decode(t, env.do(t, http.MethodGet, "/api/v1/metrics", "", ""))
	if resp["version"] != "test" {
		t.Errorf("version = %v", resp["version"])
	}
	if _, ok := resp["database"]; !ok {
		t.Error("database stats missing")
	}
	if _, ok := resp["mqtt"]; ok {
		t.Error("mqtt stats present without an MQTT client")
	}
}

func TestPrometheusRoute(t *testing.T) {
	env := testServer(t, testSecret)
	env.srv.metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "minerctl_up 1")
	})
	env.router = env.srv.buildRouter()

	w := env.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want %d (no auth)", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "minerctl_up 1") {
		t.Errorf("/metrics body = %q", w.Body.String())
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"block_found": {}}}
	wildcard := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"*": {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"snapshot": {}}}
	hub.Register(subscribed)
	hub.Register(wildcard)
	hub.Register(other)

	hub.Broadcast("block_found", time.Now(), map[string]any{"raw_line": "block found"})

	for name, c := range map[string]*WSClient{"subscribed": subscribed, "wildcard": wildcard} {
		select {
		case msg := <-c.send:
			var wsMsg WSMessage
			if err := json.Unmarshal(msg, &wsMsg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if wsMsg.EventType != "block_found" {
				t.Errorf("%s event_type = %q, want block_found", name, wsMsg.EventType)
			}
		case <-time.After(time.Second):
			t.Errorf("%s client timed out waiting for broadcast", name)
		}
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_StreamsBusEvents(t *testing.T) {
	env := testServer(t, testSecret)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.relayEvents(ctx)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?channels=block_found"
	if _, resp, err := websocket.DefaultDialer.Dial(base, nil); err == nil {
		t.Fatal("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token response = %v, want 401", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"&token="+mustToken(t, auth.RoleViewer), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	env.bus.Publish(events.LogLine{Timestamp: time.Now(), Line: "not subscribed"})
	env.bus.Publish(events.NewBlockFound("[SOLO] Block found!", 3))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != "block_found" {
		t.Errorf("message = %+v, want block_found event", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["raw_line"] != "[SOLO] Block found!" || payload["generation"] != float64(3) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_SubscribeProtocol(t *testing.T) {
	env := testServer(t, "")

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	send := func(v any) WSMessage {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return msg
	}

	if msg := send(WSMessage{Type: WSTypePing, ID: "1"}); msg.Type != WSTypePong || msg.ID != "1" {
		t.Errorf("ping reply = %+v", msg)
	}
	msg := send(WSMessage{Type: WSTypeSubscribe, ID: "2", Payload: WSSubscribePayload{Channels: []string{"snapshot", "tuning"}}})
	if msg.Type != WSTypeResponse {
		t.Errorf("subscribe reply = %+v", msg)
	}
	msg = send(WSMessage{Type: WSTypeSubscribe, ID: "3", Payload: WSSubscribePayload{Channels: []string{"bogus"}}})
	if msg.Type != WSTypeError {
		t.Errorf("bogus channel reply = %+v, want error", msg)
	}
	if msg := send(WSMessage{Type: "dance", ID: "4"}); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v, want error", msg)
	}
}
