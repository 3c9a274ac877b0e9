package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/internal/app"
	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/orchestrator"
	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/internal/store/memory"
	audiomock "github.com/MrWong99/callcoach/pkg/audio/mock"
)

const testYAML = `
session:
  scenario: customer_service
  mock_mode: true
`

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// testConfig returns a mock-mode config without an HTTP listener.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Server.ListenAddr = ""
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *memory.Store) {
	t.Helper()
	st := memory.New()
	base := []app.Option{
		app.WithStore(st),
		app.WithDevice(&audiomock.Device{}),
		app.WithOrchestratorOptions(orchestrator.WithSleep(noSleep)),
	}
	a, err := app.New(context.Background(), cfg, nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, st
}

func TestNew_DefaultBackends(t *testing.T) {
	t.Parallel()
	a, err := app.New(context.Background(), testConfig(t), nil,
		app.WithDevice(&audiomock.Device{}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if _, ok := a.Ledger().(*quota.MemoryLedger); !ok {
		t.Errorf("ledger = %T, want *quota.MemoryLedger", a.Ledger())
	}
	if _, ok := a.Store().(*memory.Store); !ok {
		t.Errorf("store = %T, want *memory.Store", a.Store())
	}
	if st := a.Orchestrator().State(); st != orchestrator.StateIdle {
		t.Errorf("state = %s, want idle", st)
	}
}

func TestApp_SessionConfig(t *testing.T) {
	t.Parallel()
	doc := filepath.Join(t.TempDir(), "refund-policy.txt")
	if err := os.WriteFile(doc, []byte("Refunds within 30 days."), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t)
	cfg.Session.ContextDocuments = []string{doc}
	cfg.Disruption.Enabled = true
	a, _ := newTestApp(t, cfg)

	sc, err := a.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig() error: %v", err)
	}
	if sc.Scenario != "customer_service" || !sc.MockMode {
		t.Errorf("got %+v", sc)
	}
	if len(sc.ContextDocuments) != 1 || sc.ContextDocuments[0] != "Refunds within 30 days." {
		t.Errorf("context documents = %q", sc.ContextDocuments)
	}
	if !sc.Disruption.Enabled {
		t.Error("disruption settings not carried over")
	}
}

func TestApp_SessionConfig_MissingDocument(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Session.ContextDocuments = []string{filepath.Join(t.TempDir(), "missing.txt")}
	a, _ := newTestApp(t, cfg)

	if _, err := a.SessionConfig(); err == nil {
		t.Fatal("expected error for missing context document")
	}
	if err := a.Sessions().Start(context.Background()); err == nil {
		t.Fatal("Start should fail when the session config cannot be built")
	}
	if a.Sessions().IsActive() {
		t.Error("failed start must not leave a session active")
	}
}

func TestApp_Handler(t *testing.T) {
	t.Parallel()
	a, st := newTestApp(t, testConfig(t))
	h := a.Handler()

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusOK, `"quota":"ok"`},
		{"/status", http.StatusOK, `"state":"idle"`},
		{"/reports", http.StatusOK, "[]"},
		{"/reports?limit=zero", http.StatusBadRequest, "invalid limit"},
		{"/reports/unknown", http.StatusNotFound, "report not found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	// A finished session shows up under /reports/{id}.
	ctx := context.Background()
	if err := a.Sessions().Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	rep, err := a.Sessions().Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if _, err := st.GetReport(ctx, rep.SessionID); err != nil {
		t.Fatalf("report not stored: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/reports/"+rep.SessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var got struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil || got.SessionID != rep.SessionID {
		t.Errorf("decoded %+v, err %v", got, err)
	}
}

func TestApp_Reload(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	a, _ := newTestApp(t, testConfig(t), app.WithLogLevel(&level))

	next := testConfig(t)
	next.Server.LogLevel = config.LogDebug
	next.Session.Scenario = "sales"
	next.Quota.DailyBudget = 99

	d := a.Reload(next)
	if !d.LogLevelChanged || !d.SessionChanged {
		t.Errorf("diff = %+v", d)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %s, want debug", level.Level())
	}
	got := a.Config()
	if got.Session.Scenario != "sales" {
		t.Errorf("scenario = %q, want sales", got.Session.Scenario)
	}
	if got.Quota.DailyBudget == 99 {
		t.Error("quota change applied without restart")
	}
	sc, err := a.SessionConfig()
	if err != nil || sc.Scenario != "sales" {
		t.Errorf("next session config = %+v, %v", sc, err)
	}
}

func TestApp_RunConsole(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	in := strings.NewReader("Hello, how can I help you today?\n/status\n/end\n")
	a, st := newTestApp(t, testConfig(t), app.WithConsole(in, &out))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	text := out.String()
	for _, want := range []string{"started", "partner", `"state": "active"`, "session ended"} {
		if !strings.Contains(text, want) {
			t.Errorf("console output missing %q:\n%s", want, text)
		}
	}
	list, err := st.ListReports(context.Background(), 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("stored reports = %v, %v", list, err)
	}
}

func TestApp_ShutdownEndsSession(t *testing.T) {
	t.Parallel()
	a, st := newTestApp(t, testConfig(t))
	ctx := context.Background()

	if err := a.Sessions().Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if a.Sessions().IsActive() {
		t.Error("session still active after Shutdown")
	}
	list, err := st.ListReports(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Errorf("stored reports = %v, %v", list, err)
	}
}
