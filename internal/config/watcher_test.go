package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/session"
)

const pollInterval = 20 * time.Millisecond

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// bumpMtime moves the mtime of path forward so a poll notices the write even
// on filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	at := time.Now().Add(by)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func practiceYAML(scenario, mode string, docs ...string) string {
	y := "session:\n  scenario: " + scenario + "\n  mode: " + mode + "\n  mock_mode: true\n"
	if len(docs) > 0 {
		y += "  context_documents:\n"
		for _, d := range docs {
			y += "    - " + d + "\n"
		}
	}
	return y
}

// reloads collects watcher callbacks.
type reloads struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	ch    chan struct{}
}

func newReloads() *reloads { return &reloads{ch: make(chan struct{}, 16)} }

func (r *reloads) onChange(old, next *config.Config) {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{old, next})
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *reloads) wait(t *testing.T) (old, next *config.Config) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pairs[len(r.pairs)-1]
	return p[0], p[1]
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

func startWatcher(t *testing.T, path string, r *reloads) *config.Watcher {
	t.Helper()
	var cb func(old, next *config.Config)
	if r != nil {
		cb = r.onChange
	}
	w, err := config.NewWatcher(path, cb, config.WithInterval(pollInterval))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, practiceYAML("customer_service", "single"))

	cfg := startWatcher(t, path, nil).Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Session.Scenario != "customer_service" {
		t.Errorf("scenario = %q, want customer_service", cfg.Session.Scenario)
	}
	// Defaults are applied on load.
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_ScenarioChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, practiceYAML("customer_service", "single"))
	r := newReloads()
	w := startWatcher(t, path, r)

	writeFile(t, path, practiceYAML("sales", "stress"))
	bumpMtime(t, path, time.Second)

	old, next := r.wait(t)
	if old.Session.Scenario != "customer_service" {
		t.Errorf("old scenario = %q", old.Session.Scenario)
	}
	if next.Session.Scenario != "sales" || next.Session.Mode != session.ModeStress {
		t.Errorf("new session = %+v", next.Session)
	}
	if w.Current() != next {
		t.Error("Current() must return the reloaded config")
	}
}

func TestWatcher_ContextDocumentEdit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	doc := filepath.Join(dir, "product.md")
	writeFile(t, doc, "Refunds within 30 days.")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, practiceYAML("customer_service", "single", doc))
	r := newReloads()
	startWatcher(t, path, r)

	writeFile(t, doc, "Refunds within 14 days.")
	bumpMtime(t, doc, time.Second)

	old, next := r.wait(t)
	if old == next {
		t.Error("reload must hand over a freshly loaded config")
	}
	if got := next.Session.ContextDocuments; len(got) != 1 || got[0] != doc {
		t.Errorf("context documents = %v", got)
	}
}

func TestWatcher_MissingDocumentAppears(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	doc := filepath.Join(dir, "later.md")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, practiceYAML("customer_service", "single", doc))
	r := newReloads()
	startWatcher(t, path, r)

	writeFile(t, doc, "Opening hours are 9 to 5.")
	r.wait(t)
}

func TestWatcher_NoReload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(t *testing.T, path string)
	}{
		{
			name: "invalid config keeps previous",
			edit: func(t *testing.T, path string) {
				writeFile(t, path, "session:\n  mode: marathon\n")
				bumpMtime(t, path, time.Second)
			},
		},
		{
			name: "touch without content change",
			edit: func(t *testing.T, path string) {
				bumpMtime(t, path, time.Second)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, practiceYAML("customer_service", "single"))
			r := newReloads()
			w := startWatcher(t, path, r)

			tt.edit(t, path)
			time.Sleep(10 * pollInterval)

			if n := r.count(); n != 0 {
				t.Errorf("callback fired %d times, want 0", n)
			}
			if got := w.Current().Session.Scenario; got != "customer_service" {
				t.Errorf("scenario = %q, want the previous value", got)
			}
		})
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, practiceYAML("customer_service", "single"))
	w, err := config.NewWatcher(path, nil, config.WithInterval(pollInterval))
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
