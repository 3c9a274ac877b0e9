package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// Watcher polls a config file and the context documents it references, and
// calls a callback with the new configuration when either changes. Running
// sessions keep the configuration they started with; a reload takes effect
// at the next session start.
//
// Editing a context document without touching the config file still fires
// the callback, with a config equal to the previous one, so the next session
// picks up the new practice material.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu       sync.Mutex
	current  *Config
	snap     snapshot
	done     chan struct{}
	stopOnce sync.Once
}

// snapshot is the observed state of the watched files.
type snapshot struct {
	mtimes map[string]time.Time
	sum    [sha256.Size]byte
}

// unchanged reports whether every file still has the recorded mtime.
func (s snapshot) unchanged(paths []string) bool {
	if len(paths) != len(s.mtimes) {
		return false
	}
	for _, p := range paths {
		recorded, ok := s.mtimes[p]
		if !ok {
			return false
		}
		if !modTime(p).Equal(recorded) {
			return false
		}
	}
	return true
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Default: slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it in a background goroutine.
// The initial load must succeed; later invalid edits are logged and the
// previous configuration stays current.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.snap = snap

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads when a watched file changed in content.
func (w *Watcher) check() {
	w.mu.Lock()
	prev := w.snap
	docs := slices.Clone(w.current.Session.ContextDocuments)
	w.mu.Unlock()

	if prev.unchanged(watchedPaths(w.path, docs)) {
		return
	}

	cfg, snap, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.sum == w.snap.sum {
		// Touched without a content change.
		w.snap = snap
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.snap = snap
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"context_documents", len(cfg.Session.ContextDocuments),
	)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read loads and validates the config file and fingerprints it together
// with its context documents. A missing or unreadable document is part of
// the fingerprint, not an error: session start reports it.
func (w *Watcher) read() (*Config, snapshot, error) {
	data, mtime, err := readFile(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, snapshot{}, err
	}

	h := sha256.New()
	h.Write(data)
	snap := snapshot{mtimes: map[string]time.Time{w.path: mtime}}
	for _, doc := range cfg.Session.ContextDocuments {
		fmt.Fprintf(h, "\x00%s\x00", doc)
		body, docMtime, err := readFile(doc)
		if err != nil {
			h.Write([]byte("missing"))
		} else {
			h.Write(body)
		}
		snap.mtimes[doc] = docMtime
	}
	h.Sum(snap.sum[:0])
	return cfg, snap, nil
}

// watchedPaths returns the sorted, de-duplicated set of files to stat.
func watchedPaths(path string, docs []string) []string {
	paths := append([]string{path}, docs...)
	slices.Sort(paths)
	return slices.Compact(paths)
}

func readFile(path string) ([]byte, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

// modTime returns the modification time of path, or the zero time when it
// cannot be stat'ed.
func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
