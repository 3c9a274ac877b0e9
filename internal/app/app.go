// Package app wires all callcoach subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP side-channel and drives the console
// session, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithLedger, WithDevice, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callcoach/internal/config"
	"github.com/MrWong99/callcoach/internal/health"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/orchestrator"
	"github.com/MrWong99/callcoach/internal/partner"
	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/internal/resilience"
	"github.com/MrWong99/callcoach/internal/store"
	"github.com/MrWong99/callcoach/internal/store/memory"
	"github.com/MrWong99/callcoach/internal/store/postgres"
	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/audio/virtual"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/provider/tts"
	"github.com/MrWong99/callcoach/pkg/provider/vad"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown in Run.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// App owns every long-lived subsystem.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	providers *Providers
	level     *slog.LevelVar

	ledger   quota.Ledger
	gate     *quota.Gate
	store    store.Store
	metrics  *observe.Metrics
	device   audio.Device
	partner  *partner.Partner
	orch     *orchestrator.Orchestrator
	sessions *SessionManager

	orchOpts []orchestrator.Option
	in       io.Reader
	out      io.Writer
	speech   time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithStore overrides the report store.
func WithStore(s store.Store) Option { return func(a *App) { a.store = s } }

// WithLedger overrides the quota ledger.
func WithLedger(l quota.Ledger) Option { return func(a *App) { a.ledger = l } }

// WithDevice overrides the audio device. Default: a [virtual.Device].
func WithDevice(d audio.Device) Option { return func(a *App) { a.device = d } }

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithLogLevel hands the app the level variable of the default logger so
// that config reloads can change it.
func WithLogLevel(v *slog.LevelVar) Option { return func(a *App) { a.level = v } }

// WithConsole drives a console session from in and writes its transcript
// to out. Without it, Run only serves HTTP.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// WithSpeechSimulation makes the console feed synthetic microphone energy
// for perWord per word before each typed utterance, so that the VAD and
// speaking-time metrics see speech. Only effective with a [virtual.Device].
func WithSpeechSimulation(perWord time.Duration) Option {
	return func(a *App) { a.speech = perWord }
}

// WithOrchestratorOptions appends options passed to [orchestrator.New].
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(a *App) { a.orchOpts = append(a.orchOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates a fully wired App. It connects the quota ledger and the
// report store, builds the conversation partner and the orchestrator.
//
// If any step fails, resources opened so far are released and the error is
// returned.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initLedger(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	a.initSession()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initLedger connects the daily quota ledger unless one was injected.
func (a *App) initLedger(ctx context.Context) error {
	if a.ledger == nil {
		q := a.cfg.Quota
		switch q.Backend {
		case config.QuotaRedis:
			client, err := quota.DialRedis(ctx, q.RedisAddr, q.RedisPassword, q.RedisDB)
			if err != nil {
				return fmt.Errorf("app: connect quota ledger: %w", err)
			}
			a.closers = append(a.closers, client.Close)
			a.ledger = quota.NewRedisLedger(client, q.DailyBudget)
			slog.Info("quota ledger connected", "backend", "redis", "addr", q.RedisAddr)
		default:
			a.ledger = quota.NewMemoryLedger(q.DailyBudget)
		}
	}

	policy := resilience.DefaultRetryPolicy("provider")
	a.gate = quota.NewGate(a.ledger, policy, quota.WithMetrics(a.metrics))
	return nil
}

// initStore connects the report store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Persistence.PostgresDSN
	if dsn == "" {
		a.store = memory.New()
		return nil
	}
	pg, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("app: connect report store: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	a.store = pg
	slog.Info("report store connected", "backend", "postgres")
	return nil
}

// initSession builds the partner, the orchestrator and the session manager.
func (a *App) initSession() {
	costs := a.cfg.Quota.Costs()
	a.partner = partner.New(a.providers.LLM, a.gate,
		partner.WithCosts(costs),
		partner.WithMetrics(a.metrics),
		partner.WithProviderName(providerLabel(a.cfg.Providers.LLM.Name)),
	)

	if a.device == nil {
		a.device = virtual.New()
	}

	opts := []orchestrator.Option{
		orchestrator.WithGate(a.gate),
		orchestrator.WithCosts(costs),
		orchestrator.WithPersister(a.store),
		orchestrator.WithMetrics(a.metrics),
	}
	if a.providers.VAD != nil {
		opts = append(opts, orchestrator.WithVAD(a.providers.VAD))
	}
	opts = append(opts, a.orchOpts...)

	a.orch = orchestrator.New(a.device, a.partner, a.providers.TTS, opts...)
	// The orchestrator drains its timers before the backends close.
	a.closers = append([]func() error{func() error {
		a.orch.Close()
		return nil
	}}, a.closers...)
	a.sessions = NewSessionManager(a.orch, a.SessionConfig)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the report store.
func (a *App) Store() store.Store { return a.store }

// Ledger returns the quota ledger.
func (a *App) Ledger() quota.Ledger { return a.ledger }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SessionConfig maps the current configuration onto the settings of the
// next session. Context documents are read from disk here, so edits to
// them are picked up at the next session start.
func (a *App) SessionConfig() (orchestrator.SessionConfig, error) {
	cfg := a.Config()
	s := cfg.Session

	docs := make([]string, 0, len(s.ContextDocuments))
	for _, path := range s.ContextDocuments {
		data, err := os.ReadFile(path)
		if err != nil {
			return orchestrator.SessionConfig{}, fmt.Errorf("app: read context document: %w", err)
		}
		docs = append(docs, string(data))
	}

	return orchestrator.SessionConfig{
		Scenario:          s.Scenario,
		Language:          s.Language,
		Mode:              s.Mode,
		QueueLength:       s.QueueLength,
		InterCallDelay:    s.InterCallDelay,
		DifficultyCurve:   s.DifficultyCurve,
		Voice:             s.Voice,
		Voices:            s.Voices,
		Disruption:        cfg.Disruption.Engine(),
		Sensitivity:       s.VADSensitivity,
		NoiseFloor:        s.NoiseFloor,
		MinSpeechDuration: s.MinSpeechDuration,
		MockMode:          s.MockMode,
		ContextDocuments:  docs,
	}, nil
}

// Checkers returns the readiness checks of the app's backends. Persistence
// is optional: sessions still run when reports cannot be saved.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{Name: "quota", Check: a.checkLedger},
		{Name: "store", Check: a.store.Ping, Optional: true},
	}
}

func (a *App) checkLedger(ctx context.Context) error {
	if p, ok := a.ledger.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := a.ledger.Spent(ctx)
	return err
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next: log level, session and
// disruption settings. Changes to the remaining sections are logged and
// ignored until restart. A running session keeps its settings; the new
// ones apply from the next session start.
func (a *App) Reload(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, next)
	if d.Empty() {
		return d
	}

	applied := *a.cfg
	if d.LogLevelChanged {
		applied.Server.LogLevel = d.NewLogLevel
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
		}
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		applied.Session = next.Session
	}
	if d.DisruptionChanged {
		applied.Disruption = next.Disruption
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	a.cfg = &applied
	if d.SessionChanged || d.DisruptionChanged {
		slog.Info("config reloaded, takes effect at the next session",
			"session_changed", d.SessionChanged,
			"disruption_changed", d.DisruptionChanged)
	}
	return d
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP side-channel: health probes, Prometheus
// metrics, the orchestrator status and stored reports.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /reports", a.handleListReports)
	mux.HandleFunc("GET /reports/{id}", a.handleGetReport)
	return observe.Middleware(a.metrics)(mux)
}

// Run serves HTTP on the configured listen address and, when a console was
// configured, drives a session from it. It blocks until ctx is cancelled,
// the console input ends, or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	addr := a.Config().Server.ListenAddr
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.in != nil {
		g.Go(func() error {
			defer cancel()
			return a.newConsole().Run(gctx)
		})
	}

	slog.Info("app running", "console", a.in != nil)
	<-gctx.Done()
	return g.Wait()
}

func (a *App) newConsole() *Console {
	var opts []ConsoleOption
	if dev, ok := a.device.(*virtual.Device); ok && a.speech > 0 {
		opts = append(opts, WithSpeechFeed(dev, a.speech))
	}
	return NewConsole(a.sessions, a.in, a.out, opts...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends a running session, persisting its report, and then runs
// all closers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// End the session first so its report still reaches the store.
		if a.sessions.IsActive() {
			if _, err := a.sessions.Stop(ctx); err != nil {
				slog.Warn("end session on shutdown", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases resources after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

// ─── HTTP handlers ───────────────────────────────────────────────────────────

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.orch.Status())
}

func (a *App) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := a.store.ListReports(r.Context(), limit)
	if err != nil {
		slog.Warn("list reports", "err", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := a.store.GetReport(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "report not found", http.StatusNotFound)
	case err != nil:
		slog.Warn("get report", "err", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// providerLabel names a provider in metrics; unconfigured slots read "none".
func providerLabel(name string) string {
	if name == "" {
		return "none"
	}
	return name
}
