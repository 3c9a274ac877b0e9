// Package orchestrator coordinates one live training session.
//
// The [Orchestrator] owns the session lifecycle
//
//	idle → initializing → active ⇄ paused → completed → idle
//
// and wires its collaborators together: captured audio feeds the VAD,
// recognised utterances drive the conversation partner, replies are
// synthesised and played back, and the disruption engine and caller queue
// are consulted while a session is active.
//
// Lifecycle operations and turn cycles are serialised: only one of them runs
// at a time, and a later one waits for the earlier one to finish. Timer work
// of the disruption engine runs on the orchestrator's task queue and is
// drained before a session is torn down. Audio capture callbacks
// ([Orchestrator.HandleAudio]) may arrive concurrently with a turn; they only
// touch VAD state and can interrupt playback (barge-in).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/callcoach/internal/callqueue"
	"github.com/MrWong99/callcoach/internal/disruption"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/partner"
	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/taskqueue"
	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/provider/tts"
	"github.com/MrWong99/callcoach/pkg/provider/tts/canned"
	"github.com/MrWong99/callcoach/pkg/provider/vad"
	"github.com/MrWong99/callcoach/pkg/provider/vad/energy"
)

// Listener receives session notifications. Nil fields are skipped.
//
// Callbacks run synchronously, either on the control flow of the operation
// that caused them or on the audio capture goroutine (speech and barge-in
// events). They must not block and must not call lifecycle or turn methods
// of the Orchestrator.
type Listener struct {
	OnStateChange      func(from, to State)
	OnSpeechStart      func(level float64)
	OnSpeechEnd        func()
	OnTurn             func(t session.Turn)
	OnTTSStart         func(text string)
	OnTTSComplete      func(interrupted bool)
	OnBargeIn          func()
	OnCountdown        func(secondsRemaining int)
	OnCallerTransition func(next callqueue.Caller, status callqueue.Status)
	OnDisruption       func(ev disruption.Event)
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithVAD sets the VAD engine. Default: the energy detector.
func WithVAD(e vad.Engine) Option {
	return func(o *Orchestrator) {
		o.vadEngine = e
	}
}

// WithGate sets the quota gate for speech synthesis. Without a gate every
// session synthesises offline.
func WithGate(g *quota.Gate) Option {
	return func(o *Orchestrator) {
		o.gate = g
	}
}

// WithCosts sets the synthesis prices. Default: [quota.DefaultCosts].
func WithCosts(c quota.Costs) Option {
	return func(o *Orchestrator) {
		o.costs = c
	}
}

// WithPersister sets the persistence collaborator for final reports. Save
// failures are logged and swallowed.
func WithPersister(p session.Persister) Option {
	return func(o *Orchestrator) {
		o.reports = session.NewReportGuard(p)
	}
}

// WithMetrics records session metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithClock overrides the time source of the orchestrator and every
// component it owns.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep replaces blocking waits (playback, countdown). Tests use it to
// avoid wall-clock delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithRand seeds caller generation and disruption draws.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) {
		o.rng = r
	}
}

// WithIDGenerator overrides session ID generation. Default: random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithOfflineTTS sets the provider used in mock mode and whenever paid
// synthesis is skipped. Default: [canned.Provider].
func WithOfflineTTS(p tts.Provider) Option {
	return func(o *Orchestrator) {
		o.offline = p
	}
}

// WithFormat sets the PCM format of capture and playback.
func WithFormat(f audio.Format) Option {
	return func(o *Orchestrator) {
		o.format = f
	}
}

// Orchestrator is the session orchestrator. All exported methods are safe
// for concurrent use.
type Orchestrator struct {
	device    audio.Device
	partner   *partner.Partner
	tts       tts.Provider
	offline   tts.Provider
	vadEngine vad.Engine
	gate      *quota.Gate
	costs     quota.Costs
	reports   *session.ReportGuard
	metrics   *observe.Metrics
	log       *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	rng       *rand.Rand
	newID     func() string
	format    audio.Format

	tasks       *taskqueue.Queue
	disruptions *disruption.Engine
	queue       *callqueue.Queue

	// flow serialises lifecycle operations and turn cycles.
	flow sync.Mutex

	mu          sync.Mutex
	state       State
	cfg         SessionConfig
	sess        *session.Session
	tracker     *session.Tracker
	callTracker *session.Tracker
	vad         vad.SessionHandle
	speechStart time.Time
	spoken      time.Duration
	turnCancel  context.CancelFunc
	ttsCancel   context.CancelFunc
	counted     bool
	listeners   []Listener
}

// New returns an idle orchestrator playing through device, talking through
// p and synthesising with synth. synth may be nil, in which case every
// session synthesises offline.
func New(device audio.Device, p *partner.Partner, synth tts.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		device:  device,
		partner: p,
		tts:     synth,
		costs:   quota.DefaultCosts,
		reports: session.NewReportGuard(nil),
		log:     slog.Default(),
		now:     time.Now,
		sleep:   sleepCtx,
		newID:   uuid.NewString,
		format:  audio.DefaultFormat,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.vadEngine == nil {
		o.vadEngine = energy.New(energy.WithEngineClock(o.now))
	}
	if o.offline == nil {
		o.offline = canned.New(o.format)
	}

	o.tasks = taskqueue.New()

	dopts := []disruption.Option{
		disruption.WithClock(o.now),
		disruption.WithLogger(o.log),
		disruption.WithFormat(o.format),
	}
	qopts := []callqueue.Option{
		callqueue.WithClock(o.now),
		callqueue.WithSleep(o.sleep),
		callqueue.WithHistory(p),
	}
	if o.rng != nil {
		dopts = append(dopts, disruption.WithRand(o.rng))
		qopts = append(qopts, callqueue.WithRand(o.rng))
	}
	o.disruptions = disruption.New(o.tasks, dopts...)
	o.disruptions.OnEvent(o.onDisruption)
	o.queue = callqueue.New(qopts...)
	o.queue.OnTransition(o.onCallerTransition)
	return o
}

// AddListener registers l for every later notification.
func (o *Orchestrator) AddListener(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Disruptions returns the disruption engine, for hosts that trigger effects
// explicitly.
func (o *Orchestrator) Disruptions() *disruption.Engine { return o.disruptions }

// Queue returns the caller queue.
func (o *Orchestrator) Queue() *callqueue.Queue { return o.queue }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// StartSession starts a session with cfg, which is completed and validated
// with [NewSessionConfig]. Called while a session is running, it first
// forces a cleanup of the old one.
//
// Failure to obtain microphone permission is fatal; an unavailable audio
// device is logged and the session runs without capture. The initial
// greeting is not sent; call [Orchestrator.SendGreeting].
func (o *Orchestrator) StartSession(ctx context.Context, cfg SessionConfig) error {
	cfg, err := NewSessionConfig(cfg)
	if err != nil {
		return err
	}

	o.interrupt()
	o.flow.Lock()
	defer o.flow.Unlock()

	if st := o.State(); st != StateIdle {
		o.log.Warn("orchestrator: session start while not idle, forcing cleanup", "state", st)
		o.cleanupLocked()
	}
	if err := o.transition(StateInitializing); err != nil {
		return err
	}
	if err := o.initialize(ctx, cfg); err != nil {
		o.cleanupLocked()
		return err
	}
	return o.transition(StateActive)
}

func (o *Orchestrator) initialize(ctx context.Context, cfg SessionConfig) error {
	now := o.now()
	sess := session.New(o.newID(), cfg.Scenario, cfg.Language, cfg.Mode, now)
	stress := cfg.Mode == session.ModeStress

	if stress {
		err := o.queue.Initialize(callqueue.Config{
			Length:          cfg.QueueLength,
			InterCallDelay:  cfg.InterCallDelay,
			DifficultyCurve: cfg.DifficultyCurve,
			Voices:          cfg.Voices,
			Language:        cfg.Language,
			Scenario:        cfg.Scenario,
		})
		if err != nil {
			return fmt.Errorf("orchestrator: caller queue: %w", err)
		}
	}

	if cfg.Disruption.Enabled {
		if err := o.disruptions.Initialize(cfg.Disruption); err != nil {
			o.log.Warn("orchestrator: disruption engine not initialised", "err", err)
		} else {
			if cfg.Disruption.BackgroundNoise {
				o.disruptions.StartContinuousNoise()
			}
			o.disruptions.StartAutomaticDisruptions(0)
		}
	}

	o.partner.Initialize(partner.Context{
		Scenario:  cfg.Scenario,
		Language:  cfg.Language,
		Documents: cfg.ContextDocuments,
		Mock:      cfg.MockMode,
	})
	if stress {
		if c, ok := o.queue.CurrentCaller(); ok {
			o.partner.SetCaller(c)
		}
	}

	h, err := o.vadEngine.NewSession(vad.Config{
		Sensitivity:       cfg.Sensitivity,
		NoiseFloor:        cfg.NoiseFloor,
		MinSpeechDuration: cfg.MinSpeechDuration,
		SampleRate:        o.format.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: vad: %w", err)
	}

	o.mu.Lock()
	o.cfg = cfg
	o.sess = sess
	o.tracker = session.NewTracker(cfg.Language, now)
	o.callTracker = session.NewTracker(cfg.Language, now)
	o.vad = h
	o.speechStart = time.Time{}
	o.spoken = 0
	o.mu.Unlock()

	o.device.OnSample(o.HandleAudio)
	if err := o.device.StartRecording(ctx); err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("orchestrator: start recording: %w", err)
		}
		o.log.Warn("orchestrator: audio capture unavailable, continuing without it", "err", err)
	}

	if stress {
		o.queue.StartCallTimer()
	}
	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, 1)
		o.mu.Lock()
		o.counted = true
		o.mu.Unlock()
	}
	o.log.Info("session started",
		"session_id", sess.ID,
		"scenario", cfg.Scenario,
		"language", cfg.Language,
		"mode", cfg.Mode,
		"mock", cfg.MockMode)
	return nil
}

// PauseSession suspends an active session: playback is cut, capture and
// automatic disruptions stop and the caller timer is halted.
func (o *Orchestrator) PauseSession() error {
	if st := o.State(); st != StateActive {
		return invalidState("pause", st)
	}
	o.cancelSpeech()
	o.flow.Lock()
	defer o.flow.Unlock()

	if err := o.transition(StatePaused); err != nil {
		return err
	}
	o.disruptions.StopAutomaticDisruptions()
	if err := o.device.StopRecording(); err != nil {
		o.log.Warn("orchestrator: stop recording", "err", err)
	}
	if o.stress() {
		o.queue.StopCallTimer()
	}
	return nil
}

// ResumeSession continues a paused session.
func (o *Orchestrator) ResumeSession(ctx context.Context) error {
	o.flow.Lock()
	defer o.flow.Unlock()

	if st := o.State(); st != StatePaused {
		return invalidState("resume", st)
	}
	if err := o.device.StartRecording(ctx); err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("orchestrator: resume recording: %w", err)
		}
		o.log.Warn("orchestrator: audio capture unavailable, continuing without it", "err", err)
	}
	o.disruptions.StartAutomaticDisruptions(0)
	if o.stress() {
		o.queue.StartCallTimer()
	}
	return o.transition(StateActive)
}

// EndSession finishes an active or paused session: timers and continuous
// noise stop, final metrics and the report are computed, the report is
// handed to persistence and the orchestrator returns to idle. From any
// other state it fails with [ErrInvalidState] and changes nothing.
func (o *Orchestrator) EndSession(ctx context.Context) (*session.Report, error) {
	if st := o.State(); st != StateActive && st != StatePaused {
		return nil, invalidState("end session", st)
	}
	o.interrupt()
	o.flow.Lock()
	defer o.flow.Unlock()

	if st := o.State(); st != StateActive && st != StatePaused {
		return nil, invalidState("end session", st)
	}

	o.disruptions.StopAutomaticDisruptions()
	o.disruptions.StopContinuousNoise()
	o.tasks.Drain()
	if err := o.device.StopRecording(); err != nil {
		o.log.Warn("orchestrator: stop recording", "err", err)
	}

	var stress *session.StressSummary
	if o.stress() {
		o.queue.StopCallTimer()
		stress = o.queue.Summary()
	}
	events := o.disruptions.Events()

	o.mu.Lock()
	now := o.now()
	sess := o.sess
	emotion := sess.Metrics.EmotionalState
	sess.Metrics = o.tracker.Snapshot(now)
	sess.Metrics.EmotionalState = emotion
	sess.Finish(now)
	o.mu.Unlock()

	report := session.BuildReport(sess, events, stress)
	if err := o.transition(StateCompleted); err != nil {
		return nil, err
	}
	_ = o.reports.SaveReport(ctx, report)
	o.log.Info("session ended",
		"session_id", report.SessionID,
		"overall", report.Scores.Overall,
		"grade", report.Scores.Grade,
		"turns", len(report.Transcript))

	o.cleanupLocked()
	return report, nil
}

// Cleanup stops every timer, capture and in-flight turn and returns to idle
// without producing a report. It is safe to call in any state.
func (o *Orchestrator) Cleanup() {
	o.interrupt()
	o.flow.Lock()
	defer o.flow.Unlock()
	o.cleanupLocked()
}

// Close cleans up and stops the task queue. The orchestrator cannot be used
// afterwards.
func (o *Orchestrator) Close() {
	o.Cleanup()
	o.tasks.Close()
}

// cleanupLocked resets everything to the pre-session defaults. o.flow must
// be held.
func (o *Orchestrator) cleanupLocked() {
	o.disruptions.StopAutomaticDisruptions()
	o.disruptions.StopContinuousNoise()
	o.tasks.Drain()
	o.disruptions.Reset()
	o.device.OnSample(nil)
	if err := o.device.StopRecording(); err != nil {
		o.log.Debug("orchestrator: stop recording during cleanup", "err", err)
	}
	o.queue.Reset()
	o.partner.ClearHistory()

	o.mu.Lock()
	from := o.state
	if o.vad != nil {
		_ = o.vad.Close()
	}
	o.state = StateIdle
	o.cfg = SessionConfig{}
	o.sess = nil
	o.tracker = nil
	o.callTracker = nil
	o.vad = nil
	o.speechStart = time.Time{}
	o.spoken = 0
	counted := o.counted
	o.counted = false
	o.mu.Unlock()

	if counted {
		o.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if from != StateIdle {
		o.emit(func(l Listener) {
			if l.OnStateChange != nil {
				l.OnStateChange(from, StateIdle)
			}
		})
	}
}

// transition moves to state to if the lifecycle allows it.
func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	from := o.state
	if !canTransition(from, to) {
		o.mu.Unlock()
		return invalidState("transition to "+to.String(), from)
	}
	o.state = to
	o.mu.Unlock()

	o.log.Debug("orchestrator: state change", "from", from, "to", to)
	o.emit(func(l Listener) {
		if l.OnStateChange != nil {
			l.OnStateChange(from, to)
		}
	})
	return nil
}

// interrupt cancels the in-flight turn and playback, if any.
func (o *Orchestrator) interrupt() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turnCancel != nil {
		o.turnCancel()
	}
	if o.ttsCancel != nil {
		o.ttsCancel()
	}
}

func (o *Orchestrator) cancelSpeech() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ttsCancel != nil {
		o.ttsCancel()
	}
}

func (o *Orchestrator) stress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.Mode == session.ModeStress
}

func (o *Orchestrator) emit(fn func(Listener)) {
	o.mu.Lock()
	ls := append([]Listener(nil), o.listeners...)
	o.mu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

func (o *Orchestrator) onDisruption(ev disruption.Event) {
	if o.metrics != nil {
		o.metrics.RecordDisruption(context.Background(), string(ev.Type))
	}
	o.emit(func(l Listener) {
		if l.OnDisruption != nil {
			l.OnDisruption(ev)
		}
	})
}

// onCallerTransition runs after the queue advanced and cleared the partner
// history.
func (o *Orchestrator) onCallerTransition(next callqueue.Caller, status callqueue.Status) {
	o.partner.SetCaller(next)

	o.mu.Lock()
	if o.sess != nil {
		o.callTracker = session.NewTracker(o.cfg.Language, o.now())
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.CallerTransitions.Add(context.Background(), 1)
	}
	o.emit(func(l Listener) {
		if l.OnCallerTransition != nil {
			l.OnCallerTransition(next, status)
		}
	})
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State             State                         `json:"state"`
	SessionID         string                        `json:"session_id,omitempty"`
	Scenario          string                        `json:"scenario,omitempty"`
	Language          string                        `json:"language,omitempty"`
	Mode              session.Mode                  `json:"mode,omitempty"`
	MockMode          bool                          `json:"mock_mode"`
	Elapsed           time.Duration                 `json:"elapsed"`
	Metrics           session.Metrics               `json:"metrics"`
	Turns             int                           `json:"turns"`
	Speaking          bool                          `json:"speaking"`
	TTSActive         bool                          `json:"tts_active"`
	MicMuted          bool                          `json:"mic_muted"`
	ConnectionDropped bool                          `json:"connection_dropped"`
	ActiveDisruptions []disruption.ActiveDisruption `json:"active_disruptions,omitempty"`
	Queue             *callqueue.Status             `json:"queue,omitempty"`
}

// Status returns a snapshot of the current session.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	s := Status{State: o.state, TTSActive: o.ttsCancel != nil}
	stress := false
	if o.sess != nil {
		s.SessionID = o.sess.ID
		s.Scenario = o.sess.Scenario
		s.Language = o.sess.Language
		s.Mode = o.sess.Mode
		s.MockMode = o.cfg.MockMode
		s.Elapsed = o.now().Sub(o.sess.StartedAt)
		s.Metrics = o.sess.Metrics
		s.Turns = len(o.sess.Turns)
		stress = o.sess.Mode == session.ModeStress
	}
	if o.vad != nil {
		s.Speaking = o.vad.Speaking()
	}
	o.mu.Unlock()

	s.MicMuted = o.disruptions.MicMuted()
	s.ConnectionDropped = o.disruptions.ConnectionDropped()
	s.ActiveDisruptions = o.disruptions.ActiveDisruptions()
	if stress {
		qs := o.queue.Status()
		s.Queue = &qs
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
