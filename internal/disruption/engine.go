// Package disruption injects simulated environmental faults into a training
// call: voice distortion of the partner's speech, background noise and
// hardware failures (muted microphone, dropped connection).
//
// Every mutating method is a no-op while the configuration is disabled, so a
// timer task that fires after the engine was reset cannot change anything.
// Timers are never created directly; they are scheduled through a
// [Scheduler] (normally a [taskqueue.Queue]) so that their callbacks run
// serialised with the rest of the session's timer work.
package disruption

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/internal/taskqueue"
	"github.com/MrWong99/callcoach/pkg/audio"
)

const (
	// maxEvents is the soft cap of the event log.
	maxEvents = 1000
	// trimEvents is the number of most recent events kept after trimming.
	trimEvents = 500
)

// Scheduler schedules timer callbacks. [taskqueue.Queue] implements it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) taskqueue.Cancel
	Every(interval time.Duration, fn func()) taskqueue.Cancel
}

// Option configures an [Engine].
type Option func(*Engine)

// WithRand sets the random source. Tests use a fixed seed.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithFormat sets the PCM format of processed audio.
func WithFormat(f audio.Format) Option {
	return func(e *Engine) {
		e.format = f
	}
}

// Engine is the disruption engine. All methods are safe for concurrent use.
type Engine struct {
	sched  Scheduler
	now    func() time.Time
	log    *slog.Logger
	format audio.Format

	mu        sync.Mutex
	rng       *rand.Rand
	cfg       Config
	active    []ActiveDisruption
	events    []Event
	nextID    uint64
	micMuted  bool
	connDrop  bool
	lastHW    time.Time
	clears    map[uint64]taskqueue.Cancel
	autoStop  taskqueue.Cancel
	noiseID   uint64
	noise     noiseState
	listeners []func(Event)
}

// New returns a disabled engine that schedules its timers on sched.
func New(sched Scheduler, opts ...Option) *Engine {
	e := &Engine{
		sched:  sched,
		now:    time.Now,
		log:    slog.Default(),
		format: audio.DefaultFormat,
		clears: make(map[uint64]taskqueue.Cancel),
	}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return e
}

// Initialize validates cfg, stops every timer and clears all active
// disruptions, the event log and the hardware flags.
func (e *Engine) Initialize(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.NoiseType != "" && !cfg.NoiseType.IsValid() {
		e.log.Warn("disruption: unknown noise type, using default",
			"noise_type", cfg.NoiseType, "default", DefaultNoiseType)
		cfg.NoiseType = DefaultNoiseType
	}
	if cfg.NoiseType == "" {
		cfg.NoiseType = DefaultNoiseType
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.cfg = cfg
	return nil
}

// Reset stops every timer and returns the engine to a disabled, empty state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.cfg = Config{}
}

func (e *Engine) resetLocked() {
	if e.autoStop != nil {
		e.autoStop()
		e.autoStop = nil
	}
	for id, cancel := range e.clears {
		cancel()
		delete(e.clears, id)
	}
	e.active = nil
	e.events = nil
	e.micMuted = false
	e.connDrop = false
	e.lastHW = time.Time{}
	e.noiseID = 0
	e.noise = noiseState{}
}

// OnEvent registers a listener invoked after every logged event. Listeners
// run on the caller's goroutine after the engine lock is released.
func (e *Engine) OnEvent(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Enabled reports whether the engine is enabled.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Enabled
}

// ApplyVoiceVariation distorts pcm by pitch and speed and returns a buffer of
// the same length. Nil params, or zero fields, are drawn from the default
// ranges. While disabled, pcm is returned unchanged.
func (e *Engine) ApplyVoiceVariation(pcm []byte, params *VoiceParams) []byte {
	e.mu.Lock()
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return pcm
	}
	p := e.voiceParamsLocked(params)
	out := applyVoice(pcm, p)
	ev := e.logLocked(Event{Type: EventVoiceVariation, Voice: &p})
	fns := e.listenersLocked()
	e.mu.Unlock()

	e.notify(fns, ev)
	return out
}

func (e *Engine) voiceParamsLocked(params *VoiceParams) VoiceParams {
	var p VoiceParams
	if params != nil {
		p = *params
	}
	if p.Pitch <= 0 {
		p.Pitch = e.uniformLocked(MinPitch, MaxPitch)
	}
	if p.Speed <= 0 {
		p.Speed = e.uniformLocked(MinSpeed, MaxSpeed)
	}
	if p.Intensity <= 0 {
		p.Intensity = e.uniformLocked(MinIntensity, MaxIntensity)
	}
	return p
}

// InjectBackgroundNoise mixes generated noise into pcm and returns a buffer
// of the same length. An empty noiseType uses the configured type; an unknown
// one falls back to DefaultNoiseType with a warning. intensity <= 0 uses the
// configured intensity. While disabled, pcm is returned unchanged.
func (e *Engine) InjectBackgroundNoise(pcm []byte, noiseType NoiseType, intensity float64) []byte {
	e.mu.Lock()
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return pcm
	}
	nt := e.resolveNoiseLocked(noiseType)
	if intensity <= 0 {
		intensity = e.cfg.Intensity
	}
	intensity = min(intensity, 1)
	out := mixNoise(pcm, nt, intensity, e.rng, &e.noise, e.format.SampleRate)
	ev := e.logLocked(Event{Type: EventBackgroundNoise, Noise: nt, Intensity: intensity})
	fns := e.listenersLocked()
	e.mu.Unlock()

	e.notify(fns, ev)
	return out
}

func (e *Engine) resolveNoiseLocked(nt NoiseType) NoiseType {
	if nt == "" {
		nt = e.cfg.NoiseType
	}
	if !nt.IsValid() {
		e.log.Warn("disruption: unknown noise type, using default",
			"noise_type", nt, "default", DefaultNoiseType)
		nt = DefaultNoiseType
	}
	return nt
}

// SimulateHardwareFailure raises a mic-mute or connection-drop fault for d
// (or indefinitely when d is Continuous). It reports whether a failure was
// raised: calls while disabled or within HardwareCooldown of the previous
// failure do nothing. The flag and the active disruption are cleared by a
// scheduled task once d elapses.
func (e *Engine) SimulateHardwareFailure(kind HardwareFailure, d time.Duration) (bool, error) {
	switch kind {
	case MicMute, ConnectionDrop, RandomFailure:
	default:
		return false, errInvalidFailure(kind)
	}

	e.mu.Lock()
	ok, ev := e.hardwareFailureLocked(kind, d)
	fns := e.listenersLocked()
	e.mu.Unlock()

	if ok {
		e.notify(fns, ev)
	}
	return ok, nil
}

func (e *Engine) hardwareFailureLocked(kind HardwareFailure, d time.Duration) (bool, Event) {
	if !e.cfg.Enabled {
		return false, Event{}
	}
	now := e.now()
	if !e.lastHW.IsZero() && now.Sub(e.lastHW) < HardwareCooldown {
		return false, Event{}
	}
	if kind == RandomFailure {
		kind = MicMute
		if e.rng.IntN(2) == 1 {
			kind = ConnectionDrop
		}
	}
	e.lastHW = now

	switch kind {
	case MicMute:
		e.micMuted = true
	case ConnectionDrop:
		e.connDrop = true
	}
	ev := e.logLocked(Event{Type: EventHardwareFailure, Failure: kind, Duration: d})
	id := e.addActiveLocked(ev)

	if d != Continuous && e.sched != nil {
		e.clears[id] = e.sched.AfterFunc(d, func() { e.clearHardware(id) })
	}
	return true, ev
}

func (e *Engine) clearHardware(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clears, id)
	if e.removeActiveLocked(id) {
		e.recomputeFlagsLocked()
	}
}

// ActiveDisruptions prunes expired, non-continuous disruptions and returns a
// copy of the remaining ones.
func (e *Engine) ActiveDisruptions() []ActiveDisruption {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	out := make([]ActiveDisruption, len(e.active))
	copy(out, e.active)
	return out
}

func (e *Engine) pruneLocked() {
	now := e.now()
	kept := e.active[:0]
	pruned := false
	for _, a := range e.active {
		if a.Expired(now) {
			pruned = true
			if cancel, ok := e.clears[a.ID]; ok {
				cancel()
				delete(e.clears, a.ID)
			}
			continue
		}
		kept = append(kept, a)
	}
	clear(e.active[len(kept):])
	e.active = kept
	if pruned {
		e.recomputeFlagsLocked()
	}
}

// recomputeFlagsLocked derives the hardware flags from the remaining active
// hardware failures, so overlapping faults of the same kind clear correctly.
func (e *Engine) recomputeFlagsLocked() {
	e.micMuted, e.connDrop = false, false
	for _, a := range e.active {
		if a.Event.Type != EventHardwareFailure {
			continue
		}
		switch a.Event.Failure {
		case MicMute:
			e.micMuted = true
		case ConnectionDrop:
			e.connDrop = true
		}
	}
}

// MicMuted reports whether a mic-mute fault is in effect.
func (e *Engine) MicMuted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	return e.micMuted
}

// ConnectionDropped reports whether a connection-drop fault is in effect.
func (e *Engine) ConnectionDropped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	return e.connDrop
}

// Events returns a copy of the event log, oldest first.
func (e *Engine) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// StartContinuousNoise registers an indefinite background-noise disruption
// that [Engine.Process] mixes into every buffer until StopContinuousNoise.
// It does nothing unless the engine and its background-noise effect are
// enabled, or if continuous noise is already running.
func (e *Engine) StartContinuousNoise() {
	e.mu.Lock()
	if !e.cfg.Enabled || !e.cfg.BackgroundNoise || e.noiseID != 0 {
		e.mu.Unlock()
		return
	}
	ev := e.logLocked(Event{
		Type:      EventBackgroundNoise,
		Noise:     e.cfg.NoiseType,
		Intensity: e.cfg.Intensity,
		Duration:  Continuous,
	})
	e.noiseID = e.addActiveLocked(ev)
	fns := e.listenersLocked()
	e.mu.Unlock()

	e.notify(fns, ev)
}

// StopContinuousNoise removes the continuous noise disruption, if any.
func (e *Engine) StopContinuousNoise() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.noiseID == 0 {
		return
	}
	e.removeActiveLocked(e.noiseID)
	e.noiseID = 0
}

// StartAutomaticDisruptions starts a periodic tick. interval <= 0 uses the
// configured frequency. On each tick a uniform draw below the configured
// intensity triggers one random enabled disruption type. Calling it again
// replaces the running ticker.
func (e *Engine) StartAutomaticDisruptions(interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Enabled || e.sched == nil {
		return
	}
	if interval <= 0 {
		interval = e.cfg.Frequency
	}
	if interval <= 0 {
		e.log.Debug("disruption: no frequency configured, automatic disruptions off")
		return
	}
	if e.autoStop != nil {
		e.autoStop()
	}
	e.autoStop = e.sched.Every(interval, func() { e.Tick() })
}

// StopAutomaticDisruptions stops the periodic tick.
func (e *Engine) StopAutomaticDisruptions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autoStop != nil {
		e.autoStop()
		e.autoStop = nil
	}
}

// Tick runs one automatic-disruption draw. It is exported for schedulers
// and tests; it reports whether a disruption fired.
func (e *Engine) Tick() bool {
	e.mu.Lock()
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return false
	}
	if e.rng.Float64() >= e.cfg.Intensity {
		e.mu.Unlock()
		return false
	}

	var kinds []EventType
	if e.cfg.VoiceVariation {
		kinds = append(kinds, EventVoiceVariation)
	}
	if e.cfg.BackgroundNoise {
		kinds = append(kinds, EventBackgroundNoise)
	}
	if e.cfg.HardwareFailure {
		kinds = append(kinds, EventHardwareFailure)
	}
	if len(kinds) == 0 {
		e.mu.Unlock()
		return false
	}

	var (
		fired bool
		ev    Event
	)
	switch kinds[e.rng.IntN(len(kinds))] {
	case EventVoiceVariation:
		p := e.voiceParamsLocked(nil)
		ev = e.logLocked(Event{Type: EventVoiceVariation, Voice: &p, Duration: e.burstLocked(3, 8)})
		e.addActiveLocked(ev)
		fired = true
	case EventBackgroundNoise:
		nt := NoiseTypes[e.rng.IntN(len(NoiseTypes))]
		ev = e.logLocked(Event{Type: EventBackgroundNoise, Noise: nt, Intensity: e.cfg.Intensity, Duration: e.burstLocked(3, 8)})
		e.addActiveLocked(ev)
		fired = true
	case EventHardwareFailure:
		fired, ev = e.hardwareFailureLocked(RandomFailure, e.burstLocked(1, 4))
	}
	fns := e.listenersLocked()
	e.mu.Unlock()

	if fired {
		e.notify(fns, ev)
	}
	return fired
}

// Process applies every active voice-variation and background-noise
// disruption to a buffer of outgoing partner speech. Unlike the explicit
// effect methods it does not log events; the disruptions were logged when
// they started. Returns pcm unchanged while disabled or when nothing is
// active.
func (e *Engine) Process(pcm []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.Enabled {
		return pcm
	}
	e.pruneLocked()
	out := pcm
	for _, a := range e.active {
		switch a.Event.Type {
		case EventVoiceVariation:
			if a.Event.Voice != nil {
				out = applyVoice(out, *a.Event.Voice)
			}
		case EventBackgroundNoise:
			out = mixNoise(out, a.Event.Noise, a.Event.Intensity, e.rng, &e.noise, e.format.SampleRate)
		}
	}
	return out
}

func (e *Engine) burstLocked(minSec, maxSec float64) time.Duration {
	return time.Duration(e.uniformLocked(minSec, maxSec) * float64(time.Second))
}

func (e *Engine) uniformLocked(lo, hi float64) float64 {
	return lo + e.rng.Float64()*(hi-lo)
}

func (e *Engine) logLocked(ev Event) Event {
	ev.Timestamp = e.now()
	e.events = append(e.events, ev)
	if len(e.events) > maxEvents {
		kept := make([]Event, trimEvents)
		copy(kept, e.events[len(e.events)-trimEvents:])
		e.events = kept
	}
	return ev
}

func (e *Engine) addActiveLocked(ev Event) uint64 {
	e.nextID++
	e.active = append(e.active, ActiveDisruption{ID: e.nextID, Event: ev, Start: ev.Timestamp})
	return e.nextID
}

func (e *Engine) removeActiveLocked(id uint64) bool {
	for i, a := range e.active {
		if a.ID == id {
			e.active = append(e.active[:i], e.active[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Engine) listenersLocked() []func(Event) {
	if len(e.listeners) == 0 {
		return nil
	}
	fns := make([]func(Event), len(e.listeners))
	copy(fns, e.listeners)
	return fns
}

func (e *Engine) notify(fns []func(Event), ev Event) {
	for _, fn := range fns {
		fn(ev)
	}
}
