// Package callqueue runs the caller queue of a stress-mode session: a
// one-shot generated sequence of synthetic callers with rising difficulty,
// an endurance score (stamina) that follows the user's performance, and the
// timed hand-over from one caller to the next.
//
// A [Queue] is owned by the session orchestrator. Its methods are safe for
// concurrent use, but [Queue.TransitionToNext] blocks for the whole
// inter-call countdown and is expected to be called from the orchestrator's
// control flow only.
package callqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/pkg/provider/tts"
)

// ErrNotInitialized is returned by operations that need a generated queue.
var ErrNotInitialized = errors.New("callqueue: not initialized")

// Stamina model constants.
const (
	InitialStamina = 100.0
	// Below LowPerformance stamina drains, above HighPerformance it recovers.
	LowPerformance  = 60.0
	HighPerformance = 80.0
	// DecayPerMinute is drained for time spent between stamina updates.
	DecayPerMinute = 0.2
)

// Config configures a queue.
type Config struct {
	// Length is the number of callers. Must be > 0.
	Length int
	// InterCallDelay is the countdown between callers, in whole seconds.
	InterCallDelay time.Duration
	// DifficultyCurve in [0, 100] controls how steeply difficulty ramps up.
	DifficultyCurve int
	// Voices is the pool of synthesised voices dealt to callers.
	Voices []tts.VoiceProfile
	// Language selects the display-name pool.
	Language string
	// Scenario is copied onto every caller and shapes its objective.
	Scenario string
}

// Validate checks cfg.
func (c Config) Validate() error {
	var errs []error
	if c.Length <= 0 {
		errs = append(errs, fmt.Errorf("callqueue: queue length must be positive, got %d", c.Length))
	}
	if c.InterCallDelay < 0 {
		errs = append(errs, fmt.Errorf("callqueue: negative inter-call delay %s", c.InterCallDelay))
	}
	if c.DifficultyCurve < 0 || c.DifficultyCurve > 100 {
		errs = append(errs, fmt.Errorf("callqueue: difficulty curve %d outside [0, 100]", c.DifficultyCurve))
	}
	return errors.Join(errs...)
}

// Status is a snapshot of the queue.
type Status struct {
	Position    int           `json:"position"`
	Total       int           `json:"total"`
	Stamina     float64       `json:"stamina"`
	Caller      Caller        `json:"caller"`
	CallElapsed time.Duration `json:"call_elapsed"`
	Last        bool          `json:"last"`
}

// HistoryClearer drops the partner's conversation history while keeping its
// session-level settings. The conversation partner implements it.
type HistoryClearer interface {
	ClearHistory()
}

// TransitionListener is notified after every caller change.
type TransitionListener func(next Caller, status Status)

// Option configures a [Queue].
type Option func(*Queue)

// WithRand sets the random source used for generation.
func WithRand(r *rand.Rand) Option {
	return func(q *Queue) {
		q.rng = r
	}
}

// WithClock overrides the time source of call timers and stamina samples.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithSleep replaces the countdown's one-second wait. Tests use it to avoid
// wall-clock delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) {
		q.sleep = sleep
	}
}

// WithHistory sets the conversation whose history is cleared on transition.
func WithHistory(h HistoryClearer) Option {
	return func(q *Queue) {
		q.history = h
	}
}

// WithPerformance sets the source of the metrics of the exchange that just
// completed; stamina is updated from it on every transition.
func WithPerformance(fn func() session.Metrics) Option {
	return func(q *Queue) {
		q.performance = fn
	}
}

// Queue is the caller queue and stamina model.
type Queue struct {
	rng         *rand.Rand
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	history     HistoryClearer
	performance func() session.Metrics

	mu        sync.Mutex
	cfg       Config
	callers   []Caller
	idx       int
	stamina   float64
	samples   []session.StaminaSample
	lastDecay time.Time
	callStart time.Time
	elapsed   []time.Duration
	listeners []TransitionListener
}

// New returns an uninitialised queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		now:     time.Now,
		sleep:   sleepCtx,
		stamina: InitialStamina,
	}
	for _, o := range opts {
		o(q)
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xca11))
	}
	return q
}

// Initialize validates cfg and generates the queue. Stamina restarts at
// [InitialStamina] and the history is emptied. Listeners are kept.
func (q *Queue) Initialize(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg = cfg
	q.callers = GenerateQueue(cfg.Length, cfg.DifficultyCurve, cfg.Voices, cfg.Language, q.rng)
	for i := range q.callers {
		q.callers[i].Brief(cfg.Scenario)
	}
	q.idx = 0
	q.stamina = InitialStamina
	q.samples = nil
	q.lastDecay = q.now()
	q.callStart = time.Time{}
	q.elapsed = make([]time.Duration, len(q.callers))
	return nil
}

// Callers returns a copy of the generated queue.
func (q *Queue) Callers() []Caller {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Caller(nil), q.callers...)
}

// CurrentCaller returns the caller at the current position.
func (q *Queue) CurrentCaller() (Caller, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.callers) == 0 {
		return Caller{}, false
	}
	return q.callers[q.idx], true
}

// OnTransition registers a listener called after every caller change.
func (q *Queue) OnTransition(fn TransitionListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// StartCallTimer starts timing the current caller.
func (q *Queue) StartCallTimer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callStart = q.now()
}

// StopCallTimer stops the current caller's timer and returns the time spent
// with that caller. Stopping a stopped timer returns the recorded time.
func (q *Queue) StopCallTimer() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopTimerLocked()
}

func (q *Queue) stopTimerLocked() time.Duration {
	if len(q.callers) == 0 {
		return 0
	}
	if !q.callStart.IsZero() {
		q.elapsed[q.idx] += q.now().Sub(q.callStart)
		q.callStart = time.Time{}
	}
	return q.elapsed[q.idx]
}

// Stamina returns the current stamina.
func (q *Queue) Stamina() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stamina
}

// StaminaHistory returns a copy of every stamina update so far.
func (q *Queue) StaminaHistory() []session.StaminaSample {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]session.StaminaSample(nil), q.samples...)
}

// UpdateStamina folds the metrics of a completed exchange into stamina and
// returns the new value. Performance below 60 drains up to 1 point, above 80
// recovers up to 2 points. The time since the previous update (or since
// Initialize) drains [DecayPerMinute] on top. The result is clamped to
// [0, 100] and appended to the history.
func (q *Queue) UpdateStamina(m session.Metrics) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updateStaminaLocked(m)
}

func (q *Queue) updateStaminaLocked(m session.Metrics) float64 {
	now := q.now()
	perf := session.PerformanceScore(m)
	if !q.lastDecay.IsZero() {
		q.stamina = Decay(q.stamina, now.Sub(q.lastDecay))
	}
	q.stamina = NextStamina(q.stamina, perf)
	q.lastDecay = now
	q.samples = append(q.samples, session.StaminaSample{
		At:          now,
		Stamina:     q.stamina,
		Performance: perf,
		Metrics:     m,
	})
	return q.stamina
}

// NextStamina applies one performance score to stamina.
func NextStamina(stamina, performance float64) float64 {
	switch {
	case performance < LowPerformance:
		stamina -= 0.1 * ((LowPerformance - performance) / LowPerformance) * 10
	case performance > HighPerformance:
		stamina += ((performance - HighPerformance) / 20) * 2
	}
	return min(max(stamina, 0), 100)
}

// Decay drains stamina for elapsed time. Non-positive durations leave it
// unchanged; the result is clamped to [0, 100].
func Decay(stamina float64, elapsed time.Duration) float64 {
	if elapsed > 0 {
		stamina -= elapsed.Minutes() * DecayPerMinute
	}
	return min(max(stamina, 0), 100)
}

// Status returns a snapshot of the queue.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	s := Status{
		Position: q.idx,
		Total:    len(q.callers),
		Stamina:  q.stamina,
	}
	if len(q.callers) == 0 {
		return s
	}
	s.Caller = q.callers[q.idx]
	s.Last = q.idx == len(q.callers)-1
	s.CallElapsed = q.elapsed[q.idx]
	if !q.callStart.IsZero() {
		s.CallElapsed += q.now().Sub(q.callStart)
	}
	return s
}

// TransitionToNext hands over to the next caller. At the last position it
// does nothing and returns nil, nil.
//
// Otherwise it stops the current call timer, updates stamina from the
// completed exchange, advances, and then blocks for the inter-call countdown,
// calling onCountdown once per remaining second and finally with 0. After
// the countdown the partner's history is cleared, the new call timer starts
// and every transition listener is notified.
//
// If ctx ends during the countdown the queue has already advanced; the
// history is still cleared but the timer is not started and listeners are
// not called.
func (q *Queue) TransitionToNext(ctx context.Context, onCountdown func(secondsRemaining int)) (*Caller, error) {
	q.mu.Lock()
	if len(q.callers) == 0 {
		q.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if q.idx >= len(q.callers)-1 {
		q.mu.Unlock()
		return nil, nil
	}
	q.stopTimerLocked()
	if q.performance != nil {
		q.updateStaminaLocked(q.performance())
	}
	q.idx++
	next := q.callers[q.idx]
	seconds := int(q.cfg.InterCallDelay / time.Second)
	q.mu.Unlock()

	err := q.countdown(ctx, seconds, onCountdown)
	if q.history != nil {
		q.history.ClearHistory()
	}
	if err != nil {
		return &next, err
	}

	q.mu.Lock()
	q.callStart = q.now()
	status := q.statusLocked()
	listeners := append([]TransitionListener(nil), q.listeners...)
	q.mu.Unlock()

	slog.Info("caller transition",
		"position", next.Position,
		"mood", next.Mood,
		"difficulty", next.Difficulty,
		"stamina", status.Stamina)
	for _, fn := range listeners {
		fn(next, status)
	}
	return &next, nil
}

func (q *Queue) countdown(ctx context.Context, seconds int, onCountdown func(int)) error {
	for s := seconds; s > 0; s-- {
		if onCountdown != nil {
			onCountdown(s)
		}
		if err := q.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	if onCountdown != nil {
		onCountdown(0)
	}
	return nil
}

// Summary returns the stress-mode part of the session report: final stamina,
// the callers reached so far and the stamina history.
func (q *Queue) Summary() *session.StressSummary {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.callers) == 0 {
		return nil
	}
	s := &session.StressSummary{
		FinalStamina:   q.stamina,
		CallersReached: q.idx + 1,
		StaminaHistory: append([]session.StaminaSample(nil), q.samples...),
	}
	for _, c := range q.callers[:q.idx+1] {
		s.Callers = append(s.Callers, session.CallerSummary{
			Position:   c.Position,
			Name:       c.Name,
			Mood:       string(c.Mood),
			Difficulty: c.Difficulty,
		})
	}
	return s
}

// Reset discards the queue. Listeners are kept.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg = Config{}
	q.callers = nil
	q.idx = 0
	q.stamina = InitialStamina
	q.samples = nil
	q.lastDecay = time.Time{}
	q.callStart = time.Time{}
	q.elapsed = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
