package orchestrator

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callcoach/internal/callqueue"
	"github.com/MrWong99/callcoach/internal/partner"
	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/internal/resilience"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/internal/store/memory"
	"github.com/MrWong99/callcoach/pkg/audio"
	audiomock "github.com/MrWong99/callcoach/pkg/audio/mock"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/callcoach/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/callcoach/pkg/provider/tts/mock"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fixture struct {
	orch   *Orchestrator
	dev    *audiomock.Device
	llm    *llmmock.Provider
	tts    *ttsmock.Provider
	ledger *quota.MemoryLedger
	store  *memory.Store
	clock  *fakeClock
}

func newFixture(t *testing.T, budget float64) *fixture {
	t.Helper()
	f := &fixture{
		dev: &audiomock.Device{},
		llm: &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{
				Content: "Why has my order still not arrived?",
				Usage:   llm.Usage{TotalTokens: 200},
			},
		},
		tts:    &ttsmock.Provider{StreamChunks: [][]byte{make([]byte, 3200)}},
		ledger: quota.NewMemoryLedger(budget),
		store:  memory.New(),
		clock:  newFakeClock(),
	}
	policy := resilience.DefaultRetryPolicy("test")
	policy.Sleep = noSleep
	gate := quota.NewGate(f.ledger, policy)

	p := partner.New(f.llm, gate)
	f.orch = New(f.dev, p, f.tts,
		WithGate(gate),
		WithPersister(f.store),
		WithClock(f.clock.Now),
		WithSleep(noSleep),
		WithIDGenerator(func() string { return "sess-1" }),
	)
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) start(t *testing.T, cfg SessionConfig) {
	t.Helper()
	if err := f.orch.StartSession(context.Background(), cfg); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
}

func TestHandleUtterance_MockModeStaysOffline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.start(t, SessionConfig{Scenario: "customer_service", MockMode: true})

	f.clock.Advance(5 * time.Second)
	turn, err := f.orch.HandleUtterance(context.Background(), "Good morning, how can I help you today?")
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if turn.Speaker != session.SpeakerPartner || !turn.Fallback || turn.Text == "" {
		t.Errorf("turn = %+v, want canned partner turn", turn)
	}
	if n := f.llm.CompleteCallCount(); n != 0 {
		t.Errorf("llm called %d times in mock mode", n)
	}
	if n := len(f.tts.SynthesizeStreamCalls); n != 0 {
		t.Errorf("tts called %d times in mock mode", n)
	}
	if len(f.dev.Played) == 0 {
		t.Error("expected offline audio to be played")
	}
	if spent, _ := f.ledger.Spent(context.Background()); spent != 0 {
		t.Errorf("spent = %v, want 0", spent)
	}
	if st := f.orch.Status(); st.Turns != 2 || st.Metrics.WordCount != 8 {
		t.Errorf("status = %+v, want 2 turns and 8 words", st)
	}
}

func TestHandleUtterance_Live(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.start(t, SessionConfig{Scenario: "customer_service"})

	var mu sync.Mutex
	var events []string
	f.orch.AddListener(Listener{
		OnTurn: func(tr session.Turn) {
			mu.Lock()
			events = append(events, "turn:"+string(tr.Speaker))
			mu.Unlock()
		},
		OnTTSStart: func(string) {
			mu.Lock()
			events = append(events, "tts-start")
			mu.Unlock()
		},
		OnTTSComplete: func(interrupted bool) {
			mu.Lock()
			events = append(events, "tts-done")
			mu.Unlock()
			if interrupted {
				t.Error("playback reported as interrupted")
			}
		},
	})

	turn, err := f.orch.HandleUtterance(context.Background(), "Hello, thanks for calling.")
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if turn.Fallback || turn.Text != "Why has my order still not arrived?" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Emotion != session.EmotionFrustrated {
		t.Errorf("emotion = %q, want frustrated from keywords", turn.Emotion)
	}
	if n := len(f.tts.SynthesizeStreamCalls); n != 1 {
		t.Errorf("tts stream calls = %d, want 1", n)
	}
	if f.ledger.SpentBy(quota.ServiceTTS) <= 0 || f.ledger.SpentBy(quota.ServiceLLM) <= 0 {
		t.Error("expected both services to be debited")
	}

	want := []string{"turn:user", "turn:partner", "tts-start", "tts-done"}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestHandleUtterance_QuotaExhaustedFallsBackOffline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1e-9)
	f.start(t, SessionConfig{Scenario: "sales"})

	turn, err := f.orch.HandleUtterance(context.Background(), "Let me tell you about our offer.")
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if !turn.Fallback {
		t.Errorf("turn = %+v, want fallback", turn)
	}
	if n := f.llm.CompleteCallCount(); n != 0 {
		t.Errorf("llm called %d times over budget", n)
	}
	if n := len(f.tts.SynthesizeStreamCalls); n != 0 {
		t.Errorf("tts called %d times over budget", n)
	}
	if len(f.dev.Played) == 0 {
		t.Error("expected offline audio")
	}
}

func TestHandleUtterance_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)

	if _, err := f.orch.HandleUtterance(context.Background(), "hello"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("idle: err = %v, want ErrInvalidState", err)
	}
	f.start(t, SessionConfig{Scenario: "sales", MockMode: true})
	if _, err := f.orch.HandleUtterance(context.Background(), "   "); !errors.Is(err, ErrEmptyUtterance) {
		t.Errorf("blank: err = %v, want ErrEmptyUtterance", err)
	}
}

func TestEndSession_FromIdleHasNoEffect(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)

	report, err := f.orch.EndSession(context.Background())
	if !errors.Is(err, ErrInvalidState) || report != nil {
		t.Fatalf("EndSession = %v, %v; want ErrInvalidState", report, err)
	}
	if f.dev.CallCountStop != 0 {
		t.Errorf("StopRecording called %d times", f.dev.CallCountStop)
	}
	if got := f.orch.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestEndSession_ProducesAndPersistsReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.start(t, SessionConfig{Scenario: "job_interview", MockMode: true})

	f.clock.Advance(10 * time.Second)
	if _, err := f.orch.HandleUtterance(context.Background(), "I have five years of experience in logistics."); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	f.clock.Advance(20 * time.Second)

	report, err := f.orch.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if report.SessionID != "sess-1" || len(report.Transcript) != 2 {
		t.Errorf("report = %+v", report)
	}
	if got := f.orch.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if f.dev.Recording() {
		t.Error("still recording after EndSession")
	}
	saved, err := f.store.GetReport(context.Background(), "sess-1")
	if err != nil || saved == nil {
		t.Fatalf("GetReport: %v, %v", saved, err)
	}
}

func TestStartSession_Lifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)

	var mu sync.Mutex
	var changes []string
	f.orch.AddListener(Listener{OnStateChange: func(from, to State) {
		mu.Lock()
		changes = append(changes, from.String()+">"+to.String())
		mu.Unlock()
	}})

	f.start(t, SessionConfig{Scenario: "sales", MockMode: true})
	if !f.dev.Recording() {
		t.Error("not recording after start")
	}
	if err := f.orch.PauseSession(); err != nil {
		t.Fatalf("PauseSession: %v", err)
	}
	if f.dev.Recording() {
		t.Error("recording while paused")
	}
	if err := f.orch.PauseSession(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second pause: err = %v", err)
	}
	if err := f.orch.ResumeSession(context.Background()); err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	// Starting again while active forces a cleanup of the running session.
	f.start(t, SessionConfig{Scenario: "negotiation", MockMode: true})

	want := []string{
		"idle>initializing", "initializing>active",
		"active>paused", "paused>active",
		"active>idle",
		"idle>initializing", "initializing>active",
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(changes, ",") != strings.Join(want, ",") {
		t.Errorf("state changes = %v, want %v", changes, want)
	}
}

func TestStartSession_PermissionDeniedIsFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.dev.StartErr = audio.ErrPermissionDenied

	err := f.orch.StartSession(context.Background(), SessionConfig{Scenario: "sales"})
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := f.orch.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestStartSession_DeviceUnavailableContinues(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.dev.StartErr = audio.ErrDeviceUnavailable

	if err := f.orch.StartSession(context.Background(), SessionConfig{Scenario: "sales"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got := f.orch.State(); got != StateActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestStartSession_InvalidConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	if err := f.orch.StartSession(context.Background(), SessionConfig{}); err == nil {
		t.Fatal("expected error without scenario")
	}
	if got := f.orch.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestHandleAudio_BargeInCancelsPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.tts.HoldStream = true
	f.start(t, SessionConfig{Scenario: "customer_service"})

	ttsStarted := make(chan struct{}, 1)
	completed := make(chan bool, 1)
	bargeIns := make(chan struct{}, 1)
	f.orch.AddListener(Listener{
		OnTTSStart:    func(string) { ttsStarted <- struct{}{} },
		OnTTSComplete: func(interrupted bool) { completed <- interrupted },
		OnBargeIn:     func() { bargeIns <- struct{}{} },
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.HandleUtterance(context.Background(), "Hello there.")
		done <- err
	}()

	select {
	case <-ttsStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("synthesis never started")
	}
	f.dev.Emit(0.9, nil)

	select {
	case interrupted := <-completed:
		if !interrupted {
			t.Error("playback not reported as interrupted")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not stop after barge-in")
	}
	if err := <-done; err != nil {
		t.Errorf("HandleUtterance: %v", err)
	}
	select {
	case <-bargeIns:
	default:
		t.Error("OnBargeIn not called")
	}
	if f.dev.CallCountBargeIn != 1 {
		t.Errorf("TriggerBargeIn calls = %d, want 1", f.dev.CallCountBargeIn)
	}
}

func TestHandleAudio_TracksSpokenTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.start(t, SessionConfig{Scenario: "sales", MockMode: true})

	var mu sync.Mutex
	var starts, ends int
	f.orch.AddListener(Listener{
		OnSpeechStart: func(float64) { mu.Lock(); starts++; mu.Unlock() },
		OnSpeechEnd:   func() { mu.Lock(); ends++; mu.Unlock() },
	})

	f.dev.Emit(0.9, nil)
	if !f.orch.Status().Speaking {
		t.Fatal("not speaking after loud sample")
	}
	f.clock.Advance(3 * time.Second)
	for range 6 {
		f.dev.Emit(0, nil)
	}
	if f.orch.Status().Speaking {
		t.Fatal("still speaking after silence")
	}

	// Twelve words in the three seconds of speech: 240 wpm.
	if _, err := f.orch.HandleUtterance(context.Background(), "one two three four five six seven eight nine ten eleven twelve"); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if got := f.orch.Status().Metrics.PaceWPM; math.Abs(got-240) > 1e-6 {
		t.Errorf("pace = %v, want 240", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if starts != 1 || ends != 1 {
		t.Errorf("speech start/end = %d/%d, want 1/1", starts, ends)
	}
}

func TestHandleAudio_OnsetReportsSmoothedLevel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.start(t, SessionConfig{Scenario: "sales", MockMode: true})

	var levels []float64
	f.orch.AddListener(Listener{
		OnSpeechStart: func(level float64) { levels = append(levels, level) },
	})

	f.dev.Emit(0, nil)
	f.dev.Emit(0, nil)
	f.dev.Emit(0.9, nil)
	if len(levels) != 1 {
		t.Fatalf("onsets = %v, want one", levels)
	}
	// Mean of the three samples in the smoothing window.
	if math.Abs(levels[0]-0.3) > 1e-9 {
		t.Errorf("onset level = %v, want 0.3", levels[0])
	}
}

func TestStressMode_TransitionsAfterEstimatedDuration(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	f.start(t, SessionConfig{
		Scenario:       "customer_service",
		Mode:           session.ModeStress,
		QueueLength:    2,
		InterCallDelay: 2 * time.Second,
		MockMode:       true,
	})

	var mu sync.Mutex
	var countdown []int
	var reached []string
	f.orch.AddListener(Listener{
		OnCountdown: func(s int) { mu.Lock(); countdown = append(countdown, s); mu.Unlock() },
		OnCallerTransition: func(next callqueue.Caller, _ callqueue.Status) {
			mu.Lock()
			reached = append(reached, next.Name)
			mu.Unlock()
		},
	})

	if _, err := f.orch.HandleUtterance(context.Background(), "Hello, how can I help?"); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if pos := f.orch.Queue().Status().Position; pos != 0 {
		t.Fatalf("moved to position %d before the call ran its course", pos)
	}

	f.clock.Advance(10 * time.Minute)
	if _, err := f.orch.HandleUtterance(context.Background(), "Let me look into that for you."); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	st := f.orch.Queue().Status()
	if st.Position != 1 || !st.Last {
		t.Errorf("queue status = %+v, want last caller", st)
	}
	if role := f.orch.partner.Role(); !strings.Contains(role, st.Caller.Name) {
		t.Errorf("partner role %q does not name caller %q", role, st.Caller.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if got := countdown; len(got) != 3 || got[0] != 2 || got[2] != 0 {
		t.Errorf("countdown = %v, want [2 1 0]", got)
	}
	if len(reached) != 1 || reached[0] != st.Caller.Name {
		t.Errorf("transition listener saw %v, want [%s]", reached, st.Caller.Name)
	}
}

func TestPlaybackEstimate(t *testing.T) {
	t.Parallel()
	f := audio.DefaultFormat
	bps := f.BytesPerSecond()
	tests := []struct {
		name  string
		text  string
		bytes int
		want  time.Duration
	}{
		{"short text is clamped up", "Hi", 0, MinPlayback},
		{"words dominate", strings.Repeat("word ", 10), bps, 10 * WordPlayback},
		{"audio dominates", "Hello there", 8 * bps, 8 * time.Second},
		{"long text is clamped down", strings.Repeat("word ", 500), 0, MaxPlayback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlaybackEstimate(tt.text, tt.bytes, f); got != tt.want {
				t.Errorf("PlaybackEstimate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCalibrate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10)
	if _, err := f.orch.Calibrate([]float64{0.02}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("idle: err = %v, want ErrInvalidState", err)
	}
	f.start(t, SessionConfig{Scenario: "sales", MockMode: true})
	floor, err := f.orch.Calibrate([]float64{0.02, 0.04})
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if floor < 0.0299 || floor > 0.0301 {
		t.Errorf("floor = %v, want 0.03", floor)
	}
}
