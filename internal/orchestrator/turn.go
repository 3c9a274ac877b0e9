package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/partner"
	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/provider/tts"
)

// Playback timing. The wait after handing audio to the device is
// max(words × WordPlayback, PCM duration) clamped to [MinPlayback,
// MaxPlayback], followed by polling while the device still reports playback
// (at most MaxPlaybackOverrun) and a fixed EchoBuffer.
const (
	WordPlayback       = 450 * time.Millisecond
	MinPlayback        = 2 * time.Second
	MaxPlayback        = 60 * time.Second
	MaxPlaybackOverrun = 30 * time.Second
	PlaybackPoll       = 250 * time.Millisecond
	EchoBuffer         = 300 * time.Millisecond
)

// ErrEmptyUtterance is returned by HandleUtterance for blank input.
var ErrEmptyUtterance = errors.New("orchestrator: empty utterance")

// PlaybackEstimate is the expected playback time of text rendered as
// pcmBytes of audio in format f.
func PlaybackEstimate(text string, pcmBytes int, f audio.Format) time.Duration {
	byWords := time.Duration(len(strings.Fields(text))) * WordPlayback
	var byBytes time.Duration
	if bps := f.BytesPerSecond(); bps > 0 {
		byBytes = time.Duration(float64(pcmBytes) / float64(bps) * float64(time.Second))
	}
	return min(max(byWords, byBytes, MinPlayback), MaxPlayback)
}

// HandleUtterance runs one turn cycle for a recognised user utterance and
// returns the partner's turn once playback has finished and the session is
// listening again.
//
// The cycle updates the speech metrics, asks the partner for a reply (quota
// gated, falling back to canned text), classifies its emotional tone,
// synthesises and plays it, and in stress mode updates stamina and hands over
// to the next caller when the current call has run its estimated length.
// Service failures never abort the turn. The returned error is
// [ErrInvalidState] outside an active session, [ErrEmptyUtterance] for blank
// input, or ctx's error.
func (o *Orchestrator) HandleUtterance(ctx context.Context, text string) (session.Turn, error) {
	text = strings.TrimSpace(text)
	if st := o.State(); st != StateActive {
		return session.Turn{}, invalidState("handle utterance", st)
	}
	if text == "" {
		return session.Turn{}, ErrEmptyUtterance
	}

	o.flow.Lock()
	defer o.flow.Unlock()
	if st := o.State(); st != StateActive {
		return session.Turn{}, invalidState("handle utterance", st)
	}

	ctx, done := o.beginTurn(ctx)
	defer done()
	ctx, span := observe.StartSpan(ctx, "orchestrator.turn")
	defer span.End()
	start := time.Now()

	caller := o.callerPosition()
	o.mu.Lock()
	at := o.now()
	spoken := o.spoken
	o.spoken = 0
	m := o.tracker.Observe(text, spoken, at)
	o.callTracker.Observe(text, spoken, at)
	m.EmotionalState = o.sess.Metrics.EmotionalState
	o.sess.Metrics = m
	userTurn := session.Turn{Speaker: session.SpeakerUser, Text: text, At: at, Caller: caller}
	o.sess.AddTurn(userTurn)
	o.mu.Unlock()
	o.emitTurn(userTurn)

	reply, err := o.partner.GenerateResponse(ctx, text)
	if err != nil {
		return session.Turn{}, fmt.Errorf("orchestrator: generate response: %w", err)
	}
	turn := o.partnerTurn(ctx, reply, caller)

	if o.stress() {
		if err := o.afterExchange(ctx); err != nil {
			return turn, err
		}
	}
	if o.metrics != nil {
		o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
	observe.Logger(ctx).Debug("turn complete",
		"fallback", turn.Fallback,
		"emotion", turn.Emotion,
		"pace_wpm", m.PaceWPM)
	return turn, ctx.Err()
}

// SendGreeting makes the partner open the conversation. It is a separate
// step so the host decides when the call "connects".
func (o *Orchestrator) SendGreeting(ctx context.Context) (session.Turn, error) {
	if st := o.State(); st != StateActive {
		return session.Turn{}, invalidState("send greeting", st)
	}
	o.flow.Lock()
	defer o.flow.Unlock()
	if st := o.State(); st != StateActive {
		return session.Turn{}, invalidState("send greeting", st)
	}

	ctx, done := o.beginTurn(ctx)
	defer done()

	reply, err := o.partner.Greet(ctx)
	if err != nil {
		return session.Turn{}, fmt.Errorf("orchestrator: greeting: %w", err)
	}
	turn := o.partnerTurn(ctx, reply, o.callerPosition())
	return turn, ctx.Err()
}

// NextCaller hands over to the next caller of a stress-mode queue without
// waiting for the current call to run its course. It returns nil at the last
// caller.
func (o *Orchestrator) NextCaller(ctx context.Context) (*session.CallerSummary, error) {
	if st := o.State(); st != StateActive {
		return nil, invalidState("next caller", st)
	}
	o.flow.Lock()
	defer o.flow.Unlock()
	if !o.stress() {
		return nil, fmt.Errorf("%w: next caller outside stress mode", ErrInvalidState)
	}
	ctx, done := o.beginTurn(ctx)
	defer done()
	return o.transitionCaller(ctx)
}

// beginTurn derives a context that EndSession and Cleanup can cancel.
func (o *Orchestrator) beginTurn(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.turnCancel = cancel
	if o.sess != nil {
		ctx = observe.WithSession(ctx, o.sess.ID)
	}
	o.mu.Unlock()
	return ctx, func() {
		o.mu.Lock()
		o.turnCancel = nil
		o.mu.Unlock()
		cancel()
	}
}

// partnerTurn classifies, records and speaks a partner reply. Fallback
// replies are classified by keywords only so no paid call is made for them.
func (o *Orchestrator) partnerTurn(ctx context.Context, reply partner.Reply, caller int) session.Turn {
	var (
		emotion   session.Emotion
		intensity float64
	)
	if reply.Fallback {
		emotion, intensity = partner.ClassifyEmotion(reply.Text)
	} else {
		emotion, intensity = o.partner.AnalyzeEmotion(ctx, reply.Text)
	}

	o.mu.Lock()
	at := o.now()
	turn := session.Turn{
		Speaker:  session.SpeakerPartner,
		Text:     reply.Text,
		At:       at,
		Emotion:  emotion,
		Caller:   caller,
		Fallback: reply.Fallback,
	}
	o.sess.AddTurn(turn)
	o.sess.AddTelemetry(session.EmotionSample{At: at, State: emotion, Intensity: intensity})
	offline := o.cfg.MockMode || reply.Reason == partner.ReasonQuota
	o.mu.Unlock()
	o.emitTurn(turn)

	o.speak(ctx, reply.Text, o.currentVoice(), offline)
	return turn
}

// afterExchange folds the completed exchange into stamina and moves to the
// next caller once the current call has run its estimated length.
func (o *Orchestrator) afterExchange(ctx context.Context) error {
	o.mu.Lock()
	m := o.callTracker.Snapshot(o.now())
	o.mu.Unlock()

	stamina := o.queue.UpdateStamina(m)
	if o.metrics != nil {
		o.metrics.Stamina.Record(ctx, stamina)
	}

	st := o.queue.Status()
	if st.Last || st.Caller.EstimatedDuration <= 0 || st.CallElapsed < st.Caller.EstimatedDuration {
		return nil
	}
	_, err := o.transitionCaller(ctx)
	return err
}

// transitionCaller runs the blocking caller handover. o.flow must be held.
func (o *Orchestrator) transitionCaller(ctx context.Context) (*session.CallerSummary, error) {
	next, err := o.queue.TransitionToNext(ctx, func(s int) {
		o.emit(func(l Listener) {
			if l.OnCountdown != nil {
				l.OnCountdown(s)
			}
		})
	})
	if err != nil {
		if next != nil {
			// The queue advanced before the countdown was cut short.
			o.partner.SetCaller(*next)
		}
		return nil, fmt.Errorf("orchestrator: caller transition: %w", err)
	}
	if next == nil {
		return nil, nil
	}
	return &session.CallerSummary{
		Position:   next.Position,
		Name:       next.Name,
		Mood:       string(next.Mood),
		Difficulty: next.Difficulty,
	}, nil
}

func (o *Orchestrator) callerPosition() int {
	if !o.stress() {
		return 0
	}
	c, _ := o.queue.CurrentCaller()
	return c.Position
}

func (o *Orchestrator) currentVoice() tts.VoiceProfile {
	o.mu.Lock()
	voice := o.cfg.Voice
	stress := o.cfg.Mode == session.ModeStress
	o.mu.Unlock()
	if stress {
		if c, ok := o.queue.CurrentCaller(); ok && c.Voice.ID != "" {
			return c.Voice
		}
	}
	return voice
}

func (o *Orchestrator) emitTurn(t session.Turn) {
	o.emit(func(l Listener) {
		if l.OnTurn != nil {
			l.OnTurn(t)
		}
	})
}

// speak synthesises text, plays it and waits for playback to finish. A
// barge-in cancels the synthesis context and ends the wait early. Synthesis
// failures skip the audio and are logged.
func (o *Orchestrator) speak(ctx context.Context, text string, voice tts.VoiceProfile, offline bool) {
	ttsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.ttsCancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.ttsCancel = nil
		o.mu.Unlock()
	}()

	o.emit(func(l Listener) {
		if l.OnTTSStart != nil {
			l.OnTTSStart(text)
		}
	})

	played, err := o.synthesize(ttsCtx, text, voice, offline)
	if err != nil && ttsCtx.Err() == nil {
		o.log.Warn("orchestrator: speech synthesis skipped", "err", err)
	}
	if played > 0 && ttsCtx.Err() == nil {
		o.waitPlayback(ttsCtx, text, played)
	}

	interrupted := ttsCtx.Err() != nil
	o.emit(func(l Listener) {
		if l.OnTTSComplete != nil {
			l.OnTTSComplete(interrupted)
		}
	})
}

// synthesize streams text through the paid provider behind the quota gate,
// or through the offline provider, and returns the number of PCM bytes
// handed to the device.
func (o *Orchestrator) synthesize(ctx context.Context, text string, voice tts.VoiceProfile, offline bool) (int, error) {
	if offline || o.tts == nil || o.gate == nil {
		return o.stream(ctx, o.offline, text, voice)
	}

	var played int
	start := time.Now()
	err := o.gate.Call(ctx, quota.ServiceTTS, o.costs.EstimateTTS(text), func(ctx context.Context) (float64, error) {
		n, err := o.stream(ctx, o.tts, text, voice)
		if err != nil {
			return 0, err
		}
		played = n
		return o.costs.TTS(utf8.RuneCountInString(text)), nil
	})
	if o.metrics != nil && !quota.IsExceeded(err) {
		o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
			o.metrics.RecordProviderError(ctx, "tts", "tts")
		}
		o.metrics.RecordProviderRequest(ctx, "tts", "tts", status)
	}
	return played, err
}

// stream runs one synthesis stream and plays every chunk after the active
// disruptions were applied. Chunks produced while the connection is
// "dropped" are lost. A playback failure stops playing but keeps draining.
func (o *Orchestrator) stream(ctx context.Context, p tts.Provider, text string, voice tts.VoiceProfile) (int, error) {
	frags := make(chan string, 1)
	frags <- text
	close(frags)

	chunks, err := p.SynthesizeStream(ctx, frags, voice)
	if err != nil {
		return 0, err
	}

	played := 0
	deviceOK := true
	for chunk := range chunks {
		if !deviceOK || ctx.Err() != nil {
			continue
		}
		chunk = o.disruptions.Process(chunk)
		if o.disruptions.ConnectionDropped() {
			continue
		}
		if err := o.device.PlayAudio(ctx, chunk); err != nil {
			if ctx.Err() == nil {
				o.log.Warn("orchestrator: playback failed, continuing without audio", "err", err)
			}
			deviceOK = false
			continue
		}
		played += len(chunk)
	}
	return played, nil
}

// waitPlayback blocks for the estimated playback time, then polls the
// device while it still plays, then waits EchoBuffer.
func (o *Orchestrator) waitPlayback(ctx context.Context, text string, pcmBytes int) {
	if err := o.sleep(ctx, PlaybackEstimate(text, pcmBytes, o.format)); err != nil {
		return
	}
	for waited := time.Duration(0); waited < MaxPlaybackOverrun && o.device.IsPlaybackActive(); waited += PlaybackPoll {
		if err := o.sleep(ctx, PlaybackPoll); err != nil {
			return
		}
	}
	_ = o.sleep(ctx, EchoBuffer)
}
