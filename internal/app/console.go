package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/internal/callqueue"
	"github.com/MrWong99/callcoach/internal/disruption"
	"github.com/MrWong99/callcoach/internal/orchestrator"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/audio/virtual"
)

// Speech simulation parameters.
const (
	feedInterval    = 100 * time.Millisecond
	minSpeechFeed   = 500 * time.Millisecond
	trailingQuiet   = 6
	speechAmplitude = 0.25
)

// Console commands.
const (
	cmdPause  = "/pause"
	cmdResume = "/resume"
	cmdNext   = "/next"
	cmdStatus = "/status"
	cmdEnd    = "/end"
	cmdHelp   = "/help"
)

// ConsoleOption configures a [Console].
type ConsoleOption func(*Console)

// WithSpeechFeed feeds synthetic microphone energy into dev for perWord
// per word of each utterance before handing it to the session.
func WithSpeechFeed(dev *virtual.Device, perWord time.Duration) ConsoleOption {
	return func(c *Console) {
		c.speech = dev
		c.perWord = perWord
	}
}

// Console drives one session from line-oriented input: every line is one
// recognised utterance, lines starting with a slash are commands. The
// partner's side of the conversation and session notifications are written
// to the output.
type Console struct {
	sessions *SessionManager
	in       io.Reader
	out      io.Writer
	wmu      sync.Mutex

	speech  *virtual.Device
	perWord time.Duration
}

// NewConsole returns a console for sessions reading in and writing out.
func NewConsole(sessions *SessionManager, in io.Reader, out io.Writer, opts ...ConsoleOption) *Console {
	if out == nil {
		out = io.Discard
	}
	c := &Console{sessions: sessions, in: in, out: out}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run starts a session, processes input until it ends, /end is entered or
// ctx is cancelled, and prints the session report. It returns nil when the
// session ended normally.
func (c *Console) Run(ctx context.Context) error {
	c.sessions.orch.AddListener(c.listener())

	if err := c.sessions.Start(ctx); err != nil {
		return err
	}
	c.printf("session %s started; type to speak, %s for commands\n", c.sessions.Info().SessionID, cmdHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return c.end(context.WithoutCancel(ctx))
		case line, ok := <-lines:
			if !ok {
				return c.end(ctx)
			}
			done, err := c.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handle processes one input line. It reports whether the session ended.
func (c *Console) handle(ctx context.Context, line string) (bool, error) {
	switch line {
	case "":
		return false, nil
	case cmdHelp:
		c.printf("commands: %s %s %s %s %s\n", cmdPause, cmdResume, cmdNext, cmdStatus, cmdEnd)
	case cmdPause:
		c.report(c.sessions.Pause())
	case cmdResume:
		c.report(c.sessions.Resume(ctx))
	case cmdNext:
		next, err := c.sessions.Next(ctx)
		if err != nil {
			c.report(err)
			break
		}
		if next == nil {
			c.printf("-- no callers left; %s finishes the session\n", cmdEnd)
		}
	case cmdStatus:
		c.printJSON(c.sessions.Status())
	case cmdEnd:
		return true, c.end(ctx)
	default:
		if strings.HasPrefix(line, "/") {
			c.printf("unknown command %q\n", line)
			break
		}
		if err := c.simulateSpeech(ctx, line); err != nil {
			return false, nil
		}
		if _, err := c.sessions.Say(ctx, line); err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			c.report(err)
		}
	}
	return false, nil
}

func (c *Console) end(ctx context.Context) error {
	report, err := c.sessions.Stop(ctx)
	if errors.Is(err, ErrNoActiveSession) {
		return nil
	}
	if err != nil {
		return err
	}
	c.printf("-- session ended: %.0f/100 (%s)\n", report.Scores.Overall, report.Scores.Grade)
	c.printJSON(report)
	return nil
}

// simulateSpeech feeds loud chunks for the speaking time of text, then
// enough quiet chunks for the VAD to detect the end of speech.
func (c *Console) simulateSpeech(ctx context.Context, text string) error {
	if c.speech == nil {
		return nil
	}
	d := time.Duration(len(strings.Fields(text))) * c.perWord
	d = max(d, minSpeechFeed)

	n := audio.DefaultFormat.BytesPerSecond() / int(time.Second/feedInterval)
	loud := tone(n, speechAmplitude)
	quiet := make([]byte, n)

	t := time.NewTicker(feedInterval)
	defer t.Stop()
	chunks := int(d/feedInterval) + trailingQuiet
	for i := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if i < chunks-trailingQuiet {
			c.speech.Feed(loud)
		} else {
			c.speech.Feed(quiet)
		}
	}
	return nil
}

func (c *Console) listener() orchestrator.Listener {
	return orchestrator.Listener{
		OnTurn: func(t session.Turn) {
			if t.Speaker != session.SpeakerPartner {
				return
			}
			if t.Emotion != "" {
				c.printf("partner [%s]: %s\n", t.Emotion, t.Text)
				return
			}
			c.printf("partner: %s\n", t.Text)
		},
		OnBargeIn: func() {
			c.printf("-- interrupted\n")
		},
		OnCountdown: func(s int) {
			if s > 0 {
				c.printf("-- next caller in %d\n", s)
			}
		},
		OnCallerTransition: func(next callqueue.Caller, st callqueue.Status) {
			c.printf("-- caller %d/%d: %s (%s, difficulty %d)\n",
				next.Position, st.Total, next.Name, next.Mood, next.Difficulty)
		},
		OnDisruption: func(ev disruption.Event) {
			c.printf("-- disruption: %s\n", ev.Type)
		},
	}
}

func (c *Console) report(err error) {
	if err != nil {
		c.printf("error: %v\n", err)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Warn("console: encode", "err", err)
		return
	}
	c.printf("%s\n", data)
}

// tone returns n bytes of a square wave at the given normalised amplitude.
func tone(n int, amplitude float64) []byte {
	samples := make([]int16, n/2)
	v := audio.Clamp16(amplitude * 32767)
	for i := range samples {
		if (i/20)%2 == 0 {
			samples[i] = v
		} else {
			samples[i] = -v
		}
	}
	buf := make([]byte, len(samples)*2)
	audio.PutSamples16(buf, samples)
	return buf
}
