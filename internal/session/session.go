// Package session holds the data model of one training run: the session
// record, the speech metrics derived from the user's transcript, scoring and
// the final report handed to persistence.
package session

import (
	"fmt"
	"time"
)

// Mode selects between one continuous partner and a queue of callers.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeStress Mode = "stress"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeSingle || m == ModeStress
}

// Emotion is the emotional tone of a partner reply.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHostile    Emotion = "hostile"
	EmotionHappy      Emotion = "happy"
	EmotionFrustrated Emotion = "frustrated"
	EmotionAnxious    Emotion = "anxious"
)

// Emotions lists every emotion tag.
var Emotions = []Emotion{EmotionNeutral, EmotionHostile, EmotionHappy, EmotionFrustrated, EmotionAnxious}

// ParseEmotion maps a free-form label onto an Emotion. Unknown labels are
// reported as not ok.
func ParseEmotion(s string) (Emotion, bool) {
	for _, e := range Emotions {
		if string(e) == s {
			return e, true
		}
	}
	return EmotionNeutral, false
}

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser    Speaker = "user"
	SpeakerPartner Speaker = "partner"
)

// Turn is one entry of the conversation log.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
	Emotion Emotion   `json:"emotion,omitempty"`
	// Caller is the queue position of the partner in stress mode.
	Caller int `json:"caller,omitempty"`
	// Fallback marks a partner turn that used canned text.
	Fallback bool `json:"fallback,omitempty"`
}

// EmotionSample is one emotional-telemetry point.
type EmotionSample struct {
	At        time.Time `json:"at"`
	State     Emotion   `json:"state"`
	Intensity float64   `json:"intensity"`
}

// StaminaSample is one entry of the append-only stamina history.
type StaminaSample struct {
	At          time.Time `json:"at"`
	Stamina     float64   `json:"stamina"`
	Performance float64   `json:"performance"`
	Metrics     Metrics   `json:"metrics"`
}

// Session is one training run. It is owned by the orchestrator and mutated
// only from its control flow.
type Session struct {
	ID        string
	Scenario  string
	Language  string
	Mode      Mode
	StartedAt time.Time
	EndedAt   time.Time
	Metrics   Metrics
	Turns     []Turn
	Telemetry []EmotionSample
}

// New returns a session started at now.
func New(id, scenario, language string, mode Mode, now time.Time) *Session {
	return &Session{
		ID:        id,
		Scenario:  scenario,
		Language:  language,
		Mode:      mode,
		StartedAt: now,
		Metrics:   Metrics{EmotionalState: EmotionNeutral},
	}
}

// AddTurn appends a turn to the conversation log.
func (s *Session) AddTurn(t Turn) {
	s.Turns = append(s.Turns, t)
}

// AddTelemetry appends an emotional-telemetry sample and updates the current
// emotional state.
func (s *Session) AddTelemetry(e EmotionSample) {
	s.Telemetry = append(s.Telemetry, e)
	s.Metrics.EmotionalState = e.State
}

// History returns the turns exchanged with the given caller, or every turn
// when caller is negative.
func (s *Session) History(caller int) []Turn {
	if caller < 0 {
		return s.Turns
	}
	var out []Turn
	for _, t := range s.Turns {
		if t.Caller == caller {
			out = append(out, t)
		}
	}
	return out
}

// Finish freezes the session at now and records its duration.
func (s *Session) Finish(now time.Time) {
	s.EndedAt = now
	s.Metrics.DurationSeconds = now.Sub(s.StartedAt).Seconds()
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s, %s, %s)", s.ID, s.Scenario, s.Language, s.Mode)
}
