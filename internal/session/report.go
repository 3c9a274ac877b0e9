package session

import (
	"time"

	"github.com/MrWong99/callcoach/internal/disruption"
)

// Scores summarises a finished session.
type Scores struct {
	Pace       float64 `json:"pace"`
	Confidence float64 `json:"confidence"`
	Clarity    float64 `json:"clarity"`
	Overall    float64 `json:"overall"`
	Grade      string  `json:"grade"`
}

// CallerSummary is one completed caller of a stress-mode queue.
type CallerSummary struct {
	Position   int    `json:"position"`
	Name       string `json:"name"`
	Mood       string `json:"mood"`
	Difficulty int    `json:"difficulty"`
}

// StressSummary is attached to reports of stress-mode sessions.
type StressSummary struct {
	FinalStamina   float64         `json:"final_stamina"`
	CallersReached int             `json:"callers_reached"`
	Callers        []CallerSummary `json:"callers"`
	StaminaHistory []StaminaSample `json:"stamina_history"`
}

// Report is the structured summary handed to persistence when a session
// ends.
type Report struct {
	SessionID   string             `json:"session_id"`
	Scenario    string             `json:"scenario"`
	Language    string             `json:"language"`
	Mode        Mode               `json:"mode"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     time.Time          `json:"ended_at"`
	Metrics     Metrics            `json:"metrics"`
	Scores      Scores             `json:"scores"`
	Transcript  []Turn             `json:"transcript"`
	Telemetry   []EmotionSample    `json:"telemetry"`
	Disruptions []disruption.Event `json:"disruptions"`
	Stress      *StressSummary     `json:"stress,omitempty"`
}

// BuildReport scores a finished session. s must have been finished with
// [Session.Finish].
func BuildReport(s *Session, disruptions []disruption.Event, stress *StressSummary) *Report {
	m := s.Metrics
	overall := OverallScore(m)
	return &Report{
		SessionID: s.ID,
		Scenario:  s.Scenario,
		Language:  s.Language,
		Mode:      s.Mode,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Metrics:   m,
		Scores: Scores{
			Pace:       PaceScore(m.PaceWPM),
			Confidence: m.Confidence,
			Clarity:    m.Clarity,
			Overall:    overall,
			Grade:      Grade(overall),
		},
		Transcript:  append([]Turn(nil), s.Turns...),
		Telemetry:   append([]EmotionSample(nil), s.Telemetry...),
		Disruptions: disruptions,
		Stress:      stress,
	}
}
