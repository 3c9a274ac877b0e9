package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/callcoach/internal/disruption"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/pkg/provider/tts"
	"github.com/MrWong99/callcoach/pkg/provider/vad"
)

// Defaults applied by [NewSessionConfig].
const (
	DefaultLanguage          = "en"
	DefaultQueueLength       = 5
	DefaultInterCallDelay    = 3 * time.Second
	DefaultNoiseFloor        = 0.01
	DefaultMinSpeechDuration = 300 * time.Millisecond
)

// SessionConfig is the configuration of one session, consumed from the
// host. Build it with [NewSessionConfig].
type SessionConfig struct {
	// Scenario is the scenario tag, e.g. "customer_service". Required.
	Scenario string

	// Language is the session language ("en", "id", ...). Default "en".
	Language string

	// Mode selects one continuous partner or a caller queue. Default single.
	Mode session.Mode

	// QueueLength, InterCallDelay and DifficultyCurve shape the caller queue
	// in stress mode and are ignored otherwise.
	QueueLength     int
	InterCallDelay  time.Duration
	DifficultyCurve int

	// Voice is the partner voice in single mode.
	Voice tts.VoiceProfile

	// Voices is the pool dealt to stress-mode callers. When empty, Voice is
	// used for every caller.
	Voices []tts.VoiceProfile

	// Disruption configures the disruption engine.
	Disruption disruption.Config

	// Sensitivity, NoiseFloor and MinSpeechDuration configure the VAD.
	Sensitivity       vad.Sensitivity
	NoiseFloor        float64
	MinSpeechDuration time.Duration

	// MockMode suppresses every paid external call and substitutes canned
	// text and audio.
	MockMode bool

	// ContextDocuments are reference texts handed to the partner.
	ContextDocuments []string
}

// NewSessionConfig fills defaults into c and validates it. Every session
// start goes through it; the returned config is the one the session runs
// with.
func NewSessionConfig(c SessionConfig) (SessionConfig, error) {
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Mode == "" {
		c.Mode = session.ModeSingle
	}
	if c.Sensitivity == "" {
		c.Sensitivity = vad.SensitivityMedium
	}
	if c.NoiseFloor == 0 {
		c.NoiseFloor = DefaultNoiseFloor
	}
	if c.MinSpeechDuration == 0 {
		c.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if c.Mode == session.ModeStress {
		if c.QueueLength == 0 {
			c.QueueLength = DefaultQueueLength
		}
		if c.InterCallDelay == 0 {
			c.InterCallDelay = DefaultInterCallDelay
		}
		if len(c.Voices) == 0 && c.Voice.ID != "" {
			c.Voices = []tts.VoiceProfile{c.Voice}
		}
	}

	var errs []error
	if c.Scenario == "" {
		errs = append(errs, errors.New("scenario is required"))
	}
	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if !c.Sensitivity.IsValid() {
		errs = append(errs, fmt.Errorf("unknown vad sensitivity %q", c.Sensitivity))
	}
	if c.NoiseFloor < 0 || c.NoiseFloor >= 1 {
		errs = append(errs, fmt.Errorf("noise floor %v outside (0, 1)", c.NoiseFloor))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("negative min speech duration %s", c.MinSpeechDuration))
	}
	if c.Mode == session.ModeStress {
		if c.QueueLength < 1 {
			errs = append(errs, fmt.Errorf("queue length must be positive, got %d", c.QueueLength))
		}
		if c.InterCallDelay < 0 {
			errs = append(errs, fmt.Errorf("negative inter-call delay %s", c.InterCallDelay))
		}
		if c.DifficultyCurve < 0 || c.DifficultyCurve > 100 {
			errs = append(errs, fmt.Errorf("difficulty curve %d outside [0, 100]", c.DifficultyCurve))
		}
	}
	if err := c.Disruption.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return SessionConfig{}, fmt.Errorf("orchestrator: invalid session config: %w", err)
	}
	return c, nil
}
