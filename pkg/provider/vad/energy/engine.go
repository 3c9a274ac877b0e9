package energy

import (
	"time"

	"github.com/MrWong99/callcoach/pkg/provider/vad"
)

// Engine creates energy [Detector] sessions. It implements [vad.Engine].
type Engine struct {
	now func() time.Time
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithEngineClock sets the clock handed to every session.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// New returns an energy VAD engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine]. Zero values in cfg fall back to medium
// sensitivity, [DefaultNoiseFloor] and [DefaultMinSpeechDuration].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.Sensitivity == "" {
		cfg.Sensitivity = vad.SensitivityMedium
	}
	if cfg.NoiseFloor == 0 {
		cfg.NoiseFloor = DefaultNoiseFloor
	}
	if cfg.MinSpeechDuration == 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	d := NewDetector(WithClock(e.now))
	if err := d.Initialize(cfg.Sensitivity, cfg.NoiseFloor, cfg.MinSpeechDuration); err != nil {
		return nil, err
	}
	return d, nil
}

var _ vad.Engine = (*Engine)(nil)
