package disruption

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput is returned for an unusable configuration or an unknown
// hardware failure type.
var ErrInvalidInput = errors.New("disruption: invalid input")

// Continuous marks a disruption that never expires on its own.
const Continuous time.Duration = -1

// HardwareCooldown is the minimum spacing between two hardware failures.
const HardwareCooldown = 10 * time.Second

// NoiseType selects the background noise generator.
type NoiseType string

const (
	NoiseWhite   NoiseType = "white"
	NoisePink    NoiseType = "pink"
	NoiseBrown   NoiseType = "brown"
	NoiseCrowd   NoiseType = "crowd"
	NoiseTraffic NoiseType = "traffic"
	NoiseStatic  NoiseType = "static"

	// DefaultNoiseType is used when the requested type is unknown.
	DefaultNoiseType = NoiseWhite
)

// NoiseTypes lists every supported noise type.
var NoiseTypes = []NoiseType{NoiseWhite, NoisePink, NoiseBrown, NoiseCrowd, NoiseTraffic, NoiseStatic}

// IsValid reports whether n is a supported noise type.
func (n NoiseType) IsValid() bool {
	for _, v := range NoiseTypes {
		if n == v {
			return true
		}
	}
	return false
}

// HardwareFailure is the kind of simulated device fault.
type HardwareFailure string

const (
	MicMute        HardwareFailure = "mic_mute"
	ConnectionDrop HardwareFailure = "connection_drop"
	// RandomFailure resolves uniformly to MicMute or ConnectionDrop.
	RandomFailure HardwareFailure = "random"
)

func errInvalidFailure(kind HardwareFailure) error {
	return fmt.Errorf("%w: hardware failure type %q", ErrInvalidInput, kind)
}

// EventType tags an entry in the disruption log.
type EventType string

const (
	EventVoiceVariation  EventType = "voice_variation"
	EventBackgroundNoise EventType = "background_noise"
	EventHardwareFailure EventType = "hardware_failure"
)

// VoiceParams controls a voice variation. Zero fields are drawn at random
// from the default ranges.
type VoiceParams struct {
	Pitch     float64 `json:"pitch"`
	Speed     float64 `json:"speed"`
	Intensity float64 `json:"intensity"`
}

// Parameter ranges for randomly drawn voice variations.
const (
	MinPitch, MaxPitch         = 0.8, 1.2
	MinSpeed, MaxSpeed         = 0.9, 1.1
	MinIntensity, MaxIntensity = 0.3, 0.8
)

// Config configures the engine. The zero value is a disabled engine.
type Config struct {
	Enabled         bool
	VoiceVariation  bool
	BackgroundNoise bool
	HardwareFailure bool
	NoiseType       NoiseType
	// Intensity is both the effect magnitude and the per-tick probability of
	// an automatic disruption. Range [0, 1].
	Intensity float64
	// Frequency is the default interval between automatic ticks.
	Frequency time.Duration
}

// Validate checks value ranges. An unknown NoiseType is not an error; it is
// replaced with DefaultNoiseType when used.
func (c Config) Validate() error {
	if c.Intensity < 0 || c.Intensity > 1 {
		return fmt.Errorf("%w: intensity %v outside [0, 1]", ErrInvalidInput, c.Intensity)
	}
	if c.Frequency < 0 {
		return fmt.Errorf("%w: negative frequency %s", ErrInvalidInput, c.Frequency)
	}
	return nil
}

// Event is one entry in the disruption log.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Voice     *VoiceParams    `json:"voice,omitempty"`
	Noise     NoiseType       `json:"noise,omitempty"`
	Intensity float64         `json:"intensity,omitempty"`
	Failure   HardwareFailure `json:"failure,omitempty"`
	// Duration is Continuous (-1) for indefinite disruptions.
	Duration time.Duration `json:"duration"`
}

// ActiveDisruption is a logged event that is still in effect.
type ActiveDisruption struct {
	ID    uint64    `json:"id"`
	Event Event     `json:"event"`
	Start time.Time `json:"start"`
}

// Expired reports whether the disruption has run its course at now.
func (a ActiveDisruption) Expired(now time.Time) bool {
	if a.Event.Duration == Continuous {
		return false
	}
	return now.Sub(a.Start) >= a.Event.Duration
}
