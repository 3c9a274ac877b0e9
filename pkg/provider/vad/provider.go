// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine turns a stream of audio energy samples (or raw PCM frames) into
// a binary speaking/silent signal for turn-taking. Each session keeps its own
// smoothing history and threshold, so multiple streams can be processed
// independently.
//
// VAD is synchronous: ProcessSample and ProcessFrame return
// immediately, making them suitable for the capture callback path.
package vad

import (
	"fmt"
	"time"
)

// Sensitivity is a VAD sensitivity tier. Higher sensitivity means a lower
// detection threshold above the noise floor.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// IsValid reports whether s is one of the known tiers.
func (s Sensitivity) IsValid() bool {
	switch s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

// ParseSensitivity converts a configuration string to a Sensitivity.
func ParseSensitivity(s string) (Sensitivity, error) {
	v := Sensitivity(s)
	if !v.IsValid() {
		return "", fmt.Errorf("vad: unknown sensitivity %q (want low, medium or high)", s)
	}
	return v, nil
}

// Config holds the parameters for a VAD session.
type Config struct {
	// Sensitivity selects the decibel offset of the detection threshold above
	// the noise floor.
	Sensitivity Sensitivity

	// NoiseFloor is the linear RMS energy of the ambient background. Must be > 0.
	NoiseFloor float64

	// MinSpeechDuration is the minimum time a detected utterance is held
	// before the detector may report silence again.
	MinSpeechDuration time.Duration

	// SampleRate is the PCM sample rate in Hz for ProcessFrame.
	SampleRate int
}

// SessionHandle is an active VAD session for a single audio stream.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessSample feeds one RMS energy sample in [0, 1] and returns whether
	// the stream is currently considered speech.
	ProcessSample(energy float64) bool

	// ProcessEnergy feeds one energy sample like ProcessSample and reports
	// the resulting transition. The event Level is the smoothed energy the
	// decision was made on.
	ProcessEnergy(energy float64) VADEvent

	// ProcessFrame computes the energy of a raw little-endian PCM16 frame and
	// feeds it through ProcessSample, reporting the resulting transition.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Calibrate recomputes the noise floor from ambient samples and returns
	// it. Fails if samples contains no usable values.
	Calibrate(samples []float64) (float64, error)

	// Threshold returns the current detection threshold.
	Threshold() float64

	// Speaking reports the current speaking flag.
	Speaking() bool

	// Reset clears smoothing history and the speaking flag without closing
	// the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	NewSession(cfg Config) (SessionHandle, error)
}
