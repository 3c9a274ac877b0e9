// Package energy implements an RMS-energy voice activity detector.
//
// The detection threshold sits a fixed number of decibels above a measured
// noise floor: threshold = noiseFloor × 10^(offsetDb/20), with offsets of
// 20 dB (low), 12 dB (medium) and 5 dB (high sensitivity). Incoming energy
// samples are smoothed with a short ring buffer. Onset is reported as soon as
// the smoothed energy crosses the threshold; the return to silence is
// debounced so that short pauses mid-sentence do not end an utterance.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/provider/vad"
)

// ErrInvalidInput is returned for unusable configuration or calibration input.
var ErrInvalidInput = errors.New("energy vad: invalid input")

const (
	// DefaultBufferSize is the length of the smoothing ring buffer.
	DefaultBufferSize = 5

	// DefaultNoiseFloor is used until Calibrate is called.
	DefaultNoiseFloor = 0.01

	// DefaultMinSpeechDuration is the default debounce hold.
	DefaultMinSpeechDuration = 300 * time.Millisecond

	// minNoiseFloor keeps the threshold strictly above the floor after
	// calibrating in digital silence.
	minNoiseFloor = 1e-4
)

// OffsetDB returns the threshold offset above the noise floor for a tier.
func OffsetDB(s vad.Sensitivity) (float64, bool) {
	switch s {
	case vad.SensitivityLow:
		return 20, true
	case vad.SensitivityMedium:
		return 12, true
	case vad.SensitivityHigh:
		return 5, true
	}
	return 0, false
}

// ThresholdFor computes the detection threshold for a noise floor and tier.
func ThresholdFor(noiseFloor float64, s vad.Sensitivity) float64 {
	off, _ := OffsetDB(s)
	return noiseFloor * math.Pow(10, off/20)
}

// Option configures a [Detector].
type Option func(*Detector)

// WithClock overrides the time source used for the debounce hold.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// WithBufferSize overrides the smoothing window length.
func WithBufferSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.buf = make([]float64, n)
		}
	}
}

// Detector is the RMS-energy VAD. It implements [vad.SessionHandle].
// All methods are safe for concurrent use.
type Detector struct {
	now func() time.Time

	mu          sync.Mutex
	sensitivity vad.Sensitivity
	noiseFloor  float64
	threshold   float64
	minDuration time.Duration

	buf    []float64
	pos    int
	filled int

	speaking bool
	onset    time.Time
	closed   bool

	onStart func(level float64)
}

// NewDetector returns a detector initialised with medium sensitivity and the
// default noise floor.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		now: time.Now,
		buf: make([]float64, DefaultBufferSize),
	}
	for _, o := range opts {
		o(d)
	}
	_ = d.Initialize(vad.SensitivityMedium, DefaultNoiseFloor, DefaultMinSpeechDuration)
	return d
}

// Initialize resets the smoothing buffer and speaking flag and recomputes the
// threshold for the given tier and noise floor.
func (d *Detector) Initialize(sensitivity vad.Sensitivity, noiseFloor float64, minDuration time.Duration) error {
	if _, ok := OffsetDB(sensitivity); !ok {
		return fmt.Errorf("%w: sensitivity %q", ErrInvalidInput, sensitivity)
	}
	if !(noiseFloor > 0) || math.IsInf(noiseFloor, 0) {
		return fmt.Errorf("%w: noise floor must be a positive finite value, got %v", ErrInvalidInput, noiseFloor)
	}
	if minDuration < 0 {
		return fmt.Errorf("%w: negative min speech duration %s", ErrInvalidInput, minDuration)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensitivity = sensitivity
	d.noiseFloor = noiseFloor
	d.minDuration = minDuration
	d.threshold = ThresholdFor(noiseFloor, sensitivity)
	d.resetLocked()
	return nil
}

// SetSensitivity switches tier and recomputes the threshold. Smoothing state
// is kept.
func (d *Detector) SetSensitivity(s vad.Sensitivity) error {
	if _, ok := OffsetDB(s); !ok {
		return fmt.Errorf("%w: sensitivity %q", ErrInvalidInput, s)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensitivity = s
	d.threshold = ThresholdFor(d.noiseFloor, s)
	return nil
}

// ProcessSample pushes one energy sample into the smoothing window and
// returns the speaking flag after applying onset and debounce rules.
func (d *Detector) ProcessSample(energy float64) bool {
	switch d.process(energy).Type {
	case vad.VADSpeechStart, vad.VADSpeechContinue:
		return true
	}
	return false
}

// ProcessEnergy implements [vad.SessionHandle].
func (d *Detector) ProcessEnergy(energy float64) vad.VADEvent {
	return d.process(energy)
}

// ProcessFrame implements [vad.SessionHandle].
func (d *Detector) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("%w: odd PCM16 frame length %d", ErrInvalidInput, len(frame))
	}
	return d.process(audio.RMS(frame)), nil
}

// OnSpeechStart registers fn to be called on every silence-to-speech
// transition with the smoothed level. fn runs on the caller's goroutine after
// the detector lock is released. A nil fn removes the listener.
func (d *Detector) OnSpeechStart(fn func(level float64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStart = fn
}

func (d *Detector) process(energy float64) vad.VADEvent {
	ev, fn := d.step(energy)
	if ev.Type == vad.VADSpeechStart && fn != nil {
		fn(ev.Level)
	}
	return ev
}

func (d *Detector) step(energy float64) (vad.VADEvent, func(float64)) {
	if math.IsNaN(energy) || math.IsInf(energy, 0) {
		energy = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	ev := d.stepLocked(energy)
	return ev, d.onStart
}

func (d *Detector) stepLocked(energy float64) vad.VADEvent {
	if d.closed {
		return vad.VADEvent{Type: vad.VADSilence}
	}

	d.buf[d.pos] = energy
	d.pos = (d.pos + 1) % len(d.buf)
	if d.filled < len(d.buf) {
		d.filled++
	}
	var sum float64
	for i := range d.filled {
		sum += d.buf[i]
	}
	smoothed := sum / float64(d.filled)

	switch {
	case smoothed > d.threshold && !d.speaking:
		d.speaking = true
		d.onset = d.now()
		return vad.VADEvent{Type: vad.VADSpeechStart, Level: smoothed}
	case smoothed < d.threshold && d.speaking:
		if d.now().Sub(d.onset) > d.minDuration {
			d.speaking = false
			return vad.VADEvent{Type: vad.VADSpeechEnd, Level: smoothed}
		}
	}
	if d.speaking {
		return vad.VADEvent{Type: vad.VADSpeechContinue, Level: smoothed}
	}
	return vad.VADEvent{Type: vad.VADSilence, Level: smoothed}
}

// Calibrate sets the noise floor to the mean of the finite, non-negative
// samples and recomputes the threshold. It is deterministic for identical
// input.
func (d *Detector) Calibrate(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: no calibration samples", ErrInvalidInput)
	}
	var sum float64
	var n int
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			continue
		}
		sum += s
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no finite calibration samples", ErrInvalidInput)
	}
	floor := max(sum/float64(n), minNoiseFloor)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.noiseFloor = floor
	d.threshold = ThresholdFor(floor, d.sensitivity)
	return floor, nil
}

// Threshold implements [vad.SessionHandle].
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// NoiseFloor returns the current noise floor.
func (d *Detector) NoiseFloor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.noiseFloor
}

// Speaking implements [vad.SessionHandle].
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset implements [vad.SessionHandle].
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// Close implements [vad.SessionHandle].
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Detector) resetLocked() {
	clear(d.buf)
	d.pos = 0
	d.filled = 0
	d.speaking = false
	d.onset = time.Time{}
}

var _ vad.SessionHandle = (*Detector)(nil)
