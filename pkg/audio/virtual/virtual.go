// Package virtual provides an [audio.Device] without real hardware. Captured
// audio is whatever the host feeds through [Device.Feed]; playback is simulated
// by keeping the device "active" for the wall-clock duration of the PCM.
//
// The console host uses it so that playback timing, barge-in and echo
// suppression behave as they would on a phone.
package virtual

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// Option configures a [Device].
type Option func(*Device)

// WithFormat overrides the PCM format used to compute playback duration.
func WithFormat(f audio.Format) Option {
	return func(d *Device) {
		d.format = f
	}
}

// WithSpeedup divides simulated playback time by factor. Values <= 1 are
// ignored.
func WithSpeedup(factor float64) Option {
	return func(d *Device) {
		if factor > 1 {
			d.speedup = factor
		}
	}
}

// Device is a simulated audio device. All methods are safe for concurrent use.
type Device struct {
	format  audio.Format
	speedup float64

	mu        sync.Mutex
	recording bool
	sink      audio.SampleSink
	playing   *time.Timer
}

// New returns a virtual device in [audio.DefaultFormat].
func New(opts ...Option) *Device {
	d := &Device{format: audio.DefaultFormat, speedup: 1}
	for _, o := range opts {
		o(d)
	}
	return d
}

// StartRecording implements [audio.Device].
func (d *Device) StartRecording(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording = true
	return nil
}

// StopRecording implements [audio.Device].
func (d *Device) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording = false
	return nil
}

// OnSample implements [audio.Device].
func (d *Device) OnSample(sink audio.SampleSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Feed pushes a captured PCM chunk through the sink, computing its energy.
// Dropped while not recording.
func (d *Device) Feed(chunk []byte) {
	d.mu.Lock()
	sink, rec := d.sink, d.recording
	d.mu.Unlock()
	if rec && sink != nil {
		sink(audio.RMS(chunk), chunk)
	}
}

// PlayAudio implements [audio.Device]. It returns immediately; the device
// reports playback as active until the simulated duration has elapsed.
func (d *Device) PlayAudio(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dur := time.Duration(audio.Duration(pcm, d.format) / d.speedup * float64(time.Second))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playing != nil {
		d.playing.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(dur, func() {
		d.mu.Lock()
		if d.playing == t {
			d.playing = nil
		}
		d.mu.Unlock()
	})
	d.playing = t
	return nil
}

// TriggerBargeIn implements [audio.Device].
func (d *Device) TriggerBargeIn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playing != nil {
		d.playing.Stop()
		d.playing = nil
	}
}

// IsPlaybackActive implements [audio.Device].
func (d *Device) IsPlaybackActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing != nil
}

var _ audio.Device = (*Device)(nil)
