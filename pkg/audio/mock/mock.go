// Package mock provides an in-memory implementation of [audio.Device] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts and arguments, and it exposes exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	dev.OnSample(sink)
//	_ = dev.StartRecording(ctx)
//	dev.Emit(0.3, chunk) // delivers to sink
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// StartErr is returned by StartRecording.
	StartErr error

	// PlayErr is returned by PlayAudio.
	PlayErr error

	// PlaybackActive is returned by IsPlaybackActive. PlayAudio sets it to
	// true and TriggerBargeIn resets it to false.
	PlaybackActive bool

	// StayActiveAfterPlay keeps PlaybackActive false after PlayAudio when
	// false. Set it to true to simulate audio still playing after the call.
	StayActiveAfterPlay bool

	// Played records every buffer passed to PlayAudio.
	Played [][]byte

	// CallCountStart records how many times StartRecording was called.
	CallCountStart int

	// CallCountStop records how many times StopRecording was called.
	CallCountStop int

	// CallCountBargeIn records how many times TriggerBargeIn was called.
	CallCountBargeIn int

	recording bool
	sink      audio.SampleSink
}

// StartRecording implements [audio.Device].
func (d *Device) StartRecording(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.recording = true
	return nil
}

// StopRecording implements [audio.Device].
func (d *Device) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.recording = false
	return nil
}

// OnSample implements [audio.Device].
func (d *Device) OnSample(sink audio.SampleSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// PlayAudio implements [audio.Device].
func (d *Device) PlayAudio(_ context.Context, pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PlayErr != nil {
		return d.PlayErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	d.Played = append(d.Played, cp)
	d.PlaybackActive = d.StayActiveAfterPlay
	return nil
}

// TriggerBargeIn implements [audio.Device].
func (d *Device) TriggerBargeIn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountBargeIn++
	d.PlaybackActive = false
}

// IsPlaybackActive implements [audio.Device].
func (d *Device) IsPlaybackActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.PlaybackActive
}

// Recording reports whether StartRecording succeeded and StopRecording has
// not been called since.
func (d *Device) Recording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording
}

// Emit delivers one sample to the registered sink if the device is
// recording. It is a no-op otherwise.
func (d *Device) Emit(energy float64, chunk []byte) {
	d.mu.Lock()
	sink, rec := d.sink, d.recording
	d.mu.Unlock()
	if rec && sink != nil {
		sink(energy, chunk)
	}
}

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)
