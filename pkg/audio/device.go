// Package audio defines the audio device collaborator used by a training
// session together with the PCM helpers shared by the VAD, the disruption
// engine and the speech-synthesis providers.
//
// A [Device] captures microphone audio and plays synthesised speech. Capture
// is push-based: the device computes the RMS energy of each chunk and hands
// both to the registered [SampleSink]. Playback is blocking and can be cut
// short by [Device.TriggerBargeIn].
//
// This package lives under pkg/ because host applications (mobile bridges,
// desktop audio backends) are expected to implement [Device].
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned by StartRecording when the host denied
	// microphone access. It is fatal to session start.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable is returned when the capture or playback device
	// cannot be opened. Sessions continue without audio where feasible.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
)

// SampleSink receives one captured chunk together with its RMS energy in
// [0, 1]. It is called sequentially from the device's capture goroutine and
// must not block.
type SampleSink func(energy float64, chunk []byte)

// Device is the audio capture and playback collaborator.
//
// Implementations must be safe for concurrent use: capture callbacks, playback
// and barge-in may happen on different goroutines.
type Device interface {
	// StartRecording begins delivering captured chunks to the registered sink.
	// Returns [ErrPermissionDenied] or [ErrDeviceUnavailable] on failure.
	StartRecording(ctx context.Context) error

	// StopRecording stops capture. Calling it while not recording is a no-op.
	StopRecording() error

	// OnSample registers the capture sink. Only one sink is active at a time;
	// later calls replace earlier ones. A nil sink disables delivery.
	OnSample(sink SampleSink)

	// PlayAudio plays PCM16 audio in [DefaultFormat] and returns once playback
	// has been handed to the output. Playback continues in the background
	// until it finishes or TriggerBargeIn is called.
	PlayAudio(ctx context.Context, pcm []byte) error

	// TriggerBargeIn interrupts any active playback immediately.
	TriggerBargeIn()

	// IsPlaybackActive reports whether audio is still being played.
	IsPlaybackActive() bool
}
