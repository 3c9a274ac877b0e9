// Package tts defines the Provider interface for speech-synthesis backends.
//
// A provider turns conversation-partner text into raw PCM audio (16-bit
// little-endian, mono, at the provider's configured sample rate). One-shot
// synthesis reports the billable character count so callers can debit the
// quota ledger with the actual cost. The streaming variant accepts text
// fragments and emits audio chunks as they become available; the consumer
// stops it by cancelling ctx.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/MrWong99/callcoach/pkg/audio"
)

// ErrEmptyText is returned when there is nothing to synthesise.
var ErrEmptyText = errors.New("tts: empty text")

// Synthesis is the result of a one-shot synthesis call.
type Synthesis struct {
	// Audio is PCM16 LE mono audio.
	Audio []byte

	// Characters is the billable character count of the request.
	Characters int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to audio in a single request.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Synthesis, error)

	// SynthesizeStream consumes text fragments and returns a channel that emits
	// audio chunks as they are synthesised. The channel is closed when all text
	// has been synthesised or ctx is cancelled. Cancelling ctx is how a caller
	// stops an in-flight stream (barge-in).
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// Streamer is the streaming half of [Provider].
type Streamer interface {
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)
}

// SynthesizeViaStream implements one-shot synthesis on top of a streaming
// backend by sending text as a single fragment and collecting every chunk.
func SynthesizeViaStream(ctx context.Context, s Streamer, text string, voice VoiceProfile) (Synthesis, error) {
	if text == "" {
		return Synthesis{}, ErrEmptyText
	}
	in := make(chan string, 1)
	in <- text
	close(in)

	out, err := s.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return Synthesis{}, err
	}
	pcm := audio.Collect(out)
	if err := ctx.Err(); err != nil {
		return Synthesis{}, err
	}
	return Synthesis{Audio: pcm, Characters: utf8.RuneCountInString(text)}, nil
}
