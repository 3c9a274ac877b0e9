// Package canned provides an offline TTS provider for mock mode. It never
// touches the network: every request yields silence whose length grows with
// the word count of the text, so playback timing stays realistic.
package canned

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/callcoach/pkg/audio"
	"github.com/MrWong99/callcoach/pkg/provider/tts"
)

// WordDuration is the synthetic speaking time per word.
const WordDuration = 300 * time.Millisecond

// Provider is a deterministic, network-free [tts.Provider].
type Provider struct {
	format audio.Format
}

// New returns a canned provider emitting audio in f. A zero f selects
// [audio.DefaultFormat].
func New(f audio.Format) *Provider {
	if f.SampleRate == 0 {
		f = audio.DefaultFormat
	}
	return &Provider{format: f}
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, _ tts.VoiceProfile) (tts.Synthesis, error) {
	if err := ctx.Err(); err != nil {
		return tts.Synthesis{}, err
	}
	if strings.TrimSpace(text) == "" {
		return tts.Synthesis{}, tts.ErrEmptyText
	}
	return tts.Synthesis{
		Audio:      p.render(text),
		Characters: utf8.RuneCountInString(text),
	}, nil
}

// SynthesizeStream implements [tts.Provider]. Each fragment becomes one chunk.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, _ tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for frag := range text {
			if strings.TrimSpace(frag) == "" {
				continue
			}
			select {
			case out <- p.render(frag):
			case <-ctx.Done():
				go audio.Drain(text)
				return
			}
		}
	}()
	return out, nil
}

// ListVoices implements [tts.Provider] with a fixed catalogue.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return []tts.VoiceProfile{
		{ID: "canned-sarah", Name: "Sarah", Provider: "canned", Gender: "female"},
		{ID: "canned-james", Name: "James", Provider: "canned", Gender: "male"},
		{ID: "canned-putri", Name: "Putri", Provider: "canned", Gender: "female"},
		{ID: "canned-budi", Name: "Budi", Provider: "canned", Gender: "male"},
	}, nil
}

func (p *Provider) render(text string) []byte {
	words := len(strings.Fields(text))
	return audio.Silence(float64(words)*WordDuration.Seconds(), p.format)
}

var _ tts.Provider = (*Provider)(nil)
