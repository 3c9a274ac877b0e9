// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify that the
// correct VoiceProfile and text are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: tts.Synthesis{Audio: make([]byte, 3200), Characters: 5},
//	    StreamChunks:     [][]byte{[]byte("audio1"), []byte("audio2")},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callcoach/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Ctx   context.Context
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeResult is returned by Synthesize when SynthesizeErr is nil.
	SynthesizeResult tts.Synthesis

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// SynthesizeErrs, if non-empty, is consumed one error per Synthesize call
	// before SynthesizeErr is consulted. A nil entry means success.
	SynthesizeErrs []error

	// StreamChunks is the sequence of audio slices emitted by SynthesizeStream.
	StreamChunks [][]byte

	// StreamErr, if non-nil, is returned by SynthesizeStream.
	StreamErr error

	// HoldStream keeps the stream channel open after StreamChunks until ctx
	// is cancelled, which simulates a long synthesis for barge-in tests.
	HoldStream bool

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	// --- Call records ---

	SynthesizeCalls       []SynthesizeCall
	SynthesizeStreamCalls []SynthesizeStreamCall
	ListVoicesCalls       int

	// StreamedText collects every fragment read from stream text channels.
	StreamedText []string
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(_ context.Context, text string, voice tts.VoiceProfile) (tts.Synthesis, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if len(p.SynthesizeErrs) > 0 {
		err := p.SynthesizeErrs[0]
		p.SynthesizeErrs = p.SynthesizeErrs[1:]
		if err != nil {
			return tts.Synthesis{}, err
		}
		return p.SynthesizeResult, nil
	}
	if p.SynthesizeErr != nil {
		return tts.Synthesis{}, p.SynthesizeErr
	}
	return p.SynthesizeResult, nil
}

// SynthesizeStream records the call and, if StreamErr is nil, returns a
// channel that emits StreamChunks then closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	hold := p.HoldStream
	p.mu.Unlock()

	go func() {
		for frag := range text {
			p.mu.Lock()
			p.StreamedText = append(p.StreamedText, frag)
			p.mu.Unlock()
		}
	}()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, a := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- a:
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = 0
	p.StreamedText = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
