package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/callcoach/pkg/provider/tts"
	ttsmock "github.com/MrWong99/callcoach/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("503 service unavailable")}
	secondary := &ttsmock.Provider{SynthesizeResult: tts.Synthesis{Audio: []byte{1, 2}, Characters: 5}}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("polly", secondary)

	res, err := fb.Synthesize(context.Background(), "hello", tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Characters != 5 {
		t.Errorf("Characters = %d, want 5", res.Characters)
	}
	if primary.SynthesizeCallCount() != 1 || secondary.SynthesizeCallCount() != 1 {
		t.Errorf("calls primary=%d secondary=%d, want 1/1",
			primary.SynthesizeCallCount(), secondary.SynthesizeCallCount())
	}
}

func TestTTSFallback_SynthesizeStream(t *testing.T) {
	primary := &ttsmock.Provider{StreamErr: errors.New("dial failed")}
	secondary := &ttsmock.Provider{StreamChunks: [][]byte{{1}, {2, 3}}}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("polly", secondary)

	text := make(chan string)
	close(text)
	ch, err := fb.SynthesizeStream(context.Background(), text, tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var n int
	for c := range ch {
		n += len(c)
	}
	if n != 3 {
		t.Errorf("streamed %d bytes, want 3", n)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "a"}, {ID: "b"}}}
	fb := NewTTSFallback(primary, "canned", FallbackConfig{})

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Errorf("got %d voices, want 2", len(voices))
	}
	if fb.States()["canned"] != StateClosed {
		t.Errorf("state = %v, want closed", fb.States()["canned"])
	}
}
