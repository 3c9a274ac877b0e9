package partner

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/callcoach/pkg/provider/llm/mock"
)

func TestClassifyEmotion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want session.Emotion
	}{
		{"This is ridiculous and unacceptable!", session.EmotionHostile},
		{"Great, thanks a lot.", session.EmotionHappy},
		{"I'm still waiting, again.", session.EmotionFrustrated},
		{"I'm worried it won't arrive in time.", session.EmotionAnxious},
		{"The package is on the table.", session.EmotionNeutral},
		{"Terima kasih, bagus sekali.", session.EmotionHappy},
		{"Saya masih menunggu, kenapa lama sekali?", session.EmotionFrustrated},
		{"", session.EmotionNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, intensity := ClassifyEmotion(tt.text)
			if got != tt.want {
				t.Errorf("ClassifyEmotion(%q) = %s, want %s", tt.text, got, tt.want)
			}
			if intensity < 0 || intensity > 1 {
				t.Errorf("intensity %v outside [0,1]", intensity)
			}
		})
	}
}

func TestClassifyEmotion_IntensityGrows(t *testing.T) {
	t.Parallel()
	_, calm := ClassifyEmotion("This is unacceptable.")
	_, loud := ClassifyEmotion("This is ridiculous, unacceptable, the worst!!")
	if loud <= calm {
		t.Errorf("intensity %v should exceed %v", loud, calm)
	}
}

func TestAnalyzeEmotion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		reply *llm.CompletionResponse
		err   error
		text  string
		want  session.Emotion
	}{
		{name: "model label", reply: &llm.CompletionResponse{Content: " Anxious."}, text: "The package is here.", want: session.EmotionAnxious},
		{name: "unknown label uses keywords", reply: &llm.CompletionResponse{Content: "sarcastic"}, text: "Thanks, great job.", want: session.EmotionHappy},
		{name: "provider error uses keywords", err: errors.New("invalid api key"), text: "This is unacceptable.", want: session.EmotionHostile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := &llmmock.Provider{CompleteResponse: tt.reply, CompleteErr: tt.err}
			p, _ := newLive(t, provider, 1)
			got, intensity := p.AnalyzeEmotion(context.Background(), tt.text)
			if got != tt.want {
				t.Errorf("AnalyzeEmotion = %s, want %s", got, tt.want)
			}
			if intensity < 0 || intensity > 1 {
				t.Errorf("intensity %v outside [0,1]", intensity)
			}
			if provider.CompleteCallCount() != 1 {
				t.Errorf("provider calls = %d, want 1", provider.CompleteCallCount())
			}
		})
	}
}

func TestAnalyzeEmotion_MockModeSkipsProvider(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "happy"}}
	gate, _ := testGate(1)
	p := New(provider, gate, WithMockMode(true))
	got, _ := p.AnalyzeEmotion(context.Background(), "This is the worst service, unacceptable!")
	if got != session.EmotionHostile {
		t.Errorf("AnalyzeEmotion = %s, want hostile", got)
	}
	if provider.CompleteCallCount() != 0 {
		t.Error("mock mode must not call the provider")
	}
}
