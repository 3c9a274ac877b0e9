package partner

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/internal/session"
	"github.com/MrWong99/callcoach/pkg/provider/llm"
)

const emotionPrompt = `Classify the emotional tone of the message you are given.
Answer with exactly one word from this list: neutral, hostile, happy, frustrated, anxious.`

// emotionKeywords drive the heuristic classifier. Matching is on whole,
// lower-cased tokens.
var emotionKeywords = map[session.Emotion][]string{
	session.EmotionHostile: {
		"ridiculous", "unacceptable", "stupid", "useless", "demand", "lawyer", "never",
		"worst", "incompetent", "angry", "furious", "nonsense",
		"konyol", "keterlaluan", "bodoh", "marah", "payah", "tidak becus",
	},
	session.EmotionHappy: {
		"great", "thanks", "thank", "wonderful", "perfect", "excellent", "glad",
		"happy", "awesome", "love", "nice",
		"terima kasih", "bagus", "senang", "hebat", "mantap", "sempurna",
	},
	session.EmotionFrustrated: {
		"again", "still", "waiting", "already", "frustrating", "frustrated", "annoying",
		"tired", "enough", "why",
		"lagi", "masih", "menunggu", "sudah", "kesal", "capek", "kenapa",
	},
	session.EmotionAnxious: {
		"worried", "afraid", "nervous", "unsure", "urgent", "scared", "hope", "maybe",
		"help", "please", "concerned",
		"khawatir", "takut", "gugup", "mendesak", "semoga", "tolong", "mungkin",
	},
}

// AnalyzeEmotion classifies the tone of text. The classification is a quota
// gated LLM call; in mock mode, on quota exhaustion or on failure a keyword
// heuristic answers instead. Intensity is in [0, 1].
func (p *Partner) AnalyzeEmotion(ctx context.Context, text string) (session.Emotion, float64) {
	heuristic, intensity := ClassifyEmotion(text)
	if p.MockMode() || strings.TrimSpace(text) == "" {
		return heuristic, intensity
	}

	req := llm.CompletionRequest{
		SystemPrompt: emotionPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens:    4,
	}
	var label string
	estimate := p.costs.EstimateLLM(llm.EstimateTokens(req.Messages) + 40)
	err := p.gate.Call(ctx, quota.ServiceLLM, estimate, func(ctx context.Context) (float64, error) {
		resp, err := p.llm.Complete(ctx, req)
		if err != nil {
			return 0, err
		}
		if resp == nil {
			return 0, errEmptyReply
		}
		label = resp.Content
		return p.costs.LLM(resp.Usage), nil
	})
	if err != nil {
		p.log.Debug("emotion classification fell back to keywords", "err", err)
		return heuristic, intensity
	}

	e, ok := session.ParseEmotion(normalizeLabel(label))
	if !ok {
		return heuristic, intensity
	}
	if e != heuristic {
		// The heuristic's intensity describes its own label; use a neutral
		// middle value for the model's.
		intensity = 0.5
		if e == session.EmotionNeutral {
			intensity = 0.2
		}
	}
	return e, intensity
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }); i > 0 {
		s = s[:i]
	}
	return s
}

// ClassifyEmotion is the keyword heuristic: the emotion with the most
// keyword hits wins, ties resolve in [session.Emotions] order and no hits
// mean neutral. Intensity grows with the number of hits and with
// exclamation marks.
func ClassifyEmotion(text string) (session.Emotion, float64) {
	lower := " " + strings.Join(session.Tokenize(strings.ToLower(text)), " ") + " "
	best, bestHits := session.EmotionNeutral, 0
	for _, e := range session.Emotions {
		hits := 0
		for _, kw := range emotionKeywords[e] {
			hits += strings.Count(lower, " "+kw+" ")
		}
		if hits > bestHits {
			best, bestHits = e, hits
		}
	}
	if bestHits == 0 {
		return session.EmotionNeutral, 0.2
	}
	intensity := 0.3 + 0.15*float64(bestHits) + 0.1*float64(strings.Count(text, "!"))
	return best, min(intensity, 1)
}
