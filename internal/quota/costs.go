package quota

import (
	"unicode/utf8"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
)

// Costs prices the paid services in budget units (USD by convention).
type Costs struct {
	// LLMPer1KTokens is the price of 1000 prompt+completion tokens.
	LLMPer1KTokens float64
	// TTSPer1KChars is the price of 1000 synthesised characters.
	TTSPer1KChars float64
	// LLMReplyTokens is the completion size assumed by estimates.
	LLMReplyTokens int
}

// DefaultCosts are conservative list prices for small chat models and
// neural speech synthesis.
var DefaultCosts = Costs{
	LLMPer1KTokens: 0.002,
	TTSPer1KChars:  0.03,
	LLMReplyTokens: 150,
}

// LLM prices a completion from its reported usage. When the provider did not
// report a total, prompt and completion counts are summed.
func (c Costs) LLM(u llm.Usage) float64 {
	tokens := u.TotalTokens
	if tokens == 0 {
		tokens = u.PromptTokens + u.CompletionTokens
	}
	return float64(tokens) / 1000 * c.LLMPer1KTokens
}

// EstimateLLM prices a request before it is sent: the prompt's estimated
// tokens plus LLMReplyTokens.
func (c Costs) EstimateLLM(promptTokens int) float64 {
	return float64(promptTokens+c.LLMReplyTokens) / 1000 * c.LLMPer1KTokens
}

// TTS prices a synthesis of chars characters.
func (c Costs) TTS(chars int) float64 {
	return float64(chars) / 1000 * c.TTSPer1KChars
}

// EstimateTTS prices the synthesis of text.
func (c Costs) EstimateTTS(text string) float64 {
	return c.TTS(utf8.RuneCountInString(text))
}
