package partner

import (
	"github.com/MrWong99/callcoach/pkg/provider/llm"
)

// defaultThresholdRatio is the share of the context window the history may
// fill before its oldest half is dropped.
const defaultThresholdRatio = 0.75

// history tracks the conversation with one caller and its estimated token
// usage. When the estimate exceeds thresholdRatio × maxTokens, the oldest
// half of the messages is dropped so the working set stays inside the
// model's context window. Training calls are short, so the loss of early
// turns is preferred over a paid summarisation call.
//
// history is not safe for concurrent use; the Partner serialises access.
type history struct {
	maxTokens      int
	thresholdRatio float64

	tokens   int
	messages []llm.Message
	dropped  int
}

func newHistory(maxTokens int) *history {
	return &history{maxTokens: maxTokens, thresholdRatio: defaultThresholdRatio}
}

// add appends msgs and trims if the threshold is crossed. A maxTokens of
// zero disables trimming.
func (h *history) add(msgs ...llm.Message) {
	for _, m := range msgs {
		h.messages = append(h.messages, m)
		h.tokens += llm.EstimateTokens([]llm.Message{m})
	}
	if h.maxTokens <= 0 {
		return
	}
	threshold := int(float64(h.maxTokens) * h.thresholdRatio)
	for h.tokens > threshold && len(h.messages) > 1 {
		h.dropOldest()
	}
}

// dropOldest removes the oldest half of the messages. The cut is moved
// forward so the remaining history starts with a user message.
func (h *history) dropOldest() {
	half := max(len(h.messages)/2, 1)
	for half < len(h.messages)-1 && h.messages[half].Role != llm.RoleUser {
		half++
	}
	h.tokens -= llm.EstimateTokens(h.messages[:half])
	h.dropped += half
	h.messages = append([]llm.Message(nil), h.messages[half:]...)
}

// popLast removes the newest message, used to roll back an aborted turn.
func (h *history) popLast() {
	if len(h.messages) == 0 {
		return
	}
	last := h.messages[len(h.messages)-1]
	h.messages = h.messages[:len(h.messages)-1]
	h.tokens -= llm.EstimateTokens([]llm.Message{last})
}

// snapshot returns a copy of the messages.
func (h *history) snapshot() []llm.Message {
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *history) reset() {
	h.messages = nil
	h.tokens = 0
	h.dropped = 0
}
