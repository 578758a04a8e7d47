// Package budget keeps generate prompts inside the chat model's context
// window. Retrieved passages and conversation history compete for the same
// window: passages are fitted first in rank order, then history is trimmed
// oldest-first around them.
//
// Token counts use a character heuristic (1 token ≈ 4 characters, rounded
// up) because the chat backends have different tokenizers. Characters are
// counted as runes so non-ASCII record values are not overcounted.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// DefaultMaxContextTokens fits 8k-context models with room left for the
	// answer.
	DefaultMaxContextTokens = 6000

	// DefaultMaxPassageTokens caps the retrieved context block so a large
	// top_k cannot crowd out the question and history.
	DefaultMaxPassageTokens = 3000

	// messageOverhead approximates the per-message framing chat APIs add.
	messageOverhead = 4
)

// Window is a prompt budget. The zero value uses the defaults.
type Window struct {
	// MaxTokens bounds the whole prompt.
	MaxTokens int
	// MaxPassageTokens bounds the retrieved context block. It never exceeds
	// MaxTokens.
	MaxPassageTokens int
}

// NewWindow returns a Window with non-positive limits replaced by defaults.
func NewWindow(maxTokens, maxPassageTokens int) Window {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	if maxPassageTokens <= 0 {
		maxPassageTokens = DefaultMaxPassageTokens
	}
	return Window{MaxTokens: maxTokens, MaxPassageTokens: min(maxPassageTokens, maxTokens)}
}

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	return (utf8.RuneCountInString(s) + charsPerToken - 1) / charsPerToken
}

// EstimateMessages sums role, content and framing for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// FitPassages returns the longest rank-ordered prefix of passages that fits
// MaxPassageTokens, and how many were cut. The top passage is always kept
// so a grounded answer has something to work with.
func (w Window) FitPassages(passages []string) (kept []string, dropped int) {
	if len(passages) == 0 {
		return passages, 0
	}
	used := Estimate(passages[0])
	n := 1
	for ; n < len(passages); n++ {
		used += Estimate(passages[n])
		if used > w.MaxPassageTokens {
			break
		}
	}
	return passages[:n], len(passages) - n
}

// TrimHistory drops the oldest history messages until fixed plus history
// fits MaxTokens. fixed (context, question) is never dropped; if it alone
// exceeds the window the result is empty.
func (w Window) TrimHistory(fixed, history []*schema.Message) []*schema.Message {
	remaining := w.MaxTokens - EstimateMessages(fixed)
	// Walk newest to oldest so the most recent turns survive.
	start := len(history)
	for start > 0 {
		cost := EstimateMessages(history[start-1 : start])
		if cost > remaining {
			break
		}
		remaining -= cost
		start--
	}
	return history[start:]
}
