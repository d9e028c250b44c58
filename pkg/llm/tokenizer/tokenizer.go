// Package tokenizer provides token counting for conversation budgeting.
//
// Counting uses the cl100k_base BPE encoding. When the encoding cannot be
// initialized (offline environments without a cached vocabulary) the
// tokenizer falls back to a character-based estimate instead of failing,
// so budgeting degrades rather than breaking the agent.
package tokenizer

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/kelvincushman/browserclaw/pkg/types"
)

// messageOverheadTokens approximates the per-message wire framing cost.
const messageOverheadTokens = 4

// Tokenizer counts tokens for strings and conversation histories.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer. It never fails outright: if the BPE encoding is
// unavailable the returned tokenizer estimates instead, and the error
// reports why exact counting is off.
func New() (*Tokenizer, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Tokenizer{}, err
	}
	return &Tokenizer{encoding: encoding}, nil
}

// Exact reports whether counts come from the BPE encoding rather than the
// fallback estimate.
func (t *Tokenizer) Exact() bool {
	return t.encoding != nil
}

// CountTokens returns the token count for a string.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.encoding != nil {
		return len(t.encoding.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// CountMessagesTokens returns the total token count for a conversation
// history, including a small per-message overhead for wire framing.
func (t *Tokenizer) CountMessagesTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.CountTokens(msg.Text()) + messageOverheadTokens
		for _, part := range msg.ContextParts() {
			total += t.CountTokens(part.Value)
		}
	}
	return total
}

// estimateTokens approximates the count when no encoding is available.
// ASCII text averages about four characters per token; non-ASCII runes
// (CJK in particular) often expand to multiple tokens each.
func estimateTokens(text string) int {
	ascii := 0
	nonASCII := 0
	for _, r := range text {
		if r <= 127 {
			ascii++
		} else {
			nonASCII++
		}
	}
	return ascii/4 + nonASCII*2
}
