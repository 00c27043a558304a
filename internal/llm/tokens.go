// ABOUTME: tiktoken-based token counting for prompt budgets
// ABOUTME: All providers are approximated with the GPT-4 encoding

package llm

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts and truncates text in tokens.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter loads the GPT-4 codec.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the token count of text. A nil counter or codec error falls
// back to four characters per token.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Truncate cuts text to at most limit tokens.
func (tc *TokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if tc == nil || tc.codec == nil {
		if len(text) > limit*4 {
			return text[:limit*4]
		}
		return text
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil || len(ids) <= limit {
		return text
	}
	out, err := tc.codec.Decode(ids[:limit])
	if err != nil {
		return text
	}
	return out
}
