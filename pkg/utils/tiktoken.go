// Package utils provides tiktoken-based token counting.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken codec. Gemini and Claude models have
// their own tokenizers; the GPT-4 encoding is a close enough estimate for metrics.
type TokenCounter struct {
	codec tokenizer.Codec
}

var (
	defaultCounter     *TokenCounter //nolint:gochecknoglobals // codec load is expensive
	defaultCounterOnce sync.Once     //nolint:gochecknoglobals
)

// NewTokenCounter creates a token counter for model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text, falling back to a
// 4-characters-per-token estimate when the codec is unavailable.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountTokensSimple counts with a shared GPT-4 codec.
func CountTokensSimple(text string) int {
	defaultCounterOnce.Do(func() {
		counter, err := NewTokenCounter("gpt-4")
		if err == nil {
			defaultCounter = counter
		}
	})
	return defaultCounter.CountTokens(text)
}

// TruncateToTokenLimit shortens text to roughly limit tokens. It cuts by characters,
// not token boundaries.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}
