package gateway

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token cost of request text.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the named BPE encoding.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TokenCounter{encoding: enc}, nil
}

// ApproximateCounter returns a counter that estimates four characters per
// token. It is used when no BPE encoding can be loaded.
func ApproximateCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the combined token estimate of texts.
func (c *TokenCounter) Count(texts ...string) int {
	total := 0
	for _, text := range texts {
		if text == "" {
			continue
		}
		if c == nil || c.encoding == nil {
			total += (utf8.RuneCountInString(text) + 3) / 4
			continue
		}
		total += len(c.encoding.Encode(text, nil, nil))
	}
	return total
}
