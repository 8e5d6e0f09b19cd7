// Package tiktoken counts and truncates text with OpenAI BPE encodings.
package tiktoken

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tk "github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

type Tokenizer struct {
	enc *tk.Tiktoken
}

// New loads the named encoding. The first call may download the BPE ranks
// unless TIKTOKEN_CACHE_DIR points at a warm cache.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tk.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens. Trailing tokens that decode
// to a partial rune, or whose prefix re-encodes longer, are dropped.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	for n := maxTokens; n > 0; n-- {
		out := t.enc.Decode(tokens[:n])
		if utf8.ValidString(out) && len(t.enc.Encode(out, nil, nil)) <= maxTokens {
			return out
		}
	}
	return ""
}

// WordTokenizer approximates tokens by whitespace-separated words. It backs
// the packer when no BPE encoding can be loaded.
type WordTokenizer struct{}

func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func (WordTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}
