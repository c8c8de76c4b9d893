package llm

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many tokens a text costs.
type TokenCounter interface {
	CountTokens(text string) int
}

// WordCounter approximates tokens as whitespace-separated words.
type WordCounter struct{}

// CountTokens returns the number of words in text.
func (WordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// TiktokenCounter counts tokens with a BPE encoding. The encoding is loaded
// lazily; if it cannot be loaded (offline, unknown encoding) the counter
// falls back to words.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the given encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

// CountTokens returns the token count of text.
func (t *TiktokenCounter) CountTokens(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			slog.Warn("tiktoken unavailable, counting words", "encoding", t.encoding, "error", err)
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return WordCounter{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
