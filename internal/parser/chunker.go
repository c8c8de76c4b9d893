package parser

import (
	"strings"
	"unicode"

	"github.com/raphaelgruber/nova-go/internal/models"
)

// ChunkResult represents a chunk of content.
type ChunkResult struct {
	Seq       int      // 1-based position within the source
	Text      string   // Sentences joined by single spaces
	Sentences []string // Sentences in order, including the overlap seed
	Words     int
}

// ChunkSentences splits text into word-bounded, sentence-aligned chunks.
//
// Sentences accumulate greedily while the running word count stays within
// cfg.MaxWords. When the next sentence would exceed the budget the chunk is
// closed and the next one is seeded with the last cfg.OverlapSentences
// sentences of the closed chunk. The seed is shortened from the front when
// seed plus the incoming sentence would exceed the budget, so only a single
// over-budget sentence can produce an over-budget chunk.
func ChunkSentences(text string, cfg models.ChunkingConfig) []ChunkResult {
	var sentences []string
	for _, s := range splitSentences(text) {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return nil
	}

	var chunks []ChunkResult
	var current []string
	currentWords := 0

	flush := func() {
		chunks = append(chunks, ChunkResult{
			Seq:       len(chunks) + 1,
			Text:      strings.Join(current, " "),
			Sentences: append([]string(nil), current...),
			Words:     currentWords,
		})
	}

	for _, sentence := range sentences {
		words := wordCount(sentence)

		if len(current) > 0 && currentWords+words > cfg.MaxWords {
			flush()

			seed := current[max(0, len(current)-cfg.OverlapSentences):]
			seedWords := wordCountAll(seed)
			for len(seed) > 0 && seedWords+words > cfg.MaxWords {
				seedWords -= wordCount(seed[0])
				seed = seed[1:]
			}
			current = append([]string(nil), seed...)
			currentWords = seedWords
		}

		current = append(current, sentence)
		currentWords += words
	}
	flush()

	return chunks
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func wordCountAll(sentences []string) int {
	n := 0
	for _, s := range sentences {
		n += wordCount(s)
	}
	return n
}

// splitSentences splits text into sentences.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		// Check for sentence ending
		if r == '.' || r == '!' || r == '?' {
			// Look ahead for space or end
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				// Not an abbreviation (simple heuristic)
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue // Likely abbreviation like "Dr."
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}
