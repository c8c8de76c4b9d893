package parser

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestChunkSentences_Empty(t *testing.T) {
	for _, in := range []string{"", "   \n\n\t  "} {
		assert.Empty(t, ChunkSentences(in, models.DefaultChunkingConfig()))
	}
}

func TestChunkSentences_SingleChunk(t *testing.T) {
	chunks := ChunkSentences("One two three. Four five!  Six?", models.DefaultChunkingConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Seq)
	assert.Equal(t, "One two three. Four five! Six?", chunks[0].Text)
	assert.Equal(t, 6, chunks[0].Words)
}

func TestChunkSentences_OverlapSeed(t *testing.T) {
	text := "a b. c d. e f. g h. i j."
	chunks := ChunkSentences(text, models.ChunkingConfig{MaxWords: 6, OverlapSentences: 2})

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a b.", "c d.", "e f."}, chunks[0].Sentences)
	assert.Equal(t, []string{"c d.", "e f.", "g h."}, chunks[1].Sentences)
	assert.Equal(t, []string{"e f.", "g h.", "i j."}, chunks[2].Sentences)
	assert.Equal(t, 3, chunks[2].Seq)
}

func TestChunkSentences_SeedShortenedToHonorBudget(t *testing.T) {
	text := "a b c. d e f. g h i j k."
	chunks := ChunkSentences(text, models.ChunkingConfig{MaxWords: 8, OverlapSentences: 2})

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"a b c.", "d e f."}, chunks[0].Sentences)
	// The full two-sentence seed plus the five-word sentence would be eleven words.
	assert.Equal(t, []string{"d e f.", "g h i j k."}, chunks[1].Sentences)
	assert.LessOrEqual(t, chunks[1].Words, 8)
}

func TestChunkSentences_OverBudgetSentenceEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 12) + "end."
	text := "short one. " + long + " tail here."
	chunks := ChunkSentences(text, models.ChunkingConfig{MaxWords: 5, OverlapSentences: 3})

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"short one."}, chunks[0].Sentences)
	assert.Equal(t, []string{strings.TrimSpace(long)}, chunks[1].Sentences)
	assert.Equal(t, 13, chunks[1].Words)
	assert.Equal(t, []string{"tail here."}, chunks[2].Sentences)
}

func TestSplitSentences_Abbreviation(t *testing.T) {
	got := splitSentences("It is made in the USA. Really good. Yes")
	assert.Equal(t, []string{"It is made in the USA. Really good.", " Yes"}, got)
}

func TestChunkSentences_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		budget := rapid.IntRange(1, 40).Draw(rt, "budget")
		overlap := rapid.IntRange(0, 6).Draw(rt, "overlap")
		n := rapid.IntRange(1, 40).Draw(rt, "sentences")

		var sentences []string
		for i := range n {
			words := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 0, 14).Draw(rt, "words")
			// A unique leading word keeps overlap detection unambiguous.
			words = append([]string{fmt.Sprintf("s%d", i)}, words...)
			sentences = append(sentences, strings.Join(words, " ")+".")
		}

		chunks := ChunkSentences(strings.Join(sentences, " "), models.ChunkingConfig{MaxWords: budget, OverlapSentences: overlap})
		if len(chunks) == 0 {
			rt.Fatalf("no chunks")
		}

		var fresh []string
		for i, c := range chunks {
			if c.Seq != i+1 {
				rt.Fatalf("chunk %d has seq %d", i, c.Seq)
			}
			if c.Words > budget && len(c.Sentences) != 1 {
				rt.Fatalf("chunk %d has %d words over budget %d with %d sentences", i, c.Words, budget, len(c.Sentences))
			}
			if c.Words != wordCountAll(c.Sentences) {
				rt.Fatalf("chunk %d word count mismatch", i)
			}

			seedLen := 0
			if i > 0 {
				prev := chunks[i-1].Sentences
				seedLen = seedLength(prev, c.Sentences, overlap)
				full := min(overlap, len(prev))
				if seedLen < full {
					// Shortened: one more seed sentence would have broken the budget.
					incoming := c.Sentences[seedLen]
					wider := prev[len(prev)-seedLen-1:]
					if wordCountAll(wider)+wordCount(incoming) <= budget {
						rt.Fatalf("chunk %d seed shortened to %d without need", i, seedLen)
					}
				}
			}
			if seedLen == len(c.Sentences) {
				rt.Fatalf("chunk %d contains only overlap", i)
			}
			fresh = append(fresh, c.Sentences[seedLen:]...)
		}

		if !slices.Equal(fresh, sentences) {
			rt.Fatalf("chunks do not cover the input in order")
		}
	})
}

// seedLength returns the longest k <= overlap such that cur starts with the
// last k sentences of prev.
func seedLength(prev, cur []string, overlap int) int {
	for k := min(overlap, len(prev), len(cur)); k > 0; k-- {
		if slices.Equal(prev[len(prev)-k:], cur[:k]) {
			return k
		}
	}
	return 0
}
