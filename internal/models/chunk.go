package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk is an overlap-linked segment of a source document with its keyword
// tags and embedding. Chunks are immutable; reindexing a source replaces them.
type Chunk struct {
	ID *surrealmodels.RecordID `json:"id,omitempty"`

	// Source reference
	SourceID string `json:"source_id"`
	Seq      int    `json:"seq"` // 1-based, contiguous per source

	// Content
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`

	// Search
	Embedding []float32 `json:"embedding"`
	Embedder  string    `json:"embedder"` // provider/model@dim that produced Embedding

	CreatedAt time.Time `json:"created_at"`
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// ChunkingConfig defines parameters for sentence chunking.
type ChunkingConfig struct {
	// MaxWords is the word budget per chunk. A single sentence longer than
	// the budget is still emitted whole.
	MaxWords int

	// OverlapSentences is how many trailing sentences of a closed chunk seed
	// the next one.
	OverlapSentences int
}

// DefaultChunkingConfig returns the default chunking configuration.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		MaxWords:         1000,
		OverlapSentences: 5,
	}
}

// ChunkQuery describes a nearest-neighbor search.
type ChunkQuery struct {
	Embedding []float32
	Embedder  string   // only chunks written by this embedder are compared
	Keywords  []string // optional; chunks must share at least one
	Limit     int
}
