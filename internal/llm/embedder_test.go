package llm

import (
	"context"
	"testing"

	"github.com/raphaelgruber/nova-go/internal/llm/llmtest"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedderBatch(t *testing.T) {
	e := NewEmbedderFrom(llmtest.HashEmbedder{Dim: 8}, "ollama", "tiny", 8)
	e.metrics = metrics.NewCollector()

	vectors, err := e.EmbedBatch(context.Background(), []string{"a b", "c"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 8)

	empty, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Equal(t, int64(1), e.metrics.Snapshot().Embedding.Count)
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	e := NewEmbedderFrom(llmtest.FixedEmbedder{Dim: 4}, "ollama", "tiny", 8)

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

// prefixEmbedder marks query vectors with 1 and document vectors with 2,
// like instruction-prefixed models that embed the two sides differently.
type prefixEmbedder struct {
	dim int
}

func (p prefixEmbedder) vector(mark float32) []float32 {
	v := make([]float32, p.dim)
	v[0] = mark
	return v
}

func (p prefixEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.vector(2)
	}
	return out, nil
}

func (p prefixEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return p.vector(1), nil
}

func TestEmbedUsesQueryEmbedding(t *testing.T) {
	e := NewEmbedderFrom(prefixEmbedder{dim: 8}, "ollama", "nomic-embed-text", 8)

	q, err := e.Embed(context.Background(), "how do I pair my headphones?")
	require.NoError(t, err)
	assert.Equal(t, float32(1), q[0])

	docs, err := e.EmbedBatch(context.Background(), []string{"Pairing: hold the button."})
	require.NoError(t, err)
	assert.Equal(t, float32(2), docs[0][0])

	short := NewEmbedderFrom(prefixEmbedder{dim: 4}, "ollama", "nomic-embed-text", 8)
	_, err = short.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedderIdentity(t *testing.T) {
	e := NewEmbedderFrom(llmtest.FixedEmbedder{Dim: 768}, "ollama", "nomic-embed-text", 768)
	assert.Equal(t, "ollama/nomic-embed-text@768", e.Identity())
	assert.Equal(t, "nomic-embed-text", e.Model())
	assert.Equal(t, 768, e.Dimension())
}
