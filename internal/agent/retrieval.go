package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/models"
)

// ErrEmbedderMismatch is returned when the corpus was embedded by a
// different provider, model or dimension than the query embedder.
var ErrEmbedderMismatch = errors.New("corpus embedder does not match query embedder")

// QueryEmbedder embeds search text and names the model that did it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Identity() string
}

// ChunkSearcher answers nearest-neighbor queries over indexed chunks.
type ChunkSearcher interface {
	Search(ctx context.Context, q models.ChunkQuery) ([]models.ScoredChunk, error)
	Embedders(ctx context.Context) ([]string, error)
}

// Retrieval answers product questions from the document corpus.
type Retrieval struct {
	model    Generator
	picker   *KeywordPicker
	embedder QueryEmbedder
	store    ChunkSearcher
	profile  config.Profile
	limit    int

	mu       sync.Mutex
	verified bool
	mismatch error
}

// NewRetrieval creates the retrieval agent. limit is the number of chunks
// put into the prompt.
func NewRetrieval(model Model, embedder QueryEmbedder, store ChunkSearcher, profile config.Profile, limit int) *Retrieval {
	if limit <= 0 {
		limit = 3
	}
	return &Retrieval{
		model:    model,
		picker:   NewKeywordPicker(model, profile.Keywords),
		embedder: embedder,
		store:    store,
		profile:  profile,
		limit:    limit,
	}
}

// Answer retrieves context for req and generates a grounded reply.
func (r *Retrieval) Answer(ctx context.Context, req Request) (string, error) {
	chunks, err := r.Retrieve(ctx, req.RawQuestion())
	if err != nil {
		return "", err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	system := persona(r.profile, "You answer concrete product questions using the text passages provided.")
	user := fmt.Sprintf("Context:\n%s\n\n%sUser question: %s",
		strings.Join(texts, "\n\n"), HistoryBlock(req.Summary, req.Buffer), req.Question)

	answer, err := r.model.GenerateWithSystem(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("retrieval agent: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// Retrieve returns the chunks nearest to question, restricted to chunks
// sharing a picked keyword. Without keywords, or when the filter matches
// nothing, it searches the whole corpus.
func (r *Retrieval) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	if err := r.verifyEmbedder(ctx); err != nil {
		return nil, err
	}

	keywords, err := r.picker.Pick(ctx, question)
	if err != nil {
		return nil, err
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	q := models.ChunkQuery{
		Embedding: vec,
		Embedder:  r.embedder.Identity(),
		Keywords:  keywords,
		Limit:     r.limit,
	}
	chunks, err := r.store.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if len(chunks) == 0 && len(keywords) > 0 {
		slog.Debug("keyword filter matched nothing, searching unfiltered", "keywords", keywords)
		q.Keywords = nil
		chunks, err = r.store.Search(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("search chunks: %w", err)
		}
	}

	slog.Debug("retrieved chunks", "keywords", keywords, "count", len(chunks))
	return chunks, nil
}

// verifyEmbedder checks once that the corpus shares the query embedder.
// Store failures and an empty corpus are not cached so a later call
// retries the check.
func (r *Retrieval) verifyEmbedder(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verified {
		return r.mismatch
	}

	identities, err := r.store.Embedders(ctx)
	if err != nil {
		return fmt.Errorf("list corpus embedders: %w", err)
	}
	want := r.embedder.Identity()
	for _, id := range identities {
		if id != want {
			r.mismatch = fmt.Errorf("%w: corpus has %s, query uses %s", ErrEmbedderMismatch, id, want)
			break
		}
	}
	r.verified = len(identities) > 0
	return r.mismatch
}
