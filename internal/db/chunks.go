package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// ChunkStore persists chunks and answers filtered nearest-neighbor queries
// over the HNSW index.
type ChunkStore struct {
	c *Client
}

// NewChunkStore creates a chunk store on client.
func NewChunkStore(client *Client) *ChunkStore {
	return &ChunkStore{c: client}
}

type chunkHit struct {
	SourceID string   `json:"source_id"`
	Seq      int      `json:"seq"`
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`
	Embedder string   `json:"embedder"`
	Score    float64  `json:"score"`
}

// InsertChunks writes all chunks of a source in a single statement, so
// either every chunk is stored or none is. A (source, seq) collision
// returns ErrAlreadyExists.
func (s *ChunkStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	rows := make([]map[string]any, len(chunks))
	for i, ch := range chunks {
		keywords := ch.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		rows[i] = map[string]any{
			"source_id":  ch.SourceID,
			"seq":        ch.Seq,
			"text":       ch.Text,
			"keywords":   keywords,
			"embedding":  ch.Embedding,
			"embedder":   ch.Embedder,
			"created_at": now,
		}
	}

	_, err := surrealdb.Query[any](ctx, s.c.db, `INSERT INTO chunk $rows RETURN NONE`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("insert chunks: %w", wrapQueryError(err))
	}
	return nil
}

// SourceIndexed reports whether any chunk of sourceID exists.
func (s *ChunkStore) SourceIndexed(ctx context.Context, sourceID string) (bool, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	results, err := surrealdb.Query[[]struct{ C int }](ctx, s.c.db,
		`SELECT count() AS c FROM chunk WHERE source_id = $source GROUP ALL`,
		map[string]any{"source": sourceID})
	if err != nil {
		return false, fmt.Errorf("source indexed: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return false, nil
	}
	return (*results)[0].Result[0].C > 0, nil
}

// DeleteSource removes every chunk of sourceID and returns how many were deleted.
func (s *ChunkStore) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	results, err := surrealdb.Query[[]chunkHit](ctx, s.c.db,
		`DELETE chunk WHERE source_id = $source RETURN BEFORE`,
		map[string]any{"source": sourceID})
	if err != nil {
		return 0, fmt.Errorf("delete source: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}

// Search returns the nearest chunks to q.Embedding among chunks written by
// q.Embedder. With keywords set, only chunks sharing at least one keyword match.
// The keyword filter runs after the HNSW candidate set is drawn; when it
// leaves fewer than q.Limit hits, an exact scan over the matching chunks
// replaces the approximate result.
func (s *ChunkStore) Search(ctx context.Context, q models.ChunkQuery) ([]models.ScoredChunk, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	hits, err := s.search(ctx, q, false)
	if err != nil {
		return nil, err
	}
	if len(q.Keywords) > 0 && len(hits) < q.Limit {
		if hits, err = s.search(ctx, q, true); err != nil {
			return nil, err
		}
	}

	out := make([]models.ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = models.ScoredChunk{
			Chunk: models.Chunk{
				SourceID: h.SourceID,
				Seq:      h.Seq,
				Text:     h.Text,
				Keywords: h.Keywords,
				Embedder: h.Embedder,
			},
			Score: h.Score,
		}
	}
	return out, nil
}

func (s *ChunkStore) search(ctx context.Context, q models.ChunkQuery, exact bool) ([]chunkHit, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]chunkHit](ctx, s.c.db, searchSQL(q, exact), map[string]any{
		"emb":      q.Embedding,
		"embedder": q.Embedder,
		"kw":       q.Keywords,
		"limit":    q.Limit,
	})
	s.c.metrics.RecordTiming(metrics.OpVectorSearch, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// searchSQL builds the chunk search. The approximate form draws
// candidates from the HNSW index (ef=40), over-fetching 4x when a keyword
// filter applies; the exact form scores every chunk of the embedder.
func searchSQL(q models.ChunkQuery, exact bool) string {
	where := []string{"embedder = $embedder"}
	if !exact {
		k := q.Limit
		if len(q.Keywords) > 0 {
			k = q.Limit * 4
		}
		where = append([]string{fmt.Sprintf("embedding <|%d,40|> $emb", k)}, where...)
	}
	if len(q.Keywords) > 0 {
		where = append(where, "keywords CONTAINSANY $kw")
	}
	return fmt.Sprintf(`
		SELECT source_id, seq, text, keywords, embedder,
			vector::similarity::cosine(embedding, $emb) AS score
		FROM chunk
		WHERE %s
		ORDER BY score DESC
		LIMIT $limit
	`, strings.Join(where, " AND "))
}

// Embedders lists the distinct embedder identities present in the corpus.
func (s *ChunkStore) Embedders(ctx context.Context) ([]string, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	results, err := surrealdb.Query[[]struct {
		Embedder string `json:"embedder"`
	}](ctx, s.c.db, `SELECT embedder FROM chunk GROUP BY embedder`, nil)
	if err != nil {
		return nil, fmt.Errorf("list embedders: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}
	out := make([]string, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		out = append(out, r.Embedder)
	}
	return out, nil
}

// RebuildIndex rebuilds the HNSW index after a large batch ingest.
func (s *ChunkStore) RebuildIndex(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, s.c.db, `REBUILD INDEX IF EXISTS chunk_embedding ON chunk`, nil)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	return nil
}
