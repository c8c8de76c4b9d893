// Package pgstore is the Postgres pgvector implementation of the chunk store.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/raphaelgruber/nova-go/internal/db"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const embeddingIndex = "idx_chunks_embedding"

// ChunkRecord is the row layout of the chunks table.
type ChunkRecord struct {
	ID        uint            `gorm:"primaryKey"`
	SourceID  string          `gorm:"type:text;not null;uniqueIndex:idx_chunks_source_seq,priority:1"`
	Seq       int             `gorm:"not null;uniqueIndex:idx_chunks_source_seq,priority:2"`
	Text      string          `gorm:"type:text;not null"`
	Keywords  pq.StringArray  `gorm:"type:text[];not null;default:'{}'"`
	Embedding pgvector.Vector `gorm:"type:vector;not null"`
	Embedder  string          `gorm:"type:text;not null;index"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

// TableName implements gorm's tabler.
func (ChunkRecord) TableName() string {
	return "chunks"
}

// Store persists chunks in Postgres and searches them by cosine distance.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
	metrics *metrics.Collector
}

// Open connects to dsn. Migrate must run before the store is used.
func Open(dsn string, timeout time.Duration, collector *metrics.Collector) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}
	slog.Info("pgvector store connected")
	return New(gdb, timeout, collector), nil
}

// New wraps an open gorm handle.
func New(gdb *gorm.DB, timeout time.Duration, collector *metrics.Collector) *Store {
	return &Store{db: gdb, timeout: timeout, metrics: collector}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the vector extension, the chunks table and its indexes.
// dimension fixes the vector column width and must match the embedder.
func (s *Store) Migrate(ctx context.Context, dimension int) error {
	tx := s.db.WithContext(ctx)
	if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	if err := tx.AutoMigrate(&ChunkRecord{}); err != nil {
		return fmt.Errorf("migrate chunks: %w", err)
	}
	stmts := []string{
		fmt.Sprintf("ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d)", dimension),
		"CREATE INDEX IF NOT EXISTS idx_chunks_keywords ON chunks USING gin (keywords)",
		"CREATE INDEX IF NOT EXISTS " + embeddingIndex + " ON chunks USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate chunks: %w", err)
		}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// InsertChunks writes all chunks of a source in one transaction. A
// (source, seq) collision returns db.ErrAlreadyExists.
func (s *Store) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	records := make([]ChunkRecord, len(chunks))
	for i, ch := range chunks {
		keywords := ch.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		records[i] = ChunkRecord{
			SourceID:  ch.SourceID,
			Seq:       ch.Seq,
			Text:      ch.Text,
			Keywords:  keywords,
			Embedding: pgvector.NewVector(ch.Embedding),
			Embedder:  ch.Embedder,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, 100).Error
	})
	if err != nil {
		return fmt.Errorf("insert chunks: %w", translate(err))
	}
	return nil
}

// SourceIndexed reports whether any chunk of sourceID exists.
func (s *Store) SourceIndexed(ctx context.Context, sourceID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	err := s.db.WithContext(ctx).Model(&ChunkRecord{}).Where("source_id = ?", sourceID).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("source indexed: %w", err)
	}
	return n > 0, nil
}

// DeleteSource removes every chunk of sourceID and returns how many were deleted.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).Where("source_id = ?", sourceID).Delete(&ChunkRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete source: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

type chunkHit struct {
	SourceID string
	Seq      int
	Text     string
	Keywords pq.StringArray
	Embedder string
	Score    float64
}

// Search returns the nearest chunks to q.Embedding among chunks written by
// q.Embedder. With keywords set, only chunks sharing at least one keyword
// (array overlap) match.
func (s *Store) Search(ctx context.Context, q models.ChunkQuery) ([]models.ScoredChunk, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vec := pgvector.NewVector(q.Embedding)
	tx := s.db.WithContext(ctx).Model(&ChunkRecord{}).
		Select("source_id, seq, text, keywords, embedder, 1 - (embedding <=> ?) AS score", vec).
		Where("embedder = ?", q.Embedder)
	if len(q.Keywords) > 0 {
		tx = tx.Where("keywords && ?", pq.Array(q.Keywords))
	}

	var hits []chunkHit
	start := time.Now()
	err := tx.Order(gorm.Expr("embedding <=> ?", vec)).Limit(q.Limit).Scan(&hits).Error
	s.metrics.RecordTiming(metrics.OpVectorSearch, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
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

// Embedders lists the distinct embedder identities present in the corpus.
func (s *Store) Embedders(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out := []string{}
	if err := s.db.WithContext(ctx).Model(&ChunkRecord{}).Distinct().Pluck("embedder", &out).Error; err != nil {
		return nil, fmt.Errorf("list embedders: %w", err)
	}
	return out, nil
}

// RebuildIndex rebuilds the HNSW index after a large batch ingest.
func (s *Store) RebuildIndex(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("REINDEX INDEX " + embeddingIndex).Error; err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	return nil
}

// translate maps unique violations onto the shared store sentinel.
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") {
		return fmt.Errorf("%w: %v", db.ErrAlreadyExists, err)
	}
	return err
}
