// Package service provides the application services behind the nova CLI:
// document indexing and chat sessions.
package service

import (
	"context"

	"github.com/raphaelgruber/nova-go/internal/models"
)

// ChunkStore persists indexed chunks. Implemented by db.ChunkStore
// (SurrealDB) and pgstore.Store (Postgres with pgvector).
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	SourceIndexed(ctx context.Context, sourceID string) (bool, error)
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	Search(ctx context.Context, q models.ChunkQuery) ([]models.ScoredChunk, error)
	Embedders(ctx context.Context) ([]string, error)
	RebuildIndex(ctx context.Context) error
}

// ChatStore persists chat documents. Implemented by db.ChatStore
// (SurrealDB) and redisstore.ChatStore.
type ChatStore interface {
	Get(ctx context.Context, id string) (*models.ChatDocument, error)
	Save(ctx context.Context, doc *models.ChatDocument) error
	List(ctx context.Context, identity string) ([]models.ChatSummary, error)
	Delete(ctx context.Context, id string) error
}
