package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ChatStore keeps one chat_session record per session, partitioned by identity.
type ChatStore struct {
	c *Client
}

// NewChatStore creates a chat store on client.
func NewChatStore(client *Client) *ChatStore {
	return &ChatStore{c: client}
}

type chatRow struct {
	ID        surrealmodels.RecordID `json:"id"`
	Identity  string                 `json:"identity"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Messages  []models.ChatMessage   `json:"messages"`
}

func (r chatRow) document() (*models.ChatDocument, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.ChatDocument{
		ID:        id,
		Identity:  r.Identity,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Messages:  r.Messages,
	}, nil
}

// Get returns the chat document for id, or ErrNotFound.
func (s *ChatStore) Get(ctx context.Context, id string) (*models.ChatDocument, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()
	defer s.observe(time.Now())

	results, err := surrealdb.Query[[]chatRow](ctx, s.c.db,
		`SELECT * FROM type::record("chat_session", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get chat %s: %w", id, ErrNotFound)
	}
	return (*results)[0].Result[0].document()
}

// Save writes the full document, replacing any previous version.
func (s *ChatStore) Save(ctx context.Context, doc *models.ChatDocument) error {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()
	defer s.observe(time.Now())

	messages := doc.Messages
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	_, err := surrealdb.Query[any](ctx, s.c.db, `
		UPSERT type::record("chat_session", $id) CONTENT {
			identity: $identity,
			created_at: $created_at,
			updated_at: $updated_at,
			messages: $messages
		} RETURN NONE
	`, map[string]any{
		"id":         doc.ID,
		"identity":   doc.Identity,
		"created_at": doc.CreatedAt.UTC(),
		"updated_at": doc.UpdatedAt.UTC(),
		"messages":   messages,
	})
	if err != nil {
		return fmt.Errorf("save chat: %w", wrapQueryError(err))
	}
	return nil
}

// List returns the sessions of identity, most recently updated first.
func (s *ChatStore) List(ctx context.Context, identity string) ([]models.ChatSummary, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()
	defer s.observe(time.Now())

	results, err := surrealdb.Query[[]chatRow](ctx, s.c.db,
		`SELECT * FROM chat_session WHERE identity = $identity ORDER BY updated_at DESC`,
		map[string]any{"identity": identity})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.ChatSummary{}, nil
	}

	out := make([]models.ChatSummary, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		doc, err := row.document()
		if err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		out = append(out, doc.Summarize())
	}
	return out, nil
}

// Delete removes the document for id. Deleting a missing id is not an error.
func (s *ChatStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()
	defer s.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, s.c.db,
		`DELETE type::record("chat_session", $id)`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

func (s *ChatStore) observe(start time.Time) {
	s.c.metrics.RecordTiming(metrics.OpChatStore, time.Since(start))
}
