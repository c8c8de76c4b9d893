// Package redisstore keeps chat documents in Redis: one JSON value per
// session plus a per-identity sorted set ordered by last update.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/nova-go/internal/db"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "nova:"

// ChatStore implements the chat store on go-redis.
type ChatStore struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
	metrics *metrics.Collector
}

// Option configures a ChatStore.
type Option func(*ChatStore)

// WithTTL expires idle chat documents after d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *ChatStore) { s.ttl = d }
}

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) Option {
	return func(s *ChatStore) { s.timeout = d }
}

// WithMetrics records call timings into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *ChatStore) { s.metrics = c }
}

// Open connects to a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string, opts ...Option) (*ChatStore, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, opts...), nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, opts ...Option) *ChatStore {
	s := &ChatStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the client.
func (s *ChatStore) Close() error {
	return s.rdb.Close()
}

func docKey(id string) string {
	return keyPrefix + "chat:" + id
}

func identityKey(identity string) string {
	return keyPrefix + "chats:" + identity
}

func (s *ChatStore) begin(ctx context.Context) (context.Context, func()) {
	start := time.Now()
	cancel := func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {
		cancel()
		s.metrics.RecordTiming(metrics.OpChatStore, time.Since(start))
	}
}

// Get returns the chat document for id, or db.ErrNotFound.
func (s *ChatStore) Get(ctx context.Context, id string) (*models.ChatDocument, error) {
	ctx, done := s.begin(ctx)
	defer done()

	raw, err := s.rdb.Get(ctx, docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get chat %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}

	var doc models.ChatDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", id, err)
	}
	return &doc, nil
}

// Save writes the full document and moves it to the top of its identity's listing.
func (s *ChatStore) Save(ctx context.Context, doc *models.ChatDocument) error {
	ctx, done := s.begin(ctx)
	defer done()

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, docKey(doc.ID), raw, s.ttl)
		p.ZAdd(ctx, identityKey(doc.Identity), redis.Z{
			Score:  float64(doc.UpdatedAt.UnixMilli()),
			Member: doc.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

// List returns the sessions of identity, most recently updated first.
// Index entries whose document expired are pruned.
func (s *ChatStore) List(ctx context.Context, identity string) ([]models.ChatSummary, error) {
	ctx, done := s.begin(ctx)
	defer done()

	ids, err := s.rdb.ZRevRange(ctx, identityKey(identity), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := []models.ChatSummary{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var doc models.ChatDocument
		if err := json.Unmarshal([]byte(str), &doc); err != nil {
			return nil, fmt.Errorf("decode chat %s: %w", ids[i], err)
		}
		out = append(out, doc.Summarize())
	}
	if len(stale) > 0 {
		_ = s.rdb.ZRem(ctx, identityKey(identity), stale...).Err()
	}
	return out, nil
}

// Delete removes the document for id. Deleting a missing id is not an error.
func (s *ChatStore) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}

	ctx, done := s.begin(ctx)
	defer done()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, docKey(id))
		p.ZRem(ctx, identityKey(doc.Identity), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}
