package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/db"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/memory"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/raphaelgruber/nova-go/internal/orchestrator"
	"github.com/raphaelgruber/nova-go/internal/pgstore"
	"github.com/raphaelgruber/nova-go/internal/querygen"
	"github.com/raphaelgruber/nova-go/internal/redisstore"
	"github.com/raphaelgruber/nova-go/internal/service"
	"github.com/raphaelgruber/nova-go/internal/sqlbackend"
)

// vectorStore is what both the indexer and the retrieval agent need.
type vectorStore interface {
	service.ChunkStore
	agent.ChunkSearcher
}

// app wires the components a command needs. Everything is opened lazily so
// `nova sessions` does not dial the LLM provider and `nova index` does not
// open the query backend.
type app struct {
	cfg     config.Config
	profile config.Profile
	logger  *slog.Logger
	metrics *metrics.Collector

	surreal  *db.Client
	model    *llm.Model
	embedder *llm.Embedder
	chunks   vectorStore
	chats    service.ChatStore
	backend  *sqlbackend.Backend

	closers []func(ctx context.Context) error
}

func newApp(cfg config.Config, profile config.Profile, logger *slog.Logger) *app {
	return &app{cfg: cfg, profile: profile, logger: logger, metrics: metrics.NewCollector()}
}

// Close releases every opened connection.
func (a *app) Close(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) surrealDB(ctx context.Context) (*db.Client, error) {
	if a.surreal != nil {
		return a.surreal, nil
	}
	client, err := db.NewClient(ctx, db.Config{
		URL:       a.cfg.SurrealDBURL,
		Namespace: a.cfg.SurrealDBNamespace,
		Database:  a.cfg.SurrealDBDatabase,
		Username:  a.cfg.SurrealDBUser,
		Password:  a.cfg.SurrealDBPass,
		AuthLevel: a.cfg.SurrealDBAuthLevel,
		Timeout:   a.cfg.StoreTimeout,
	}, a.logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := client.InitSchema(ctx, a.cfg.EmbedDimension); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	a.surreal = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *app) llmModel(ctx context.Context) (*llm.Model, error) {
	if a.model != nil {
		return a.model, nil
	}
	m, err := llm.NewModel(ctx, a.cfg, llm.WithTimeout(a.cfg.LLMTimeout), llm.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	a.model = m
	return m, nil
}

func (a *app) embed(ctx context.Context) (*llm.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	e, err := llm.NewEmbedder(ctx, a.cfg, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	a.embedder = e
	return e, nil
}

func (a *app) chunkStore(ctx context.Context) (vectorStore, error) {
	if a.chunks != nil {
		return a.chunks, nil
	}
	switch a.cfg.VectorStore {
	case config.StoreSurrealDB:
		client, err := a.surrealDB(ctx)
		if err != nil {
			return nil, err
		}
		a.chunks = db.NewChunkStore(client)
	case config.StorePGVector:
		store, err := pgstore.Open(a.cfg.PGVectorDSN, a.cfg.StoreTimeout, a.metrics)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		if err := store.Migrate(ctx, a.cfg.EmbedDimension); err != nil {
			return nil, err
		}
		a.chunks = store
	default:
		return nil, fmt.Errorf("unknown vector store %q", a.cfg.VectorStore)
	}
	return a.chunks, nil
}

func (a *app) chatStore(ctx context.Context) (service.ChatStore, error) {
	if a.chats != nil {
		return a.chats, nil
	}
	switch a.cfg.ChatStore {
	case config.StoreSurrealDB:
		client, err := a.surrealDB(ctx)
		if err != nil {
			return nil, err
		}
		a.chats = db.NewChatStore(client)
	case config.StoreRedis:
		store, err := redisstore.Open(ctx, a.cfg.RedisURL,
			redisstore.WithTimeout(a.cfg.StoreTimeout),
			redisstore.WithMetrics(a.metrics))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.chats = store
	default:
		return nil, fmt.Errorf("unknown chat store %q", a.cfg.ChatStore)
	}
	return a.chats, nil
}

func (a *app) queryBackend() (*sqlbackend.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	b, err := sqlbackend.Open(a.cfg.QueryDriver, a.cfg.QueryDSN, a.cfg.QueryTimeout, a.metrics)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return b.Close() })
	a.backend = b
	return b, nil
}

// dispatcher builds the full agent pipeline.
func (a *app) dispatcher(ctx context.Context) (*orchestrator.Dispatcher, error) {
	model, err := a.llmModel(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.embed(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := a.chunkStore(ctx)
	if err != nil {
		return nil, err
	}
	backend, err := a.queryBackend()
	if err != nil {
		return nil, err
	}

	agents := orchestrator.Agents{
		General:   agent.NewGeneral(model, a.profile),
		Retrieval: agent.NewRetrieval(model, embedder, chunks, a.profile, a.cfg.SearchLimit),
		StructuredQuery: querygen.New(model, backend, querygen.Config{
			Attempts: a.cfg.GenerationAttempts,
			Cycles:   a.cfg.OutputCycles,
			Fallback: a.cfg.QueryFallback,
			Profile:  a.profile,
		}, a.metrics),
	}
	router := orchestrator.NewRouter(model, agents, a.profile, a.metrics, a.logger)
	return orchestrator.NewDispatcher(
		orchestrator.NewSplitter(model),
		router,
		orchestrator.NewCombiner(model, a.profile),
	), nil
}

// chatService builds a chat service on the dispatcher and the chat store.
func (a *app) chatService(ctx context.Context) (*service.ChatService, error) {
	dispatcher, err := a.dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.chatStore(ctx)
	if err != nil {
		return nil, err
	}
	pairs := memory.PairFactory{
		WindowTurns: a.cfg.WindowTurns,
		TokenLimit:  a.cfg.SummaryTokenLimit,
		Summarizer:  a.model,
		Counter:     llm.NewTiktokenCounter("cl100k_base"),
	}
	registry := memory.NewRegistry(a.cfg.SessionCacheSize, a.cfg.SessionTTL, pairs.New, a.logger)
	return service.NewChatService(dispatcher, registry, store, a.cfg.WindowTurns, a.logger), nil
}

// indexService builds the indexer with the configured keyword tagger.
func (a *app) indexService(ctx context.Context) (*service.IndexService, error) {
	embedder, err := a.embed(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := a.chunkStore(ctx)
	if err != nil {
		return nil, err
	}

	var tagger service.Tagger
	switch a.cfg.KeywordMode {
	case config.KeywordModeStatistical:
		tagger = service.StatisticalTagger(a.cfg.StatisticalTopK)
	case config.KeywordModeVocabulary:
		model, err := a.llmModel(ctx)
		if err != nil {
			return nil, err
		}
		tagger = service.VocabularyTagger(agent.NewKeywordPicker(model, a.profile.Keywords))
	default:
		return nil, fmt.Errorf("unknown keyword mode %q", a.cfg.KeywordMode)
	}

	return service.NewIndexService(chunks, embedder, tagger, service.IndexConfig{
		Chunking: models.ChunkingConfig{
			MaxWords:         a.cfg.ChunkMaxWords,
			OverlapSentences: a.cfg.ChunkOverlap,
		},
		RPS:         a.cfg.IndexRPS,
		Concurrency: a.cfg.IndexConcurrency,
	}, a.metrics), nil
}
