// Package llm provides LLM and embedding services using langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/tmc/langchaingo/embeddings"
	bedrockembed "github.com/tmc/langchaingo/embeddings/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder wraps langchaingo embeddings with dimension validation.
type Embedder struct {
	model     embeddings.Embedder
	provider  string
	modelName string
	dimension int
	timeout   time.Duration
	metrics   *metrics.Collector
}

// NewEmbedder creates an embedder based on configuration.
func NewEmbedder(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Embedder, error) {
	var model embeddings.Embedder
	var err error

	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.EmbedModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case config.ProviderOpenAI, config.ProviderAzure:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.EmbedModel),
		}
		if cfg.EmbedProvider == config.ProviderAzure {
			opts = append(opts,
				openai.WithAPIType(openai.APITypeAzure),
				openai.WithBaseURL(cfg.AzureEndpoint),
				openai.WithAPIVersion(cfg.AzureAPIVersion),
			)
		}
		llm, openaiErr := openai.New(opts...)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	case config.ProviderBedrock:
		client, clientErr := newBedrockClient(ctx, cfg.AWSRegion)
		if clientErr != nil {
			return nil, clientErr
		}
		model, err = bedrockembed.NewBedrock(
			bedrockembed.WithClient(client),
			bedrockembed.WithModel(cfg.EmbedModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}

	e := NewEmbedderFrom(model, cfg.EmbedProvider, cfg.EmbedModel, cfg.EmbedDimension)
	e.timeout = cfg.EmbedTimeout
	e.metrics = collector
	return e, nil
}

// NewEmbedderFrom wraps an existing langchaingo embedder.
func NewEmbedderFrom(model embeddings.Embedder, provider, modelName string, dimension int) *Embedder {
	return &Embedder{
		model:     model,
		provider:  provider,
		modelName: modelName,
		dimension: dimension,
	}
}

// Embed generates the query embedding for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, 1, func(ctx context.Context) ([][]float32, error) {
		v, err := e.model.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates document embeddings for multiple texts.
// Every vector must match the configured dimension, otherwise the whole
// batch is rejected.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return e.embed(ctx, len(texts), func(ctx context.Context) ([][]float32, error) {
		return e.model.EmbedDocuments(ctx, texts)
	})
}

func (e *Embedder) embed(ctx context.Context, n int, call func(context.Context) ([][]float32, error)) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	vectors, err := call(ctx)
	duration := time.Since(start)

	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "texts", n, "duration_ms", duration.Milliseconds(), "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embed: %w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("embed: %w", wrapFatalError(err))
	}
	e.metrics.RecordTiming(metrics.OpEmbedding, duration)

	if len(vectors) != n {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), n)
	}

	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(v), e.dimension)
		}
	}

	slog.Debug("embedding complete", "model", e.modelName, "texts", n, "duration_ms", duration.Milliseconds())
	return vectors, nil
}

// Identity names the provider, model and dimension that produced a vector.
// Corpus and query embeddings are only comparable when identities match.
func (e *Embedder) Identity() string {
	return fmt.Sprintf("%s/%s@%d", e.provider, e.modelName, e.dimension)
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}
