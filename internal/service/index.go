package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/db"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/raphaelgruber/nova-go/internal/parser"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// embedBatchSize bounds the number of chunk texts per embedding request.
const embedBatchSize = 32

// Embedder produces chunk vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Identity() string
}

// Tagger assigns keyword tags to a chunk text.
type Tagger func(ctx context.Context, text string) ([]string, error)

// VocabularyTagger tags chunks with terms a model picks from the
// controlled vocabulary.
func VocabularyTagger(picker *agent.KeywordPicker) Tagger {
	return picker.Pick
}

// StatisticalTagger tags chunks with the topK highest scoring terms of the
// chunk itself. No model call is made.
func StatisticalTagger(topK int) Tagger {
	return func(_ context.Context, text string) ([]string, error) {
		keywords := parser.ExtractKeywords(text, topK)
		for i, k := range keywords {
			keywords[i] = strings.ToLower(k)
		}
		return keywords, nil
	}
}

// IndexService chunks, tags, embeds and stores source documents.
type IndexService struct {
	store       ChunkStore
	embedder    Embedder
	tagger      Tagger
	chunking    models.ChunkingConfig
	limiter     *rate.Limiter
	concurrency int
	metrics     *metrics.Collector
}

// IndexConfig configures an IndexService.
type IndexConfig struct {
	Chunking models.ChunkingConfig
	// RPS bounds provider calls (tagging and embedding) per second. Zero
	// means unlimited.
	RPS float64
	// Concurrency sets the number of parallel workers (default 4).
	Concurrency int
}

// NewIndexService creates an indexing service.
func NewIndexService(store ChunkStore, embedder Embedder, tagger Tagger, cfg IndexConfig, collector *metrics.Collector) *IndexService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Chunking.MaxWords <= 0 {
		cfg.Chunking = models.DefaultChunkingConfig()
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &IndexService{
		store:       store,
		embedder:    embedder,
		tagger:      tagger,
		chunking:    cfg.Chunking,
		limiter:     rate.NewLimiter(limit, max(1, cfg.Concurrency)),
		concurrency: cfg.Concurrency,
		metrics:     collector,
	}
}

// IndexResult describes the outcome for one source.
type IndexResult struct {
	SourceID string
	Chunks   int
	Skipped  bool
}

// IndexSource indexes text under sourceID. A source that is already
// present is skipped. Nothing is stored unless every chunk was tagged and
// embedded.
func (s *IndexService) IndexSource(ctx context.Context, text, sourceID string) (IndexResult, error) {
	res := IndexResult{SourceID: sourceID}
	if err := s.verifyEmbedder(ctx); err != nil {
		return res, err
	}

	indexed, err := s.store.SourceIndexed(ctx, sourceID)
	if err != nil {
		return res, fmt.Errorf("check source: %w", err)
	}
	if indexed {
		slog.Debug("source already indexed", "source", sourceID)
		res.Skipped = true
		return res, nil
	}

	pieces := parser.ChunkSentences(text, s.chunking)
	if len(pieces) == 0 {
		return res, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	keywords, err := s.tag(ctx, texts)
	if err != nil {
		return res, err
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return res, err
	}

	identity := s.embedder.Identity()
	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			SourceID:  sourceID,
			Seq:       p.Seq,
			Text:      p.Text,
			Keywords:  keywords[i],
			Embedding: vectors[i],
			Embedder:  identity,
		}
	}

	if err := s.store.InsertChunks(ctx, chunks); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			slog.Debug("source indexed concurrently", "source", sourceID)
			res.Skipped = true
			return res, nil
		}
		return res, fmt.Errorf("store chunks: %w", err)
	}

	s.metrics.RecordChunksIndexed(len(chunks))
	res.Chunks = len(chunks)
	return res, nil
}

// verifyEmbedder refuses to mix vectors of different embedders in one corpus.
func (s *IndexService) verifyEmbedder(ctx context.Context) error {
	identities, err := s.store.Embedders(ctx)
	if err != nil {
		return fmt.Errorf("list corpus embedders: %w", err)
	}
	want := s.embedder.Identity()
	for _, id := range identities {
		if id != want {
			return fmt.Errorf("%w: corpus has %s, indexing with %s", agent.ErrEmbedderMismatch, id, want)
		}
	}
	return nil
}

// tag runs the tagger over every chunk with bounded parallelism.
func (s *IndexService) tag(ctx context.Context, texts []string) ([][]string, error) {
	keywords := make([][]string, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			kw, err := s.tagger(gctx, text)
			if err != nil {
				return fmt.Errorf("tag chunk %d: %w", i+1, err)
			}
			keywords[i] = kw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keywords, nil
}

func (s *IndexService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		batch, err := s.embedder.EmbedBatch(ctx, texts[start:min(start+embedBatchSize, len(texts))])
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// IndexOptions configures IndexPath.
type IndexOptions struct {
	// Force deletes already indexed sources and indexes them again.
	Force bool
	// RebuildIndex rebuilds the vector index once the batch is done.
	RebuildIndex bool
	// Progress, if set, is called after every file.
	Progress func(IndexProgress)
}

// IndexProgress reports batch progress.
type IndexProgress struct {
	Total   int
	Done    int
	Current string
	Err     error
}

// Fraction returns the completed share in [0, 1].
func (p IndexProgress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Done) / float64(p.Total)
}

// IndexReport summarizes a batch.
type IndexReport struct {
	Files    int
	Indexed  int
	Skipped  int
	Chunks   int
	Errors   []string
	Duration time.Duration
}

// CollectFiles returns the indexable files under path: path itself if it
// is a file, otherwise every .txt, .md and .markdown file below it.
func CollectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	walkFn := func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".txt", ".md", ".markdown":
			files = append(files, p)
		}
		return nil
	}
	if err := filepath.WalkDir(path, walkFn); err != nil {
		return nil, fmt.Errorf("scan directory: %w", err)
	}
	return files, nil
}

// SourceID derives the source id of file relative to root. Markdown
// frontmatter may set it explicitly with source_id.
func SourceID(root, file string, doc *parser.Document) string {
	if id := doc.GetFrontmatterString("source_id"); id != "" {
		return id
	}
	rel, err := filepath.Rel(root, file)
	if err != nil || rel == "." {
		rel = filepath.Base(file)
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
	return models.Slugify(rel)
}

// fatalIndexError reports errors that would fail every remaining file too.
func fatalIndexError(err error) bool {
	return errors.Is(err, llm.ErrFatalAPI) ||
		errors.Is(err, llm.ErrDimensionMismatch) ||
		errors.Is(err, agent.ErrEmbedderMismatch)
}

// IndexPath indexes a file or a directory tree with a worker pool.
// Per-file failures are collected in the report; a fatal provider or
// embedder error stops the batch and is returned.
func (s *IndexService) IndexPath(ctx context.Context, path string, opts IndexOptions) (*IndexReport, error) {
	start := time.Now()
	files, err := CollectFiles(path)
	if err != nil {
		return nil, err
	}
	root := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		root = filepath.Dir(path)
	}

	slog.Info("starting indexing", "path", path, "files", len(files), "concurrency", s.concurrency)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		done     atomic.Int32
		indexed  atomic.Int32
		skipped  atomic.Int32
		chunks   atomic.Int32
		mu       sync.Mutex
		failures []string
	)

	fileChan := make(chan string, len(files))
	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for file := range fileChan {
				if ctx.Err() != nil {
					return
				}

				res, err := s.indexFile(ctx, root, file, opts.Force)
				n := done.Add(1)
				switch {
				case err != nil:
					slog.Warn("indexing failed", "worker", workerID, "file", file, "error", err)
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s: %v", file, err))
					mu.Unlock()
					if fatalIndexError(err) {
						cancel(err)
					}
				case res.Skipped:
					skipped.Add(1)
				default:
					indexed.Add(1)
					chunks.Add(int32(res.Chunks))
				}
				slog.Debug("indexed file", "worker", workerID, "file", filepath.Base(file), "progress", fmt.Sprintf("%d/%d", n, len(files)))

				if opts.Progress != nil {
					mu.Lock()
					opts.Progress(IndexProgress{Total: len(files), Done: int(n), Current: file, Err: err})
					mu.Unlock()
				}
			}
		}(i)
	}

	for _, f := range files {
		fileChan <- f
	}
	close(fileChan)
	wg.Wait()

	report := &IndexReport{
		Files:    len(files),
		Indexed:  int(indexed.Load()),
		Skipped:  int(skipped.Load()),
		Chunks:   int(chunks.Load()),
		Errors:   failures,
		Duration: time.Since(start),
	}

	if cause := context.Cause(ctx); cause != nil && fatalIndexError(cause) {
		return report, cause
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if opts.RebuildIndex && report.Chunks > 0 {
		slog.Info("rebuilding vector index")
		if err := s.store.RebuildIndex(ctx); err != nil {
			return report, fmt.Errorf("rebuild index: %w", err)
		}
	}

	slog.Info("indexing complete", "indexed", report.Indexed, "skipped", report.Skipped, "chunks", report.Chunks, "errors", len(report.Errors))
	return report, nil
}

func (s *IndexService) indexFile(ctx context.Context, root, file string, force bool) (IndexResult, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return IndexResult{}, fmt.Errorf("read file: %w", err)
	}

	var doc *parser.Document
	switch strings.ToLower(filepath.Ext(file)) {
	case ".md", ".markdown":
		doc = parser.ParseMarkdown(string(content))
	default:
		doc = parser.ParsePlain(string(content))
	}
	sourceID := SourceID(root, file, doc)

	if force {
		n, err := s.store.DeleteSource(ctx, sourceID)
		if err != nil {
			return IndexResult{SourceID: sourceID}, fmt.Errorf("delete source: %w", err)
		}
		if n > 0 {
			slog.Debug("removed previous chunks", "source", sourceID, "chunks", n)
		}
	}
	return s.IndexSource(ctx, doc.Body, sourceID)
}
