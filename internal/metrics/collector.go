// Package metrics provides runtime statistics collection. Statistics are kept
// in memory for the /stats command and mirrored into a Prometheus registry.
package metrics

import (
	"maps"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
	MinInputTokens    int64
	MaxInputTokens    int64
	MinOutputTokens   int64
	MaxOutputTokens   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64
	TotalOutputTokens *int64
	AvgInputTokens    *float64
	AvgOutputTokens   *float64
}

// Snapshot represents the full runtime statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Embedding     *OperationSnapshot
	LLMGenerate   *OperationSnapshot
	VectorSearch  *OperationSnapshot
	QueryExec     *OperationSnapshot
	ChatStore     *OperationSnapshot
	Stages        map[string]*OperationSnapshot

	Decisions     map[string]int64
	QueryAttempts map[string]int64
	QueryCycles   map[string]int64
	ChunksIndexed int64
}

// Operation names for the collector.
const (
	OpEmbedding    = "embedding"
	OpLLMGenerate  = "llm_generate"
	OpVectorSearch = "vector_search"
	OpQueryExec    = "query_exec"
	OpChatStore    = "chat_store"

	stagePrefix = "stage:"
)

// Query generation outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeRetry     = "retry"
	OutcomeApology   = "apology"
)

// Collector aggregates runtime statistics.
// All methods are thread-safe and safe to call on a nil *Collector.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	decisions     map[string]int64
	queryAttempts map[string]int64
	queryCycles   map[string]int64
	chunksIndexed int64

	registry      *prometheus.Registry
	opDuration    *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	decisionTotal *prometheus.CounterVec
	attemptTotal  *prometheus.CounterVec
	cycleTotal    *prometheus.CounterVec
	chunkTotal    prometheus.Counter
}

// NewCollector creates a new metrics collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		startTime:     time.Now(),
		ops:           make(map[string]*OperationMetrics),
		decisions:     make(map[string]int64),
		queryAttempts: make(map[string]int64),
		queryCycles:   make(map[string]int64),
		registry:      prometheus.NewRegistry(),
	}

	c.opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nova",
		Name:      "operation_duration_seconds",
		Help:      "Duration of LLM, embedding, store and pipeline stage operations",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"op"})
	c.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed",
	}, []string{"type"})
	c.decisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Name:      "decisions_total",
		Help:      "Routing decisions by category",
	}, []string{"category"})
	c.attemptTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Name:      "query_attempts_total",
		Help:      "Query generation attempts by outcome",
	}, []string{"outcome"})
	c.cycleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nova",
		Name:      "query_cycles_total",
		Help:      "Query output cycles by outcome",
	}, []string{"outcome"})
	c.chunkTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nova",
		Name:      "chunks_indexed_total",
		Help:      "Chunks written to the vector store",
	})

	c.registry.MustRegister(c.opDuration, c.tokens, c.decisionTotal, c.attemptTotal, c.cycleTotal, c.chunkTotal)
	return c
}

// Registry exposes the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:         time.Duration(math.MaxInt64),
			MinInputTokens:  math.MaxInt64,
			MinOutputTokens: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(duration time.Duration) {
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.getOrCreate(op).observe(duration)
	c.mu.Unlock()
	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordStage records the duration of a named pipeline stage.
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	c.RecordTiming(stagePrefix+stage, duration)
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	m := c.getOrCreate(op)
	m.observe(duration)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
	m.MinInputTokens = min(m.MinInputTokens, inputTokens)
	m.MaxInputTokens = max(m.MaxInputTokens, inputTokens)
	m.MinOutputTokens = min(m.MinOutputTokens, outputTokens)
	m.MaxOutputTokens = max(m.MaxOutputTokens, outputTokens)
	c.mu.Unlock()

	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())
	c.tokens.WithLabelValues("input").Add(float64(inputTokens))
	c.tokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordDecision counts a routing decision.
func (c *Collector) RecordDecision(category string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decisions[category]++
	c.mu.Unlock()
	c.decisionTotal.WithLabelValues(category).Inc()
}

// RecordQueryAttempt counts one inner query-generation attempt.
func (c *Collector) RecordQueryAttempt(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queryAttempts[outcome]++
	c.mu.Unlock()
	c.attemptTotal.WithLabelValues(outcome).Inc()
}

// RecordQueryCycle counts one outer output-validation cycle.
func (c *Collector) RecordQueryCycle(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queryCycles[outcome]++
	c.mu.Unlock()
	c.cycleTotal.WithLabelValues(outcome).Inc()
}

// RecordChunksIndexed counts chunks written to the vector store.
func (c *Collector) RecordChunksIndexed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.chunksIndexed += int64(n)
	c.mu.Unlock()
	c.chunkTotal.Add(float64(n))
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		avgIn := float64(m.TotalInputTokens) / float64(m.Count)
		avgOut := float64(m.TotalOutputTokens) / float64(m.Count)
		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
		snap.AvgInputTokens = &avgIn
		snap.AvgOutputTokens = &avgOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	stages := make(map[string]*OperationSnapshot)
	for op, m := range c.ops {
		if len(op) > len(stagePrefix) && op[:len(stagePrefix)] == stagePrefix {
			stages[op[len(stagePrefix):]] = snapshotOp(m, false)
		}
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Embedding:     snapshotOp(c.ops[OpEmbedding], false),
		LLMGenerate:   snapshotOp(c.ops[OpLLMGenerate], true),
		VectorSearch:  snapshotOp(c.ops[OpVectorSearch], false),
		QueryExec:     snapshotOp(c.ops[OpQueryExec], false),
		ChatStore:     snapshotOp(c.ops[OpChatStore], false),
		Stages:        stages,
		Decisions:     maps.Clone(c.decisions),
		QueryAttempts: maps.Clone(c.queryAttempts),
		QueryCycles:   maps.Clone(c.queryCycles),
		ChunksIndexed: c.chunksIndexed,
	}
}
