package orchestrator

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/llm/llmtest"
	"github.com/raphaelgruber/nova-go/internal/memory"
	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/raphaelgruber/nova-go/internal/querygen"
	"github.com/raphaelgruber/nova-go/internal/sqlbackend"
	"github.com/stretchr/testify/require"
)

const (
	markDecision = "dispatcher"
	markFormat   = "Original answer: "
	markSplit    = "Extract every question"
	markCombine  = "Combine the following answers"
	markGeneral  = "general assistant"
	markProduct  = "product questions"
	markKeywords = "controlled vocabulary"

	markGenerate   = "syntactically correct"
	markValidate   = "Review the query"
	markSynthesize = "based on the query and its result"
	markOutput     = "Check whether the answer"

	okVerdict  = `{"decision": "ok", "rationale": "fine", "confidence": 0.9}`
	aliceQuery = `SELECT h.sales_order_id, h.total_due FROM sales_order_header h JOIN customer c ON c.customer_id = h.customer_id WHERE c.email_address = 'alice@example.com'`
	pairingTip = "Hold the Bluetooth button until the light blinks blue."
)

func decisionJSON(category string, confidence float64) string {
	b, _ := json.Marshal(map[string]any{"rationale": "because", "decision": category, "confidence": confidence})
	return string(b)
}

// echoFormat returns the text handed to the post-processor unchanged.
func echoFormat(c llmtest.Call) (string, error) {
	return strings.TrimPrefix(c.User, markFormat), nil
}

// decideBy classifies on the current question only, ignoring history.
func decideBy(routes map[string]string) llmtest.Responder {
	return func(c llmtest.Call) (string, error) {
		q := c.User[strings.LastIndex(c.User, "Question: "):]
		for needle, category := range routes {
			if strings.Contains(q, needle) {
				return decisionJSON(category, 0.9), nil
			}
		}
		return decisionJSON(CategoryGeneral, 0.9), nil
	}
}

func shopBackend(t *testing.T) *sqlbackend.Backend {
	t.Helper()
	b, err := sqlbackend.Open("sqlite", ":memory:", time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	for _, stmt := range []string{
		`CREATE TABLE customer (customer_id INTEGER PRIMARY KEY, first_name TEXT, email_address TEXT)`,
		`CREATE TABLE sales_order_header (sales_order_id INTEGER PRIMARY KEY, customer_id INTEGER, total_due REAL)`,
		`INSERT INTO customer VALUES (1, 'Alice', 'alice@example.com'), (2, 'Bob', 'bob@example.com')`,
		`INSERT INTO sales_order_header VALUES (1, 1, 1299.5), (2, 2, 80)`,
	} {
		require.NoError(t, b.DB().Exec(stmt).Error)
	}
	return b
}

// manualStore is an in-memory chunk store over a few manual passages.
type manualStore struct {
	chunks    []models.Chunk
	embedders []string
}

func (m *manualStore) Search(_ context.Context, q models.ChunkQuery) ([]models.ScoredChunk, error) {
	var out []models.ScoredChunk
	for _, c := range m.chunks {
		if len(q.Keywords) > 0 && !slices.ContainsFunc(c.Keywords, func(k string) bool { return slices.Contains(q.Keywords, k) }) {
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: c, Score: 1})
	}
	return out[:min(len(out), q.Limit)], nil
}

func (m *manualStore) Embedders(context.Context) ([]string, error) {
	return m.embedders, nil
}

type harness struct {
	fake       *llmtest.Fake
	collector  *metrics.Collector
	router     *Router
	dispatcher *Dispatcher
	registry   *memory.Registry
}

// newHarness wires every agent against fake. Rules registered on fake
// before the call take precedence over the defaults added here.
func newHarness(t *testing.T, fake *llmtest.Fake) *harness {
	t.Helper()
	profile := config.DefaultProfile()
	collector := metrics.NewCollector()

	embedder := llm.NewEmbedderFrom(llmtest.HashEmbedder{Dim: 64}, "test", "hash", 64)
	store := &manualStore{
		embedders: []string{embedder.Identity()},
		chunks: []models.Chunk{
			{SourceID: "manual", Seq: 1, Text: pairingTip, Keywords: []string{"bluetooth"}, Embedder: embedder.Identity()},
			{SourceID: "manual", Seq: 2, Text: "Mount the speaker with four screws.", Keywords: []string{"mounting"}, Embedder: embedder.Identity()},
		},
	}

	fake.On(markFormat, echoFormat).
		Reply(markKeywords, `{"keywords": ["Bluetooth"]}`).
		Reply(markProduct, pairingTip).
		Reply(markGeneral, "Happy to help.").
		On(markCombine, func(c llmtest.Call) (string, error) {
			return strings.TrimPrefix(c.User, markCombine+":\n"), nil
		})

	agents := Agents{
		General:   agent.NewGeneral(fake, profile),
		Retrieval: agent.NewRetrieval(fake, embedder, store, profile, 3),
		StructuredQuery: querygen.New(fake, shopBackend(t), querygen.Config{
			Attempts: 3, Cycles: 3, Fallback: querygen.FallbackLast, Profile: profile,
		}, collector),
	}
	router := NewRouter(fake, agents, profile, collector, nil)
	pairs := memory.PairFactory{WindowTurns: 20, TokenLimit: 2000, Summarizer: fake, Counter: llm.WordCounter{}}

	return &harness{
		fake:       fake,
		collector:  collector,
		router:     router,
		dispatcher: NewDispatcher(NewSplitter(fake), router, NewCombiner(fake, profile)),
		registry:   memory.NewRegistry(10, time.Hour, pairs.New, nil),
	}
}

func (h *harness) session(id, identity string) *memory.Session {
	s, _ := h.registry.GetOrCreate(id, identity)
	return s
}
