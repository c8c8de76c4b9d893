package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/tidwall/gjson"
)

// Question is one sub-question extracted from a user message.
type Question struct {
	Text string
	// Hint is the bucket the splitter put the question in, if any.
	Hint string
}

// Splitter breaks a user message into self-contained sub-questions.
type Splitter struct {
	model agent.JSONGenerator
}

// NewSplitter creates a splitter.
func NewSplitter(model agent.JSONGenerator) *Splitter {
	return &Splitter{model: model}
}

const splitPrompt = `Extract every question from the user's text. Two questions joined in one sentence are separate questions.
Each question must stand on its own: repeat product names and other context it needs.
Put each question into exactly one bucket:
- "structured_query": the catalogue, prices, orders or the customer's own account data.
- "retrieval": instructions from a manual, for example setup, pairing or troubleshooting.
- "general": anything else.
Do not answer the questions.

Reply with a JSON object:
{"structured_query": ["..."], "retrieval": ["..."], "general": ["..."]}`

// bucket keys in reply order; the legacy names map onto categories.
var buckets = []struct{ key, category string }{
	{"structured_query", CategoryStructuredQuery},
	{"database", CategoryStructuredQuery},
	{"retrieval", CategoryRetrieval},
	{"vector", CategoryRetrieval},
	{"general", CategoryGeneral},
}

// Split returns the sub-questions of raw in order of first appearance.
// A reply without questions, or one that cannot be parsed, yields raw
// itself. Only a content-filter rejection is returned as an error.
func (s *Splitter) Split(ctx context.Context, raw string) ([]Question, error) {
	whole := []Question{{Text: raw}}

	reply, err := s.model.GenerateJSON(ctx, splitPrompt, raw)
	if err != nil {
		if _, ok := llm.AsContentFilter(err); ok {
			return nil, fmt.Errorf("split: %w", err)
		}
		slog.Warn("question split failed, using whole message", "error", err)
		return whole, nil
	}

	doc := llm.CleanJSON(reply)
	if !gjson.Valid(doc) {
		slog.Debug("unparseable split reply, using whole message")
		return whole, nil
	}
	qs := parseSplit(gjson.Parse(doc))
	if len(qs) == 0 {
		return whole, nil
	}
	return orderByAppearance(qs, raw), nil
}

func parseSplit(doc gjson.Result) []Question {
	var qs []Question
	seen := make(map[string]bool)
	add := func(text, hint string) {
		text = strings.TrimSpace(text)
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		qs = append(qs, Question{Text: text, Hint: hint})
	}

	list := doc.Get("questions")
	if doc.IsArray() {
		list = doc
	}
	if list.IsArray() {
		for _, q := range list.Array() {
			if q.Type == gjson.String {
				add(q.String(), "")
			}
		}
		return qs
	}

	for _, b := range buckets {
		bucket := doc.Get(b.key)
		if !bucket.IsArray() {
			continue
		}
		for _, q := range bucket.Array() {
			if q.Type == gjson.String {
				add(q.String(), b.category)
			}
		}
	}
	return qs
}

// orderByAppearance sorts questions by where they occur in raw. Questions
// the model rephrased keep their reply order after the located ones.
func orderByAppearance(qs []Question, raw string) []Question {
	lower := strings.ToLower(raw)
	pos := make([]int, len(qs))
	for i, q := range qs {
		p := strings.Index(lower, strings.ToLower(q.Text))
		if p < 0 {
			p = len(raw) + i
		}
		pos[i] = p
	}
	idx := make([]int, len(qs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return pos[idx[a]] < pos[idx[b]] })

	out := make([]Question, len(qs))
	for i, j := range idx {
		out[i] = qs[j]
	}
	return out
}
