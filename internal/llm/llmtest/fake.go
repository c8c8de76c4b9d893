// Package llmtest provides scripted generation and embedding fakes for tests.
package llmtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Call records one generation request.
type Call struct {
	JSON   bool
	System string
	User   string
}

// Prompt returns system and user text joined, for substring matching.
func (c Call) Prompt() string {
	return c.System + "\n" + c.User
}

// Responder produces the reply for a call.
type Responder func(Call) (string, error)

type rule struct {
	marker  string
	respond Responder
}

// Fake is a scripted generator. Rules are matched in registration order
// against the combined system and user prompt.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

// NewFake creates an empty fake.
func NewFake() *Fake {
	return &Fake{}
}

// On registers a responder for prompts containing marker.
func (f *Fake) On(marker string, respond Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{marker: marker, respond: respond})
	return f
}

// Reply registers a fixed reply for prompts containing marker.
func (f *Fake) Reply(marker, reply string) *Fake {
	return f.On(marker, func(Call) (string, error) { return reply, nil })
}

// Sequence registers replies returned in order; the last one repeats.
func (f *Fake) Sequence(marker string, replies ...string) *Fake {
	var mu sync.Mutex
	i := 0
	return f.On(marker, func(Call) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := replies[min(i, len(replies)-1)]
		i++
		return r, nil
	})
}

// Generate implements a single-prompt generation.
func (f *Fake) Generate(ctx context.Context, prompt string) (string, error) {
	return f.call(ctx, Call{User: prompt})
}

// GenerateWithSystem implements system+user generation.
func (f *Fake) GenerateWithSystem(ctx context.Context, system, user string) (string, error) {
	return f.call(ctx, Call{System: system, User: user})
}

// GenerateJSON implements JSON-mode generation.
func (f *Fake) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	return f.call(ctx, Call{JSON: true, System: system, User: user})
}

func (f *Fake) call(ctx context.Context, c Call) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	rules := append([]rule(nil), f.rules...)
	f.mu.Unlock()

	prompt := c.Prompt()
	for _, r := range rules {
		if strings.Contains(prompt, r.marker) {
			return r.respond(c)
		}
	}
	return "", fmt.Errorf("llmtest: no rule matches prompt %.80q", c.System)
}

// Calls returns all recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsMatching returns recorded calls whose prompt contains marker.
func (f *Fake) CallsMatching(marker string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.Contains(c.Prompt(), marker) {
			out = append(out, c)
		}
	}
	return out
}

// HashEmbedder produces deterministic bag-of-words vectors. Texts sharing
// words get similar vectors, which is enough to exercise nearest-neighbor code.
type HashEmbedder struct {
	Dim int
}

// EmbedDocuments implements embeddings.Embedder.
func (h HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EmbedQuery implements embeddings.Embedder.
func (h HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, h.Dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w == "" {
			continue
		}
		hash := fnv.New32a()
		_, _ = hash.Write([]byte(w))
		v[int(hash.Sum32())%h.Dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v, nil
}

// FixedEmbedder returns vectors of a fixed length regardless of input.
type FixedEmbedder struct {
	Dim int
}

// EmbedDocuments implements embeddings.Embedder.
func (f FixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.Dim)
	}
	return out, nil
}

// EmbedQuery implements embeddings.Embedder.
func (f FixedEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.Dim), nil
}
