package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/memory"
)

// Combiner merges the answers to several sub-questions into one reply.
type Combiner struct {
	model   agent.Generator
	profile config.Profile
}

// NewCombiner creates a combiner.
func NewCombiner(model agent.Generator, profile config.Profile) *Combiner {
	return &Combiner{model: model, profile: profile}
}

// Enumerate numbers answers as "1. ...", one per line.
func Enumerate(answers []string) string {
	var b strings.Builder
	for i, a := range answers {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, a)
	}
	return b.String()
}

// Combine returns a single answer unchanged. Several answers are merged by
// the model; if that fails for any reason but the content filter, the
// enumerated answers are returned.
func (c *Combiner) Combine(ctx context.Context, answers []string) (string, error) {
	switch len(answers) {
	case 0:
		return "", nil
	case 1:
		return answers[0], nil
	}

	enumerated := Enumerate(answers)
	system := fmt.Sprintf(`You are %s, an assistant for %s. Several partial answers were written for one customer message.
Merge them into a single fluent reply. Keep every fact, number and table exactly as given and drop only repeated greetings. %s`,
		c.profile.Assistant, c.profile.Domain, c.profile.Language)
	merged, err := c.model.GenerateWithSystem(ctx, system, "Combine the following answers:\n"+enumerated)
	if err != nil {
		if _, ok := llm.AsContentFilter(err); ok {
			return "", fmt.Errorf("combine: %w", err)
		}
		slog.Warn("answer merge failed, returning enumerated answers", "error", err)
		return enumerated, nil
	}
	if merged = strings.TrimSpace(merged); merged == "" {
		return enumerated, nil
	}
	return merged, nil
}

// Reply is the answer to a whole user message.
type Reply struct {
	Answer string
	// Category is the category of the single sub-question, or
	// CategoryMultiple when the message was split.
	Category string
	Parts    []Result
}

// Dispatcher is the entry point for a user message: split, route each
// sub-question, combine.
type Dispatcher struct {
	splitter *Splitter
	router   *Router
	combiner *Combiner
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(splitter *Splitter, router *Router, combiner *Combiner) *Dispatcher {
	return &Dispatcher{splitter: splitter, router: router, combiner: combiner}
}

// Dispatch answers message for identity within session (nil for a one-shot
// question). Sub-questions are answered in order. When one of several
// sub-questions fails, its part of the reply is the user-facing error
// message; the error is returned only if no sub-question succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, message, identity string, session *memory.Session) (Reply, error) {
	questions, err := d.splitter.Split(ctx, message)
	if err != nil {
		return Reply{}, err
	}

	var (
		parts   []Result
		answers []string
		lastErr error
	)
	for _, q := range questions {
		res, err := d.router.Route(ctx, Turn{Question: q.Text, Identity: identity, Session: session, Hint: q.Hint})
		if err != nil {
			if ctx.Err() != nil {
				return Reply{}, ctx.Err()
			}
			slog.Warn("sub-question failed", "question", q.Text, "error", err)
			lastErr = err
			answers = append(answers, UserMessage(err))
			continue
		}
		parts = append(parts, res)
		answers = append(answers, res.Answer)
	}
	if len(parts) == 0 {
		return Reply{}, lastErr
	}

	if len(questions) == 1 {
		return Reply{Answer: parts[0].Answer, Category: parts[0].Category, Parts: parts}, nil
	}
	combined, err := d.combiner.Combine(ctx, answers)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Answer: combined, Category: CategoryMultiple, Parts: parts}, nil
}
