// Package agent contains the answer-generating agents the router
// dispatches to: the general agent, which answers from conversation memory
// alone, and the retrieval agent, which grounds its answer in indexed
// document chunks.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/nova-go/internal/config"
)

// Request is one question handed to an agent together with the
// conversation memory of its session.
type Request struct {
	// Question is what the agent answers. The router may prefix it with
	// the routing rationale.
	Question string
	// Raw is the question exactly as the user asked it.
	Raw      string
	Identity string
	Summary  string
	Buffer   string
}

// RawQuestion returns the un-prefixed question, falling back to Question.
func (r Request) RawQuestion() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Question
}

// Generator produces free text from a system and a user prompt.
type Generator interface {
	GenerateWithSystem(ctx context.Context, system, user string) (string, error)
}

// JSONGenerator produces a JSON document from a system and a user prompt.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, system, user string) (string, error)
}

// Model is a generator that also supports JSON mode.
type Model interface {
	Generator
	JSONGenerator
}

// persona is the shared opening of every agent system prompt.
func persona(p config.Profile, role string) string {
	return fmt.Sprintf(`You are %s, an assistant for %s. %s
You receive the conversation so far to understand the context and give the user clear, precise and helpful answers.
Take the history into account without repeating sensitive data. %s`, p.Assistant, p.Domain, role, p.Language)
}

// HistoryBlock renders the memory section of a prompt. Empty parts are omitted.
func HistoryBlock(summary, buffer string) string {
	var b strings.Builder
	if s := strings.TrimSpace(summary); s != "" {
		b.WriteString("Summary of the conversation so far:\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	if s := strings.TrimSpace(buffer); s != "" {
		b.WriteString("Most recent messages (prefer these over the summary when relevant):\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	return b.String()
}
