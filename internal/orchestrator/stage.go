// Package orchestrator routes user messages to agents. A message is split
// into sub-questions, each sub-question runs through the decision, routing
// and post-processing stages, and the answers are recombined.
package orchestrator

import (
	"context"
	"time"

	"github.com/raphaelgruber/nova-go/internal/memory"
	"github.com/raphaelgruber/nova-go/internal/metrics"
)

// Categories a sub-question can be routed to.
const (
	CategoryGeneral         = "general"
	CategoryRetrieval       = "retrieval"
	CategoryStructuredQuery = "structured_query"

	// CategoryMultiple tags a reply combined from several sub-questions.
	CategoryMultiple = "multiple"
)

// Stage is one step of the routing pipeline.
type Stage[In, Out any] interface {
	Run(ctx context.Context, in In) (Out, error)
}

// StageFunc adapts a function to Stage.
type StageFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// Run calls f.
func (f StageFunc[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// timed records the duration of every run of s under name.
func timed[In, Out any](name string, c *metrics.Collector, s Stage[In, Out]) Stage[In, Out] {
	return StageFunc[In, Out](func(ctx context.Context, in In) (Out, error) {
		start := time.Now()
		out, err := s.Run(ctx, in)
		c.RecordStage(name, time.Since(start))
		return out, err
	})
}

// Turn is one sub-question entering the router.
type Turn struct {
	Question string
	Identity string
	// Session holds the conversation memory. Nil runs the turn without memory.
	Session *memory.Session
	// Hint is the category the splitter suggested, if any.
	Hint string
}

// Decided is a turn with its routing decision.
type Decided struct {
	Turn
	Decision Decision
}

// Routed is a decided turn with the raw agent answer.
type Routed struct {
	Decided
	Answer string
}

// Result is the post-processed answer to one sub-question.
type Result struct {
	Answer   string
	Raw      string
	Category string
	Decision Decision
}
