package orchestrator

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/nova-go/internal/agent"
)

// Agent answers one routed question.
type Agent interface {
	Answer(ctx context.Context, req agent.Request) (string, error)
}

// Agents maps each category to its agent.
type Agents struct {
	General         Agent
	Retrieval       Agent
	StructuredQuery Agent
}

func (a Agents) pick(category string) (Agent, error) {
	var picked Agent
	switch category {
	case CategoryGeneral:
		picked = a.General
	case CategoryRetrieval:
		picked = a.Retrieval
	case CategoryStructuredQuery:
		picked = a.StructuredQuery
	}
	if picked == nil {
		return nil, fmt.Errorf("no agent for category %q", category)
	}
	return picked, nil
}

// RoutingStage loads the session memory and invokes the chosen agent.
type RoutingStage struct {
	agents Agents
}

// NewRoutingStage creates the dispatch stage.
func NewRoutingStage(agents Agents) *RoutingStage {
	return &RoutingStage{agents: agents}
}

// Run answers in with the agent for its decided category. The question is
// prefixed with the routing rationale.
func (s *RoutingStage) Run(ctx context.Context, in Decided) (Routed, error) {
	a, err := s.agents.pick(in.Decision.Category)
	if err != nil {
		return Routed{}, err
	}

	req := agent.Request{
		Question: fmt.Sprintf("Rationale: %s\n%s", in.Decision.Rationale, in.Question),
		Raw:      in.Question,
		Identity: in.Identity,
	}
	if in.Session != nil {
		req.Summary, req.Buffer, err = in.Session.Memory.Snapshot(ctx)
		if err != nil {
			return Routed{}, fmt.Errorf("load memory: %w", err)
		}
	}

	answer, err := a.Answer(ctx, req)
	if err != nil {
		return Routed{}, err
	}
	return Routed{Decided: in, Answer: answer}, nil
}
