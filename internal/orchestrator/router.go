package orchestrator

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/metrics"
)

// Router runs one sub-question through decision, routing and
// post-processing, then writes the turn into the session memory.
type Router struct {
	decide Stage[Turn, Decided]
	route  Stage[Decided, Routed]
	post   Stage[Routed, Result]
	logger *slog.Logger
}

// NewRouter wires the three stages. Every stage run is timed into collector.
func NewRouter(model agent.Model, agents Agents, profile config.Profile, collector *metrics.Collector, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return NewRouterFromStages(
		timed[Turn, Decided]("decision", collector, NewDecisionStage(model, collector)),
		timed[Decided, Routed]("routing", collector, NewRoutingStage(agents)),
		timed[Routed, Result]("postprocess", collector, NewPostprocessor(model, profile)),
		logger,
	)
}

// NewRouterFromStages builds a router from arbitrary stages.
func NewRouterFromStages(decide Stage[Turn, Decided], route Stage[Decided, Routed], post Stage[Routed, Result], logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{decide: decide, route: route, post: post, logger: logger}
}

// Route answers turn. Turns of the same session are serialized on the
// session lock. The memory receives the raw question and the final answer;
// when the agent or the post-processor fails it receives the message the
// user is shown instead.
func (r *Router) Route(ctx context.Context, turn Turn) (Result, error) {
	if s := turn.Session; s != nil {
		s.Lock()
		defer s.Unlock()
	}

	decided, err := r.decide.Run(ctx, turn)
	if err != nil {
		return Result{}, err
	}
	routed, err := r.route.Run(ctx, decided)
	if err != nil {
		r.remember(ctx, turn, UserMessage(err))
		return Result{}, err
	}
	res, err := r.post.Run(ctx, routed)
	if err != nil {
		r.remember(ctx, turn, UserMessage(err))
		return Result{}, err
	}

	r.remember(ctx, turn, res.Answer)
	return res, nil
}

// remember writes one turn into the session memory. The caller holds the session lock.
func (r *Router) remember(ctx context.Context, turn Turn, answer string) {
	if turn.Session == nil {
		return
	}
	if err := turn.Session.Memory.Record(ctx, turn.Question, answer); err != nil {
		r.logger.Warn("memory write-back incomplete", "session", turn.Session.ID, "error", err)
	}
}
