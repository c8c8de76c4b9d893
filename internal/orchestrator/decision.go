package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/metrics"
)

// MinConfidence is the confidence below which a decision falls back to general.
const MinConfidence = 0.5

// Decision is the classifier's verdict for a sub-question.
type Decision struct {
	Category   string    `json:"decision" validate:"required,oneof=general retrieval structured_query"`
	Rationale  string    `json:"rationale" validate:"required"`
	Confidence llm.Float `json:"confidence" validate:"gte=0,lte=1"`

	// Proposed is the category the classifier chose before the
	// low-confidence override.
	Proposed string `json:"-"`
}

// Effective applies the low-confidence override.
func (d Decision) Effective() Decision {
	d.Proposed = d.Category
	if float64(d.Confidence) < MinConfidence {
		d.Category = CategoryGeneral
	}
	return d
}

// MalformedDecisionError reports a classifier reply that could not be
// parsed or failed validation. The sub-question is abandoned.
type MalformedDecisionError struct {
	Err error
}

func (e *MalformedDecisionError) Error() string {
	return fmt.Sprintf("malformed routing decision: %v", e.Err)
}

func (e *MalformedDecisionError) Unwrap() error {
	return e.Err
}

// DecisionStage classifies a turn with one JSON-mode call.
type DecisionStage struct {
	model    agent.JSONGenerator
	validate *validator.Validate
	metrics  *metrics.Collector
}

// NewDecisionStage creates the classifier stage.
func NewDecisionStage(model agent.JSONGenerator, collector *metrics.Collector) *DecisionStage {
	return &DecisionStage{model: model, validate: validator.New(), metrics: collector}
}

const decisionPrompt = `You are a dispatcher that decides which agent can best answer a user's message.
Categories:
- "retrieval": the user needs instructions from a manual, for example setup, pairing, mounting or troubleshooting.
- "structured_query": the user asks about the catalogue, prices, orders or their own account data.
- "general": anything else, including small talk and follow-ups on earlier answers.
Use the recent messages to classify follow-up questions.

Reply with a JSON object:
{"rationale": "one or two sentences", "decision": "general" | "retrieval" | "structured_query", "confidence": a number between 0 and 1}`

// Run classifies in.
func (s *DecisionStage) Run(ctx context.Context, in Turn) (Decided, error) {
	user := "Question: " + in.Question
	if in.Hint != "" {
		user += "\nSuggested category: " + in.Hint
	}
	if in.Session != nil {
		if buffer, err := in.Session.Memory.Window.Load(ctx); err == nil && buffer != "" {
			user = "Recent messages:\n" + buffer + "\n\n" + user
		}
	}

	raw, err := s.model.GenerateJSON(ctx, decisionPrompt, user)
	if err != nil {
		return Decided{}, fmt.Errorf("decide: %w", err)
	}

	var d Decision
	if err := llm.DecodeJSON(raw, &d); err != nil {
		return Decided{}, &MalformedDecisionError{Err: err}
	}
	if err := s.validate.Struct(d); err != nil {
		return Decided{}, &MalformedDecisionError{Err: err}
	}

	d = d.Effective()
	s.metrics.RecordDecision(d.Category)
	slog.Debug("routing decision", "category", d.Category, "proposed", d.Proposed, "confidence", float64(d.Confidence))
	return Decided{Turn: in, Decision: d}, nil
}
