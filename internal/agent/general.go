package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/nova-go/internal/config"
)

// General answers open-domain questions from conversation memory only.
type General struct {
	model   Generator
	profile config.Profile
}

// NewGeneral creates the general agent.
func NewGeneral(model Generator, profile config.Profile) *General {
	return &General{model: model, profile: profile}
}

// Answer generates a reply to req.Question.
func (g *General) Answer(ctx context.Context, req Request) (string, error) {
	system := persona(g.profile, "You are a general assistant able to answer a wide range of questions.")
	user := fmt.Sprintf("%sUser question: %s", HistoryBlock(req.Summary, req.Buffer), req.Question)

	answer, err := g.model.GenerateWithSystem(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("general agent: %w", err)
	}
	return strings.TrimSpace(answer), nil
}
