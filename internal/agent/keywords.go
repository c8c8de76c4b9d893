package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/parser"
)

// maxPicked bounds how many vocabulary terms tag a text.
const maxPicked = 3

// KeywordPicker tags text with terms from a controlled vocabulary.
type KeywordPicker struct {
	model      JSONGenerator
	vocabulary []string
}

// NewKeywordPicker creates a picker over vocabulary.
func NewKeywordPicker(model JSONGenerator, vocabulary []string) *KeywordPicker {
	return &KeywordPicker{model: model, vocabulary: vocabulary}
}

type pickedKeywords struct {
	Keywords []string `json:"keywords"`
}

// Pick asks the model for 1 to 3 vocabulary terms describing text. Terms
// outside the vocabulary are dropped and the rest are returned lowercased.
// An unusable reply yields no keywords rather than an error.
func (p *KeywordPicker) Pick(ctx context.Context, text string) ([]string, error) {
	if len(p.vocabulary) == 0 {
		return nil, nil
	}

	system := fmt.Sprintf(`Select between 1 and %d keywords that best describe the text, chosen only from this controlled vocabulary:
%s

Reply with a JSON object: {"keywords": ["..."]}. Use the exact spelling from the vocabulary.`,
		maxPicked, strings.Join(p.vocabulary, ", "))

	raw, err := p.model.GenerateJSON(ctx, system, text)
	if err != nil {
		return nil, fmt.Errorf("pick keywords: %w", err)
	}

	var picked pickedKeywords
	if err := llm.DecodeJSON(raw, &picked); err != nil {
		slog.Warn("keyword reply unusable", "error", err)
		return nil, nil
	}

	matched := parser.MatchVocabulary(picked.Keywords, p.vocabulary, maxPicked)
	out := make([]string, len(matched))
	for i, m := range matched {
		out[i] = strings.ToLower(m)
	}
	return out, nil
}
