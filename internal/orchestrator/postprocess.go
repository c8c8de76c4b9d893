package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/raphaelgruber/nova-go/internal/agent"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/querygen"
	"github.com/tidwall/gjson"
)

// FallbackPrefix precedes the raw answer when formatting fails.
const FallbackPrefix = "The following answer could not be further processed: "

// Postprocessor restyles agent answers for presentation. Structured query
// answers get their rows rendered as a Markdown table.
type Postprocessor struct {
	model   agent.Generator
	profile config.Profile
}

// NewPostprocessor creates the presentation stage.
func NewPostprocessor(model agent.Generator, profile config.Profile) *Postprocessor {
	return &Postprocessor{model: model, profile: profile}
}

func (p *Postprocessor) stylePrompt(structured bool) string {
	rules := `You are %s, an assistant for %s. You receive an answer written by another agent and pass it on to the customer.
Rules:
- Keep the original text word for word. Do not omit, paraphrase or add sentences inside it.
- You may only add Markdown structure: paragraphs, headings, lists, bold and italics.
- Polite remarks or a closing question go into their own paragraph at the end.
- Split instructions into clear steps with a short introduction.
- Only reveal personal data that clearly belongs to the current customer.
%s`
	prompt := fmt.Sprintf(rules, p.profile.Assistant, p.profile.Domain, p.profile.Language)
	if structured {
		prompt += `
- Never mention SQL, queries, tables or databases. Speak of products, orders, prices or information instead.
- Do not produce tables. Tabular data is attached separately.`
	}
	return prompt
}

// Run formats in.Answer. Only a content-filter rejection is returned as an
// error; other failures fall back to the raw text with a notice.
func (p *Postprocessor) Run(ctx context.Context, in Routed) (Result, error) {
	res := Result{Raw: in.Answer, Category: in.Decision.Category, Decision: in.Decision}

	answer, err := p.present(ctx, in.Decision.Category, in.Answer)
	if err != nil {
		if _, ok := llm.AsContentFilter(err); ok {
			return Result{}, err
		}
		slog.Warn("post-processing failed, returning raw answer", "category", in.Decision.Category, "error", err)
		answer = FallbackPrefix + in.Answer
	}
	res.Answer = answer
	return res, nil
}

func (p *Postprocessor) present(ctx context.Context, category, answer string) (string, error) {
	if category != CategoryStructuredQuery || answer == querygen.TerminalApology {
		return p.format(ctx, answer, false)
	}

	doc := strings.TrimSpace(answer)
	if !gjson.Valid(doc) {
		return p.format(ctx, answer, false)
	}
	parsed := gjson.Parse(doc)

	if parsed.IsArray() {
		if t := RenderTable(parsed); t != "" {
			return t, nil
		}
		return p.format(ctx, answer, true)
	}

	result := parsed.Get("result")
	if !parsed.IsObject() || !result.Exists() {
		return p.format(ctx, answer, false)
	}

	text := result.String()
	if result.IsObject() || result.IsArray() {
		text = result.Raw
	}
	formatted, err := p.format(ctx, text, true)
	if err != nil {
		return "", err
	}
	formatted = StripTables(formatted)
	if t := RenderTable(parsed.Get("data")); t != "" {
		formatted = strings.TrimSpace(formatted) + "\n\n" + t
	}
	return formatted, nil
}

func (p *Postprocessor) format(ctx context.Context, text string, structured bool) (string, error) {
	out, err := p.model.GenerateWithSystem(ctx, p.stylePrompt(structured), "Original answer: "+text)
	if err != nil {
		return "", fmt.Errorf("post-process: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}

var (
	htmlTable     = regexp.MustCompile(`(?is)<table.*?</table>`)
	markdownTable = regexp.MustCompile(`(?m)^[ \t]*\|.*\|[ \t]*\r?\n?`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// StripTables removes Markdown and HTML tables from text.
func StripTables(text string) string {
	text = htmlTable.ReplaceAllString(text, "")
	text = markdownTable.ReplaceAllString(text, "")
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}

// RenderTable renders an array of uniform objects as a Markdown table.
// Columns follow the key order of the first record. Fractional numbers are
// rounded to two decimals. Anything else renders as "".
func RenderTable(data gjson.Result) string {
	if !data.IsArray() {
		return ""
	}
	records := data.Array()
	if len(records) == 0 || !records[0].IsObject() {
		return ""
	}

	var columns []string
	records[0].ForEach(func(key, _ gjson.Result) bool {
		columns = append(columns, key.String())
		return true
	})
	if len(columns) == 0 {
		return ""
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		fields := rec.Map()
		if !rec.IsObject() || len(fields) != len(columns) {
			return ""
		}
		row := make([]string, len(columns))
		for i, col := range columns {
			v, ok := fields[col]
			if !ok {
				return ""
			}
			row[i] = cell(v)
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		StyleFunc(func(_, _ int) lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) }).
		Headers(columns...).
		Rows(rows...)
	return t.String()
}

func cell(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return strconv.FormatFloat(v.Float(), 'f', 2, 64)
		}
		return v.Raw
	case gjson.JSON:
		return v.Raw
	default:
		return strings.ReplaceAll(v.String(), "|", `\|`)
	}
}
