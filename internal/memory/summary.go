package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// Summarizer folds older conversation lines into a running summary.
type Summarizer interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TokenCounter estimates the token cost of a text.
type TokenCounter interface {
	CountTokens(text string) int
}

const summarySystemPrompt = `You maintain a running summary of a customer conversation.
Progressively extend the current summary with the new lines and return only the new summary.
Keep names, products, order details and open questions. Do not invent anything.`

// SummaryBuffer keeps recent messages verbatim while their token count stays
// within a limit. When the limit is exceeded the oldest turns are pruned and
// folded into a running summary with one model call.
type SummaryBuffer struct {
	history    *memory.ChatMessageHistory
	summary    string
	limit      int
	counter    TokenCounter
	summarizer Summarizer
}

// NewSummaryBuffer creates a summarizing buffer with the given token limit.
func NewSummaryBuffer(summarizer Summarizer, counter TokenCounter, limit int) *SummaryBuffer {
	return &SummaryBuffer{
		history:    memory.NewChatMessageHistory(),
		limit:      limit,
		counter:    counter,
		summarizer: summarizer,
	}
}

// Save appends one turn and compresses the buffer if it grew past the limit.
func (s *SummaryBuffer) Save(ctx context.Context, input, output string) error {
	if err := s.append(ctx, input, output); err != nil {
		return err
	}
	return s.prune(ctx)
}

// Seed appends many turns and compresses once.
func (s *SummaryBuffer) Seed(ctx context.Context, turns [][2]string) error {
	for _, t := range turns {
		if err := s.append(ctx, t[0], t[1]); err != nil {
			return err
		}
	}
	return s.prune(ctx)
}

func (s *SummaryBuffer) append(ctx context.Context, input, output string) error {
	if err := s.history.AddUserMessage(ctx, input); err != nil {
		return fmt.Errorf("save summary buffer: %w", err)
	}
	if err := s.history.AddAIMessage(ctx, output); err != nil {
		return fmt.Errorf("save summary buffer: %w", err)
	}
	return nil
}

func (s *SummaryBuffer) prune(ctx context.Context) error {
	msgs, err := s.history.Messages(ctx)
	if err != nil {
		return fmt.Errorf("read summary buffer: %w", err)
	}

	cut := 0
	for cut < len(msgs) {
		rest, err := llms.GetBufferString(msgs[cut:], humanPrefix, aiPrefix)
		if err != nil {
			return fmt.Errorf("render summary buffer: %w", err)
		}
		if s.counter.CountTokens(rest) <= s.limit {
			break
		}
		cut += 2 // drop whole turns
	}
	cut = min(cut, len(msgs))
	if cut == 0 {
		return nil
	}

	pruned, err := llms.GetBufferString(msgs[:cut], humanPrefix, aiPrefix)
	if err != nil {
		return fmt.Errorf("render pruned lines: %w", err)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Current summary:\n%s\n\nNew lines of conversation:\n%s\n\nNew summary:", s.summary, pruned)
	summary, err := s.summarizer.GenerateWithSystem(ctx, summarySystemPrompt, user.String())
	if err != nil {
		// Keep the messages; the next save retries the compression.
		return fmt.Errorf("summarize: %w", err)
	}

	if err := s.history.SetMessages(ctx, msgs[cut:]); err != nil {
		return fmt.Errorf("trim summary buffer: %w", err)
	}
	s.summary = strings.TrimSpace(summary)
	return nil
}

// Load returns the running summary followed by the unsummarized lines.
func (s *SummaryBuffer) Load(ctx context.Context) (string, error) {
	msgs, err := s.history.Messages(ctx)
	if err != nil {
		return "", fmt.Errorf("read summary buffer: %w", err)
	}
	lines, err := llms.GetBufferString(msgs, humanPrefix, aiPrefix)
	if err != nil {
		return "", fmt.Errorf("render summary buffer: %w", err)
	}
	switch {
	case s.summary == "":
		return lines, nil
	case lines == "":
		return s.summary, nil
	default:
		return s.summary + "\n" + lines, nil
	}
}

// Summary returns the running summary only.
func (s *SummaryBuffer) Summary() string {
	return s.summary
}
