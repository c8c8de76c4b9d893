// Package memory keeps per-session conversational memory: a window of the
// most recent turns and a running summary of everything older.
package memory

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/memory"
)

const (
	humanPrefix = "User"
	aiPrefix    = "Assistant"
	historyKey  = "history"
)

// Window retains the last k turns verbatim.
type Window struct {
	buf *memory.ConversationWindowBuffer
}

// NewWindow creates a window over the last k turns.
func NewWindow(k int) *Window {
	return &Window{
		buf: memory.NewConversationWindowBuffer(k,
			memory.WithHumanPrefix(humanPrefix),
			memory.WithAIPrefix(aiPrefix),
			memory.WithMemoryKey(historyKey),
		),
	}
}

// Save appends one turn.
func (w *Window) Save(ctx context.Context, input, output string) error {
	err := w.buf.SaveContext(ctx,
		map[string]any{"input": input},
		map[string]any{"output": output},
	)
	if err != nil {
		return fmt.Errorf("save window: %w", err)
	}
	return nil
}

// Load renders the retained turns as "User: …\nAssistant: …" lines.
func (w *Window) Load(ctx context.Context) (string, error) {
	vars, err := w.buf.LoadMemoryVariables(ctx, map[string]any{})
	if err != nil {
		return "", fmt.Errorf("load window: %w", err)
	}
	s, _ := vars[historyKey].(string)
	return s, nil
}

// Clear drops all turns.
func (w *Window) Clear(ctx context.Context) error {
	return w.buf.Clear(ctx)
}
