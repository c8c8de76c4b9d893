package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/raphaelgruber/nova-go/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

type fakeLLM struct {
	resp  *llms.ContentResponse
	err   error
	calls [][]llms.MessageContent
	opts  llms.CallOptions
	delay time.Duration
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls = append(f.calls, messages)
	for _, o := range options {
		o(&f.opts)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textResponse(content string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content, GenerationInfo: info}}}
}

func TestModelGenerateWithSystem(t *testing.T) {
	fake := &fakeLLM{resp: textResponse("hello", map[string]any{"PromptTokens": 12, "CompletionTokens": 3})}
	collector := metrics.NewCollector()
	m := NewModelFromLLM(fake, "test-model", WithMetrics(collector))

	out, err := m.GenerateWithSystem(context.Background(), "be brief", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	require.Len(t, fake.calls, 1)
	require.Len(t, fake.calls[0], 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.calls[0][0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.calls[0][1].Role)

	snap := collector.Snapshot()
	require.NotNil(t, snap.LLMGenerate)
	assert.Equal(t, int64(1), snap.LLMGenerate.Count)
	require.NotNil(t, snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, int64(12), *snap.LLMGenerate.TotalInputTokens)
	assert.Equal(t, "test-model", m.Model())
}

func TestModelGenerateJSONStripsFences(t *testing.T) {
	fake := &fakeLLM{resp: textResponse("```json\n{\"query\": \"SELECT 1\"}\n```", nil)}
	m := NewModelFromLLM(fake, "test-model")

	out, err := m.GenerateJSON(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"query": "SELECT 1"}`, out)
	assert.True(t, fake.opts.JSONMode)
}

func TestModelGenerateErrors(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		m := NewModelFromLLM(&fakeLLM{resp: &llms.ContentResponse{}}, "m")
		_, err := m.Generate(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("content filter stop reason", func(t *testing.T) {
		resp := &llms.ContentResponse{Choices: []*llms.ContentChoice{{StopReason: "content_filter"}}}
		m := NewModelFromLLM(&fakeLLM{resp: resp}, "m")
		_, err := m.Generate(context.Background(), "hi")
		_, ok := AsContentFilter(err)
		assert.True(t, ok)
	})

	t.Run("content filter provider error", func(t *testing.T) {
		body := `API returned unexpected status code: 400: {"error":{"code":"content_filter","innererror":{"content_filter_result":{"hate":{"filtered":true,"severity":"high"},"violence":{"filtered":false,"severity":"safe"}}}}}`
		m := NewModelFromLLM(&fakeLLM{err: errors.New(body)}, "m")
		_, err := m.Generate(context.Background(), "hi")
		cf, ok := AsContentFilter(err)
		require.True(t, ok)
		assert.Equal(t, []FilterCategory{{Name: "hate", Severity: "high"}}, cf.Categories)
		assert.False(t, IsRetryable(err))
	})

	t.Run("timeout", func(t *testing.T) {
		m := NewModelFromLLM(&fakeLLM{resp: textResponse("late", nil), delay: time.Second}, "m", WithTimeout(10*time.Millisecond))
		_, err := m.Generate(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrTimeout)
		assert.True(t, IsRetryable(err))
	})

	t.Run("fatal", func(t *testing.T) {
		m := NewModelFromLLM(&fakeLLM{err: errors.New("HTTP 401: invalid api key")}, "m")
		_, err := m.Generate(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrFatalAPI)
		assert.False(t, IsRetryable(err))
	})
}
