package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	const msg = "How do I pair my speaker? What did I order? Thanks!"
	tests := []struct {
		name  string
		reply string
		want  []Question
	}{
		{
			name:  "buckets follow message order",
			reply: `{"structured_query": ["What did I order?"], "retrieval": ["How do I pair my speaker?"], "general": []}`,
			want: []Question{
				{Text: "How do I pair my speaker?", Hint: CategoryRetrieval},
				{Text: "What did I order?", Hint: CategoryStructuredQuery},
			},
		},
		{
			name:  "duplicates removed",
			reply: `{"retrieval": ["How do I pair my speaker?", " How do I pair my speaker? "], "general": ["How do I pair my speaker?"]}`,
			want:  []Question{{Text: "How do I pair my speaker?", Hint: CategoryRetrieval}},
		},
		{
			name:  "rephrased questions keep reply order after located ones",
			reply: `{"structured_query": ["Which orders did I place?"], "general": ["Thanks!"], "retrieval": ["How do I pair my speaker?"]}`,
			want: []Question{
				{Text: "How do I pair my speaker?", Hint: CategoryRetrieval},
				{Text: "Thanks!", Hint: CategoryGeneral},
				{Text: "Which orders did I place?", Hint: CategoryStructuredQuery},
			},
		},
		{
			name:  "legacy bucket names",
			reply: `{"database": ["What did I order?"], "vector": ["How do I pair my speaker?"]}`,
			want: []Question{
				{Text: "How do I pair my speaker?", Hint: CategoryRetrieval},
				{Text: "What did I order?", Hint: CategoryStructuredQuery},
			},
		},
		{
			name:  "question list",
			reply: `{"questions": ["What did I order?", "How do I pair my speaker?", 3]}`,
			want: []Question{
				{Text: "How do I pair my speaker?"},
				{Text: "What did I order?"},
			},
		},
		{name: "no questions", reply: `{"structured_query": [], "retrieval": [], "general": []}`, want: []Question{{Text: msg}}},
		{name: "not json", reply: "There are two questions.", want: []Question{{Text: msg}}},
		{name: "wrong shape", reply: `{"retrieval": "How do I pair my speaker?"}`, want: []Question{{Text: msg}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := llmtest.NewFake().Reply(markSplit, tt.reply)
			got, err := NewSplitter(fake).Split(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitFailures(t *testing.T) {
	fake := llmtest.NewFake().On(markSplit, func(llmtest.Call) (string, error) {
		return "", errors.New("timeout")
	})
	got, err := NewSplitter(fake).Split(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, []Question{{Text: "Hi"}}, got)

	fake = llmtest.NewFake().On(markSplit, func(llmtest.Call) (string, error) {
		return "", &llm.ContentFilterError{}
	})
	_, err = NewSplitter(fake).Split(context.Background(), "Hi")
	_, ok := llm.AsContentFilter(err)
	assert.True(t, ok)
}

func TestCombine(t *testing.T) {
	ctx := context.Background()
	profile := config.DefaultProfile()

	fake := llmtest.NewFake().Reply(markCombine, "  merged reply  ")
	c := NewCombiner(fake, profile)

	got, err := c.Combine(ctx, []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, "only", got)
	assert.Empty(t, fake.Calls())

	got, err = c.Combine(ctx, []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, "merged reply", got)
	require.Len(t, fake.Calls(), 1)
	assert.Contains(t, fake.Calls()[0].User, "1. first\n2. second")

	failing := llmtest.NewFake().On(markCombine, func(llmtest.Call) (string, error) {
		return "", errors.New("provider down")
	})
	got, err = NewCombiner(failing, profile).Combine(ctx, []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, "1. first\n2. second", got)

	filtered := llmtest.NewFake().On(markCombine, func(llmtest.Call) (string, error) {
		return "", &llm.ContentFilterError{}
	})
	_, err = NewCombiner(filtered, profile).Combine(ctx, []string{"first", "second"})
	require.Error(t, err)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, GenericErrorMessage, UserMessage(errors.New("dial tcp: connection refused")))
	assert.Equal(t, GenericErrorMessage, UserMessage(&MalformedDecisionError{Err: errors.New("bad")}))

	msg := UserMessage(&llm.ContentFilterError{Categories: []llm.FilterCategory{{Name: "hate", Severity: "high"}}})
	assert.Contains(t, msg, "content filter")
	assert.Contains(t, msg, "hate (Severity: high)")

	assert.Contains(t, UserMessage(&llm.ContentFilterError{}), "content filter")
}
