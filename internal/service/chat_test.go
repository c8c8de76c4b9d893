package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/db"
	"github.com/raphaelgruber/nova-go/internal/llm"
	"github.com/raphaelgruber/nova-go/internal/llm/llmtest"
	"github.com/raphaelgruber/nova-go/internal/memory"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/raphaelgruber/nova-go/internal/orchestrator"
	"github.com/raphaelgruber/nova-go/internal/redisstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "alice@example.com"

// echoDispatcher answers "echo: <message>" and records the turn like the router does.
type echoDispatcher struct {
	err error
}

func (d *echoDispatcher) Dispatch(ctx context.Context, message, _ string, session *memory.Session) (orchestrator.Reply, error) {
	if d.err != nil {
		return orchestrator.Reply{}, d.err
	}
	answer := "echo: " + message
	session.Lock()
	defer session.Unlock()
	if err := session.Memory.Record(ctx, message, answer); err != nil {
		return orchestrator.Reply{}, err
	}
	return orchestrator.Reply{Answer: answer, Category: orchestrator.CategoryGeneral}, nil
}

type chatFixture struct {
	svc        *ChatService
	store      *redisstore.ChatStore
	registry   *memory.Registry
	dispatcher *echoDispatcher
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := redisstore.Open(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pairs := memory.PairFactory{WindowTurns: 2, TokenLimit: 1000, Summarizer: llmtest.NewFake(), Counter: llm.WordCounter{}}
	registry := memory.NewRegistry(10, time.Hour, pairs.New, nil)
	d := &echoDispatcher{}
	return &chatFixture{
		svc:        NewChatService(d, registry, store, 2, nil),
		store:      store,
		registry:   registry,
		dispatcher: d,
	}
}

func window(t *testing.T, s *memory.Session) string {
	t.Helper()
	out, err := s.Memory.Window.Load(context.Background())
	require.NoError(t, err)
	return out
}

func TestNewSessionID(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^alice@example\.com-[0-9a-f]{8}$`), NewSessionID(alice))
	assert.NotEqual(t, NewSessionID(alice), NewSessionID(alice))
}

func TestSendPersistsTurns(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	id := f.svc.Start("")
	assert.True(t, strings.HasPrefix(id, config.AnonymousIdentity+"-"))

	for _, msg := range []string{"hi", "how are you"} {
		reply, err := f.svc.Send(ctx, id, "", msg)
		require.NoError(t, err)
		assert.Equal(t, "echo: "+msg, reply.Text)
		assert.False(t, reply.Failed)
	}

	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, config.AnonymousIdentity, doc.Identity)
	require.Len(t, doc.Messages, 4)
	assert.Equal(t, models.SenderUser, doc.Messages[2].Sender)
	assert.Equal(t, "how are you", doc.Messages[2].Content)
	assert.Equal(t, orchestrator.CategoryGeneral, doc.Messages[3].Agent)
}

func TestSendTranslatesDispatchErrors(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	f.dispatcher.err = &llm.ContentFilterError{Categories: []llm.FilterCategory{{Name: "violence", Severity: "high"}}}
	id := f.svc.Start(alice)

	reply, err := f.svc.Send(ctx, id, alice, "something bad")
	require.NoError(t, err)
	assert.True(t, reply.Failed)
	assert.Contains(t, reply.Text, "violence (Severity: high)")
	assert.NotContains(t, reply.Text, "something bad")

	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "something bad", doc.Messages[0].Content)
	assert.Equal(t, reply.Text, doc.Messages[1].Content)
}

func TestSendRejectsForeignSession(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *chatFixture) string
	}{
		{
			name: "live session",
			setup: func(t *testing.T, f *chatFixture) string {
				id := f.svc.Start(alice)
				_, err := f.svc.Send(context.Background(), id, alice, "my address")
				require.NoError(t, err)
				return id
			},
		},
		{
			name: "stored session",
			setup: func(t *testing.T, f *chatFixture) string {
				require.NoError(t, f.store.Save(context.Background(), storedChat("alice-0003", alice, "my address")))
				return "alice-0003"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(t)
			ctx := context.Background()
			id := tt.setup(t, f)

			for _, intruder := range []string{"bob@example.com", config.AnonymousIdentity, ""} {
				reply, err := f.svc.Send(ctx, id, intruder, "what did I ask?")
				require.ErrorIs(t, err, db.ErrNotFound, intruder)
				assert.Empty(t, reply.Text)
			}

			doc, err := f.store.Get(ctx, id)
			require.NoError(t, err)
			assert.Len(t, doc.Messages, 2)
			assert.Equal(t, alice, doc.Identity)
			if sess, ok := f.registry.Get(id); ok {
				assert.Equal(t, alice, sess.Identity)
				assert.NotContains(t, window(t, sess), "what did I ask?")
			}
		})
	}
}

func TestSendConcurrentTurnsAllPersisted(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	id := f.svc.Start(alice)

	const turns = 12
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(ctx, id, alice, fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, doc.Messages, 2*turns)
	seen := map[string]bool{}
	for i, m := range doc.Messages {
		if i%2 == 0 {
			assert.Equal(t, models.SenderUser, m.Sender)
			seen[m.Content] = true
		}
	}
	assert.Len(t, seen, turns)
}

func TestLoginRekeysAnonymousSession(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	id := f.svc.Start(config.AnonymousIdentity)
	_, err := f.svc.Send(ctx, id, config.AnonymousIdentity, "hi")
	require.NoError(t, err)

	newID, err := f.svc.Login(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(newID, alice+"-"))

	_, err = f.store.Get(ctx, id)
	assert.ErrorIs(t, err, db.ErrNotFound)
	doc, err := f.store.Get(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, alice, doc.Identity)
	assert.Len(t, doc.Messages, 2)

	_, ok := f.registry.Get(id)
	assert.False(t, ok)
	sess, ok := f.registry.Get(newID)
	require.True(t, ok)
	assert.Equal(t, alice, sess.Identity)
	assert.Contains(t, window(t, sess), "echo: hi")

	_, err = f.svc.Login(ctx, newID, "bob@example.com")
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)

	_, err = f.svc.Login(ctx, newID, config.AnonymousIdentity)
	assert.Error(t, err)
}

func TestSessions(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	id := f.svc.Start(alice)
	_, err := f.svc.Send(ctx, id, alice, "Where is my order?")
	require.NoError(t, err)

	list, err := f.svc.Sessions(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "Where is my order?", list[0].Title)

	anon, err := f.svc.Sessions(ctx, config.AnonymousIdentity)
	require.NoError(t, err)
	assert.Empty(t, anon)
}

func storedChat(id, identity string, questions ...string) *models.ChatDocument {
	now := time.Now().UTC()
	doc := &models.ChatDocument{ID: id, Identity: identity, CreatedAt: now, UpdatedAt: now}
	for _, q := range questions {
		doc.Messages = append(doc.Messages,
			models.ChatMessage{Sender: models.SenderUser, Content: q, Timestamp: now},
			models.ChatMessage{Sender: models.SenderBot, Content: "re: " + q, Timestamp: now, Agent: "general"},
		)
	}
	return doc
}

func TestResumeReplaysHistory(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, storedChat("alice-0001", alice, "first", "second", "third")))

	doc, err := f.svc.Resume(ctx, "alice-0001", alice)
	require.NoError(t, err)
	assert.Len(t, doc.Messages, 6)

	sess, ok := f.registry.Get("alice-0001")
	require.True(t, ok)
	buf := window(t, sess)
	assert.NotContains(t, buf, "User: first")
	assert.Contains(t, buf, "User: second")
	assert.Contains(t, buf, "re: third")

	summary, err := sess.Memory.Summary.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, summary, "first")

	_, err = f.svc.Resume(ctx, "alice-0001", "bob@example.com")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSendRebuildsEvictedSession(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, storedChat("alice-0002", alice, "earlier question")))

	_, err := f.svc.Send(ctx, "alice-0002", alice, "follow-up")
	require.NoError(t, err)

	sess, ok := f.registry.Get("alice-0002")
	require.True(t, ok)
	assert.Contains(t, window(t, sess), "User: earlier question")

	doc, err := f.store.Get(ctx, "alice-0002")
	require.NoError(t, err)
	assert.Len(t, doc.Messages, 4)
}

func TestForget(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	id := f.svc.Start(alice)
	_, err := f.svc.Send(ctx, id, alice, "hi")
	require.NoError(t, err)

	require.NoError(t, f.svc.Forget(ctx, id))
	_, ok := f.registry.Get(id)
	assert.False(t, ok)
	_, err = f.store.Get(ctx, id)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
