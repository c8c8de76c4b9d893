package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/db"
	"github.com/raphaelgruber/nova-go/internal/memory"
	"github.com/raphaelgruber/nova-go/internal/models"
	"github.com/raphaelgruber/nova-go/internal/orchestrator"
)

// ErrAlreadyLoggedIn is returned when logging in on a session that already
// belongs to an identity.
var ErrAlreadyLoggedIn = errors.New("session already belongs to an identity")

// Dispatcher answers a user message within a session.
type Dispatcher interface {
	Dispatch(ctx context.Context, message, identity string, session *memory.Session) (orchestrator.Reply, error)
}

// ChatReply is the answer shown to the user.
type ChatReply struct {
	SessionID string
	Text      string
	Category  string
	// Failed is set when Text is a translated error message.
	Failed bool
}

// ChatService runs chat sessions: it keeps the in-memory session registry
// and the durable chat documents in step.
type ChatService struct {
	dispatcher  Dispatcher
	registry    *memory.Registry
	store       ChatStore
	windowTurns int
	logger      *slog.Logger
	now         func() time.Time
}

// NewChatService creates a chat service. windowTurns is the number of
// turns replayed into the window buffer on resume.
func NewChatService(dispatcher Dispatcher, registry *memory.Registry, store ChatStore, windowTurns int, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		dispatcher:  dispatcher,
		registry:    registry,
		store:       store,
		windowTurns: windowTurns,
		logger:      logger,
		now:         time.Now,
	}
}

// NewSessionID returns "<identity>-<8 hex>".
func NewSessionID(identity string) string {
	return identity + "-" + uuid.NewString()[:8]
}

// Start opens a new session for identity and returns its id.
func (s *ChatService) Start(identity string) string {
	if identity == "" {
		identity = config.AnonymousIdentity
	}
	id := NewSessionID(identity)
	s.registry.GetOrCreate(id, identity)
	s.logger.Info("session started", "session", id)
	return id
}

// session returns the live session for id owned by identity. A session
// that fell out of the registry is rebuilt from its stored document.
// Sessions of other identities are reported as db.ErrNotFound.
func (s *ChatService) session(ctx context.Context, id, identity string) (*memory.Session, error) {
	if sess, ok := s.registry.Get(id); ok {
		if sess.Identity != identity {
			return nil, fmt.Errorf("session %s: %w", id, db.ErrNotFound)
		}
		return sess, nil
	}

	doc, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		doc = nil
	case err != nil:
		return nil, fmt.Errorf("load chat: %w", err)
	case doc.Identity != identity:
		return nil, fmt.Errorf("session %s: %w", id, db.ErrNotFound)
	}

	sess, created := s.registry.GetOrCreate(id, identity)
	if sess.Identity != identity {
		return nil, fmt.Errorf("session %s: %w", id, db.ErrNotFound)
	}
	if created && doc != nil {
		s.replay(ctx, sess, doc)
	}
	return sess, nil
}

// replay loads doc's turns into sess. The window is filled before the
// summary, so a summarizer failure still leaves a usable memory.
func (s *ChatService) replay(ctx context.Context, sess *memory.Session, doc *models.ChatDocument) {
	sess.Lock()
	defer sess.Unlock()
	if err := sess.Memory.Replay(ctx, doc.Turns(), s.windowTurns); err != nil {
		s.logger.Warn("history replay incomplete", "session", doc.ID, "error", err)
	}
}

// Send answers message in session id. Dispatch errors are translated into
// a user-facing message and reported through ChatReply.Failed; the failed
// turn is stored like any other. Only session errors are returned, including
// db.ErrNotFound when id belongs to another identity.
func (s *ChatService) Send(ctx context.Context, id, identity, message string) (ChatReply, error) {
	if identity == "" {
		identity = config.AnonymousIdentity
	}
	sess, err := s.session(ctx, id, identity)
	if err != nil {
		return ChatReply{}, err
	}

	asked := s.now().UTC()
	reply := ChatReply{SessionID: id}
	answer, err := s.dispatcher.Dispatch(ctx, message, sess.Identity, sess)
	if err != nil {
		s.logger.Error("dispatch failed", "session", id, "error", err)
		reply.Text, reply.Failed = orchestrator.UserMessage(err), true
	} else {
		reply.Text, reply.Category = answer.Answer, answer.Category
	}

	s.persist(ctx, sess, []models.ChatMessage{
		{Sender: models.SenderUser, Content: message, Timestamp: asked},
		{Sender: models.SenderBot, Content: reply.Text, Timestamp: s.now().UTC(), Agent: reply.Category},
	})
	return reply, nil
}

// persist appends messages to the session's chat document under the
// session lock, so concurrent turns of one session never overwrite each
// other. Store failures are logged; the conversation continues from memory.
func (s *ChatService) persist(ctx context.Context, sess *memory.Session, messages []models.ChatMessage) {
	sess.Lock()
	defer sess.Unlock()

	doc, err := s.store.Get(ctx, sess.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		doc = &models.ChatDocument{ID: sess.ID, Identity: sess.Identity, CreatedAt: messages[0].Timestamp}
	case err != nil:
		s.logger.Warn("chat not persisted", "session", sess.ID, "error", err)
		return
	}
	doc.Messages = append(doc.Messages, messages...)
	doc.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, doc); err != nil {
		s.logger.Warn("chat not persisted", "session", sess.ID, "error", err)
	}
}

// Login moves an anonymous session to identity. The stored document is
// copied to the new id and the old one deleted; the memory moves along.
// It returns the new session id.
func (s *ChatService) Login(ctx context.Context, id, identity string) (string, error) {
	if identity == "" || identity == config.AnonymousIdentity {
		return "", fmt.Errorf("login: identity required")
	}
	if sess, ok := s.registry.Get(id); ok && sess.Identity != config.AnonymousIdentity {
		return "", ErrAlreadyLoggedIn
	}

	newID := NewSessionID(identity)
	sess, ok := s.registry.Rekey(id, newID, identity)
	if !ok {
		sess, _ = s.registry.GetOrCreate(newID, identity)
	}
	sess.Lock()
	defer sess.Unlock()

	doc, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		s.logger.Info("session re-keyed", "from", id, "to", newID)
		return newID, nil
	case err != nil:
		return "", fmt.Errorf("load chat: %w", err)
	}

	doc.ID = newID
	doc.Identity = identity
	doc.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, doc); err != nil {
		return "", fmt.Errorf("save chat: %w", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Warn("old chat not deleted", "session", id, "error", err)
	}
	s.logger.Info("session re-keyed", "from", id, "to", newID)
	return newID, nil
}

// Sessions lists the stored chats of identity, most recent first.
// Anonymous users have no listable sessions.
func (s *ChatService) Sessions(ctx context.Context, identity string) ([]models.ChatSummary, error) {
	if identity == "" || identity == config.AnonymousIdentity {
		return nil, nil
	}
	list, err := s.store.List(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return list, nil
}

// Resume loads a stored chat of identity into a fresh memory pair and
// returns the document for display.
func (s *ChatService) Resume(ctx context.Context, id, identity string) (*models.ChatDocument, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if doc.Identity != identity {
		return nil, fmt.Errorf("load chat: %w", db.ErrNotFound)
	}

	s.registry.Remove(id)
	sess, _ := s.registry.GetOrCreate(id, identity)
	s.replay(ctx, sess, doc)
	s.logger.Info("session resumed", "session", id, "turns", len(doc.Turns()))
	return doc, nil
}

// Forget deletes a chat and its live session.
func (s *ChatService) Forget(ctx context.Context, id string) error {
	s.registry.Remove(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}
