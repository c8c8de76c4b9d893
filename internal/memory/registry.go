package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Session is one conversation with its memory pair. Hold the session lock
// for the whole read-modify-write of Memory.
type Session struct {
	mu       sync.Mutex
	ID       string
	Identity string
	Memory   *Pair
}

// Lock acquires exclusive access to the session's memory.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

var _ sync.Locker = (*Session)(nil)

// Registry maps session ids to sessions. Entries are evicted when the
// registry exceeds its size or when a session sits idle past the TTL.
type Registry struct {
	mu      sync.Mutex // serializes get-or-create and rekey
	lru     *expirable.LRU[string, *Session]
	newPair func() *Pair
	logger  *slog.Logger
}

// NewRegistry creates a registry holding at most size sessions, each
// expiring ttl after its last use. newPair builds the memory for new sessions.
func NewRegistry(size int, ttl time.Duration, newPair func() *Pair, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{newPair: newPair, logger: logger}
	r.lru = expirable.NewLRU(size, func(id string, _ *Session) {
		r.logger.Debug("session evicted", "session", id)
	}, ttl)
	return r
}

// GetOrCreate returns the session for id, creating it with a fresh memory
// pair if it does not exist. The second result reports whether it was created.
func (r *Registry) GetOrCreate(id, identity string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.lru.Get(id); ok {
		// Refresh the TTL on use.
		r.lru.Add(id, s)
		return s, false
	}
	s := &Session{ID: id, Identity: identity, Memory: r.newPair()}
	r.lru.Add(id, s)
	return s, true
}

// Get returns the session for id if it is still registered.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.lru.Get(id)
}

// Rekey moves a session to a new id and identity, keeping its memory.
// It returns false when oldID is not registered.
func (r *Registry) Rekey(oldID, newID, identity string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.lru.Peek(oldID)
	if !ok {
		return nil, false
	}
	s.Lock()
	s.ID = newID
	s.Identity = identity
	s.Unlock()

	r.lru.Remove(oldID)
	r.lru.Add(newID, s)
	return s, true
}

// Remove drops a session.
func (r *Registry) Remove(id string) {
	r.lru.Remove(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.lru.Len()
}
