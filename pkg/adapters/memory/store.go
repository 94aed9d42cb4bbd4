package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session // by session id
	keys     map[domain.SessionKey]string
	corr     map[string]string
	history  map[string][]domain.HistoryEntry
}

var _ ports.SessionStore = (*Store)(nil)

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		keys:     make(map[domain.SessionKey]string),
		corr:     make(map[string]string),
		history:  make(map[string][]domain.HistoryEntry),
	}
}

// FindByKey returns a copy of the session of key.
func (s *Store) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.sessions[id].Clone(), nil
}

// Load returns a copy of the session so callers can't mutate the store by pointer.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// FindByCorrelation returns the session parked under correlationKey.
func (s *Store) FindByCorrelation(ctx context.Context, correlationKey string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.corr[correlationKey]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.sessions[id].Clone(), nil
}

// Commit applies the turn under the store mutex.
func (s *Store) Commit(ctx context.Context, c ports.TurnCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := c.Session.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Version check
	id, exists := s.keys[next.Key()]
	switch {
	case c.ExpectedTurn == 0 && (exists || s.sessions[next.SessionID] != nil):
		return domain.ErrCommitConflict
	case c.ExpectedTurn != 0 && (!exists || id != next.SessionID || s.sessions[id].Turn != c.ExpectedTurn):
		return domain.ErrCommitConflict
	}

	// 2. Indexes
	if prev := s.sessions[next.SessionID]; prev != nil && prev.CorrelationKey != "" {
		delete(s.corr, prev.CorrelationKey)
	}
	if next.CorrelationKey != "" {
		s.corr[next.CorrelationKey] = next.SessionID
	}
	s.keys[next.Key()] = next.SessionID

	// 3. Session + history
	s.sessions[next.SessionID] = next
	s.history[next.SessionID] = append(s.history[next.SessionID], c.Entries...)
	return nil
}

// History returns a copy of the session history.
func (s *Store) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, domain.ErrSessionNotFound
	}
	return slices.Clone(s.history[sessionID]), nil
}

// List returns active sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		sessions = append(sessions, id)
	}
	slices.Sort(sessions)
	return sessions, nil
}
