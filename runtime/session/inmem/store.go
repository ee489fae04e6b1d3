// Package inmem provides an in-memory implementation of session.Store.
//
// Turn lists use copy-on-write semantics so readers always observe a
// consistent snapshot while appends mutate under the lock.
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/agentd/runtime/session"
)

// Store is an in-memory implementation of session.Store. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	turns    map[string][]session.Turn
	byTurnID map[string]map[string]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		turns:    make(map[string][]session.Turn),
		byTurnID: make(map[string]map[string]int),
	}
}

// StartSession implements session.Store.
func (s *Store) StartSession(_ context.Context, in session.Session) (session.Session, error) {
	if in.ID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[in.ID]; ok {
		return existing, nil
	}
	s.sessions[in.ID] = in
	s.byTurnID[in.ID] = make(map[string]int)
	return in, nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, &session.NotFoundError{SessionID: sessionID}
	}
	return existing, nil
}

// UpdateContextWindow implements session.Store.
func (s *Store) UpdateContextWindow(_ context.Context, sessionID string, delta int64) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, &session.NotFoundError{SessionID: sessionID}
	}
	next := existing.TokensUsed + delta
	if next < 0 {
		next = 0
	}
	if next > existing.TokenCapacity {
		return session.Session{}, &session.ContextWindowExceededError{
			SessionID:           sessionID,
			TokenCapacity:       existing.TokenCapacity,
			AttemptedTokensUsed: next,
		}
	}
	existing.TokensUsed = next
	s.sessions[sessionID] = existing
	return existing, nil
}

// AppendTurn implements session.Store.
func (s *Store) AppendTurn(_ context.Context, t session.Turn) (session.Turn, error) {
	if t.ID == "" {
		return session.Turn{}, errors.New("turn id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[t.SessionID]; !ok {
		return session.Turn{}, &session.NotFoundError{SessionID: t.SessionID}
	}
	index := s.byTurnID[t.SessionID]
	if i, ok := index[t.ID]; ok {
		return s.turns[t.SessionID][i], nil
	}
	t.TurnIndex = len(s.turns[t.SessionID])
	// Copy-on-write so ListTurns snapshots stay stable.
	turns := make([]session.Turn, len(s.turns[t.SessionID]), len(s.turns[t.SessionID])+1)
	copy(turns, s.turns[t.SessionID])
	turns = append(turns, t)
	s.turns[t.SessionID] = turns
	index[t.ID] = t.TurnIndex
	return t, nil
}

// ListTurns implements session.Store.
func (s *Store) ListTurns(_ context.Context, sessionID string) ([]session.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, &session.NotFoundError{SessionID: sessionID}
	}
	return s.turns[sessionID], nil
}
