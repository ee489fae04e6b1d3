// Package inmem provides an in-memory implementation of account.Store.
//
// It is intended for tests and local development. Production deployments use
// the SQLite implementation in features/store/sqlite.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/agentd/runtime/account"
)

// Store is an in-memory implementation of account.Store. Safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	agents map[string]account.Agent
}

// New returns an empty Store.
func New() *Store {
	return &Store{agents: make(map[string]account.Agent)}
}

// PutAgent implements account.Store.
func (s *Store) PutAgent(_ context.Context, a account.Agent) error {
	if a.ID == "" {
		return errors.New("agent id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
	return nil
}

// LoadAgent implements account.Store.
func (s *Store) LoadAgent(_ context.Context, agentID string) (account.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return account.Agent{}, account.ErrAgentNotFound
	}
	return a, nil
}

// ConsumeTokenBudget implements account.Store.
func (s *Store) ConsumeTokenBudget(_ context.Context, agentID string, tokens int64, now time.Time) (account.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return account.Agent{}, account.ErrAgentNotFound
	}
	if err := account.Consume(&a, tokens, now); err != nil {
		return account.Agent{}, err
	}
	s.agents[agentID] = a
	return a, nil
}
