// Package inmem provides an in-memory implementation of channel.Store.
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/agentd/runtime/channel"
)

// Store is an in-memory implementation of channel.Store. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	channels map[string]channel.Channel
}

// New returns an empty Store.
func New() *Store {
	return &Store{channels: make(map[string]channel.Channel)}
}

// UpsertChannel implements channel.Store.
func (s *Store) UpsertChannel(_ context.Context, c channel.Channel) error {
	if c.ID == "" {
		return errors.New("channel id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.ID] = c
	return nil
}

// LoadChannel implements channel.Store.
func (s *Store) LoadChannel(_ context.Context, channelID string) (channel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[channelID]
	if !ok {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	return c, nil
}
