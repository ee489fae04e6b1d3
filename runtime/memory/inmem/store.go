// Package inmem provides an in-memory implementation of memory.Store.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"goa.design/agentd/runtime/memory"
)

// Store is an in-memory implementation of memory.Store. Safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	items map[string]memory.Item
}

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[string]memory.Item)}
}

// Put implements memory.Store.
func (s *Store) Put(_ context.Context, item memory.Item) error {
	if item.ID == "" {
		return errors.New("memory item id is required")
	}
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

// Search implements memory.Store.
func (s *Store) Search(_ context.Context, q memory.SearchQuery) (memory.SearchResult, error) {
	s.mu.RLock()
	matches := make([]memory.Item, 0, len(s.items))
	for _, item := range s.items {
		if matchesQuery(item, q) {
			matches = append(matches, item)
		}
	}
	s.mu.RUnlock()

	desc := q.Sort != memory.CreatedAsc
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if desc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if desc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	total := len(matches)
	if q.Cursor != "" {
		cur, err := memory.DecodeCursor(q.Cursor)
		if err != nil {
			return memory.SearchResult{}, err
		}
		// Resume strictly after the cursor position so pagination stays
		// stable when the cursor item itself has been deleted.
		i := sort.Search(len(matches), func(i int) bool {
			return afterCursor(matches[i], cur, desc)
		})
		matches = matches[i:]
	}

	limit := q.Limit
	if limit <= 0 {
		limit = memory.DefaultLimit
	}
	var cursor string
	if len(matches) > limit {
		matches = matches[:limit]
		last := matches[len(matches)-1]
		cursor = memory.EncodeCursor(memory.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return memory.SearchResult{Items: matches, Cursor: cursor, TotalCount: total}, nil
}

// Forget implements memory.Store.
func (s *Store) Forget(_ context.Context, agentID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, item := range s.items {
		if item.AgentID == agentID && item.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			deleted++
		}
	}
	return deleted, nil
}

// afterCursor reports whether item sorts strictly after the cursor position
// in the order produced by Search.
func afterCursor(item memory.Item, cur memory.Cursor, desc bool) bool {
	if !item.CreatedAt.Equal(cur.CreatedAt) {
		if desc {
			return item.CreatedAt.Before(cur.CreatedAt)
		}
		return item.CreatedAt.After(cur.CreatedAt)
	}
	if desc {
		return item.ID < cur.ID
	}
	return item.ID > cur.ID
}

func matchesQuery(item memory.Item, q memory.SearchQuery) bool {
	if q.AgentID != "" && item.AgentID != q.AgentID {
		return false
	}
	if q.Tier != "" && item.Tier != q.Tier {
		return false
	}
	if q.Scope != "" && item.Scope != q.Scope {
		return false
	}
	if q.SessionID != "" && item.SessionID != q.SessionID {
		return false
	}
	return true
}
