// Package entity implements the actor-per-key execution primitives the
// runtime relies on: per-key serialization (session operations), and per-key
// single-flight with a memoized result (turn pipelines, command lane), so
// concurrent callers of one logical entity observe one effect.
package entity

import (
	"fmt"
	"sync"
)

type (
	// Serial executes at most one function per key at a time. Functions on
	// different keys run in parallel; functions on one key run in arrival
	// order. The zero value is ready to use.
	Serial struct {
		mu    sync.Mutex
		locks map[string]*keyLock
	}

	keyLock struct {
		mu   sync.Mutex
		refs int
	}

	// Group deduplicates work per key: the first caller runs fn, later
	// callers (concurrent or subsequent) receive the recorded result
	// without running theirs. The zero value is ready to use.
	Group[V any] struct {
		mu    sync.Mutex
		calls map[string]*call[V]
	}

	call[V any] struct {
		done chan struct{}
		val  V
	}

	// Error wraps a storage or transport failure surfaced at an entity
	// boundary.
	Error struct {
		EntityType string
		Reason     string
	}
)

// Do runs fn, serialized with every other Do on the same key.
func (s *Serial) Do(key string, fn func()) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*keyLock)
	}
	l := s.locks[key]
	if l == nil {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	fn()
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()
}

// Do returns the recorded result for key, running fn to produce it exactly
// once. Callers that arrive while fn runs block until it completes and then
// share its result.
func (g *Group[V]) Do(key string, fn func() V) V {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		<-c.done
		return c.val
	}
	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.val = fn()
	close(c.done)
	return c.val
}

// Forget drops the recorded result for key so the next Do runs again.
func (g *Group[V]) Forget(key string) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s entity: %s", e.EntityType, e.Reason)
}

// ErrorCode returns the wire error tag.
func (e *Error) ErrorCode() string { return "ClusterEntityError" }
