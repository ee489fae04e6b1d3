// Package ident provides the identifier source used wherever the runtime
// mints execution, turn, message or audit identifiers. Injecting the source
// keeps ticket and event identity deterministic in tests.
package ident

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

type (
	// Source mints unique identifiers.
	Source interface {
		// NewID returns a fresh identifier. Implementations must never
		// return the same value twice from the same source.
		NewID() string
	}

	// UUID mints random 128-bit identifiers in their canonical string form.
	UUID struct{}

	// Sequence mints "<prefix>-<n>" identifiers for tests. Safe for
	// concurrent use.
	Sequence struct {
		prefix string
		n      atomic.Uint64
	}
)

// NewID implements Source.
func (UUID) NewID() string { return uuid.NewString() }

// NewSequence returns a deterministic Source whose identifiers share prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID implements Source.
func (s *Sequence) NewID() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1))
}
