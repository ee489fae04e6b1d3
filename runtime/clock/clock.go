// Package clock abstracts the wall clock so that pure runtime logic never
// reads global time. Production code uses System; tests drive a Virtual clock
// and advance it explicitly.
package clock

import (
	"sync"
	"time"
)

type (
	// Clock supplies the current instant. Implementations must return UTC
	// times with at least millisecond precision.
	Clock interface {
		// Now returns the current instant in UTC.
		Now() time.Time
	}

	// System reads the operating system clock.
	System struct{}

	// Virtual is a manually advanced clock for tests. It is safe for
	// concurrent use.
	Virtual struct {
		mu  sync.Mutex
		now time.Time
	}
)

// Now implements Clock.
func (System) Now() time.Time { return time.Now().UTC() }

// NewVirtual returns a Virtual clock pinned at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start.UTC()}
}

// Now implements Clock.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d and returns the new instant.
func (v *Virtual) Advance(d time.Duration) time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
	return v.now
}

// Set pins the clock at t.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = t.UTC()
}
