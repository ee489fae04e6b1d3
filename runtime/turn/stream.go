package turn

import (
	"context"
	"io"
	"sync"
)

type (
	// Stream is the recorded event sequence of one turn. The pipeline
	// appends; any number of readers replay it concurrently, each with its
	// own cursor, so concurrent submitters of one turn observe identical
	// streams. Finite and non-restartable: once closed it never grows.
	Stream struct {
		mu     sync.Mutex
		cond   *sync.Cond
		events []Event
		closed bool
		err    error
		seq    uint64
	}

	// Reader iterates a Stream from its beginning.
	Reader struct {
		stream *Stream
		pos    int
	}
)

// newStream returns an open, empty stream.
func newStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Subscribe returns a Reader positioned at the first event.
func (s *Stream) Subscribe() *Reader {
	return &Reader{stream: s}
}

// Err returns the pipeline error recorded on failure, nil otherwise.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// emit appends an event, assigning the next dense sequence number.
func (s *Stream) emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e.Sequence = s.seq
	s.seq++
	s.events = append(s.events, e)
	s.cond.Broadcast()
}

// fail appends the terminal failure event (with MaxSafeSequence) and closes
// the stream.
func (s *Stream) fail(e Event, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e.Sequence = MaxSafeSequence
	s.events = append(s.events, e)
	s.err = cause
	s.closed = true
	s.cond.Broadcast()
}

// close marks the stream complete.
func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// Recv returns the next event, blocking until one is available or ctx is
// done. It returns io.EOF once the stream is closed and fully drained, and
// the ctx error when cancelled mid-wait.
func (r *Reader) Recv(ctx context.Context) (Event, error) {
	s := r.stream
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for r.pos >= len(s.events) && !s.closed {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		s.cond.Wait()
	}
	if r.pos < len(s.events) {
		e := s.events[r.pos]
		r.pos++
		return e, nil
	}
	return Event{}, io.EOF
}

// Err exposes the underlying stream error.
func (r *Reader) Err() error { return r.stream.Err() }
