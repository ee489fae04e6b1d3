// Package pulse exposes a sink that mirrors turn event streams into
// goa.design/pulse streams so out-of-process consumers (web frontends,
// notification workers) can follow turns without holding an SSE connection.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"goa.design/agentd/features/stream/pulse/clients/pulse"
	"goa.design/agentd/runtime/turn"
)

type (
	// Options configures the Sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults
		// to "turn/<TurnID>".
		StreamID func(turn.Event) (string, error)
	}

	// Sink publishes turn events into Pulse streams. Thread-safe for
	// concurrent Send operations.
	Sink struct {
		client   pulse.Client
		streamID func(turn.Event) (string, error)
	}

	// envelope wraps turn events for transmission over Pulse streams.
	envelope struct {
		// Type identifies the event kind (e.g. "assistant.delta").
		Type string `json:"type"`
		// TurnID links the event to its turn.
		TurnID string `json:"turnId"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload is the full serialized event.
		Payload turn.Event `json:"payload"`
	}
)

// NewSink constructs a Pulse-backed turn event sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{client: opts.Client, streamID: streamID}, nil
}

// Send publishes the event to its derived Pulse stream.
func (s *Sink) Send(ctx context.Context, event turn.Event) error {
	name, err := s.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(name)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{
		Type:      string(event.Type),
		TurnID:    event.TurnID,
		Timestamp: time.Now().UTC(),
		Payload:   event,
	})
	if err != nil {
		return err
	}
	_, err = handle.Add(ctx, string(event.Type), payload)
	return err
}

// Forward drains the reader into the sink until the stream ends or ctx is
// cancelled. It is typically run in its own goroutine alongside the SSE
// writer.
func (s *Sink) Forward(ctx context.Context, r *turn.Reader) error {
	for {
		event, err := r.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Send(ctx, event); err != nil {
			return err
		}
	}
}

// Close releases resources owned by the sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(event turn.Event) (string, error) {
	if event.TurnID == "" {
		return "", errors.New("turn event missing turn id")
	}
	return fmt.Sprintf("turn/%s", event.TurnID), nil
}
