package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/agentd/features/stream/pulse/clients/pulse"
)

// Streams wires a caller-provided Pulse client into the runtime. It owns a
// publishing sink (handed to the HTTP server as its event mirror) and can
// spawn subscribers that reuse the same client so services do not need to
// manage multiple Redis connections.
type Streams struct {
	sink   *Sink
	client clientspulse.Client
}

// StreamsOptions configures the helper returned by NewStreams.
type StreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing.
	// It is required and typically built via
	// features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID
	// derivation). Leave zero-valued for defaults.
	Sink Options
}

// NewStreams constructs helpers for publishing turn events to Pulse and
// subscribing to the resulting streams. Callers pass the returned sink to
// the server and keep the helper around to create subscribers (e.g. web
// fan-out) later on.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink so callers can hand it to the server.
func (s *Streams) Sink() *Sink {
	return s.sink
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the
// helper's client. This keeps stream publishing and consumption on the same
// Redis connection pool.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink. Call this during service shutdown
// after all subscribers have been canceled.
func (s *Streams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
