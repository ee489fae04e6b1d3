// Package server exposes the runtime over HTTP: channel management, turn
// submission with SSE streaming, and status endpoints. Request bodies are
// validated against JSON Schemas before they reach the runtime so malformed
// enums and unknown fields fail with 400 rather than corrupting state.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"

	"goa.design/agentd/runtime/account"
	"goa.design/agentd/runtime/channel"
	"goa.design/agentd/runtime/clock"
	"goa.design/agentd/runtime/ident"
	"goa.design/agentd/runtime/schedule"
	"goa.design/agentd/runtime/session"
	"goa.design/agentd/runtime/telemetry"
	"goa.design/agentd/runtime/turn"
)

type (
	// EventSink receives a copy of every turn event for out-of-process
	// consumers. Optional.
	EventSink interface {
		Send(ctx context.Context, event turn.Event) error
	}

	// Options configures the HTTP server.
	Options struct {
		// Sessions persists sessions and turns. Required.
		Sessions session.Store
		// Channels persists channels. Required.
		Channels channel.Store
		// Agents loads agent state for status reporting. Required.
		Agents account.Store
		// Schedules lists schedules for status reporting. Required.
		Schedules schedule.Store
		// Pipeline processes submitted turns. Required.
		Pipeline *turn.Pipeline
		// Clock stamps requests. Required.
		Clock clock.Clock
		// IDs mints session and conversation identifiers. Required.
		IDs ident.Source
		// Log receives request diagnostics. Defaults to a nop logger.
		Log telemetry.Logger
		// Sink mirrors turn events when set.
		Sink EventSink
		// BaseContext is the runtime-wide cancellation signal. In-flight
		// turns run on a context derived from it, not from the request, so
		// they survive client disconnects but stop on runtime shutdown.
		// Defaults to context.Background().
		BaseContext context.Context
		// SessionCapacity is the context window of sessions opened through
		// channels. Defaults to 200000 tokens.
		SessionCapacity int64
		// Version is reported by the status endpoint.
		Version string
	}

	// Server is the HTTP surface of the runtime.
	Server struct {
		sessions  session.Store
		channels  channel.Store
		agents    account.Store
		schedules schedule.Store
		pipeline  *turn.Pipeline
		clk       clock.Clock
		ids       ident.Source
		log       telemetry.Logger
		sink      EventSink
		base      context.Context
		capacity  int64
		version   string
		startedAt time.Time

		validators *validators
	}
)

const defaultSessionCapacity = 200000

// New builds a Server from opts.
func New(opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Channels == nil {
		return nil, errors.New("channel store is required")
	}
	if opts.Agents == nil {
		return nil, errors.New("agent store is required")
	}
	if opts.Schedules == nil {
		return nil, errors.New("schedule store is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("turn pipeline is required")
	}
	if opts.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if opts.IDs == nil {
		return nil, errors.New("ident source is required")
	}
	log := opts.Log
	if log == nil {
		log = telemetry.NopLogger{}
	}
	capacity := opts.SessionCapacity
	if capacity <= 0 {
		capacity = defaultSessionCapacity
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	v, err := newValidators()
	if err != nil {
		return nil, err
	}
	return &Server{
		sessions:   opts.Sessions,
		channels:   opts.Channels,
		agents:     opts.Agents,
		schedules:  opts.Schedules,
		pipeline:   opts.Pipeline,
		clk:        opts.Clock,
		ids:        opts.IDs,
		log:        log,
		sink:       opts.Sink,
		base:       base,
		capacity:   capacity,
		version:    opts.Version,
		startedAt:  opts.Clock.Now(),
		validators: v,
	}, nil
}

// Handler returns the routed HTTP handler. The returned muxer can be wrapped
// with logging and debug middleware by the caller.
func (s *Server) Handler() goahttp.Muxer {
	mux := goahttp.NewMuxer()
	mux.Handle("GET", "/health", s.health)
	mux.Handle("GET", "/runtime/status", s.status)
	mux.Handle("POST", "/channels/{channelId}/create", s.vars(mux, s.createChannel))
	mux.Handle("POST", "/channels/{channelId}/messages", s.vars(mux, s.channelMessage))
	mux.Handle("POST", "/sessions/{sessionId}/turns", s.vars(mux, s.submitTurn))
	return mux
}

// vars resolves path parameters through the muxer before invoking the
// handler.
func (s *Server) vars(mux goahttp.Muxer, h func(http.ResponseWriter, *http.Request, map[string]string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r, mux.Vars(r))
	}
}
