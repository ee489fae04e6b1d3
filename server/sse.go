package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"goa.design/agentd/runtime/account"
	"goa.design/agentd/runtime/channel"
	"goa.design/agentd/runtime/session"
	"goa.design/agentd/runtime/turn"
)

// writeSSE streams turn events to the client using the SSE wire format:
// "event: <type>\ndata: <json>\n\n", flushed per event. The stream ends when
// the turn completes, fails, or the client disconnects.
func (s *Server) writeSSE(w http.ResponseWriter, r *http.Request, reader *turn.Reader) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(r.Context(), w, errors.New("streaming unsupported by connection"))
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		event, err := reader.Recv(r.Context())
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// Context errors mean the client went away mid-stream.
			if r.Context().Err() == nil {
				s.log.Warn(r.Context(), "sse stream read failed", "err", err)
			}
			return
		}
		data, err := json.Marshal(event)
		if err != nil {
			s.log.Error(r.Context(), "sse event marshal failed", "err", err)
			return
		}
		if _, err := w.Write([]byte("event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n")); err != nil {
			// Client went away. The pipeline keeps running; the recorded
			// stream stays replayable for the sink and late subscribers.
			return
		}
		flusher.Flush()
	}
}

// forwardToSink drains a mirror reader into the configured sink. It runs on
// the server base context so shutdown stops the forwarder with the pipeline.
func (s *Server) forwardToSink(reader *turn.Reader) {
	ctx := s.base
	for {
		event, err := reader.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			return
		}
		if err := s.sink.Send(ctx, event); err != nil {
			s.log.Warn(ctx, "event sink send failed", "turn_id", event.TurnID, "err", err)
			return
		}
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeValidationError maps request decoding and schema failures to 400.
func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":   "ValidationError",
		"message": err.Error(),
	})
}

// ErrTodoNotFound is reserved for the todos example surface. Nothing in the
// runtime produces it; clients can rely on the code and its 404 mapping.
var ErrTodoNotFound = errors.New("todo not found")

// writeError maps runtime errors to HTTP statuses using their error codes.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := "InternalError"
	status := http.StatusInternalServerError
	var coder interface{ ErrorCode() string }
	if errors.As(err, &coder) {
		code = coder.ErrorCode()
	}
	var nf *session.NotFoundError
	switch {
	case errors.As(err, &nf):
		status = http.StatusNotFound
	case errors.Is(err, channel.ErrChannelNotFound):
		status = http.StatusNotFound
		code = "ChannelNotFound"
	case errors.Is(err, account.ErrAgentNotFound):
		status = http.StatusNotFound
		code = "AgentNotFound"
	case errors.Is(err, ErrTodoNotFound):
		status = http.StatusNotFound
		code = "TodoNotFound"
	}
	if status == http.StatusInternalServerError {
		s.log.Error(ctx, "request failed", "error_code", code, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}
