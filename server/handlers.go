package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"goa.design/agentd/runtime/channel"
	"goa.design/agentd/runtime/session"
	"goa.design/agentd/runtime/turn"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	scheds, err := s.schedules.ListSchedules(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       "agentd",
		"phase":         "running",
		"version":       s.version,
		"uptimeSeconds": int64(s.clk.Now().Sub(s.startedAt).Seconds()),
		"schedules":     len(scheds),
	})
}

// createChannel opens or rebinds a channel and returns 204.
func (s *Server) createChannel(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	channelID := vars["channelId"]
	var req createChannelRequest
	if err := decodeBody(r, s.validators.createChannel, &req); err != nil {
		s.writeValidationError(w, err)
		return
	}
	existing, err := s.channels.LoadChannel(r.Context(), channelID)
	if err != nil && !errors.Is(err, channel.ErrChannelNotFound) {
		s.writeError(r.Context(), w, err)
		return
	}
	ch := channel.Channel{
		ID:        channelID,
		Type:      channel.Type(req.Type),
		AgentID:   req.AgentID,
		CreatedAt: s.clk.Now(),
	}
	if err == nil {
		// Rebinding keeps the active session so the conversation survives
		// agent swaps.
		ch.ActiveSessionID = existing.ActiveSessionID
		ch.ActiveConversationID = existing.ActiveConversationID
		ch.CreatedAt = existing.CreatedAt
	}
	if err := s.channels.UpsertChannel(r.Context(), ch); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// channelMessage submits a message on a channel, opening a session on first
// use, and streams the turn events back as SSE.
func (s *Server) channelMessage(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	channelID := vars["channelId"]
	var req channelMessageRequest
	if err := decodeBody(r, s.validators.channelMessage, &req); err != nil {
		s.writeValidationError(w, err)
		return
	}
	ch, err := s.channels.LoadChannel(r.Context(), channelID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if ch.ActiveSessionID == "" {
		ch.ActiveSessionID = s.ids.NewID()
		ch.ActiveConversationID = s.ids.NewID()
		if _, err := s.sessions.StartSession(r.Context(), session.Session{
			ID:             ch.ActiveSessionID,
			ConversationID: ch.ActiveConversationID,
			TokenCapacity:  s.capacity,
		}); err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		if err := s.channels.UpsertChannel(r.Context(), ch); err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = ch.AgentID
	}
	// Channel clients may omit the turn id; one is minted so the synthesized
	// turn request still carries a dedupe key.
	turnID := req.TurnID
	if turnID == "" {
		turnID = s.ids.NewID()
	}
	s.streamTurn(w, r, turn.Request{
		TurnID:         turnID,
		SessionID:      ch.ActiveSessionID,
		ConversationID: ch.ActiveConversationID,
		AgentID:        agentID,
		Content:        req.Content,
		InputTokens:    req.InputTokens,
	}, req.Blocks)
}

// submitTurn submits a turn directly on a session and streams the turn
// events back as SSE.
func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request, vars map[string]string) {
	sessionID := vars["sessionId"]
	var req submitTurnRequest
	if err := decodeBody(r, s.validators.submitTurn, &req); err != nil {
		s.writeValidationError(w, err)
		return
	}
	sess, err := s.sessions.LoadSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	s.streamTurn(w, r, turn.Request{
		TurnID:         req.TurnID,
		SessionID:      sessionID,
		ConversationID: sess.ConversationID,
		AgentID:        req.AgentID,
		Content:        req.Content,
		InputTokens:    req.InputTokens,
	}, req.Blocks)
}

// streamTurn runs the pipeline and writes its event stream as SSE. Any
// failure past this point arrives as a turn.failed event on the stream, not
// as an HTTP error.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, req turn.Request, rawBlocks json.RawMessage) {
	if len(rawBlocks) > 0 {
		blocks, err := session.DecodeBlocks(string(rawBlocks))
		if err != nil {
			s.writeValidationError(w, err)
			return
		}
		req.Blocks = blocks
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.clk.Now()
	}
	if req.InputTokens <= 0 {
		req.InputTokens = estimateInputTokens(req.Content)
	}
	// The pipeline runs on the server base context: a disconnecting client
	// does not abort the turn, but runtime shutdown cancels the in-flight
	// model call.
	reader := s.pipeline.ProcessTurn(s.base, req)
	if s.sink != nil {
		// A second subscription replays the same recorded stream, so the
		// sink sees exactly what the SSE client sees.
		mirror := s.pipeline.ProcessTurn(s.base, req)
		go s.forwardToSink(mirror)
	}
	s.writeSSE(w, r, reader)
}

// estimateInputTokens approximates token usage when the caller does not
// supply a count: one token per four characters, minimum one.
func estimateInputTokens(content string) int64 {
	n := int64(len(content)) / 4
	if n < 1 {
		n = 1
	}
	return n
}
