// Package session defines the conversational containers of the runtime: a
// Session is a bounded context window over one conversation, and a Turn is a
// single participant utterance appended to it.
//
// Sessions are created once by StartSession and mutated only through
// UpdateContextWindow and AppendTurn so every backend can enforce the context
// window invariant in one place.
package session

import (
	"context"
	"fmt"
	"time"
)

type (
	// Session is a bounded context window over one conversation.
	//
	// Invariant: 0 <= TokensUsed <= TokenCapacity.
	Session struct {
		// ID is the durable session identifier.
		ID string
		// ConversationID groups sessions that belong to one conversation.
		ConversationID string
		// TokenCapacity is the context window size in tokens.
		TokenCapacity int64
		// TokensUsed is the number of tokens currently occupying the window.
		TokensUsed int64
	}

	// Role identifies the participant that produced a turn.
	Role string

	// Turn is a single participant utterance.
	//
	// Invariants: (SessionID, TurnIndex) and (SessionID, ID) are unique;
	// TurnIndex is dense and monotonic per session, assigned at append time.
	Turn struct {
		// ID is the unique turn identifier and the pipeline dedupe key.
		ID string
		// SessionID is the owning session.
		SessionID string
		// ConversationID mirrors the session conversation.
		ConversationID string
		// TurnIndex is the dense position of the turn in its session.
		TurnIndex int
		// Role is the participant role.
		Role Role
		// MessageID identifies the message this turn carries.
		MessageID string
		// Content is the plain-text rendering of the turn.
		Content string
		// Blocks is the ordered content block list.
		Blocks []Block
		// FinishReason records why the model stopped, for assistant turns.
		FinishReason string
		// UsageJSON carries the provider usage report as raw JSON, for
		// assistant turns.
		UsageJSON string
		// CreatedAt is the append instant (UTC, millisecond precision).
		CreatedAt time.Time
	}

	// Store persists sessions and their turns.
	Store interface {
		// StartSession creates the session. Idempotent: starting an
		// existing session returns the stored state unchanged.
		StartSession(ctx context.Context, s Session) (Session, error)
		// LoadSession loads a session. Returns a *NotFoundError when the
		// session does not exist.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// UpdateContextWindow adjusts TokensUsed by delta, clamping at zero
		// on negative deltas. Returns a *ContextWindowExceededError when the
		// new usage would exceed TokenCapacity; the session is unchanged in
		// that case.
		UpdateContextWindow(ctx context.Context, sessionID string, delta int64) (Session, error)
		// AppendTurn appends a turn, assigning TurnIndex as the current
		// session length. Appending a duplicate turn ID is a no-op that
		// returns the stored turn.
		AppendTurn(ctx context.Context, t Turn) (Turn, error)
		// ListTurns returns the session turns ordered by TurnIndex.
		ListTurns(ctx context.Context, sessionID string) ([]Turn, error)
	}

	// NotFoundError reports an operation against an unknown session.
	NotFoundError struct {
		SessionID string
	}

	// ContextWindowExceededError reports a context window update that would
	// overflow the session capacity.
	ContextWindowExceededError struct {
		SessionID           string
		TokenCapacity       int64
		AttemptedTokensUsed int64
	}
)

const (
	// RoleUser marks end-user input.
	RoleUser Role = "User"
	// RoleAssistant marks model output.
	RoleAssistant Role = "Assistant"
	// RoleSystem marks runtime-injected instructions.
	RoleSystem Role = "System"
	// RoleTool marks tool results surfaced as turns.
	RoleTool Role = "Tool"
)

// ValidRole reports whether r is a known participant role.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Error implements error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// ErrorCode returns the wire error tag.
func (e *NotFoundError) ErrorCode() string { return "SessionNotFound" }

// Error implements error.
func (e *ContextWindowExceededError) Error() string {
	return fmt.Sprintf("session %s: context window exceeded: attempted %d tokens of %d capacity",
		e.SessionID, e.AttemptedTokensUsed, e.TokenCapacity)
}

// ErrorCode returns the wire error tag.
func (e *ContextWindowExceededError) ErrorCode() string { return "ContextWindowExceeded" }
