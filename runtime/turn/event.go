// Package turn implements the turn processing pipeline: it accepts a
// submitted user turn, enforces the context-window and token-budget gates,
// streams the model response and folds the result back into the session as
// an ordered TurnStreamEvent sequence.
package turn

import "encoding/json"

type (
	// EventType tags a turn stream event.
	EventType string

	// Event is one element of the per-turn stream. Sequence numbers are
	// strictly increasing and dense per turn, starting at zero; a terminal
	// failure carries MaxSafeSequence so it sorts after everything else.
	Event struct {
		// Type is the event kind.
		Type EventType `json:"type"`
		// Sequence is the per-turn ordinal.
		Sequence uint64 `json:"sequence"`
		// TurnID is the turn this event belongs to.
		TurnID string `json:"turnId"`
		// SessionID is set on turn.started and turn.failed.
		SessionID string `json:"sessionId,omitempty"`
		// Delta is the text fragment of assistant.delta events.
		Delta string `json:"delta,omitempty"`
		// ToolCallID identifies the call for tool.call/tool.result events.
		ToolCallID string `json:"toolCallId,omitempty"`
		// ToolName names the tool for tool.call/tool.result events.
		ToolName string `json:"toolName,omitempty"`
		// InputJSON carries tool.call arguments.
		InputJSON json.RawMessage `json:"inputJson,omitempty"`
		// OutputJSON carries tool.result output.
		OutputJSON json.RawMessage `json:"outputJson,omitempty"`
		// IsError marks failed tool results.
		IsError bool `json:"isError,omitempty"`
		// FinishReason is set on turn.completed.
		FinishReason string `json:"finishReason,omitempty"`
		// ErrorCode is set on turn.failed.
		ErrorCode string `json:"errorCode,omitempty"`
		// Message is set on turn.failed.
		Message string `json:"message,omitempty"`
	}
)

const (
	// EventTurnStarted opens every stream, always with sequence zero.
	EventTurnStarted EventType = "turn.started"
	// EventAssistantDelta carries incremental assistant text.
	EventAssistantDelta EventType = "assistant.delta"
	// EventToolCall surfaces a model tool invocation.
	EventToolCall EventType = "tool.call"
	// EventToolResult surfaces a tool outcome.
	EventToolResult EventType = "tool.result"
	// EventTurnCompleted terminates a successful stream.
	EventTurnCompleted EventType = "turn.completed"
	// EventTurnFailed terminates a failed stream.
	EventTurnFailed EventType = "turn.failed"
)

// MaxSafeSequence is the sequence carried by terminal failures. It is the
// largest integer JavaScript SSE consumers can represent exactly.
const MaxSafeSequence uint64 = 1<<53 - 1
