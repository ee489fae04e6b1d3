// Package model provides the provider-agnostic language-model contract the
// turn pipeline consumes. Implementations translate these normalized types
// into provider-specific calls (Anthropic, OpenAI, OpenRouter) so the
// pipeline never couples to an SDK.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Client is the contract the pipeline uses to invoke a model.
	// Implementations must be thread-safe and reusable across turns.
	Client interface {
		// Complete sends a completion request and returns the full
		// response.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream sends a completion request and returns a Streamer that
		// yields incremental chunks. The returned Streamer must be closed
		// by callers. Providers that cannot stream return
		// ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive Recv calls
	// return chunks until io.EOF. Safe to call from a single goroutine;
	// Close releases underlying resources and is idempotent.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
	}

	// Request captures the normalized parameters of one model invocation.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string
		// System is the system prompt, when any.
		System string
		// Messages is the ordered chat history.
		Messages []Message
		// Temperature controls sampling; zero means provider default.
		Temperature float32
		// TopP controls nucleus sampling; zero means provider default.
		TopP float32
		// MaxTokens caps completion length; zero means provider default.
		MaxTokens int
		// Seed pins sampling for providers that support it.
		Seed *int64
	}

	// Message is one chat history entry.
	Message struct {
		// Role is "user", "assistant", "system" or "tool".
		Role string
		// Content is the message text.
		Content string
	}

	// Response is a full (non-streaming) completion.
	Response struct {
		// Text is the assistant output.
		Text string
		// FinishReason explains why generation stopped.
		FinishReason string
		// Usage reports token counts when the provider provides them.
		Usage Usage
	}

	// ChunkType tags a streaming chunk variant.
	ChunkType string

	// Chunk is one streaming event. Type indicates which field is set.
	Chunk struct {
		// Type is the chunk kind.
		Type ChunkType
		// TextDelta is the text fragment for text chunks.
		TextDelta string
		// ToolCall is set for tool_call chunks.
		ToolCall *ToolCall
		// ToolResult is set for tool_result chunks.
		ToolResult *ToolResult
		// Media is set for media chunks.
		Media *Media
		// Usage is set for usage chunks.
		Usage *Usage
		// FinishReason is set for stop chunks.
		FinishReason string
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID        string
		Name      string
		InputJSON json.RawMessage
	}

	// ToolResult is a tool outcome surfaced by the provider stream.
	ToolResult struct {
		ID         string
		Name       string
		OutputJSON json.RawMessage
		IsError    bool
	}

	// Media is a non-text part. Only image/* media types are folded into
	// assistant turns; the pipeline ignores the rest.
	Media struct {
		MediaType string
		Source    string
		AltText   string
	}

	// Usage reports token counts for one invocation.
	Usage struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
		TotalTokens  int `json:"totalTokens"`
	}
)

const (
	// ChunkText carries a text delta.
	ChunkText ChunkType = "text"
	// ChunkToolCall carries a tool invocation request.
	ChunkToolCall ChunkType = "tool_call"
	// ChunkToolResult carries a tool outcome.
	ChunkToolResult ChunkType = "tool_result"
	// ChunkMedia carries a non-text part.
	ChunkMedia ChunkType = "media"
	// ChunkUsage carries a usage report.
	ChunkUsage ChunkType = "usage"
	// ChunkStop terminates generation with a finish reason.
	ChunkStop ChunkType = "stop"
)

// ErrStreamingUnsupported indicates the provider does not implement
// streaming for the requested model.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited tags provider errors caused by rate limiting. Adapters wrap
// 429-class failures with this sentinel so middlewares can back off.
var ErrRateLimited = errors.New("model: rate limited")
