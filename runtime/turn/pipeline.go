package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"goa.design/agentd/runtime/account"
	"goa.design/agentd/runtime/clock"
	"goa.design/agentd/runtime/entity"
	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/ident"
	"goa.design/agentd/runtime/model"
	"goa.design/agentd/runtime/registry"
	"goa.design/agentd/runtime/session"
	"goa.design/agentd/runtime/telemetry"
)

type (
	// Request is the submitted user turn.
	Request struct {
		// TurnID is the unique turn identifier and pipeline dedupe key.
		TurnID string
		// SessionID is the target session.
		SessionID string
		// ConversationID mirrors the session conversation.
		ConversationID string
		// AgentID is the responding agent.
		AgentID string
		// Content is the user message text.
		Content string
		// Blocks is the optional structured content.
		Blocks []session.Block
		// CreatedAt is the submission instant.
		CreatedAt time.Time
		// InputTokens is the caller-estimated input size.
		InputTokens int64
	}

	// Binding is the model configuration of one agent.
	Binding struct {
		Provider     string
		ModelID      string
		SystemPrompt string
		Temperature  float32
		TopP         float32
		MaxTokens    int
		Seed         *int64
	}

	// Options configures the pipeline.
	Options struct {
		// Sessions persists sessions and turns. Required.
		Sessions session.Store
		// Agents performs budget accounting. Required.
		Agents account.Store
		// Registry resolves model clients. Required.
		Registry *registry.Registry
		// Bind maps an agent to its model binding. Required.
		Bind func(agentID string) (Binding, error)
		// Quota guards per-tool daily quotas when set.
		Quota *governance.QuotaKeeper
		// Clock stamps turns and drives budget rotation. Required.
		Clock clock.Clock
		// IDs mints message identifiers. Required.
		IDs ident.Source
		// Log receives pipeline diagnostics. Defaults to a nop logger.
		Log telemetry.Logger
		// Metrics records turn outcomes when set.
		Metrics *telemetry.Metrics
	}

	// Pipeline turns submitted requests into turn event streams. One
	// pipeline task runs per in-flight turn; concurrent submissions with
	// one TurnID share a single task and stream, and operations on one
	// session are strictly serialized.
	Pipeline struct {
		sessions session.Store
		agents   account.Store
		reg      *registry.Registry
		bind     func(string) (Binding, error)
		quota    *governance.QuotaKeeper
		clk      clock.Clock
		ids      ident.Source
		log      telemetry.Logger
		metrics  *telemetry.Metrics

		turns      entity.Group[*Stream]
		perSession entity.Serial
	}

	// ProcessingError wraps pipeline-internal failures that carry no more
	// specific tag.
	ProcessingError struct {
		TurnID string
		Reason string
	}
)

// Error implements error.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("turn %s: %s", e.TurnID, e.Reason)
}

// ErrorCode returns the wire error tag.
func (e *ProcessingError) ErrorCode() string { return "TurnProcessingError" }

// NewPipeline builds a Pipeline from opts.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Agents == nil {
		return nil, errors.New("agent store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("model registry is required")
	}
	if opts.Bind == nil {
		return nil, errors.New("bind function is required")
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
	return &Pipeline{
		sessions: opts.Sessions,
		agents:   opts.Agents,
		reg:      opts.Registry,
		bind:     opts.Bind,
		quota:    opts.Quota,
		clk:      opts.Clock,
		ids:      opts.IDs,
		log:      log,
		metrics:  opts.Metrics,
	}, nil
}

// ProcessTurn submits req and returns a reader over the turn event stream.
// Submitting the same TurnID again (concurrently or later) returns a reader
// over the same recorded stream without running a second pipeline.
func (p *Pipeline) ProcessTurn(ctx context.Context, req Request) *Reader {
	st := p.turns.Do(req.TurnID, func() *Stream {
		st := newStream()
		go p.run(ctx, req, st)
		return st
	})
	return st.Subscribe()
}

func (p *Pipeline) run(ctx context.Context, req Request, st *Stream) {
	started := p.clk.Now()
	if err := p.admit(ctx, req); err != nil {
		p.fail(ctx, st, req, err, started)
		return
	}
	st.emit(Event{Type: EventTurnStarted, TurnID: req.TurnID, SessionID: req.SessionID})

	finishReason, err := p.converse(ctx, req, st)
	if err != nil {
		p.fail(ctx, st, req, err, started)
		return
	}
	st.emit(Event{Type: EventTurnCompleted, TurnID: req.TurnID, FinishReason: finishReason})
	st.close()
	p.metrics.RecordTurn(ctx, "completed", p.clk.Now().Sub(started))
}

// admit runs the pre-stream gates: session lookup, context window, token
// budget and the user turn append. Serialized per session.
func (p *Pipeline) admit(ctx context.Context, req Request) error {
	var err error
	p.perSession.Do(req.SessionID, func() {
		if _, err = p.sessions.LoadSession(ctx, req.SessionID); err != nil {
			return
		}
		if _, err = p.sessions.UpdateContextWindow(ctx, req.SessionID, req.InputTokens); err != nil {
			return
		}
		// Budget is reserved here and never refunded, even when the model
		// call is cancelled mid-stream.
		if _, err = p.agents.ConsumeTokenBudget(ctx, req.AgentID, req.InputTokens, p.clk.Now()); err != nil {
			return
		}
		_, err = p.sessions.AppendTurn(ctx, session.Turn{
			ID:             req.TurnID,
			SessionID:      req.SessionID,
			ConversationID: req.ConversationID,
			Role:           session.RoleUser,
			MessageID:      p.ids.NewID(),
			Content:        req.Content,
			Blocks:         req.Blocks,
			CreatedAt:      req.CreatedAt,
		})
	})
	return err
}

// converse invokes the model, fans chunks into events and appends the
// assistant turn. Returns the model finish reason.
func (p *Pipeline) converse(ctx context.Context, req Request, st *Stream) (string, error) {
	binding, err := p.bind(req.AgentID)
	if err != nil {
		return "", err
	}
	client, err := p.reg.Resolve(binding.Provider, binding.ModelID)
	if err != nil {
		return "", err
	}
	history, err := p.sessions.ListTurns(ctx, req.SessionID)
	if err != nil {
		return "", err
	}
	mreq := model.Request{
		Model:       binding.ModelID,
		System:      binding.SystemPrompt,
		Messages:    historyMessages(history),
		Temperature: binding.Temperature,
		TopP:        binding.TopP,
		MaxTokens:   binding.MaxTokens,
		Seed:        binding.Seed,
	}
	streamer, err := client.Stream(ctx, mreq)
	if errors.Is(err, model.ErrStreamingUnsupported) {
		streamer = completeAsStream(ctx, client, mreq)
		err = nil
	}
	if err != nil {
		return "", err
	}
	defer func() { _ = streamer.Close() }()

	var (
		text   strings.Builder
		blocks []session.Block
		usage  model.Usage
		finish string
	)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		chunk, err := streamer.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch chunk.Type {
		case model.ChunkText:
			text.WriteString(chunk.TextDelta)
			st.emit(Event{Type: EventAssistantDelta, TurnID: req.TurnID, Delta: chunk.TextDelta})
		case model.ChunkToolCall:
			call := chunk.ToolCall
			if err := p.checkQuota(req.AgentID, call.Name); err != nil {
				st.emit(toolErrorEvent(req.TurnID, call, err))
				blocks = append(blocks, toolErrorBlock(call, err))
				continue
			}
			st.emit(Event{
				Type:       EventToolCall,
				TurnID:     req.TurnID,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				InputJSON:  call.InputJSON,
			})
			blocks = append(blocks, session.ToolUseBlock{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				InputJSON:  call.InputJSON,
			})
		case model.ChunkToolResult:
			res := chunk.ToolResult
			st.emit(Event{
				Type:       EventToolResult,
				TurnID:     req.TurnID,
				ToolCallID: res.ID,
				ToolName:   res.Name,
				OutputJSON: res.OutputJSON,
				IsError:    res.IsError,
			})
			blocks = append(blocks, session.ToolResultBlock{
				ToolCallID: res.ID,
				ToolName:   res.Name,
				OutputJSON: res.OutputJSON,
				IsError:    res.IsError,
			})
		case model.ChunkMedia:
			// Only image parts fold into the assistant turn.
			if strings.HasPrefix(chunk.Media.MediaType, "image/") {
				blocks = append(blocks, session.ImageBlock{
					MediaType: chunk.Media.MediaType,
					Source:    chunk.Media.Source,
					AltText:   chunk.Media.AltText,
				})
			}
		case model.ChunkUsage:
			usage = *chunk.Usage
		case model.ChunkStop:
			finish = chunk.FinishReason
		}
	}

	assistant := session.Turn{
		ID:             p.ids.NewID(),
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		Role:           session.RoleAssistant,
		MessageID:      p.ids.NewID(),
		Content:        text.String(),
		Blocks:         assembleBlocks(text.String(), blocks),
		FinishReason:   finish,
		CreatedAt:      p.clk.Now(),
	}
	if raw, err := json.Marshal(usage); err == nil {
		assistant.UsageJSON = string(raw)
	}
	p.perSession.Do(req.SessionID, func() {
		if _, err = p.sessions.AppendTurn(ctx, assistant); err != nil {
			return
		}
		if usage.OutputTokens > 0 {
			_, err = p.sessions.UpdateContextWindow(ctx, req.SessionID, int64(usage.OutputTokens))
		}
	})
	if err != nil {
		return "", err
	}
	return finish, nil
}

func (p *Pipeline) checkQuota(agentID, toolName string) error {
	if p.quota == nil {
		return nil
	}
	return p.quota.CheckToolQuota(agentID, toolName, p.clk.Now())
}

// fail terminates the stream with a turn.failed event carrying the error
// tag of err.
func (p *Pipeline) fail(ctx context.Context, st *Stream, req Request, err error, started time.Time) {
	code := "TurnProcessingError"
	var coder interface{ ErrorCode() string }
	if errors.As(err, &coder) {
		code = coder.ErrorCode()
	}
	p.log.Warn(ctx, "turn failed", "turn_id", req.TurnID, "error_code", code, "err", err)
	st.fail(Event{
		Type:      EventTurnFailed,
		TurnID:    req.TurnID,
		SessionID: req.SessionID,
		ErrorCode: code,
		Message:   err.Error(),
	}, err)
	p.metrics.RecordTurn(ctx, "failed", p.clk.Now().Sub(started))
}

func historyMessages(turns []session.Turn) []model.Message {
	msgs := make([]model.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, model.Message{Role: roleName(t.Role), Content: t.Content})
	}
	return msgs
}

func roleName(r session.Role) string {
	switch r {
	case session.RoleAssistant:
		return "assistant"
	case session.RoleSystem:
		return "system"
	case session.RoleTool:
		return "tool"
	default:
		return "user"
	}
}

// assembleBlocks builds the assistant turn content: concatenated text first
// (when any), then the non-delta parts in arrival order.
func assembleBlocks(text string, rest []session.Block) []session.Block {
	var blocks []session.Block
	if text != "" {
		blocks = append(blocks, session.TextBlock{Text: text})
	}
	return append(blocks, rest...)
}

// completeAsStream degrades a non-streaming client to the streamer contract:
// the full completion replays as one text chunk followed by usage and stop.
func completeAsStream(ctx context.Context, client model.Client, req model.Request) model.Streamer {
	return &completionStreamer{ctx: ctx, client: client, req: req}
}

type completionStreamer struct {
	ctx    context.Context
	client model.Client
	req    model.Request

	chunks []model.Chunk
	pos    int
	ran    bool
}

func (s *completionStreamer) Recv() (model.Chunk, error) {
	if !s.ran {
		s.ran = true
		resp, err := s.client.Complete(s.ctx, s.req)
		if err != nil {
			return model.Chunk{}, err
		}
		if resp.Text != "" {
			s.chunks = append(s.chunks, model.Chunk{Type: model.ChunkText, TextDelta: resp.Text})
		}
		usage := resp.Usage
		s.chunks = append(s.chunks,
			model.Chunk{Type: model.ChunkUsage, Usage: &usage},
			model.Chunk{Type: model.ChunkStop, FinishReason: resp.FinishReason})
	}
	if s.pos >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *completionStreamer) Close() error { return nil }

func toolErrorEvent(turnID string, call *model.ToolCall, err error) Event {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Event{
		Type:       EventToolResult,
		TurnID:     turnID,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		OutputJSON: payload,
		IsError:    true,
	}
}

func toolErrorBlock(call *model.ToolCall, err error) session.Block {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return session.ToolResultBlock{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		OutputJSON: payload,
		IsError:    true,
	}
}
