package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Wire DTOs. Every body is validated against its schema before decoding into
// the typed form, so enum and shape violations surface as 400 responses.

type (
	// createChannelRequest opens or rebinds a channel.
	createChannelRequest struct {
		Type    string `json:"type"`
		AgentID string `json:"agentId"`
	}

	// channelMessageRequest submits a user message on a channel.
	channelMessageRequest struct {
		TurnID      string          `json:"turnId"`
		AgentID     string          `json:"agentId"`
		Content     string          `json:"content"`
		Blocks      json.RawMessage `json:"blocks"`
		InputTokens int64           `json:"inputTokens"`
	}

	// submitTurnRequest submits a user turn directly on a session.
	submitTurnRequest struct {
		TurnID      string          `json:"turnId"`
		AgentID     string          `json:"agentId"`
		Content     string          `json:"content"`
		Blocks      json.RawMessage `json:"blocks"`
		InputTokens int64           `json:"inputTokens"`
	}

	validators struct {
		createChannel  *jsonschema.Schema
		channelMessage *jsonschema.Schema
		submitTurn     *jsonschema.Schema
	}
)

const createChannelSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["type", "agentId"],
	"properties": {
		"type": {"enum": ["CLI", "Web"]},
		"agentId": {"type": "string", "minLength": 1}
	}
}`

const channelMessageSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["content"],
	"properties": {
		"turnId": {"type": "string", "minLength": 1},
		"agentId": {"type": "string"},
		"content": {"type": "string"},
		"blocks": {"type": "array"},
		"inputTokens": {"type": "integer", "minimum": 0}
	}
}`

const submitTurnSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["turnId", "agentId", "content"],
	"properties": {
		"turnId": {"type": "string", "minLength": 1},
		"agentId": {"type": "string", "minLength": 1},
		"content": {"type": "string"},
		"blocks": {"type": "array"},
		"inputTokens": {"type": "integer", "minimum": 0}
	}
}`

func newValidators() (*validators, error) {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		var doc any
		if err := json.Unmarshal([]byte(src), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		return sch, nil
	}
	cc, err := compile("create_channel.json", createChannelSchema)
	if err != nil {
		return nil, err
	}
	cm, err := compile("channel_message.json", channelMessageSchema)
	if err != nil {
		return nil, err
	}
	st, err := compile("submit_turn.json", submitTurnSchema)
	if err != nil {
		return nil, err
	}
	return &validators{createChannel: cc, channelMessage: cm, submitTurn: st}, nil
}

// decodeBody reads, schema-validates and decodes a request body into out.
func decodeBody(r *http.Request, sch *jsonschema.Schema, out any) error {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
