package session

import (
	"encoding/json"
	"fmt"
)

type (
	// BlockKind tags a content block variant.
	BlockKind string

	// Block is one element of a turn's ordered content. Concrete types are
	// TextBlock, ToolUseBlock, ToolResultBlock and ImageBlock.
	Block interface {
		// Kind returns the variant tag.
		Kind() BlockKind
	}

	// TextBlock carries plain text.
	TextBlock struct {
		Text string `json:"text"`
	}

	// ToolUseBlock records a tool invocation requested by the model.
	ToolUseBlock struct {
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		InputJSON  json.RawMessage `json:"inputJson"`
	}

	// ToolResultBlock records the outcome of a tool invocation.
	ToolResultBlock struct {
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		OutputJSON json.RawMessage `json:"outputJson"`
		IsError    bool            `json:"isError"`
	}

	// ImageBlock carries an image part folded into an assistant turn.
	ImageBlock struct {
		MediaType string `json:"mediaType"`
		Source    string `json:"source"`
		AltText   string `json:"altText,omitempty"`
	}

	// blockEnvelope is the persisted form of a block.
	blockEnvelope struct {
		Kind BlockKind       `json:"kind"`
		Body json.RawMessage `json:"body"`
	}
)

const (
	// KindText tags TextBlock.
	KindText BlockKind = "text"
	// KindToolUse tags ToolUseBlock.
	KindToolUse BlockKind = "tool_use"
	// KindToolResult tags ToolResultBlock.
	KindToolResult BlockKind = "tool_result"
	// KindImage tags ImageBlock.
	KindImage BlockKind = "image"
)

// Kind implements Block.
func (TextBlock) Kind() BlockKind { return KindText }

// Kind implements Block.
func (ToolUseBlock) Kind() BlockKind { return KindToolUse }

// Kind implements Block.
func (ToolResultBlock) Kind() BlockKind { return KindToolResult }

// Kind implements Block.
func (ImageBlock) Kind() BlockKind { return KindImage }

// EncodeBlocks serializes blocks into the persisted JSON form. A nil slice
// encodes as "[]" so stored turns never carry SQL NULL content.
func EncodeBlocks(blocks []Block) (string, error) {
	envs := make([]blockEnvelope, 0, len(blocks))
	for _, b := range blocks {
		body, err := json.Marshal(b)
		if err != nil {
			return "", fmt.Errorf("encode %s block: %w", b.Kind(), err)
		}
		envs = append(envs, blockEnvelope{Kind: b.Kind(), Body: body})
	}
	raw, err := json.Marshal(envs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeBlocks parses the persisted JSON form produced by EncodeBlocks.
// Unknown kinds are rejected.
func DecodeBlocks(raw string) ([]Block, error) {
	if raw == "" {
		return nil, nil
	}
	var envs []blockEnvelope
	if err := json.Unmarshal([]byte(raw), &envs); err != nil {
		return nil, err
	}
	blocks := make([]Block, 0, len(envs))
	for _, env := range envs {
		var (
			b   Block
			err error
		)
		switch env.Kind {
		case KindText:
			var v TextBlock
			err = json.Unmarshal(env.Body, &v)
			b = v
		case KindToolUse:
			var v ToolUseBlock
			err = json.Unmarshal(env.Body, &v)
			b = v
		case KindToolResult:
			var v ToolResultBlock
			err = json.Unmarshal(env.Body, &v)
			b = v
		case KindImage:
			var v ImageBlock
			err = json.Unmarshal(env.Body, &v)
			b = v
		default:
			return nil, fmt.Errorf("unknown content block kind %q", env.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s block: %w", env.Kind, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
