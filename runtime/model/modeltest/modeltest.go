// Package modeltest provides a scripted model.Client for tests.
package modeltest

import (
	"context"
	"io"
	"strings"
	"sync"

	"goa.design/agentd/runtime/model"
)

type (
	// Client replays a fixed chunk script on every Stream call and renders
	// the concatenated text on Complete. Safe for concurrent use.
	Client struct {
		mu sync.Mutex
		// Script is the chunk sequence replayed by Stream.
		Script []model.Chunk
		// Err, when set, is returned by Stream and Complete immediately.
		Err error
		// Requests records every request received.
		Requests []model.Request
	}

	streamer struct {
		chunks []model.Chunk
		pos    int
	}
)

// New returns a Client replaying script.
func New(script ...model.Chunk) *Client {
	return &Client{Script: script}
}

// Complete implements model.Client.
func (c *Client) Complete(_ context.Context, req model.Request) (model.Response, error) {
	c.record(req)
	if c.Err != nil {
		return model.Response{}, c.Err
	}
	var (
		text   strings.Builder
		finish string
		usage  model.Usage
	)
	for _, chunk := range c.Script {
		switch chunk.Type {
		case model.ChunkText:
			text.WriteString(chunk.TextDelta)
		case model.ChunkUsage:
			usage = *chunk.Usage
		case model.ChunkStop:
			finish = chunk.FinishReason
		}
	}
	return model.Response{Text: text.String(), FinishReason: finish, Usage: usage}, nil
}

// Stream implements model.Client.
func (c *Client) Stream(_ context.Context, req model.Request) (model.Streamer, error) {
	c.record(req)
	if c.Err != nil {
		return nil, c.Err
	}
	chunks := make([]model.Chunk, len(c.Script))
	copy(chunks, c.Script)
	return &streamer{chunks: chunks}, nil
}

func (c *Client) record(req model.Request) {
	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	c.mu.Unlock()
}

// Recv implements model.Streamer.
func (s *streamer) Recv() (model.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

// Close implements model.Streamer.
func (s *streamer) Close() error { return nil }
