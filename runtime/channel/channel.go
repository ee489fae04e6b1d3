// Package channel defines long-lived conversational surfaces. A channel
// binds a transport (CLI, web) to an agent and to the session that currently
// accumulates its turns.
package channel

import (
	"context"
	"errors"
	"time"
)

type (
	// Type identifies the transport behind a channel.
	Type string

	// Channel is a durable conversational surface.
	Channel struct {
		// ID is the durable channel identifier.
		ID string
		// Type is the transport kind.
		Type Type
		// AgentID is the agent bound to this channel.
		AgentID string
		// ActiveSessionID is the session currently accumulating turns.
		ActiveSessionID string
		// ActiveConversationID is the conversation of the active session.
		ActiveConversationID string
		// CreatedAt records when the channel was first created.
		CreatedAt time.Time
	}

	// Store persists channels.
	Store interface {
		// UpsertChannel inserts or replaces a channel.
		UpsertChannel(ctx context.Context, c Channel) error
		// LoadChannel loads a channel. Returns ErrChannelNotFound when
		// missing.
		LoadChannel(ctx context.Context, channelID string) (Channel, error)
	}
)

const (
	// TypeCLI is a terminal chat surface.
	TypeCLI Type = "CLI"
	// TypeWeb is a browser surface.
	TypeWeb Type = "Web"
)

// ErrChannelNotFound reports a lookup for an unknown channel.
var ErrChannelNotFound = errors.New("channel not found")

// ValidType reports whether t is a known channel type.
func ValidType(t Type) bool { return t == TypeCLI || t == TypeWeb }
