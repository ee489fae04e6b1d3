package sqlite

import (
	"context"
	"fmt"

	"goa.design/agentd/runtime/channel"
)

// UpsertChannel inserts or replaces a channel.
func (s *Store) UpsertChannel(ctx context.Context, c channel.Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (
			id, type, agent_id, active_session_id, active_conversation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			agent_id = excluded.agent_id,
			active_session_id = excluded.active_session_id,
			active_conversation_id = excluded.active_conversation_id`,
		c.ID, string(c.Type), c.AgentID, c.ActiveSessionID,
		c.ActiveConversationID, ms(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert channel %s: %w", c.ID, err)
	}
	return nil
}

// LoadChannel loads a channel by ID.
func (s *Store) LoadChannel(ctx context.Context, channelID string) (channel.Channel, error) {
	var (
		c         channel.Channel
		typ       string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, agent_id, active_session_id, active_conversation_id, created_at
		FROM channels WHERE id = ?`, channelID).
		Scan(&c.ID, &typ, &c.AgentID, &c.ActiveSessionID,
			&c.ActiveConversationID, &createdAt)
	if isNoRows(err) {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	if err != nil {
		return channel.Channel{}, err
	}
	c.Type = channel.Type(typ)
	c.CreatedAt = fromMS(createdAt)
	return c, nil
}
