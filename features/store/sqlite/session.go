package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"goa.design/agentd/runtime/session"
)

// StartSession creates the session. Starting an existing session returns the
// stored state unchanged.
func (s *Store) StartSession(ctx context.Context, sess session.Session) (session.Session, error) {
	var out session.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, conversation_id, token_capacity, tokens_used)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			sess.ID, sess.ConversationID, sess.TokenCapacity, sess.TokensUsed)
		if err != nil {
			return fmt.Errorf("start session %s: %w", sess.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			out = sess
			return nil
		}
		out, err = loadSessionTx(ctx, tx, sess.ID)
		return err
	})
	return out, err
}

// LoadSession loads a session by ID.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (session.Session, error) {
	var out session.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, token_capacity, tokens_used
		FROM sessions WHERE id = ?`, sessionID).
		Scan(&out.ID, &out.ConversationID, &out.TokenCapacity, &out.TokensUsed)
	if isNoRows(err) {
		return session.Session{}, &session.NotFoundError{SessionID: sessionID}
	}
	return out, err
}

// UpdateContextWindow adjusts TokensUsed by delta. The check and the write
// run in one transaction so the window invariant holds across callers.
func (s *Store) UpdateContextWindow(ctx context.Context, sessionID string, delta int64) (session.Session, error) {
	var out session.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := loadSessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		next := cur.TokensUsed + delta
		if next < 0 {
			next = 0
		}
		if next > cur.TokenCapacity {
			return &session.ContextWindowExceededError{
				SessionID:           sessionID,
				TokenCapacity:       cur.TokenCapacity,
				AttemptedTokensUsed: next,
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET tokens_used = ? WHERE id = ?`, next, sessionID); err != nil {
			return err
		}
		cur.TokensUsed = next
		out = cur
		return nil
	})
	return out, err
}

// AppendTurn appends a turn at the current session length. A duplicate turn
// ID is a no-op returning the stored turn.
func (s *Store) AppendTurn(ctx context.Context, t session.Turn) (session.Turn, error) {
	var out session.Turn
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadSessionTx(ctx, tx, t.SessionID); err != nil {
			return err
		}
		stored, err := loadTurnTx(ctx, tx, t.ID)
		if err == nil {
			out = stored
			return nil
		}
		if !isNoRows(err) {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM turns WHERE session_id = ?`, t.SessionID).
			Scan(&count); err != nil {
			return err
		}
		t.TurnIndex = count
		blocks, err := session.EncodeBlocks(t.Blocks)
		if err != nil {
			return fmt.Errorf("encode turn %s blocks: %w", t.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO turns (
				id, session_id, conversation_id, turn_index, role, message_id,
				content, blocks_json, finish_reason, usage_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.SessionID, t.ConversationID, t.TurnIndex, string(t.Role),
			t.MessageID, t.Content, blocks, t.FinishReason, t.UsageJSON,
			ms(t.CreatedAt))
		if err != nil {
			return fmt.Errorf("append turn %s: %w", t.ID, err)
		}
		out = t
		return nil
	})
	return out, err
}

// ListTurns returns the session turns ordered by TurnIndex.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]session.Turn, error) {
	rows, err := s.db.QueryContext(ctx, turnColumns+
		` FROM turns WHERE session_id = ? ORDER BY turn_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func loadSessionTx(ctx context.Context, tx *sql.Tx, sessionID string) (session.Session, error) {
	var out session.Session
	err := tx.QueryRowContext(ctx, `
		SELECT id, conversation_id, token_capacity, tokens_used
		FROM sessions WHERE id = ?`, sessionID).
		Scan(&out.ID, &out.ConversationID, &out.TokenCapacity, &out.TokensUsed)
	if isNoRows(err) {
		return session.Session{}, &session.NotFoundError{SessionID: sessionID}
	}
	return out, err
}

const turnColumns = `
	SELECT id, session_id, conversation_id, turn_index, role, message_id,
	       content, blocks_json, finish_reason, usage_json, created_at`

func loadTurnTx(ctx context.Context, tx *sql.Tx, turnID string) (session.Turn, error) {
	row := tx.QueryRowContext(ctx, turnColumns+` FROM turns WHERE id = ?`, turnID)
	return scanTurn(row)
}

func scanTurn(row rowScanner) (session.Turn, error) {
	var (
		t         session.Turn
		role      string
		blocks    string
		createdAt int64
	)
	err := row.Scan(&t.ID, &t.SessionID, &t.ConversationID, &t.TurnIndex,
		&role, &t.MessageID, &t.Content, &blocks, &t.FinishReason,
		&t.UsageJSON, &createdAt)
	if err != nil {
		return session.Turn{}, err
	}
	t.Role = session.Role(role)
	t.CreatedAt = fromMS(createdAt)
	if t.Blocks, err = session.DecodeBlocks(blocks); err != nil {
		return session.Turn{}, fmt.Errorf("decode turn %s blocks: %w", t.ID, err)
	}
	return t, nil
}
