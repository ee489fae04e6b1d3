package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"goa.design/agentd/runtime/governance"
)

// AppendAudit appends an audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry governance.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, auditInsert,
		entry.ID, entry.AgentID, entry.SessionID, string(entry.Decision),
		entry.Reason, ms(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit %s: %w", entry.ID, err)
	}
	return nil
}

// ListAudits returns the entries for agentID ordered by CreatedAt. An empty
// agentID returns all entries.
func (s *Store) ListAudits(ctx context.Context, agentID string) ([]governance.AuditEntry, error) {
	q := `SELECT id, agent_id, session_id, decision, reason, created_at
	      FROM audit_entries`
	args := []any{}
	if agentID != "" {
		q += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []governance.AuditEntry
	for rows.Next() {
		var (
			e         governance.AuditEntry
			decision  string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.SessionID, &decision,
			&e.Reason, &createdAt); err != nil {
			return nil, err
		}
		e.Decision = governance.Decision(decision)
		e.CreatedAt = fromMS(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

const auditInsert = `
	INSERT INTO audit_entries (id, agent_id, session_id, decision, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

func appendAuditTx(ctx context.Context, tx *sql.Tx, entry governance.AuditEntry) error {
	_, err := tx.ExecContext(ctx, auditInsert,
		entry.ID, entry.AgentID, entry.SessionID, string(entry.Decision),
		entry.Reason, ms(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit %s: %w", entry.ID, err)
	}
	return nil
}
