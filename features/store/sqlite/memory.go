package sqlite

import (
	"context"
	"fmt"
	"time"

	"goa.design/agentd/runtime/memory"
)

// Put inserts or replaces a memory item.
func (s *Store) Put(ctx context.Context, item memory.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_items (
			id, agent_id, tier, scope, source, content, metadata_json,
			generated_by_turn_id, session_id, sensitivity, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			agent_id = excluded.agent_id,
			tier = excluded.tier,
			scope = excluded.scope,
			source = excluded.source,
			content = excluded.content,
			metadata_json = excluded.metadata_json,
			generated_by_turn_id = excluded.generated_by_turn_id,
			session_id = excluded.session_id,
			sensitivity = excluded.sensitivity,
			updated_at = excluded.updated_at`,
		item.ID, item.AgentID, string(item.Tier), string(item.Scope),
		string(item.Source), item.Content, item.MetadataJSON,
		item.GeneratedByTurnID, item.SessionID, string(item.Sensitivity),
		ms(item.CreatedAt), ms(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put memory item %s: %w", item.ID, err)
	}
	return nil
}

// Search returns one page of matches with cursor pagination.
func (s *Store) Search(ctx context.Context, q memory.SearchQuery) (memory.SearchResult, error) {
	where, args := memoryFilter(q)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_items`+where, args...).Scan(&total); err != nil {
		return memory.SearchResult{}, err
	}

	sort := q.Sort
	if sort == "" {
		sort = memory.CreatedDesc
	}
	limit := q.Limit
	if limit <= 0 {
		limit = memory.DefaultLimit
	}

	pageWhere, pageArgs := where, args
	if q.Cursor != "" {
		cur, err := memory.DecodeCursor(q.Cursor)
		if err != nil {
			return memory.SearchResult{}, err
		}
		cmp := "<"
		if sort == memory.CreatedAsc {
			cmp = ">"
		}
		clause := fmt.Sprintf("(created_at %s ? OR (created_at = ? AND id %s ?))", cmp, cmp)
		if pageWhere == "" {
			pageWhere = " WHERE " + clause
		} else {
			pageWhere += " AND " + clause
		}
		pageArgs = append(append([]any{}, pageArgs...),
			ms(cur.CreatedAt), ms(cur.CreatedAt), cur.ID)
	}
	order := " ORDER BY created_at DESC, id DESC"
	if sort == memory.CreatedAsc {
		order = " ORDER BY created_at ASC, id ASC"
	}

	// Fetch one extra row to decide whether a next page exists.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, tier, scope, source, content, metadata_json,
		       generated_by_turn_id, session_id, sensitivity, created_at, updated_at
		FROM memory_items`+pageWhere+order+` LIMIT ?`,
		append(pageArgs, limit+1)...)
	if err != nil {
		return memory.SearchResult{}, err
	}
	defer rows.Close()

	var items []memory.Item
	for rows.Next() {
		var (
			it                    memory.Item
			tier, scope, src, sen string
			createdAt, updatedAt  int64
		)
		if err := rows.Scan(&it.ID, &it.AgentID, &tier, &scope, &src,
			&it.Content, &it.MetadataJSON, &it.GeneratedByTurnID,
			&it.SessionID, &sen, &createdAt, &updatedAt); err != nil {
			return memory.SearchResult{}, err
		}
		it.Tier = memory.Tier(tier)
		it.Scope = memory.Scope(scope)
		it.Source = memory.Source(src)
		it.Sensitivity = memory.Sensitivity(sen)
		it.CreatedAt = fromMS(createdAt)
		it.UpdatedAt = fromMS(updatedAt)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return memory.SearchResult{}, err
	}

	res := memory.SearchResult{Items: items, TotalCount: total}
	if len(items) > limit {
		res.Items = items[:limit]
		last := res.Items[limit-1]
		res.Cursor = memory.EncodeCursor(memory.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return res, nil
}

// Forget deletes the agent items created strictly before cutoff.
func (s *Store) Forget(ctx context.Context, agentID string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_items WHERE agent_id = ? AND created_at < ?`,
		agentID, ms(cutoff))
	if err != nil {
		return 0, fmt.Errorf("forget agent %s items: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func memoryFilter(q memory.SearchQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.Tier != "" {
		clauses = append(clauses, "tier = ?")
		args = append(args, string(q.Tier))
	}
	if q.Scope != "" {
		clauses = append(clauses, "scope = ?")
		args = append(args, string(q.Scope))
	}
	if q.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}
