package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"goa.design/agentd/runtime/account"
)

// PutAgent inserts or replaces an agent.
func (s *Store) PutAgent(ctx context.Context, a account.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, permission_mode, token_budget, quota_period,
			tokens_consumed, budget_reset_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			permission_mode = excluded.permission_mode,
			token_budget = excluded.token_budget,
			quota_period = excluded.quota_period,
			tokens_consumed = excluded.tokens_consumed,
			budget_reset_at = excluded.budget_reset_at`,
		a.ID, string(a.PermissionMode), a.TokenBudget, string(a.QuotaPeriod),
		a.TokensConsumed, msPtr(a.BudgetResetAt))
	if err != nil {
		return fmt.Errorf("put agent %s: %w", a.ID, err)
	}
	return nil
}

// LoadAgent loads an agent by ID.
func (s *Store) LoadAgent(ctx context.Context, agentID string) (account.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, permission_mode, token_budget, quota_period,
		       tokens_consumed, budget_reset_at
		FROM agents WHERE id = ?`, agentID)
	a, err := scanAgent(row)
	if isNoRows(err) {
		return account.Agent{}, account.ErrAgentNotFound
	}
	return a, err
}

// ConsumeTokenBudget reserves tokens against the agent budget, rotating the
// period first when BudgetResetAt has passed. Check and write run in one
// transaction.
func (s *Store) ConsumeTokenBudget(ctx context.Context, agentID string, tokens int64, now time.Time) (account.Agent, error) {
	var out account.Agent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, permission_mode, token_budget, quota_period,
			       tokens_consumed, budget_reset_at
			FROM agents WHERE id = ?`, agentID)
		a, err := scanAgent(row)
		if isNoRows(err) {
			return account.ErrAgentNotFound
		}
		if err != nil {
			return err
		}
		if err := account.Consume(&a, tokens, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agents SET tokens_consumed = ?, budget_reset_at = ?
			WHERE id = ?`,
			a.TokensConsumed, msPtr(a.BudgetResetAt), agentID); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func scanAgent(row rowScanner) (account.Agent, error) {
	var (
		a       account.Agent
		mode    string
		period  string
		resetAt sql.NullInt64
	)
	err := row.Scan(&a.ID, &mode, &a.TokenBudget, &period,
		&a.TokensConsumed, &resetAt)
	if err != nil {
		return account.Agent{}, err
	}
	a.PermissionMode = account.PermissionMode(mode)
	a.QuotaPeriod = account.QuotaPeriod(period)
	a.BudgetResetAt = fromMSPtr(resetAt)
	return a, nil
}
