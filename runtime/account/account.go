// Package account defines the agent entity and its token-budget accounting.
// An agent is the unit of governance: it owns a permission mode, a token
// budget with a rotation period, and every schedule and audit entry written
// on its behalf.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type (
	// PermissionMode controls how much autonomy an agent has when governance
	// evaluates its actions.
	PermissionMode string

	// QuotaPeriod is the rotation period of an agent token budget.
	QuotaPeriod string

	// Agent captures durable agent state.
	//
	// Invariant: 0 <= TokensConsumed <= TokenBudget (when TokenBudget is
	// positive) while BudgetResetAt is in the future. When the reset instant
	// has passed, the next consumption resets TokensConsumed before
	// accounting for the request.
	Agent struct {
		// ID is the durable agent identifier.
		ID string
		// PermissionMode gates governance decisions for this agent.
		PermissionMode PermissionMode
		// TokenBudget is the number of tokens the agent may consume per
		// quota period. Zero means unlimited: consumption is tracked but
		// never rejected.
		TokenBudget int64
		// QuotaPeriod is the budget rotation period.
		QuotaPeriod QuotaPeriod
		// TokensConsumed is the number of tokens consumed in the current
		// period.
		TokensConsumed int64
		// BudgetResetAt is the next budget rotation instant. Nil for
		// Lifetime budgets, which never rotate.
		BudgetResetAt *time.Time
	}

	// Store persists agents and performs budget consumption atomically.
	Store interface {
		// PutAgent inserts or replaces an agent.
		PutAgent(ctx context.Context, a Agent) error
		// LoadAgent loads an agent. Returns ErrAgentNotFound when missing.
		LoadAgent(ctx context.Context, agentID string) (Agent, error)
		// ConsumeTokenBudget reserves tokens against the agent budget,
		// rotating the budget first when BudgetResetAt has passed. Returns
		// the updated agent or a *BudgetExceededError. The reservation is
		// never refunded.
		ConsumeTokenBudget(ctx context.Context, agentID string, tokens int64, now time.Time) (Agent, error)
	}

	// BudgetExceededError reports a consumption request that does not fit in
	// the remaining budget.
	BudgetExceededError struct {
		AgentID         string
		RequestedTokens int64
		RemainingTokens int64
	}
)

const (
	// ModePermissive grants broad autonomy.
	ModePermissive PermissionMode = "Permissive"
	// ModeStandard is the default governance posture.
	ModeStandard PermissionMode = "Standard"
	// ModeRestrictive requires approval for sensitive actions.
	ModeRestrictive PermissionMode = "Restrictive"

	// PeriodDaily rotates the budget every 24 hours.
	PeriodDaily QuotaPeriod = "Daily"
	// PeriodMonthly rotates the budget every calendar month.
	PeriodMonthly QuotaPeriod = "Monthly"
	// PeriodYearly rotates the budget every calendar year.
	PeriodYearly QuotaPeriod = "Yearly"
	// PeriodLifetime never rotates the budget.
	PeriodLifetime QuotaPeriod = "Lifetime"
)

// ErrAgentNotFound reports a lookup for an unknown agent.
var ErrAgentNotFound = errors.New("agent not found")

// Error implements error.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("agent %s: token budget exceeded: requested %d, %d remaining",
		e.AgentID, e.RequestedTokens, e.RemainingTokens)
}

// ErrorCode returns the wire error tag.
func (e *BudgetExceededError) ErrorCode() string { return "TokenBudgetExceeded" }

// Consume applies a token reservation to a in place, rotating the budget
// first when the reset instant has passed. Store implementations share this
// so SQLite and in-memory backends agree on semantics.
func Consume(a *Agent, tokens int64, now time.Time) error {
	if a.BudgetResetAt != nil && !now.Before(*a.BudgetResetAt) {
		a.TokensConsumed = 0
		if a.QuotaPeriod == PeriodLifetime {
			a.BudgetResetAt = nil
		} else {
			next := *a.BudgetResetAt
			for !now.Before(next) {
				next = NextReset(a.QuotaPeriod, next)
			}
			a.BudgetResetAt = &next
		}
	}
	if a.TokenBudget > 0 && a.TokensConsumed+tokens > a.TokenBudget {
		return &BudgetExceededError{
			AgentID:         a.ID,
			RequestedTokens: tokens,
			RemainingTokens: a.TokenBudget - a.TokensConsumed,
		}
	}
	a.TokensConsumed += tokens
	return nil
}

// NextReset returns the rotation instant that follows from for the given
// period. Lifetime budgets return from unchanged; callers must not rotate
// them.
func NextReset(period QuotaPeriod, from time.Time) time.Time {
	switch period {
	case PeriodDaily:
		return from.Add(24 * time.Hour)
	case PeriodMonthly:
		return from.AddDate(0, 1, 0)
	case PeriodYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from
	}
}
