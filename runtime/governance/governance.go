// Package governance gates agent actions. It evaluates policies, enforces
// per-tool daily quotas, wraps effects in a sandbox guard and records every
// decision in an append-only audit log.
package governance

import (
	"context"
	"fmt"
	"time"
)

type (
	// Decision is the outcome of a policy evaluation.
	Decision string

	// PolicyInput describes the action being evaluated.
	PolicyInput struct {
		// AgentID is the acting agent.
		AgentID string
		// SessionID is the session the action runs under, when any.
		SessionID string
		// Action names the operation, e.g. "ExecuteSchedule".
		Action string
	}

	// PolicyResult is the evaluation outcome.
	PolicyResult struct {
		// Decision is Allow, Deny or RequireApproval.
		Decision Decision
		// PolicyID identifies the policy that produced the decision, when
		// one applies.
		PolicyID string
		// Reason is a short machine-readable explanation.
		Reason string
	}

	// Engine evaluates policies.
	Engine interface {
		// EvaluatePolicy decides whether the described action may proceed.
		EvaluatePolicy(ctx context.Context, input PolicyInput) (PolicyResult, error)
	}

	// DefaultEngine allows everything. It is the MVP posture; richer
	// engines replace it without touching callers.
	DefaultEngine struct{}

	// AuditEntry is one appended governance record.
	AuditEntry struct {
		// ID is the durable entry identifier.
		ID string
		// AgentID is the acting agent.
		AgentID string
		// SessionID is the session involved, when any.
		SessionID string
		// Decision is the recorded outcome.
		Decision Decision
		// Reason explains the decision.
		Reason string
		// CreatedAt orders the log.
		CreatedAt time.Time
	}

	// AuditStore is the append-only audit log.
	AuditStore interface {
		// AppendAudit appends an entry. Entries are never mutated.
		AppendAudit(ctx context.Context, entry AuditEntry) error
		// ListAudits returns entries for the agent ordered by CreatedAt.
		// An empty agentID returns all entries.
		ListAudits(ctx context.Context, agentID string) ([]AuditEntry, error)
	}

	// ToolQuotaExceededError reports an exhausted per-tool daily quota.
	ToolQuotaExceededError struct {
		AgentID              string
		ToolName             string
		RemainingInvocations int
	}

	// SandboxViolationError reports an effect that escaped its sandbox.
	SandboxViolationError struct {
		AgentID string
		Reason  string
	}
)

const (
	// Allow permits the action.
	Allow Decision = "Allow"
	// Deny rejects the action.
	Deny Decision = "Deny"
	// RequireApproval defers the action to a human.
	RequireApproval Decision = "RequireApproval"
)

// EvaluatePolicy implements Engine.
func (DefaultEngine) EvaluatePolicy(context.Context, PolicyInput) (PolicyResult, error) {
	return PolicyResult{Decision: Allow, Reason: "mvp_default_allow"}, nil
}

// Error implements error.
func (e *ToolQuotaExceededError) Error() string {
	return fmt.Sprintf("agent %s: tool %s daily quota exceeded", e.AgentID, e.ToolName)
}

// ErrorCode returns the wire error tag.
func (e *ToolQuotaExceededError) ErrorCode() string { return "ToolQuotaExceeded" }

// Error implements error.
func (e *SandboxViolationError) Error() string {
	return fmt.Sprintf("agent %s: sandbox violation: %s", e.AgentID, e.Reason)
}

// ErrorCode returns the wire error tag.
func (e *SandboxViolationError) ErrorCode() string { return "SandboxViolation" }

// EnforceSandbox runs effect and converts panics into a typed
// *SandboxViolationError so a misbehaving action terminates its ticket, not
// the process.
func EnforceSandbox(ctx context.Context, agentID string, effect func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SandboxViolationError{AgentID: agentID, Reason: fmt.Sprint(r)}
		}
	}()
	return effect(ctx)
}
