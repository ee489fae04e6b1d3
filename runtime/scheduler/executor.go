package scheduler

import (
	"context"
	"fmt"

	"goa.design/agentd/runtime/clock"
	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/ident"
	"goa.design/agentd/runtime/schedule"
	"goa.design/agentd/runtime/telemetry"
)

type (
	// ActionFunc runs one registered action. The executor converts an
	// error return into a Failed outcome.
	ActionFunc func(ctx context.Context, t schedule.Ticket) error

	// ExecutorOptions configures the action executor.
	ExecutorOptions struct {
		// Policy evaluates ExecuteSchedule decisions. Required.
		Policy governance.Engine
		// Audit records governance denials. Required.
		Audit governance.AuditStore
		// IDs mints audit entry identifiers. Required.
		IDs ident.Source
		// Clock stamps audit entries. Required.
		Clock clock.Clock
		// Log receives executor diagnostics. Defaults to a nop logger.
		Log telemetry.Logger
		// StrictActions makes unknown action refs yield Skipped instead of
		// the permissive Succeeded default.
		StrictActions bool
		// Actions maps action refs to handlers. "action:log" and
		// "action:health_check" are registered by default.
		Actions map[string]ActionFunc
	}

	// Executor dispatches tickets to their actions under governance. It
	// never returns an error: every internal failure folds into the
	// execution outcome.
	Executor struct {
		policy  governance.Engine
		audit   governance.AuditStore
		ids     ident.Source
		clk     clock.Clock
		log     telemetry.Logger
		strict  bool
		actions map[string]ActionFunc
	}
)

// NewExecutor builds an Executor from opts.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Policy == nil {
		return nil, fmt.Errorf("policy engine is required")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if opts.IDs == nil {
		return nil, fmt.Errorf("ident source is required")
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	log := opts.Log
	if log == nil {
		log = telemetry.NopLogger{}
	}
	e := &Executor{
		policy:  opts.Policy,
		audit:   opts.Audit,
		ids:     opts.IDs,
		clk:     opts.Clock,
		log:     log,
		strict:  opts.StrictActions,
		actions: make(map[string]ActionFunc),
	}
	e.actions["action:log"] = e.logAction
	e.actions["action:health_check"] = func(context.Context, schedule.Ticket) error { return nil }
	for ref, fn := range opts.Actions {
		e.actions[ref] = fn
	}
	return e, nil
}

// Execute runs the ticket action and returns its outcome plus the skip
// reason for Skipped outcomes.
func (e *Executor) Execute(ctx context.Context, t schedule.Ticket) (schedule.Outcome, string) {
	result, err := e.policy.EvaluatePolicy(ctx, governance.PolicyInput{
		AgentID: t.OwnerAgentID,
		Action:  "ExecuteSchedule",
	})
	if err != nil {
		e.log.Error(ctx, "policy evaluation failed", "schedule_id", t.ScheduleID, "err", err)
		return schedule.OutcomeFailed, ""
	}
	if result.Decision != governance.Allow {
		reason := result.Reason
		if reason == "" {
			reason = "policy_denied"
		}
		e.recordDenial(ctx, t, result.Decision, reason)
		return schedule.OutcomeSkipped, reason
	}

	action, known := e.actions[t.ActionRef]
	if !known {
		if e.strict {
			e.log.Warn(ctx, "unknown action ref skipped", "action_ref", t.ActionRef, "schedule_id", t.ScheduleID)
			return schedule.OutcomeSkipped, "unknown_action_ref"
		}
		// Permissive default: unknown refs are the extension point for
		// actions registered elsewhere.
		e.log.Info(ctx, "unknown action ref treated as success", "action_ref", t.ActionRef, "schedule_id", t.ScheduleID)
		return schedule.OutcomeSucceeded, ""
	}
	if err := governance.EnforceSandbox(ctx, t.OwnerAgentID, func(ctx context.Context) error {
		return action(ctx, t)
	}); err != nil {
		e.log.Error(ctx, "action failed", "action_ref", t.ActionRef, "schedule_id", t.ScheduleID, "err", err)
		return schedule.OutcomeFailed, ""
	}
	return schedule.OutcomeSucceeded, ""
}

func (e *Executor) logAction(ctx context.Context, t schedule.Ticket) error {
	e.log.Info(ctx, "scheduled log action", "schedule_id", t.ScheduleID, "due_at", t.DueAt)
	return nil
}

func (e *Executor) recordDenial(ctx context.Context, t schedule.Ticket, decision governance.Decision, reason string) {
	entry := governance.AuditEntry{
		ID:        e.ids.NewID(),
		AgentID:   t.OwnerAgentID,
		Decision:  decision,
		Reason:    reason,
		CreatedAt: e.clk.Now(),
	}
	if err := e.audit.AppendAudit(ctx, entry); err != nil {
		e.log.Error(ctx, "audit append failed", "schedule_id", t.ScheduleID, "err", err)
	}
}
