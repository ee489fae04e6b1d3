// Package scheduler runs durable recurring actions: a ticker-driven dispatch
// loop claims due tickets from the recurrence engine, an executor runs each
// action under governance, and an idempotent command lane persists the
// outcome.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"goa.design/agentd/runtime/entity"
	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/ident"
	"goa.design/agentd/runtime/schedule"
)

type (
	// Command is one command-lane submission: the execution record to
	// persist and the schedule delta that goes with it.
	Command struct {
		// Execution is the record to insert; its ID is the idempotency
		// key.
		Execution schedule.Execution
		// Delta is the schedule mutation applied iff the execution is new.
		Delta schedule.Delta
		// OwnerAgentID attributes the audit entries.
		OwnerAgentID string
	}

	// Result is the command-lane response.
	Result struct {
		// Accepted is true for every well-formed submission, including
		// duplicates: repeated submissions of one execution ID are safe.
		Accepted bool
	}

	// Lane is the durable, idempotent submission point keyed by execution
	// ID. Exactly one of N concurrent submissions of the same ID mutates
	// state; the execution insert, the schedule delta and the audit entry
	// commit in one transaction.
	Lane struct {
		store  schedule.Store
		ids    ident.Source
		single entity.Serial
	}
)

// NewLane builds a command lane over the given store.
func NewLane(store schedule.Store, ids ident.Source) (*Lane, error) {
	if store == nil {
		return nil, fmt.Errorf("schedule store is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("ident source is required")
	}
	return &Lane{store: store, ids: ids}, nil
}

// Execute submits cmd. Duplicate execution IDs do not mutate the schedule
// and append a "scheduler_command_ignored" audit entry; fresh ones append
// "scheduler_command_completed". Both return Accepted.
func (l *Lane) Execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Execution.ID == "" {
		return Result{}, fmt.Errorf("execution id is required")
	}
	var laneErr error
	l.single.Do(cmd.Execution.ID, func() {
		completed := l.auditEntry(cmd, "scheduler_command_completed", cmd.Execution.CreatedAt)
		ignored := l.auditEntry(cmd, "scheduler_command_ignored", cmd.Execution.CreatedAt)
		_, laneErr = l.store.RecordExecution(ctx, cmd.Execution, cmd.Delta, completed, ignored)
	})
	if laneErr != nil {
		return Result{}, fmt.Errorf("record execution %s: %w", cmd.Execution.ID, laneErr)
	}
	return Result{Accepted: true}, nil
}

// auditEntry builds the audit record for one submission. SessionID stays
// empty: scheduler commands run outside any session.
func (l *Lane) auditEntry(cmd Command, reason string, at time.Time) governance.AuditEntry {
	return governance.AuditEntry{
		ID:        l.ids.NewID(),
		AgentID:   cmd.OwnerAgentID,
		Decision:  governance.Allow,
		Reason:    reason,
		CreatedAt: at,
	}
}
