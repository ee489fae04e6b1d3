// Package schedule defines recurring actions and the pure recurrence engine
// that turns (schedule, now) into due execution tickets.
package schedule

import (
	"context"
	"time"

	"goa.design/agentd/runtime/governance"
)

type (
	// Status is the schedule lifecycle state.
	Status string

	// Trigger is the recurrence kind bound to a schedule.
	Trigger string

	// TriggerSource records what caused one execution.
	TriggerSource string

	// Outcome is the terminal state of one execution.
	Outcome string

	// ConcurrencyPolicy controls overlapping executions of one schedule.
	ConcurrencyPolicy string

	// Recurrence describes when a schedule fires. At least one of
	// CronExpression and IntervalSeconds must be set for the schedule to
	// produce due windows. Cron expressions are carried for labelling but
	// not evaluated: recurrence is fixed-point plus interval.
	Recurrence struct {
		// Label is the human-readable recurrence description.
		Label string
		// CronExpression is the original cron source, when any. Empty
		// means none.
		CronExpression string
		// IntervalSeconds is the firing interval. Zero or negative means
		// none.
		IntervalSeconds int64
	}

	// Schedule is a durable recurring action owned by an agent.
	Schedule struct {
		// ID is the durable schedule identifier.
		ID string
		// OwnerAgentID is the agent the action runs as.
		OwnerAgentID string
		// Recurrence describes when the schedule fires.
		Recurrence Recurrence
		// Trigger is the recurrence kind.
		Trigger Trigger
		// ActionRef is the action URI dispatched on each execution, e.g.
		// "action:log".
		ActionRef string
		// Status is the lifecycle state.
		Status Status
		// Concurrency controls overlapping executions.
		Concurrency ConcurrencyPolicy
		// AllowsCatchUp enables dispatching several missed windows in one
		// tick.
		AllowsCatchUp bool
		// AutoDisableAfterRun disables the schedule after one execution.
		AutoDisableAfterRun bool
		// CatchUpWindowSeconds bounds how far back missed windows are
		// honoured. Zero disables the bound.
		CatchUpWindowSeconds int64
		// MaxCatchUpRunsPerTick caps catch-up executions per tick.
		MaxCatchUpRunsPerTick int
		// LastExecutionAt is the due instant of the last completed
		// execution.
		LastExecutionAt *time.Time
		// NextExecutionAt is the next due instant. Nil means the schedule
		// will not fire.
		NextExecutionAt *time.Time
	}

	// Execution is the durable record of one dispatched ticket.
	//
	// Invariant: ID is the command-lane idempotency key; a second insert
	// with the same ID is accepted but ignored.
	Execution struct {
		// ID is the unique execution identifier.
		ID string
		// ScheduleID is the owning schedule.
		ScheduleID string
		// DueAt is the window instant this execution covers.
		DueAt time.Time
		// TriggerSource records what caused the execution.
		TriggerSource TriggerSource
		// Outcome is the terminal state.
		Outcome Outcome
		// StartedAt is when the dispatch began.
		StartedAt time.Time
		// EndedAt is when the action finished, when known.
		EndedAt *time.Time
		// SkipReason explains a Skipped outcome.
		SkipReason string
		// CreatedAt orders executions per schedule.
		CreatedAt time.Time
	}

	// Ticket is the in-memory handle for one due window claimed by the
	// dispatch loop.
	Ticket struct {
		// ExecutionID is the fresh idempotency key minted for this window.
		ExecutionID string
		// ScheduleID is the owning schedule.
		ScheduleID string
		// OwnerAgentID is the agent the action runs as.
		OwnerAgentID string
		// DueAt is the window instant.
		DueAt time.Time
		// TriggerSource records what caused the claim.
		TriggerSource TriggerSource
		// StartedAt is the claim instant.
		StartedAt time.Time
		// ActionRef is the action to dispatch.
		ActionRef string
	}

	// Delta is the schedule mutation produced by completing a ticket. The
	// command lane applies it atomically with the execution insert.
	Delta struct {
		// ScheduleID is the schedule to mutate.
		ScheduleID string
		// LastExecutionAt is the new last execution instant.
		LastExecutionAt time.Time
		// NextExecutionAt is the new next due instant; nil clears it.
		NextExecutionAt *time.Time
		// Status is the new lifecycle state; empty leaves it unchanged.
		Status Status
	}

	// Store persists schedules and executions.
	Store interface {
		// PutSchedule inserts or replaces a schedule.
		PutSchedule(ctx context.Context, s Schedule) error
		// LoadSchedule loads a schedule by ID.
		LoadSchedule(ctx context.Context, scheduleID string) (Schedule, error)
		// ListSchedules returns every schedule.
		ListSchedules(ctx context.Context) ([]Schedule, error)
		// RecordExecution atomically inserts the execution, applies the
		// delta and appends exactly one of the two audit entries: completed
		// when the execution is new, ignored when its ID already exists (in
		// which case the delta is not applied). Returns whether the
		// execution was inserted. The whole operation is one transaction;
		// on failure no audit entry is written.
		RecordExecution(ctx context.Context, exec Execution, delta Delta, completed, ignored governance.AuditEntry) (bool, error)
		// ListExecutions returns the executions of a schedule ordered by
		// CreatedAt.
		ListExecutions(ctx context.Context, scheduleID string) ([]Execution, error)
	}
)

const (
	// StatusActive schedules produce due windows.
	StatusActive Status = "Active"
	// StatusPaused schedules are retained but do not fire.
	StatusPaused Status = "Paused"
	// StatusExpired schedules have passed their recurrence horizon.
	StatusExpired Status = "Expired"
	// StatusDisabled schedules were turned off (manually or after an
	// auto-disable run).
	StatusDisabled Status = "Disabled"

	// TriggerCron marks cron-labelled schedules.
	TriggerCron Trigger = "CronTrigger"
	// TriggerInterval marks interval schedules.
	TriggerInterval Trigger = "IntervalTrigger"
	// TriggerEvent marks event-driven schedules.
	TriggerEvent Trigger = "EventTrigger"

	// SourceCronTick marks executions claimed from a cron-labelled window.
	SourceCronTick TriggerSource = "CronTick"
	// SourceIntervalTick marks executions claimed from an interval window.
	SourceIntervalTick TriggerSource = "IntervalTick"
	// SourceEvent marks executions caused by an event.
	SourceEvent TriggerSource = "Event"
	// SourceManual marks executions forced by TriggerNow.
	SourceManual TriggerSource = "Manual"

	// OutcomeSucceeded is the persisted value of a successful execution.
	OutcomeSucceeded Outcome = "ExecutionSucceeded"
	// OutcomeFailed is the persisted value of a failed execution.
	OutcomeFailed Outcome = "ExecutionFailed"
	// OutcomeSkipped is the persisted value of a governance-skipped
	// execution.
	OutcomeSkipped Outcome = "ExecutionSkipped"

	// ConcurrencyAllow permits overlapping executions.
	ConcurrencyAllow ConcurrencyPolicy = "Allow"
	// ConcurrencyForbid skips a window while one is in flight.
	ConcurrencyForbid ConcurrencyPolicy = "Forbid"
	// ConcurrencyReplace cancels the in-flight execution in favour of the
	// new window.
	ConcurrencyReplace ConcurrencyPolicy = "Replace"
)

// SourceFromTrigger maps a schedule trigger to the trigger source recorded
// on claimed tickets.
func SourceFromTrigger(t Trigger) TriggerSource {
	switch t {
	case TriggerCron:
		return SourceCronTick
	case TriggerEvent:
		return SourceEvent
	default:
		return SourceIntervalTick
	}
}

// HasRecurrence reports whether the schedule carries a usable recurrence.
func (s Schedule) HasRecurrence() bool {
	return s.Recurrence.CronExpression != "" || s.Recurrence.IntervalSeconds > 0
}
