package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/agentd/runtime/ident"
)

type (
	// Engine is the pure recurrence runtime. It computes due windows, mints
	// execution tickets and folds completed tickets back into schedule
	// deltas. The engine owns the in-process set of in-flight tickets;
	// persistence belongs to the command lane.
	Engine struct {
		store Store
		ids   ident.Source

		mu       sync.Mutex
		inflight map[string]claim
	}

	// claim pairs a ticket with the schedule snapshot it was minted from so
	// CompleteExecution can compute the delta without rereading the store.
	claim struct {
		ticket Ticket
		sched  Schedule
	}
)

// NewEngine builds an Engine over the given store and identifier source.
func NewEngine(store Store, ids ident.Source) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("schedule store is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("ident source is required")
	}
	return &Engine{store: store, ids: ids, inflight: make(map[string]claim)}, nil
}

// DueWindows returns the due instants of s at now, oldest first. The rules
// apply in order; the first failing one yields no windows:
//
//   - the schedule is Active,
//   - NextExecutionAt is set,
//   - the schedule has a recurrence,
//   - NextExecutionAt is not in the future.
//
// Without a positive interval the single stored instant is due. With one,
// the sequence NextExecutionAt, +interval, ... is generated up to now,
// bounded by the catch-up window when set, then capped at
// MaxCatchUpRunsPerTick oldest entries (or collapsed to the newest when
// catch-up is disallowed).
func DueWindows(s Schedule, now time.Time) []time.Time {
	if s.Status != StatusActive {
		return nil
	}
	if s.NextExecutionAt == nil {
		return nil
	}
	if !s.HasRecurrence() {
		return nil
	}
	next := *s.NextExecutionAt
	if next.After(now) {
		return nil
	}
	if s.Recurrence.IntervalSeconds <= 0 {
		return []time.Time{next}
	}
	interval := time.Duration(s.Recurrence.IntervalSeconds) * time.Second
	var windows []time.Time
	for at := next; !at.After(now); at = at.Add(interval) {
		windows = append(windows, at)
	}
	if s.CatchUpWindowSeconds > 0 {
		horizon := now.Add(-time.Duration(s.CatchUpWindowSeconds) * time.Second)
		kept := windows[:0]
		for _, at := range windows {
			if !at.Before(horizon) {
				kept = append(kept, at)
			}
		}
		windows = kept
	}
	if len(windows) == 0 {
		return nil
	}
	if !s.AllowsCatchUp {
		return windows[len(windows)-1:]
	}
	max := s.MaxCatchUpRunsPerTick
	if max < 0 {
		max = 0
	}
	if len(windows) > max {
		windows = windows[:max]
	}
	return windows
}

// ClaimDue reads every schedule, computes its due windows at now and mints
// one in-flight ticket per window.
func (e *Engine) ClaimDue(ctx context.Context, now time.Time) ([]Ticket, error) {
	schedules, err := e.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	var tickets []Ticket
	for _, s := range schedules {
		for _, dueAt := range DueWindows(s, now) {
			tickets = append(tickets, e.mint(s, dueAt, SourceFromTrigger(s.Trigger), now))
		}
	}
	return tickets, nil
}

// TriggerNow mints a single Manual ticket for s regardless of its status.
// Returns nil when the schedule has no usable recurrence.
func (e *Engine) TriggerNow(s Schedule, now time.Time) *Ticket {
	if !s.HasRecurrence() {
		return nil
	}
	t := e.mint(s, now, SourceManual, now)
	return &t
}

// CompleteExecution folds a finished ticket back into a schedule delta and
// reports whether the engine still considered the ticket in flight. The
// delta is applied by the command lane, not here.
func (e *Engine) CompleteExecution(t Ticket, outcome Outcome, endedAt time.Time) (Delta, bool) {
	e.mu.Lock()
	c, ok := e.inflight[t.ExecutionID]
	delete(e.inflight, t.ExecutionID)
	e.mu.Unlock()
	if !ok {
		return Delta{}, false
	}
	s := c.sched
	delta := Delta{ScheduleID: s.ID, LastExecutionAt: t.DueAt}
	switch {
	case s.Recurrence.IntervalSeconds > 0:
		next := t.DueAt.Add(time.Duration(s.Recurrence.IntervalSeconds) * time.Second)
		delta.NextExecutionAt = &next
	case s.NextExecutionAt != nil && s.NextExecutionAt.After(t.DueAt):
		delta.NextExecutionAt = s.NextExecutionAt
	}
	if s.AutoDisableAfterRun {
		delta.Status = StatusDisabled
		delta.NextExecutionAt = nil
	}
	return delta, true
}

func (e *Engine) mint(s Schedule, dueAt time.Time, src TriggerSource, now time.Time) Ticket {
	t := Ticket{
		ExecutionID:   e.ids.NewID(),
		ScheduleID:    s.ID,
		OwnerAgentID:  s.OwnerAgentID,
		DueAt:         dueAt,
		TriggerSource: src,
		StartedAt:     now,
		ActionRef:     s.ActionRef,
	}
	e.mu.Lock()
	e.inflight[t.ExecutionID] = claim{ticket: t, sched: s}
	e.mu.Unlock()
	return t
}
