package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/ident"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func activeSchedule(interval int64, next time.Time) Schedule {
	return Schedule{
		ID:              "sched-1",
		OwnerAgentID:    "agent-1",
		Recurrence:      Recurrence{Label: "test", IntervalSeconds: interval},
		Trigger:         TriggerInterval,
		ActionRef:       "action:log",
		Status:          StatusActive,
		Concurrency:     ConcurrencyAllow,
		NextExecutionAt: &next,
	}
}

func TestDueWindowsSingleWindow(t *testing.T) {
	s := activeSchedule(60, base)
	got := DueWindows(s, base.Add(30*time.Second))
	if len(got) != 1 {
		t.Fatalf("expected 1 window, got %d", len(got))
	}
	if !got[0].Equal(base) {
		t.Fatalf("window = %v, want %v", got[0], base)
	}
}

func TestDueWindowsNotYetDue(t *testing.T) {
	s := activeSchedule(60, base.Add(time.Minute))
	if got := DueWindows(s, base); got != nil {
		t.Fatalf("expected no windows before the due instant, got %v", got)
	}
}

func TestDueWindowsInactiveStatuses(t *testing.T) {
	for _, st := range []Status{StatusPaused, StatusExpired, StatusDisabled} {
		s := activeSchedule(60, base)
		s.Status = st
		if got := DueWindows(s, base.Add(time.Hour)); got != nil {
			t.Fatalf("status %s produced windows %v", st, got)
		}
	}
}

func TestDueWindowsNoRecurrence(t *testing.T) {
	s := activeSchedule(0, base)
	if got := DueWindows(s, base.Add(time.Hour)); got != nil {
		t.Fatalf("schedule without recurrence produced windows %v", got)
	}
}

func TestDueWindowsCronLabelWithoutInterval(t *testing.T) {
	s := activeSchedule(0, base)
	s.Recurrence.CronExpression = "0 * * * *"
	s.Trigger = TriggerCron
	got := DueWindows(s, base.Add(time.Hour))
	if len(got) != 1 || !got[0].Equal(base) {
		t.Fatalf("cron-labelled schedule should fire its stored instant once, got %v", got)
	}
}

func TestDueWindowsCatchUpCap(t *testing.T) {
	s := activeSchedule(1, base)
	s.AllowsCatchUp = true
	s.CatchUpWindowSeconds = 10
	s.MaxCatchUpRunsPerTick = 3

	got := DueWindows(s, base.Add(20*time.Second))
	want := []time.Time{
		base.Add(10 * time.Second),
		base.Add(11 * time.Second),
		base.Add(12 * time.Second),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d windows, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("window[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDueWindowsCatchUpDisallowedCollapsesToNewest(t *testing.T) {
	s := activeSchedule(60, base)
	got := DueWindows(s, base.Add(10*time.Minute))
	if len(got) != 1 {
		t.Fatalf("expected the newest window only, got %d windows", len(got))
	}
	if !got[0].Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("window = %v, want %v", got[0], base.Add(10*time.Minute))
	}
}

func TestDueWindowsEntireBacklogOutsideCatchUpWindow(t *testing.T) {
	s := activeSchedule(1, base)
	s.AllowsCatchUp = true
	s.CatchUpWindowSeconds = 5
	s.MaxCatchUpRunsPerTick = 10

	// All generated windows land more than 5s before now once the
	// schedule sat idle long enough; the horizon filter keeps the
	// tail only.
	got := DueWindows(s, base.Add(8*time.Second))
	for _, at := range got {
		if at.Before(base.Add(3 * time.Second)) {
			t.Fatalf("window %v precedes the catch-up horizon", at)
		}
	}
}

func TestDueWindowsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("windows are ordered and never in the future", prop.ForAll(
		func(interval int64, elapsed int64, max int) bool {
			s := activeSchedule(interval, base)
			s.AllowsCatchUp = true
			s.MaxCatchUpRunsPerTick = max
			now := base.Add(time.Duration(elapsed) * time.Second)
			got := DueWindows(s, now)
			for i, at := range got {
				if at.After(now) {
					return false
				}
				if i > 0 && !got[i-1].Before(at) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 3600),
		gen.Int64Range(0, 7200),
		gen.IntRange(0, 50),
	))

	properties.Property("catch-up cap bounds the window count", prop.ForAll(
		func(interval int64, elapsed int64, max int) bool {
			s := activeSchedule(interval, base)
			s.AllowsCatchUp = true
			s.MaxCatchUpRunsPerTick = max
			got := DueWindows(s, base.Add(time.Duration(elapsed)*time.Second))
			return len(got) <= max
		},
		gen.Int64Range(1, 600),
		gen.Int64Range(0, 7200),
		gen.IntRange(0, 20),
	))

	properties.Property("without catch-up at most one window", prop.ForAll(
		func(interval int64, elapsed int64) bool {
			s := activeSchedule(interval, base)
			got := DueWindows(s, base.Add(time.Duration(elapsed)*time.Second))
			return len(got) <= 1
		},
		gen.Int64Range(1, 600),
		gen.Int64Range(0, 7200),
	))

	properties.TestingRun(t)
}

type stubStore struct {
	schedules []Schedule
}

func (s *stubStore) PutSchedule(context.Context, Schedule) error { return nil }
func (s *stubStore) LoadSchedule(context.Context, string) (Schedule, error) {
	return Schedule{}, nil
}
func (s *stubStore) ListSchedules(context.Context) ([]Schedule, error) {
	return s.schedules, nil
}
func (s *stubStore) RecordExecution(context.Context, Execution, Delta, governance.AuditEntry, governance.AuditEntry) (bool, error) {
	return true, nil
}
func (s *stubStore) ListExecutions(context.Context, string) ([]Execution, error) {
	return nil, nil
}

func TestClaimDueMintsFreshExecutionIDs(t *testing.T) {
	s := activeSchedule(1, base)
	s.AllowsCatchUp = true
	s.MaxCatchUpRunsPerTick = 5
	e, err := NewEngine(&stubStore{schedules: []Schedule{s}}, ident.NewSequence("exec"))
	if err != nil {
		t.Fatal(err)
	}

	tickets, err := e.ClaimDue(context.Background(), base.Add(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 4 {
		t.Fatalf("expected 4 tickets, got %d", len(tickets))
	}
	seen := make(map[string]bool)
	for _, tk := range tickets {
		if seen[tk.ExecutionID] {
			t.Fatalf("duplicate execution ID %s", tk.ExecutionID)
		}
		seen[tk.ExecutionID] = true
		if tk.TriggerSource != SourceIntervalTick {
			t.Fatalf("trigger source = %s, want %s", tk.TriggerSource, SourceIntervalTick)
		}
		if tk.ActionRef != "action:log" {
			t.Fatalf("action ref = %s", tk.ActionRef)
		}
	}
}

func TestCompleteExecutionAdvancesNext(t *testing.T) {
	s := activeSchedule(60, base)
	e, err := NewEngine(&stubStore{schedules: []Schedule{s}}, ident.NewSequence("exec"))
	if err != nil {
		t.Fatal(err)
	}
	tickets, err := e.ClaimDue(context.Background(), base)
	if err != nil {
		t.Fatal(err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(tickets))
	}

	delta, ok := e.CompleteExecution(tickets[0], OutcomeSucceeded, base.Add(time.Second))
	if !ok {
		t.Fatal("ticket was not in flight")
	}
	if delta.ScheduleID != s.ID {
		t.Fatalf("delta schedule = %s", delta.ScheduleID)
	}
	if delta.NextExecutionAt == nil || !delta.NextExecutionAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("next execution = %v, want %v", delta.NextExecutionAt, base.Add(time.Minute))
	}
	if !delta.LastExecutionAt.Equal(base) {
		t.Fatalf("last execution = %v, want %v", delta.LastExecutionAt, base)
	}

	// A second completion of the same ticket is not in flight anymore.
	if _, ok := e.CompleteExecution(tickets[0], OutcomeSucceeded, base.Add(2*time.Second)); ok {
		t.Fatal("completed ticket reported in flight twice")
	}
}

func TestCompleteExecutionAutoDisable(t *testing.T) {
	s := activeSchedule(60, base)
	s.AutoDisableAfterRun = true
	e, err := NewEngine(&stubStore{schedules: []Schedule{s}}, ident.NewSequence("exec"))
	if err != nil {
		t.Fatal(err)
	}
	tk := e.TriggerNow(s, base)
	if tk == nil {
		t.Fatal("expected a manual ticket")
	}
	if tk.TriggerSource != SourceManual {
		t.Fatalf("trigger source = %s", tk.TriggerSource)
	}

	delta, ok := e.CompleteExecution(*tk, OutcomeSucceeded, base.Add(time.Second))
	if !ok {
		t.Fatal("ticket was not in flight")
	}
	if delta.Status != StatusDisabled {
		t.Fatalf("status = %s, want %s", delta.Status, StatusDisabled)
	}
	if delta.NextExecutionAt != nil {
		t.Fatalf("next execution should be cleared, got %v", *delta.NextExecutionAt)
	}
}

func TestTriggerNowWithoutRecurrence(t *testing.T) {
	e, err := NewEngine(&stubStore{}, ident.NewSequence("exec"))
	if err != nil {
		t.Fatal(err)
	}
	s := activeSchedule(0, base)
	if tk := e.TriggerNow(s, base); tk != nil {
		t.Fatalf("expected no ticket for a schedule without recurrence, got %+v", tk)
	}
}
