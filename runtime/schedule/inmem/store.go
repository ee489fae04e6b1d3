// Package inmem provides an in-memory implementation of schedule.Store.
//
// RecordExecution mirrors the SQLite transaction semantics: the execution
// insert, the schedule delta and exactly one audit entry commit together
// under the store lock.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"

	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/schedule"
)

// Store is an in-memory implementation of schedule.Store. Safe for
// concurrent use.
type Store struct {
	mu         sync.RWMutex
	schedules  map[string]schedule.Schedule
	executions map[string]schedule.Execution
	audit      governance.AuditStore
}

// New returns an empty Store appending audits to log.
func New(log governance.AuditStore) *Store {
	return &Store{
		schedules:  make(map[string]schedule.Schedule),
		executions: make(map[string]schedule.Execution),
		audit:      log,
	}
}

// PutSchedule implements schedule.Store.
func (s *Store) PutSchedule(_ context.Context, in schedule.Schedule) error {
	if in.ID == "" {
		return errors.New("schedule id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[in.ID] = in
	return nil
}

// LoadSchedule implements schedule.Store.
func (s *Store) LoadSchedule(_ context.Context, scheduleID string) (schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return schedule.Schedule{}, errors.New("schedule not found")
	}
	return sched, nil
}

// ListSchedules implements schedule.Store.
func (s *Store) ListSchedules(_ context.Context) ([]schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordExecution implements schedule.Store.
func (s *Store) RecordExecution(ctx context.Context, exec schedule.Execution, delta schedule.Delta, completed, ignored governance.AuditEntry) (bool, error) {
	if exec.ID == "" {
		return false, errors.New("execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.executions[exec.ID]; dup {
		if err := s.audit.AppendAudit(ctx, ignored); err != nil {
			return false, err
		}
		return false, nil
	}
	sched, ok := s.schedules[delta.ScheduleID]
	if !ok {
		return false, errors.New("schedule not found")
	}
	prior := sched
	s.executions[exec.ID] = exec
	last := delta.LastExecutionAt
	sched.LastExecutionAt = &last
	sched.NextExecutionAt = delta.NextExecutionAt
	if delta.Status != "" {
		sched.Status = delta.Status
	}
	s.schedules[sched.ID] = sched
	if err := s.audit.AppendAudit(ctx, completed); err != nil {
		// Roll back so a failed transaction leaves no partial state.
		delete(s.executions, exec.ID)
		s.schedules[prior.ID] = prior
		return false, err
	}
	return true, nil
}

// ListExecutions implements schedule.Store.
func (s *Store) ListExecutions(_ context.Context, scheduleID string) ([]schedule.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.Execution, 0, len(s.executions))
	for _, e := range s.executions {
		if e.ScheduleID == scheduleID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
