package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/schedule"
)

// PutSchedule inserts or replaces a schedule.
func (s *Store) PutSchedule(ctx context.Context, sc schedule.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, owner_agent_id, recurrence_label, cron_expression,
			interval_seconds, trigger, action_ref, status, concurrency,
			allows_catch_up, auto_disable_after_run, catch_up_window_seconds,
			max_catch_up_runs, last_execution_at, next_execution_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_agent_id = excluded.owner_agent_id,
			recurrence_label = excluded.recurrence_label,
			cron_expression = excluded.cron_expression,
			interval_seconds = excluded.interval_seconds,
			trigger = excluded.trigger,
			action_ref = excluded.action_ref,
			status = excluded.status,
			concurrency = excluded.concurrency,
			allows_catch_up = excluded.allows_catch_up,
			auto_disable_after_run = excluded.auto_disable_after_run,
			catch_up_window_seconds = excluded.catch_up_window_seconds,
			max_catch_up_runs = excluded.max_catch_up_runs,
			last_execution_at = excluded.last_execution_at,
			next_execution_at = excluded.next_execution_at`,
		sc.ID, sc.OwnerAgentID, sc.Recurrence.Label, sc.Recurrence.CronExpression,
		sc.Recurrence.IntervalSeconds, string(sc.Trigger), sc.ActionRef,
		string(sc.Status), string(sc.Concurrency),
		boolInt(sc.AllowsCatchUp), boolInt(sc.AutoDisableAfterRun),
		sc.CatchUpWindowSeconds, sc.MaxCatchUpRunsPerTick,
		msPtr(sc.LastExecutionAt), msPtr(sc.NextExecutionAt))
	if err != nil {
		return fmt.Errorf("put schedule %s: %w", sc.ID, err)
	}
	return nil
}

// LoadSchedule loads a schedule by ID.
func (s *Store) LoadSchedule(ctx context.Context, scheduleID string) (schedule.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		scheduleColumns+` FROM schedules WHERE id = ?`, scheduleID)
	sc, err := scanSchedule(row)
	if isNoRows(err) {
		return schedule.Schedule{}, fmt.Errorf("schedule %s: not found", scheduleID)
	}
	return sc, err
}

// ListSchedules returns every schedule ordered by ID.
func (s *Store) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleColumns+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// RecordExecution inserts the execution, applies the delta and appends the
// matching audit entry as one transaction. A duplicate execution ID writes
// only the ignored audit entry and leaves the schedule untouched.
func (s *Store) RecordExecution(ctx context.Context, exec schedule.Execution, delta schedule.Delta, completed, ignored governance.AuditEntry) (bool, error) {
	var inserted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_executions (
				id, schedule_id, due_at, trigger_source, outcome,
				started_at, ended_at, skip_reason, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			exec.ID, exec.ScheduleID, ms(exec.DueAt), string(exec.TriggerSource),
			string(exec.Outcome), ms(exec.StartedAt), msPtr(exec.EndedAt),
			exec.SkipReason, ms(exec.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert execution %s: %w", exec.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if !inserted {
			return appendAuditTx(ctx, tx, ignored)
		}
		if delta.Status != "" {
			_, err = tx.ExecContext(ctx, `
				UPDATE schedules SET last_execution_at = ?, next_execution_at = ?, status = ?
				WHERE id = ?`,
				ms(delta.LastExecutionAt), msPtr(delta.NextExecutionAt),
				string(delta.Status), delta.ScheduleID)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE schedules SET last_execution_at = ?, next_execution_at = ?
				WHERE id = ?`,
				ms(delta.LastExecutionAt), msPtr(delta.NextExecutionAt),
				delta.ScheduleID)
		}
		if err != nil {
			return fmt.Errorf("apply delta to schedule %s: %w", delta.ScheduleID, err)
		}
		return appendAuditTx(ctx, tx, completed)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ListExecutions returns the executions of a schedule ordered by CreatedAt.
func (s *Store) ListExecutions(ctx context.Context, scheduleID string) ([]schedule.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, due_at, trigger_source, outcome,
		       started_at, ended_at, skip_reason, created_at
		FROM scheduled_executions WHERE schedule_id = ?
		ORDER BY created_at, id`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Execution
	for rows.Next() {
		var (
			e                            schedule.Execution
			dueAt, startedAt, createdAt  int64
			endedAt                      sql.NullInt64
			src, outcome                 string
		)
		if err := rows.Scan(&e.ID, &e.ScheduleID, &dueAt, &src, &outcome,
			&startedAt, &endedAt, &e.SkipReason, &createdAt); err != nil {
			return nil, err
		}
		e.DueAt = fromMS(dueAt)
		e.TriggerSource = schedule.TriggerSource(src)
		e.Outcome = schedule.Outcome(outcome)
		e.StartedAt = fromMS(startedAt)
		e.EndedAt = fromMSPtr(endedAt)
		e.CreatedAt = fromMS(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

const scheduleColumns = `
	SELECT id, owner_agent_id, recurrence_label, cron_expression,
	       interval_seconds, trigger, action_ref, status, concurrency,
	       allows_catch_up, auto_disable_after_run, catch_up_window_seconds,
	       max_catch_up_runs, last_execution_at, next_execution_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (schedule.Schedule, error) {
	var (
		sc                       schedule.Schedule
		trigger, status, conc    string
		catchUp, autoDisable     int
		lastAt, nextAt           sql.NullInt64
	)
	err := row.Scan(&sc.ID, &sc.OwnerAgentID, &sc.Recurrence.Label,
		&sc.Recurrence.CronExpression, &sc.Recurrence.IntervalSeconds,
		&trigger, &sc.ActionRef, &status, &conc,
		&catchUp, &autoDisable, &sc.CatchUpWindowSeconds,
		&sc.MaxCatchUpRunsPerTick, &lastAt, &nextAt)
	if err != nil {
		return schedule.Schedule{}, err
	}
	sc.Trigger = schedule.Trigger(trigger)
	sc.Status = schedule.Status(status)
	sc.Concurrency = schedule.ConcurrencyPolicy(conc)
	sc.AllowsCatchUp = catchUp != 0
	sc.AutoDisableAfterRun = autoDisable != 0
	sc.LastExecutionAt = fromMSPtr(lastAt)
	sc.NextExecutionAt = fromMSPtr(nextAt)
	return sc, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
