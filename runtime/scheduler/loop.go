package scheduler

import (
	"context"
	"fmt"
	"time"

	"goa.design/agentd/runtime/clock"
	"goa.design/agentd/runtime/schedule"
	"goa.design/agentd/runtime/telemetry"
)

type (
	// LoopOptions configures the dispatch loop.
	LoopOptions struct {
		// Engine claims due tickets. Required.
		Engine *schedule.Engine
		// Executor runs ticket actions. Required.
		Executor *Executor
		// Lane persists outcomes. Required.
		Lane *Lane
		// Clock drives due-window computation. Required.
		Clock clock.Clock
		// Period is the tick interval. Defaults to 10s.
		Period time.Duration
		// Log receives the per-tick summary. Defaults to a nop logger.
		Log telemetry.Logger
		// Metrics records tick counters when set.
		Metrics *telemetry.Metrics
	}

	// Loop is the scheduler dispatch loop. A single long-lived goroutine
	// ticks at a fixed period, claims due tickets, executes them in claim
	// order and submits each outcome to the command lane. Ticks never
	// overlap: a slow tick delays the next one instead of running beside
	// it.
	Loop struct {
		engine  *schedule.Engine
		exec    *Executor
		lane    *Lane
		clk     clock.Clock
		period  time.Duration
		log     telemetry.Logger
		metrics *telemetry.Metrics
	}

	// TickStats summarizes one dispatch tick. Claimed always equals
	// Dispatched; Accepted never exceeds Dispatched.
	TickStats struct {
		Claimed    int
		Dispatched int
		Accepted   int
	}
)

// DefaultPeriod is the dispatch tick interval used when none is configured.
const DefaultPeriod = 10 * time.Second

// NewLoop builds a dispatch loop from opts.
func NewLoop(opts LoopOptions) (*Loop, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("schedule engine is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Lane == nil {
		return nil, fmt.Errorf("command lane is required")
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	period := opts.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	log := opts.Log
	if log == nil {
		log = telemetry.NopLogger{}
	}
	return &Loop{
		engine:  opts.Engine,
		exec:    opts.Executor,
		lane:    opts.Lane,
		clk:     opts.Clock,
		period:  period,
		log:     log,
		metrics: opts.Metrics,
	}, nil
}

// Run ticks until ctx is cancelled. Tick failures are logged and never stop
// the ticker. Cancellation interrupts the sleep between ticks but not an
// in-progress command submission.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info(ctx, "dispatch loop stopped")
			return
		case <-ticker.C:
			if _, err := l.DispatchDue(ctx, l.clk.Now()); err != nil {
				l.log.Error(ctx, "dispatch tick failed", "err", err)
			}
		}
	}
}

// DispatchDue performs one tick at now: claim, execute, submit. It is the
// unit the loop runs and what tests call directly.
func (l *Loop) DispatchDue(ctx context.Context, now time.Time) (TickStats, error) {
	tickets, err := l.engine.ClaimDue(ctx, now)
	if err != nil {
		return TickStats{}, err
	}
	stats := TickStats{Claimed: len(tickets)}
	for _, t := range tickets {
		outcome, skipReason := l.exec.Execute(ctx, t)
		endedAt := l.clk.Now()
		if endedAt.Before(t.StartedAt) {
			endedAt = t.StartedAt
		}
		stats.Dispatched++
		delta, inflight := l.engine.CompleteExecution(t, outcome, endedAt)
		if !inflight {
			l.log.Warn(ctx, "completed ticket was not in flight", "execution_id", t.ExecutionID)
			continue
		}
		result, err := l.lane.Execute(ctx, Command{
			Execution: schedule.Execution{
				ID:            t.ExecutionID,
				ScheduleID:    t.ScheduleID,
				DueAt:         t.DueAt,
				TriggerSource: t.TriggerSource,
				Outcome:       outcome,
				StartedAt:     t.StartedAt,
				EndedAt:       &endedAt,
				SkipReason:    skipReason,
				CreatedAt:     endedAt,
			},
			Delta:        delta,
			OwnerAgentID: t.OwnerAgentID,
		})
		if err != nil {
			l.log.Error(ctx, "command submission failed", "execution_id", t.ExecutionID, "err", err)
			continue
		}
		if result.Accepted {
			stats.Accepted++
		}
	}
	l.log.Info(ctx, "dispatch tick",
		"claimed", stats.Claimed,
		"dispatched", stats.Dispatched,
		"accepted", stats.Accepted,
	)
	l.metrics.RecordTick(ctx, stats.Claimed, stats.Dispatched, stats.Accepted)
	return stats, nil
}
