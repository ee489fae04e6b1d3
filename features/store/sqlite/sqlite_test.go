package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentd/features/store/sqlite"
	"goa.design/agentd/runtime/account"
	"goa.design/agentd/runtime/channel"
	"goa.design/agentd/runtime/governance"
	"goa.design/agentd/runtime/memory"
	"goa.design/agentd/runtime/schedule"
	"goa.design/agentd/runtime/session"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func audit(id, reason string) governance.AuditEntry {
	return governance.AuditEntry{
		ID:        id,
		AgentID:   "agent-1",
		Decision:  governance.Allow,
		Reason:    reason,
		CreatedAt: start,
	}
}

func testSchedule() schedule.Schedule {
	next := start
	return schedule.Schedule{
		ID:              "sched-1",
		OwnerAgentID:    "agent-1",
		Recurrence:      schedule.Recurrence{Label: "hourly", IntervalSeconds: 3600},
		Trigger:         schedule.TriggerInterval,
		ActionRef:       "action:log",
		Status:          schedule.StatusActive,
		Concurrency:     schedule.ConcurrencyAllow,
		AllowsCatchUp:   true,
		NextExecutionAt: &next,
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := open(t)

	require.NoError(t, store.PutSchedule(ctx, testSchedule()))
	got, err := store.LoadSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.Equal(t, "agent-1", got.OwnerAgentID)
	require.Equal(t, int64(3600), got.Recurrence.IntervalSeconds)
	require.True(t, got.AllowsCatchUp)
	require.NotNil(t, got.NextExecutionAt)
	require.True(t, got.NextExecutionAt.Equal(start))

	all, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRecordExecutionIdempotent(t *testing.T) {
	ctx := context.Background()
	store := open(t)
	require.NoError(t, store.PutSchedule(ctx, testSchedule()))

	next := start.Add(time.Hour)
	ended := start.Add(time.Second)
	exec := schedule.Execution{
		ID:            "exec-1",
		ScheduleID:    "sched-1",
		DueAt:         start,
		TriggerSource: schedule.SourceIntervalTick,
		Outcome:       schedule.OutcomeSucceeded,
		StartedAt:     start,
		EndedAt:       &ended,
		CreatedAt:     ended,
	}
	delta := schedule.Delta{ScheduleID: "sched-1", LastExecutionAt: start, NextExecutionAt: &next}

	inserted, err := store.RecordExecution(ctx, exec, delta, audit("a-1", "scheduler_command_completed"), audit("a-2", "scheduler_command_ignored"))
	require.NoError(t, err)
	require.True(t, inserted)

	// Duplicate: accepted, ignored, schedule untouched.
	later := next.Add(time.Hour)
	badDelta := schedule.Delta{ScheduleID: "sched-1", LastExecutionAt: next, NextExecutionAt: &later}
	inserted, err = store.RecordExecution(ctx, exec, badDelta, audit("a-3", "scheduler_command_completed"), audit("a-4", "scheduler_command_ignored"))
	require.NoError(t, err)
	require.False(t, inserted)

	s, err := store.LoadSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.True(t, s.NextExecutionAt.Equal(next), "duplicate must not reapply the delta")
	require.True(t, s.LastExecutionAt.Equal(start))

	execs, err := store.ListExecutions(ctx, "sched-1")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, schedule.OutcomeSucceeded, execs[0].Outcome)

	entries, err := store.ListAudits(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "scheduler_command_completed", entries[0].Reason)
	require.Equal(t, "scheduler_command_ignored", entries[1].Reason)
}

func TestRecordExecutionAppliesStatusDelta(t *testing.T) {
	ctx := context.Background()
	store := open(t)
	sc := testSchedule()
	sc.AutoDisableAfterRun = true
	require.NoError(t, store.PutSchedule(ctx, sc))

	exec := schedule.Execution{
		ID:            "exec-1",
		ScheduleID:    "sched-1",
		DueAt:         start,
		TriggerSource: schedule.SourceManual,
		Outcome:       schedule.OutcomeSucceeded,
		StartedAt:     start,
		CreatedAt:     start,
	}
	delta := schedule.Delta{ScheduleID: "sched-1", LastExecutionAt: start, Status: schedule.StatusDisabled}
	_, err := store.RecordExecution(ctx, exec, delta, audit("a-1", "scheduler_command_completed"), audit("a-2", "scheduler_command_ignored"))
	require.NoError(t, err)

	s, err := store.LoadSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.Equal(t, schedule.StatusDisabled, s.Status)
	require.Nil(t, s.NextExecutionAt)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := open(t)

	sess := session.Session{ID: "sess-1", ConversationID: "conv-1", TokenCapacity: 100}
	created, err := store.StartSession(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, int64(0), created.TokensUsed)

	_, err = store.UpdateContextWindow(ctx, "sess-1", 40)
	require.NoError(t, err)

	// Idempotent restart returns stored state.
	again, err := store.StartSession(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, int64(40), again.TokensUsed)

	// Overflow is rejected without mutating.
	_, err = store.UpdateContextWindow(ctx, "sess-1", 100)
	var cw *session.ContextWindowExceededError
	require.ErrorAs(t, err, &cw)
	require.Equal(t, int64(140), cw.AttemptedTokensUsed)

	got, err := store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, int64(40), got.TokensUsed)

	// Negative deltas clamp at zero.
	got, err = store.UpdateContextWindow(ctx, "sess-1", -500)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.TokensUsed)

	_, err = store.LoadSession(ctx, "missing")
	var nf *session.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestAppendTurnDenseAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := open(t)
	_, err := store.StartSession(ctx, session.Session{ID: "sess-1", ConversationID: "conv-1", TokenCapacity: 1000})
	require.NoError(t, err)

	user := session.Turn{
		ID:             "turn-1",
		SessionID:      "sess-1",
		ConversationID: "conv-1",
		Role:           session.RoleUser,
		MessageID:      "msg-1",
		Content:        "hello",
		Blocks:         []session.Block{session.TextBlock{Text: "hello"}},
		CreatedAt:      start,
	}
	first, err := store.AppendTurn(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 0, first.TurnIndex)

	// Duplicate append returns the stored turn.
	user.Content = "changed"
	dup, err := store.AppendTurn(ctx, user)
	require.NoError(t, err)
	require.Equal(t, "hello", dup.Content)
	require.Equal(t, 0, dup.TurnIndex)

	assistant := session.Turn{
		ID:             "turn-2",
		SessionID:      "sess-1",
		ConversationID: "conv-1",
		Role:           session.RoleAssistant,
		MessageID:      "msg-2",
		Content:        "hi there",
		Blocks:         []session.Block{session.TextBlock{Text: "hi there"}},
		FinishReason:   "end_turn",
		UsageJSON:      `{"inputTokens":3,"outputTokens":4,"totalTokens":7}`,
		CreatedAt:      start.Add(time.Second),
	}
	appended, err := store.AppendTurn(ctx, assistant)
	require.NoError(t, err)
	require.Equal(t, 1, appended.TurnIndex)

	turns, err := store.ListTurns(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, session.RoleUser, turns[0].Role)
	require.Equal(t, session.RoleAssistant, turns[1].Role)
	require.Len(t, turns[1].Blocks, 1)
	tb, ok := turns[1].Blocks[0].(session.TextBlock)
	require.True(t, ok)
	require.Equal(t, "hi there", tb.Text)
}

func TestAgentBudgetPersistence(t *testing.T) {
	ctx := context.Background()
	store := open(t)

	reset := start.Add(24 * time.Hour)
	agent := account.Agent{
		ID:             "agent-1",
		PermissionMode: account.ModeStandard,
		TokenBudget:    100,
		QuotaPeriod:    account.PeriodDaily,
		BudgetResetAt:  &reset,
	}
	require.NoError(t, store.PutAgent(ctx, agent))

	got, err := store.ConsumeTokenBudget(ctx, "agent-1", 60, start)
	require.NoError(t, err)
	require.Equal(t, int64(60), got.TokensConsumed)

	_, err = store.ConsumeTokenBudget(ctx, "agent-1", 60, start)
	var be *account.BudgetExceededError
	require.ErrorAs(t, err, &be)
	require.Equal(t, int64(40), be.RemainingTokens)

	// Past the reset instant the budget rotates.
	got, err = store.ConsumeTokenBudget(ctx, "agent-1", 60, reset.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(60), got.TokensConsumed)
	require.True(t, got.BudgetResetAt.After(reset))

	_, err = store.LoadAgent(ctx, "missing")
	require.True(t, errors.Is(err, account.ErrAgentNotFound))
}

func TestChannelUpsertPreservesCreation(t *testing.T) {
	ctx := context.Background()
	store := open(t)

	ch := channel.Channel{
		ID:                   "cli-main",
		Type:                 channel.TypeCLI,
		AgentID:              "agent-1",
		ActiveSessionID:      "sess-1",
		ActiveConversationID: "conv-1",
		CreatedAt:            start,
	}
	require.NoError(t, store.UpsertChannel(ctx, ch))

	ch.AgentID = "agent-2"
	ch.CreatedAt = start.Add(time.Hour)
	require.NoError(t, store.UpsertChannel(ctx, ch))

	got, err := store.LoadChannel(ctx, "cli-main")
	require.NoError(t, err)
	require.Equal(t, "agent-2", got.AgentID)
	require.True(t, got.CreatedAt.Equal(start), "rebind must keep the original creation instant")

	_, err = store.LoadChannel(ctx, "missing")
	require.True(t, errors.Is(err, channel.ErrChannelNotFound))
}

func TestMemoryPaginationAndForget(t *testing.T) {
	ctx := context.Background()
	store := open(t)

	for i := 0; i < 7; i++ {
		require.NoError(t, store.Put(ctx, memory.Item{
			ID:          string(rune('a'+i)) + "-item",
			AgentID:     "agent-1",
			Tier:        memory.TierSemantic,
			Scope:       memory.ScopeGlobal,
			Source:      memory.SourceAgent,
			Content:     "fact",
			Sensitivity: memory.SensitivityInternal,
			CreatedAt:   start.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   start.Add(time.Duration(i) * time.Minute),
		}))
	}

	var seen []string
	q := memory.SearchQuery{AgentID: "agent-1", Sort: memory.CreatedAsc, Limit: 3}
	for {
		res, err := store.Search(ctx, q)
		require.NoError(t, err)
		require.Equal(t, 7, res.TotalCount)
		for _, it := range res.Items {
			seen = append(seen, it.ID)
		}
		if res.Cursor == "" {
			break
		}
		q.Cursor = res.Cursor
	}
	require.Len(t, seen, 7)

	deleted, err := store.Forget(ctx, "agent-1", start.Add(4*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 4, deleted)

	res, err := store.Search(ctx, memory.SearchQuery{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalCount)
}

func TestColdRestartPreservesState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "restart.sqlite")

	store, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.PutSchedule(ctx, testSchedule()))
	_, err = store.StartSession(ctx, session.Session{ID: "sess-1", ConversationID: "conv-1", TokenCapacity: 100})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	s, err := reopened.LoadSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.Equal(t, schedule.StatusActive, s.Status)

	sess, err := reopened.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), sess.TokenCapacity)
}

func TestMemorySchemaRejectsUnknownEnums(t *testing.T) {
	ctx := context.Background()
	store := open(t)

	item := memory.Item{
		ID:          "item-1",
		AgentID:     "agent-1",
		Tier:        memory.TierSemantic,
		Scope:       memory.ScopeGlobal,
		Source:      memory.Source("Telepathy"),
		Content:     "fact",
		Sensitivity: memory.SensitivityInternal,
		CreatedAt:   start,
		UpdatedAt:   start,
	}
	require.Error(t, store.Put(ctx, item), "unknown source must not persist")

	item.Source = memory.SourceAgent
	item.Sensitivity = memory.Sensitivity("TopSecret")
	require.Error(t, store.Put(ctx, item), "unknown sensitivity must not persist")

	item.Sensitivity = memory.SensitivityInternal
	require.NoError(t, store.Put(ctx, item))
}
