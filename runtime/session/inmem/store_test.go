package inmem

import (
	"context"
	"errors"
	"testing"

	"goa.design/agentd/runtime/session"
)

func newSession() session.Session {
	return session.Session{
		ID:             "sess-1",
		ConversationID: "conv-1",
		TokenCapacity:  1000,
	}
}

func TestStartSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.StartSession(ctx, newSession())
	if err != nil {
		t.Fatal(err)
	}
	if first.TokensUsed != 0 {
		t.Fatalf("fresh session has %d tokens used", first.TokensUsed)
	}

	if _, err := s.UpdateContextWindow(ctx, "sess-1", 100); err != nil {
		t.Fatal(err)
	}

	// Restarting must return the stored state, not reset it.
	again, err := s.StartSession(ctx, newSession())
	if err != nil {
		t.Fatal(err)
	}
	if again.TokensUsed != 100 {
		t.Fatalf("restart reset the session: tokens used = %d", again.TokensUsed)
	}
}

func TestLoadSessionNotFound(t *testing.T) {
	s := New()
	_, err := s.LoadSession(context.Background(), "missing")
	var nf *session.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *session.NotFoundError", err)
	}
	if nf.SessionID != "missing" {
		t.Fatalf("not-found session = %s", nf.SessionID)
	}
}

func TestUpdateContextWindowClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.StartSession(ctx, newSession()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateContextWindow(ctx, "sess-1", 50); err != nil {
		t.Fatal(err)
	}
	got, err := s.UpdateContextWindow(ctx, "sess-1", -200)
	if err != nil {
		t.Fatal(err)
	}
	if got.TokensUsed != 0 {
		t.Fatalf("tokens used = %d, want 0", got.TokensUsed)
	}
}

func TestUpdateContextWindowExceeded(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.StartSession(ctx, newSession()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateContextWindow(ctx, "sess-1", 900); err != nil {
		t.Fatal(err)
	}

	_, err := s.UpdateContextWindow(ctx, "sess-1", 200)
	var cw *session.ContextWindowExceededError
	if !errors.As(err, &cw) {
		t.Fatalf("err = %v, want *session.ContextWindowExceededError", err)
	}
	if cw.AttemptedTokensUsed != 1100 || cw.TokenCapacity != 1000 {
		t.Fatalf("error = %+v", cw)
	}

	// The failed update must not change the session.
	got, err := s.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TokensUsed != 900 {
		t.Fatalf("tokens used = %d after rejected update, want 900", got.TokensUsed)
	}
}

func TestAppendTurnAssignsDenseIndices(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.StartSession(ctx, newSession()); err != nil {
		t.Fatal(err)
	}

	for i, id := range []string{"turn-a", "turn-b", "turn-c"} {
		got, err := s.AppendTurn(ctx, session.Turn{
			ID:        id,
			SessionID: "sess-1",
			Role:      session.RoleUser,
			Content:   "hello",
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.TurnIndex != i {
			t.Fatalf("turn %s index = %d, want %d", id, got.TurnIndex, i)
		}
	}

	turns, err := s.ListTurns(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, trn := range turns {
		if trn.TurnIndex != i {
			t.Fatalf("turn %d has index %d", i, trn.TurnIndex)
		}
	}
}

func TestAppendTurnDuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.StartSession(ctx, newSession()); err != nil {
		t.Fatal(err)
	}

	first, err := s.AppendTurn(ctx, session.Turn{ID: "turn-a", SessionID: "sess-1", Role: session.RoleUser, Content: "original"})
	if err != nil {
		t.Fatal(err)
	}
	dup, err := s.AppendTurn(ctx, session.Turn{ID: "turn-a", SessionID: "sess-1", Role: session.RoleUser, Content: "changed"})
	if err != nil {
		t.Fatal(err)
	}
	if dup.Content != first.Content {
		t.Fatalf("duplicate append replaced content: %q", dup.Content)
	}
	if dup.TurnIndex != first.TurnIndex {
		t.Fatalf("duplicate append changed index: %d", dup.TurnIndex)
	}

	turns, err := s.ListTurns(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
}

func TestAppendTurnUnknownSession(t *testing.T) {
	s := New()
	_, err := s.AppendTurn(context.Background(), session.Turn{ID: "turn-a", SessionID: "missing"})
	var nf *session.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want *session.NotFoundError", err)
	}
}

func TestListTurnsSnapshotStable(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.StartSession(ctx, newSession()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendTurn(ctx, session.Turn{ID: "turn-a", SessionID: "sess-1", Role: session.RoleUser}); err != nil {
		t.Fatal(err)
	}

	snapshot, err := s.ListTurns(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendTurn(ctx, session.Turn{ID: "turn-b", SessionID: "sess-1", Role: session.RoleAssistant}); err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("snapshot grew to %d turns after a later append", len(snapshot))
	}
}
