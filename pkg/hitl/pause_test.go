package hitl

import (
	"context"
	"testing"
	"time"
)

func TestPause_FailsWhenAlreadyPaused(t *testing.T) {
	m := NewManager(nil, nil, time.Hour)
	if err := m.Pause("c1", "a1", "risk", nil, nil, nil, time.Minute); err != nil {
		t.Fatalf("unexpected error on first pause: %v", err)
	}
	if err := m.Pause("c1", "a2", "risk", nil, nil, nil, time.Minute); err != ErrAlreadyPaused {
		t.Fatalf("expected ErrAlreadyPaused, got %v", err)
	}
}

func TestResume_InvokesResumeCallbackAndClearsState(t *testing.T) {
	m := NewManager(nil, nil, time.Hour)
	called := false
	var gotStatus Status

	resume := func(ctx context.Context, rc ResumeContext) error {
		called = true
		gotStatus = rc.Status
		return nil
	}

	_ = m.Pause("c1", "a1", "risk", "snapshot", nil, resume, time.Minute)
	m.Resume(context.Background(), "c1", ApprovalRequest{ID: "a1", ConversationID: "c1", Status: StatusApproved})

	if !called {
		t.Fatal("expected resume callback to be invoked")
	}
	if gotStatus != StatusApproved {
		t.Fatalf("expected approved status in resume context, got %s", gotStatus)
	}
	if m.IsPaused("c1") {
		t.Fatal("expected pause state cleared after resume")
	}
}

func TestResume_SwallowsCallbackPanic(t *testing.T) {
	m := NewManager(nil, nil, time.Hour)
	resume := func(ctx context.Context, rc ResumeContext) error {
		panic("boom")
	}
	_ = m.Pause("c1", "a1", "risk", nil, nil, resume, time.Minute)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("expected Resume to absorb callback panic, got %v", r)
		}
	}()
	m.Resume(context.Background(), "c1", ApprovalRequest{ID: "a1", ConversationID: "c1", Status: StatusDenied})
}

func TestCancel_ClearsStateWithoutApprovalStore(t *testing.T) {
	m := NewManager(nil, nil, time.Hour)
	_ = m.Pause("c1", "a1", "risk", nil, nil, nil, time.Minute)
	m.Cancel("c1", "conversation abandoned")
	if m.IsPaused("c1") {
		t.Fatal("expected pause cleared by Cancel")
	}
}

func TestListeners_RunSequentiallyAndIsolatePanics(t *testing.T) {
	m := NewManager(nil, nil, time.Hour)
	var order []int

	m.OnPause(func(string, PausedConversation) {
		order = append(order, 1)
		panic("listener 1 explodes")
	})
	m.OnPause(func(string, PausedConversation) {
		order = append(order, 2)
	})

	_ = m.Pause("c1", "a1", "risk", nil, nil, nil, time.Minute)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected both listeners to run in order despite the first panicking, got %v", order)
	}
}

func TestSweep_TimesOutExpiredPauseAndResumes(t *testing.T) {
	store := newTestStore()
	m := NewManager(store, nil, time.Hour)

	req, err := store.CreateApproval(context.Background(), CreateInput{
		ConversationID: "c1", EstimatedCostUSD: 2000, ActionType: "delete", Thresholds: DefaultThresholds(),
	})
	if err != nil || req == nil {
		t.Fatalf("expected a pending approval to be created, err=%v req=%v", err, req)
	}

	resumed := false
	resume := func(ctx context.Context, rc ResumeContext) error {
		resumed = true
		if rc.Status != StatusTimeout {
			t.Errorf("expected resume context status timeout, got %s", rc.Status)
		}
		return nil
	}
	_ = m.Pause("c1", req.ID, "risk", nil, nil, resume, time.Nanosecond)

	time.Sleep(time.Millisecond)
	m.sweep(context.Background())

	if !resumed {
		t.Fatal("expected sweep to resume the conversation on timeout")
	}
	if m.IsPaused("c1") {
		t.Fatal("expected pause cleared after timeout sweep")
	}

	updated, _ := store.Get(req.ID)
	if updated.Status != StatusTimeout {
		t.Fatalf("expected linked approval transitioned to timeout, got %s", updated.Status)
	}
}

func TestStartStop_Cooperative(t *testing.T) {
	m := NewManager(nil, nil, 5*time.Millisecond)
	m.Start(context.Background())
	time.Sleep(15 * time.Millisecond)
	m.Stop()
	// Idempotent stop.
	m.Stop()
}
