package hitl

import (
	"context"
	"testing"

	"github.com/shawkym/agentpipe-orchestrator/pkg/persistence"
)

func newTestStore() *Store {
	return NewStore(persistence.NewMemoryStore(), nil, nil)
}

func TestCreateApproval_NoApprovalNeededReturnsNil(t *testing.T) {
	s := newTestStore()
	req, err := s.CreateApproval(context.Background(), CreateInput{
		ConversationID:   "c1",
		EstimatedCostUSD: 1,
		Thresholds:       DefaultThresholds(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req != nil {
		t.Fatal("expected nil approval for a low-risk action")
	}
}

func TestCreateApproval_PersistsPendingWithAuditTrail(t *testing.T) {
	s := newTestStore()
	req, err := s.CreateApproval(context.Background(), CreateInput{
		ConversationID:   "c1",
		UserID:           "u1",
		EstimatedCostUSD: 2000,
		ActionType:       "delete",
		Thresholds:       DefaultThresholds(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req == nil {
		t.Fatal("expected a persisted approval for a high-risk action")
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", req.Status)
	}
	if len(req.Audit) != 1 || req.Audit[0].Action != "created" {
		t.Fatalf("expected audit trail's first entry to be 'created', got %+v", req.Audit)
	}
}

func TestApprove_OnlyLegalFromPending(t *testing.T) {
	s := newTestStore()
	req, _ := s.CreateApproval(context.Background(), CreateInput{
		ConversationID: "c1", EstimatedCostUSD: 2000, ActionType: "delete", Thresholds: DefaultThresholds(),
	})

	if _, err := s.Approve(context.Background(), req.ID, "ops", "looks fine"); err != nil {
		t.Fatalf("unexpected error approving pending request: %v", err)
	}

	_, err := s.Approve(context.Background(), req.ID, "ops", "again")
	if err == nil {
		t.Fatal("expected second approval of a terminal request to fail")
	}
}

func TestDeny_UnknownIDFails(t *testing.T) {
	s := newTestStore()
	_, err := s.Deny(context.Background(), "does-not-exist", "ops", "no")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckTimeouts_ExpiresPendingApprovals(t *testing.T) {
	s := newTestStore()
	req, _ := s.CreateApproval(context.Background(), CreateInput{
		ConversationID: "c1", EstimatedCostUSD: 2000, ActionType: "delete", Thresholds: DefaultThresholds(),
	})
	// Force immediate expiry for the test.
	s.mu.Lock()
	s.approvals[req.ID].ExpiresAt = s.approvals[req.ID].ExpiresAt.AddDate(0, 0, -1)
	s.mu.Unlock()

	expired := s.CheckTimeouts(context.Background())
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired approval, got %d", len(expired))
	}
	if expired[0].Status != StatusTimeout {
		t.Fatalf("expected timeout status, got %s", expired[0].Status)
	}
}

func TestListApprovals_FiltersAndOrdersByCreatedAtDesc(t *testing.T) {
	s := newTestStore()
	s.CreateApproval(context.Background(), CreateInput{ConversationID: "c1", UserID: "u1", EstimatedCostUSD: 2000, ActionType: "delete", Thresholds: DefaultThresholds()})
	s.CreateApproval(context.Background(), CreateInput{ConversationID: "c2", UserID: "u1", EstimatedCostUSD: 2000, ActionType: "delete", Thresholds: DefaultThresholds()})
	s.CreateApproval(context.Background(), CreateInput{ConversationID: "c1", UserID: "u2", EstimatedCostUSD: 2000, ActionType: "delete", Thresholds: DefaultThresholds()})

	byConversation := s.ListApprovals(ListFilter{ConversationID: "c1"})
	if len(byConversation) != 2 {
		t.Fatalf("expected 2 approvals for c1, got %d", len(byConversation))
	}

	byUser := s.ListApprovals(ListFilter{UserID: "u2"})
	if len(byUser) != 1 {
		t.Fatalf("expected 1 approval for u2, got %d", len(byUser))
	}
}

func TestCleanup_RemovesOldTerminalApprovals(t *testing.T) {
	s := newTestStore()
	req, _ := s.CreateApproval(context.Background(), CreateInput{
		ConversationID: "c1", EstimatedCostUSD: 2000, ActionType: "delete", Thresholds: DefaultThresholds(),
	})
	s.Approve(context.Background(), req.ID, "ops", "ok")

	s.mu.Lock()
	s.approvals[req.ID].UpdatedAt = s.approvals[req.ID].UpdatedAt.AddDate(0, 0, -100)
	s.mu.Unlock()

	removed := s.Cleanup(context.Background(), 30)
	if removed != 1 {
		t.Fatalf("expected 1 approval removed, got %d", removed)
	}
	if _, ok := s.Get(req.ID); ok {
		t.Fatal("expected approval to be gone after cleanup")
	}
}
