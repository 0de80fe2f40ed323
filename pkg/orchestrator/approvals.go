package orchestrator

import (
	"context"

	"github.com/shawkym/agentpipe-orchestrator/pkg/hitl"
)

// ListApprovals exposes the HITL store's listing to callers outside the
// conversation path (a status endpoint or CLI), without exposing the store
// itself.
func (o *Orchestrator) ListApprovals(filter hitl.ListFilter) []*hitl.ApprovalRequest {
	return o.approvals.ListApprovals(filter)
}

// GetApproval returns a single approval by id.
func (o *Orchestrator) GetApproval(id string) (*hitl.ApprovalRequest, bool) {
	return o.approvals.Get(id)
}

// Approve records an approval decision. The linked conversation's resume
// callback runs before this call returns; its outcome reaches registered
// observers, not this call's return value.
func (o *Orchestrator) Approve(ctx context.Context, id, user, rationale string) (*hitl.ApprovalRequest, error) {
	return o.approvals.Approve(ctx, id, user, rationale)
}

// Deny records a denial. The linked conversation resumes with a blocked
// Result, delivered to registered observers.
func (o *Orchestrator) Deny(ctx context.Context, id, user, rationale string) (*hitl.ApprovalRequest, error) {
	return o.approvals.Deny(ctx, id, user, rationale)
}

// GetAudit returns an approval's full decision trail.
func (o *Orchestrator) GetAudit(id string) ([]hitl.AuditEntry, error) {
	approval, ok := o.approvals.Get(id)
	if !ok {
		return nil, hitl.ErrNotFound
	}
	return approval.Audit, nil
}
