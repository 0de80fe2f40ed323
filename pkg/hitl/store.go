package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/metrics"
	"github.com/shawkym/agentpipe-orchestrator/pkg/persistence"
)

// Status is an ApprovalRequest's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s != StatusPending
}

// ErrInvalidTransition is returned when a decision is made on a non-pending
// approval.
var ErrInvalidTransition = errors.New("hitl: invalid approval transition")

// ErrNotFound is returned when an approval id is unknown.
var ErrNotFound = errors.New("hitl: approval not found")

// AuditEntry is one append-only record of an ApprovalRequest's history.
type AuditEntry struct {
	Timestamp time.Time
	Action    string
	User      string
	Details   string
}

// ApprovalRequest is a single human-in-the-loop decision point.
type ApprovalRequest struct {
	ID             string
	ConversationID string
	UserID         string
	AgentID        string
	Status         Status
	RiskLevel      RiskLevel
	ActionType     string
	Description    string
	Payload        map[string]interface{}
	Metadata       map[string]interface{}
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
	ApproverID     string
	Rationale      string
	Audit          []AuditEntry
}

// appendAudit adds one entry. Callers must have already verified the
// transition is legal (e.g. via decide's pending check) before calling this;
// the store never appends to a terminal approval's trail.
func (a *ApprovalRequest) appendAudit(action, user, details string) {
	a.Audit = append(a.Audit, AuditEntry{Timestamp: time.Now(), Action: action, User: user, Details: details})
}

// PauseNotifier is the subset of the Pause Manager the store needs: a
// callback to invoke when an auto-pause-eligible approval is created or
// decided.
type PauseNotifier interface {
	NotifyApprovalCreated(approval ApprovalRequest)
	NotifyApprovalDecided(approval ApprovalRequest)
}

// Store owns every ApprovalRequest and its audit trail, with persistent
// indices by conversation, user, and status.
type Store struct {
	mu        sync.RWMutex
	approvals map[string]*ApprovalRequest
	backend   persistence.Store
	notifier  PauseNotifier
	metrics   *metrics.Metrics
}

// NewStore constructs a Store. notifier may be nil if auto-pause isn't
// wired yet at construction time; set it via SetNotifier before use.
func NewStore(backend persistence.Store, notifier PauseNotifier, m *metrics.Metrics) *Store {
	return &Store{
		approvals: make(map[string]*ApprovalRequest),
		backend:   backend,
		notifier:  notifier,
		metrics:   m,
	}
}

// SetNotifier wires the Pause Manager after construction, breaking the
// Store/Pause Manager initialization cycle.
func (s *Store) SetNotifier(n PauseNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// CreateInput is everything needed to assess and, if required, persist a
// new approval request.
type CreateInput struct {
	ConversationID  string
	UserID          string
	AgentID         string
	ActionType      string
	Description     string
	Payload         map[string]interface{}
	Metadata        map[string]interface{}
	EstimatedCostUSD float64
	DataSensitivity []string
	Thresholds      []Threshold
}

// CreateApproval assesses risk for the proposed action and, if approval is
// required, persists a pending ApprovalRequest and indexes it. A nil,nil
// return means the action is implicitly auto-approved.
func (s *Store) CreateApproval(ctx context.Context, in CreateInput) (*ApprovalRequest, error) {
	assessment := Assess(ActionInput{
		ActionType:       in.ActionType,
		EstimatedCostUSD: in.EstimatedCostUSD,
		DataSensitivity:  in.DataSensitivity,
	}, in.Thresholds)

	if !assessment.RequireApproval {
		return nil, nil
	}

	id := "appr-" + uuid.NewString()

	now := time.Now()
	req := &ApprovalRequest{
		ID:             id,
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		AgentID:        in.AgentID,
		Status:         StatusPending,
		RiskLevel:      assessment.Level,
		ActionType:     in.ActionType,
		Description:    in.Description,
		Payload:        in.Payload,
		Metadata:       in.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(assessment.TimeoutMinutes) * time.Minute),
	}
	req.appendAudit("created", in.UserID, "risk level "+assessment.Level.String())

	s.mu.Lock()
	s.approvals[id] = req
	s.mu.Unlock()

	s.persist(ctx, req)
	s.index(ctx, req)

	if s.metrics != nil {
		s.metrics.SetApprovalsPending(s.countPending())
	}

	log.WithFields(map[string]interface{}{
		"approval_id":     id,
		"conversation_id": in.ConversationID,
		"risk_level":      assessment.Level.String(),
	}).Info("approval request created")

	if assessment.AutoPause && s.notifier != nil {
		s.notifier.NotifyApprovalCreated(*req)
	}

	return req, nil
}

// Approve transitions a pending approval to approved.
func (s *Store) Approve(ctx context.Context, id, user, rationale string) (*ApprovalRequest, error) {
	return s.decide(ctx, id, StatusApproved, user, rationale)
}

// Deny transitions a pending approval to denied.
func (s *Store) Deny(ctx context.Context, id, user, rationale string) (*ApprovalRequest, error) {
	return s.decide(ctx, id, StatusDenied, user, rationale)
}

func (s *Store) decide(ctx context.Context, id string, status Status, user, rationale string) (*ApprovalRequest, error) {
	s.mu.Lock()
	req, ok := s.approvals[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: approval %s is %s", ErrInvalidTransition, id, req.Status)
	}

	req.Status = status
	req.ApproverID = user
	req.Rationale = rationale
	req.UpdatedAt = time.Now()
	req.appendAudit(string(status), user, rationale)
	snapshot := *req
	s.mu.Unlock()

	s.persist(ctx, req)
	s.reindexStatus(ctx, id, status)

	if s.metrics != nil {
		s.metrics.SetApprovalsPending(s.countPending())
		s.metrics.RecordApprovalDecision(string(status))
	}

	if s.notifier != nil {
		s.notifier.NotifyApprovalDecided(snapshot)
	}

	return req, nil
}

// TimeoutApproval atomically transitions id to StatusTimeout if and only if
// it is still StatusPending, returning the post-transition snapshot and
// whether a transition happened. Used by the Pause Manager's timeout sweep
// instead of a separate Get-then-set, so a decision racing in on the same
// approval (Approve/Deny) is never silently overwritten.
func (s *Store) TimeoutApproval(ctx context.Context, id string) (ApprovalRequest, bool) {
	s.mu.Lock()
	req, ok := s.approvals[id]
	if !ok || req.Status != StatusPending {
		s.mu.Unlock()
		return ApprovalRequest{}, false
	}
	req.Status = StatusTimeout
	req.UpdatedAt = time.Now()
	req.appendAudit("timeout", "", "pause timeout elapsed")
	snapshot := *req
	s.mu.Unlock()

	s.persist(ctx, req)
	s.reindexStatus(ctx, id, StatusTimeout)
	if s.metrics != nil {
		s.metrics.SetApprovalsPending(s.countPending())
	}
	return snapshot, true
}

// CheckTimeouts transitions every pending approval past its expiry to
// timeout and notifies the Pause Manager to resume the linked conversation.
func (s *Store) CheckTimeouts(ctx context.Context) []*ApprovalRequest {
	now := time.Now()

	s.mu.Lock()
	var expired []*ApprovalRequest
	for _, req := range s.approvals {
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			req.Status = StatusTimeout
			req.UpdatedAt = now
			req.appendAudit("timeout", "", "approval window expired")
			expired = append(expired, req)
		}
	}
	s.mu.Unlock()

	for _, req := range expired {
		s.persist(ctx, req)
		s.reindexStatus(ctx, req.ID, StatusTimeout)
		if s.notifier != nil {
			s.notifier.NotifyApprovalDecided(*req)
		}
		log.WithField("approval_id", req.ID).Warn("approval timed out")
	}

	if s.metrics != nil && len(expired) > 0 {
		s.metrics.SetApprovalsPending(s.countPending())
	}

	return expired
}

// Cancel transitions a pending approval to cancelled without consulting the
// Pause Manager (used when the owning conversation is torn down directly).
func (s *Store) Cancel(ctx context.Context, id, reason string) (*ApprovalRequest, error) {
	s.mu.Lock()
	req, ok := s.approvals[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if req.Status != StatusPending {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: approval %s is %s", ErrInvalidTransition, id, req.Status)
	}
	req.Status = StatusCancelled
	req.UpdatedAt = time.Now()
	req.appendAudit("cancelled", "", reason)
	s.mu.Unlock()

	s.persist(ctx, req)
	s.reindexStatus(ctx, id, StatusCancelled)
	return req, nil
}

// ListFilter narrows ListApprovals to an intersection of index sets.
type ListFilter struct {
	Status         Status
	UserID         string
	ConversationID string
	Limit          int
}

// ListApprovals returns approvals matching filter, newest first.
func (s *Store) ListApprovals(filter ListFilter) []*ApprovalRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*ApprovalRequest
	for _, req := range s.approvals {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && req.UserID != filter.UserID {
			continue
		}
		if filter.ConversationID != "" && req.ConversationID != filter.ConversationID {
			continue
		}
		out = append(out, req)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns a single approval by id.
func (s *Store) Get(id string) (*ApprovalRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.approvals[id]
	return req, ok
}

// Cleanup removes terminal approvals older than olderThanDays and their
// indices.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) int {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	s.mu.Lock()
	var removed []string
	for id, req := range s.approvals {
		if req.Status.terminal() && req.UpdatedAt.Before(cutoff) {
			removed = append(removed, id)
			delete(s.approvals, id)
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		_ = s.backend.Del(ctx, approvalKey(id))
	}
	return len(removed)
}

func (s *Store) countPending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, req := range s.approvals {
		if req.Status == StatusPending {
			n++
		}
	}
	return n
}

func approvalKey(id string) string                  { return "approval:" + id }
func indexConversationKey(cid string) string         { return "approval_index:conversation:" + cid }
func indexUserKey(uid string) string                 { return "approval_index:user:" + uid }
func indexStatusKey(status Status) string            { return "approval_index:status:" + string(status) }

func (s *Store) persist(ctx context.Context, req *ApprovalRequest) {
	if s.backend == nil {
		return
	}
	data, err := json.Marshal(req)
	if err != nil {
		log.WithError(err).Error("failed to serialize approval request")
		return
	}
	if err := s.backend.SetEX(ctx, approvalKey(req.ID), string(data), 7*24*time.Hour); err != nil {
		log.WithError(err).Error("failed to persist approval request")
	}
}

func (s *Store) index(ctx context.Context, req *ApprovalRequest) {
	if s.backend == nil {
		return
	}
	_ = s.backend.SAdd(ctx, indexConversationKey(req.ConversationID), req.ID)
	_ = s.backend.SAdd(ctx, indexUserKey(req.UserID), req.ID)
	_ = s.backend.SAdd(ctx, indexStatusKey(req.Status), req.ID)
}

func (s *Store) reindexStatus(ctx context.Context, id string, newStatus Status) {
	if s.backend == nil {
		return
	}
	for _, st := range []Status{StatusPending, StatusApproved, StatusDenied, StatusTimeout, StatusCancelled} {
		if st != newStatus {
			_ = s.backend.SRem(ctx, indexStatusKey(st), id)
		}
	}
	_ = s.backend.SAdd(ctx, indexStatusKey(newStatus), id)
}
