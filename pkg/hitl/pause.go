package hitl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/metrics"
	"github.com/shawkym/agentpipe-orchestrator/pkg/scheduler"
)

const sweepJobName = "pause_timeout_sweep"

// ErrAlreadyPaused is returned when Pause is called for a conversation that
// already has an active pause.
var ErrAlreadyPaused = errors.New("hitl: conversation already paused")

// ResumeContext is handed to a conversation's resume callback once its
// pause is lifted, by approval decision or by timeout.
type ResumeContext struct {
	ConversationID   string
	ApprovalID       string
	Status           Status
	Rationale        string
	PausedDurationS  float64
	OriginalContext  interface{}
	PendingMessage   interface{}
}

// ResumeFunc restarts a conversation's processing loop from where it was
// paused. Errors are logged and swallowed; a resume must never panic out.
type ResumeFunc func(ctx context.Context, rc ResumeContext) error

// PausedConversation is one conversation currently blocked on an approval.
type PausedConversation struct {
	ConversationID  string
	ApprovalID      string
	PausedAt        time.Time
	Reason          string
	ContextSnapshot interface{}
	PendingMessage  interface{}
	Resume          ResumeFunc
	Timeout         time.Duration
}

func (p PausedConversation) expired(now time.Time) bool {
	return p.Timeout > 0 && now.Sub(p.PausedAt) >= p.Timeout
}

// Listener is invoked on pause/resume/timeout/cancel events. Listeners for a
// given conversation run sequentially in registration order; a listener's
// panic is isolated and never affects other listeners or the manager.
type Listener func(conversationID string, pc PausedConversation)

// Manager bridges the Approval Store to paused conversations: pausing on
// auto-pause-eligible risk, resuming on decision or timeout.
type Manager struct {
	mu      sync.Mutex
	paused  map[string]PausedConversation
	store   *Store
	metrics *metrics.Metrics

	onPause   []Listener
	onResume  []Listener
	onTimeout []Listener
	onCancel  []Listener

	tickInterval time.Duration
	sched        *scheduler.Scheduler
}

// NewManager constructs a Manager bound to store. The timeout-sweep
// interval defaults to 30s when tickInterval <= 0.
func NewManager(store *Store, m *metrics.Metrics, tickInterval time.Duration) *Manager {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	mgr := &Manager{
		paused:       make(map[string]PausedConversation),
		store:        store,
		metrics:      m,
		tickInterval: tickInterval,
		sched:        scheduler.New(),
	}
	if store != nil {
		store.SetNotifier(mgr)
	}
	return mgr
}

// OnPause registers a listener fired after a successful Pause.
func (m *Manager) OnPause(l Listener) { m.onPause = append(m.onPause, l) }

// OnResume registers a listener fired after a successful Resume.
func (m *Manager) OnResume(l Listener) { m.onResume = append(m.onResume, l) }

// OnTimeout registers a listener fired when a pause expires.
func (m *Manager) OnTimeout(l Listener) { m.onTimeout = append(m.onTimeout, l) }

// OnCancel registers a listener fired after Cancel.
func (m *Manager) OnCancel(l Listener) { m.onCancel = append(m.onCancel, l) }

// Pause registers conversationID as blocked on approvalID. It fails if the
// conversation already has an active pause.
func (m *Manager) Pause(conversationID, approvalID, reason string, snapshot, pendingMessage interface{}, resume ResumeFunc, timeout time.Duration) error {
	m.mu.Lock()
	if _, exists := m.paused[conversationID]; exists {
		m.mu.Unlock()
		return ErrAlreadyPaused
	}

	pc := PausedConversation{
		ConversationID:  conversationID,
		ApprovalID:      approvalID,
		PausedAt:        time.Now(),
		Reason:          reason,
		ContextSnapshot: snapshot,
		PendingMessage:  pendingMessage,
		Resume:          resume,
		Timeout:         timeout,
	}
	m.paused[conversationID] = pc
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetPausedConversations(m.count())
	}

	log.WithFields(map[string]interface{}{
		"conversation_id": conversationID,
		"approval_id":     approvalID,
	}).Info("conversation paused for approval")

	m.fire(m.onPause, conversationID, pc)
	return nil
}

// Resume lifts conversationID's pause, invoking its resume callback with the
// outcome of approval. Swallows resume callback errors (logged).
func (m *Manager) Resume(ctx context.Context, conversationID string, approval ApprovalRequest) {
	m.mu.Lock()
	pc, ok := m.paused[conversationID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.paused, conversationID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetPausedConversations(m.count())
	}

	rc := ResumeContext{
		ConversationID:  conversationID,
		ApprovalID:      approval.ID,
		Status:          approval.Status,
		Rationale:       approval.Rationale,
		PausedDurationS: time.Since(pc.PausedAt).Seconds(),
		OriginalContext: pc.ContextSnapshot,
		PendingMessage:  pc.PendingMessage,
	}

	if pc.Resume != nil {
		if err := safeResume(pc.Resume, ctx, rc); err != nil {
			log.WithFields(map[string]interface{}{
				"conversation_id": conversationID,
				"approval_id":     approval.ID,
			}).WithError(err).Error("resume callback failed")
		}
	}

	log.WithField("conversation_id", conversationID).Info("conversation resumed")
	m.fire(m.onResume, conversationID, pc)
}

func safeResume(fn ResumeFunc, ctx context.Context, rc ResumeContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("resume callback panicked")
		}
	}()
	return fn(ctx, rc)
}

// Cancel unilaterally clears conversationID's pause without consulting the
// Approval Store.
func (m *Manager) Cancel(conversationID, reason string) {
	m.mu.Lock()
	pc, ok := m.paused[conversationID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.paused, conversationID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetPausedConversations(m.count())
	}

	log.WithField("conversation_id", conversationID).Info("conversation pause cancelled")
	m.fire(m.onCancel, conversationID, pc)
}

// NotifyApprovalCreated implements PauseNotifier. It is a no-op: Pause is
// always called explicitly by the orchestrator once it has the resume
// callback and context snapshot in hand, which the Approval Store cannot
// construct on its own.
func (m *Manager) NotifyApprovalCreated(approval ApprovalRequest) {}

// NotifyApprovalDecided implements PauseNotifier: resumes the conversation
// once its linked approval reaches a terminal state.
func (m *Manager) NotifyApprovalDecided(approval ApprovalRequest) {
	m.Resume(context.Background(), approval.ConversationID, approval)
}

func (m *Manager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.paused)
}

// Count reports the number of conversations currently paused.
func (m *Manager) Count() int {
	return m.count()
}

// IsPaused reports whether conversationID currently has an active pause.
func (m *Manager) IsPaused(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.paused[conversationID]
	return ok
}

func (m *Manager) fire(listeners []Listener, conversationID string, pc PausedConversation) {
	for _, l := range listeners {
		invokeListener(l, conversationID, pc)
	}
}

func invokeListener(l Listener, conversationID string, pc PausedConversation) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{
				"conversation_id": conversationID,
				"panic":           r,
			}).Error("pause manager listener panicked")
		}
	}()
	l(conversationID, pc)
}

// Start launches the 30s (by default) timeout sweep as a cron job.
func (m *Manager) Start(ctx context.Context) {
	if err := m.sched.AddFunc(sweepJobName, scheduler.EverySpec(m.tickInterval), m.sweep); err != nil {
		log.WithError(err).Error("failed to schedule pause timeout sweep")
		return
	}
	m.sched.Start(ctx)
}

// Stop signals the sweep loop to exit and waits briefly for it to finish.
func (m *Manager) Stop() {
	m.sched.Stop()
	m.sched.Remove(sweepJobName)
}

func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var expired []PausedConversation
	for cid, pc := range m.paused {
		if pc.expired(now) {
			expired = append(expired, pc)
			_ = cid
		}
	}
	m.mu.Unlock()

	for _, pc := range expired {
		if m.store != nil {
			if snapshot, ok := m.store.TimeoutApproval(ctx, pc.ApprovalID); ok {
				// Resume clears the pause itself; clearing it here first
				// would make Resume skip the resume callback.
				m.fire(m.onTimeout, pc.ConversationID, pc)
				m.Resume(ctx, pc.ConversationID, snapshot)
				continue
			}
		}

		m.mu.Lock()
		delete(m.paused, pc.ConversationID)
		m.mu.Unlock()
		m.fire(m.onTimeout, pc.ConversationID, pc)
	}
}
