package orchestrator

import (
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/breaker"
	"github.com/shawkym/agentpipe-orchestrator/pkg/hitl"
)

// HealthMetrics is the subset of component state surfaced by Health that
// changes turn-to-turn rather than being fixed at construction.
type HealthMetrics struct {
	CircuitBreakerState string
	PausedConversations int
	PendingApprovals    int
}

// HealthStatus is the orchestrator's self-report, consumed by a status
// endpoint or CLI command rather than by the conversation path itself.
type HealthStatus struct {
	Status             string
	Initialized        bool
	AgentCount         int
	Metrics            HealthMetrics
	HasSafety          bool
	HasRAG             bool
	Observers          int
	InitializationTime time.Time
}

// Health reports the orchestrator's current operating state. It never
// blocks on the conversation path: every value comes from a snapshot or an
// atomic counter already maintained by its owning component.
func (o *Orchestrator) Health() HealthStatus {
	status := o.breaker.GetStatus()

	pending := o.approvals.ListApprovals(hitl.ListFilter{Status: hitl.StatusPending})

	overall := "healthy"
	if status.State == breaker.StateOpen {
		overall = "degraded"
	}
	agentCount := o.registry.Len()
	if agentCount == 0 {
		overall = "unhealthy"
	}

	return HealthStatus{
		Status:      overall,
		Initialized: true,
		AgentCount:  agentCount,
		Metrics: HealthMetrics{
			CircuitBreakerState: string(status.State),
			PausedConversations: o.pauseMgr.Count(),
			PendingApprovals:    len(pending),
		},
		HasSafety:          o.safety != nil,
		HasRAG:             o.tools != nil,
		Observers:          o.observerCount(),
		InitializationTime: o.initTime,
	}
}
