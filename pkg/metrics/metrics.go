package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the orchestrator records against.
// It is registered once per process (or per registry in tests) and handed
// out to every component that needs to record something.
type Metrics struct {
	AgentRequestsTotal   *prometheus.CounterVec
	AgentRequestDuration *prometheus.HistogramVec
	AgentTokensTotal     *prometheus.CounterVec
	AgentCostUSDTotal    *prometheus.CounterVec
	AgentErrorsTotal     *prometheus.CounterVec

	ActiveConversations   prometheus.Gauge
	ConversationTurnsTotal *prometheus.CounterVec
	MessageSizeBytes      prometheus.Histogram
	RetryAttemptsTotal    *prometheus.CounterVec
	RateLimitHitsTotal    *prometheus.CounterVec

	CircuitBreakerState   *prometheus.GaugeVec
	CircuitBreakerTrips   *prometheus.CounterVec
	OrchestratorHealth    *prometheus.GaugeVec
	ApprovalsPending      prometheus.Gauge
	ApprovalsDecided      *prometheus.CounterVec
	PausedConversations   prometheus.Gauge
	BudgetBreachesTotal   *prometheus.CounterVec
	TurnLatencySeconds    *prometheus.HistogramVec
}

// NewMetrics constructs and registers every collector against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		AgentRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_agent_requests_total",
			Help: "Total agent requests by agent name, type, and status.",
		}, []string{"agent_name", "agent_type", "status"}),

		AgentRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentpipe_agent_request_duration_seconds",
			Help:    "Agent request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_name", "agent_type"}),

		AgentTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_agent_tokens_total",
			Help: "Total tokens consumed by agent and token type (prompt/completion).",
		}, []string{"agent_name", "token_type"}),

		AgentCostUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_agent_cost_usd_total",
			Help: "Total estimated cost in USD by agent.",
		}, []string{"agent_name"}),

		AgentErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_agent_errors_total",
			Help: "Total errors by agent and error classification.",
		}, []string{"agent_name", "error_class"}),

		ActiveConversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentpipe_active_conversations",
			Help: "Current number of active conversations.",
		}),

		ConversationTurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_conversation_turns_total",
			Help: "Total conversation turns by routing mode.",
		}, []string{"mode"}),

		MessageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentpipe_message_size_bytes",
			Help:    "Message size distribution in bytes.",
			Buckets: prometheus.ExponentialBuckets(32, 2, 12),
		}),

		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_retry_attempts_total",
			Help: "Total retry attempts by agent.",
		}, []string{"agent_name"}),

		RateLimitHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_rate_limit_hits_total",
			Help: "Total rate limit hits by agent.",
		}, []string{"agent_name"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentpipe_circuit_breaker_state",
			Help: "Circuit breaker state by agent (0=closed, 1=half_open, 2=open).",
		}, []string{"agent_name"}),

		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_circuit_breaker_trips_total",
			Help: "Total circuit breaker trips (closed/half-open to open transitions) by agent.",
		}, []string{"agent_name"}),

		OrchestratorHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentpipe_orchestrator_health",
			Help: "Last observed orchestrator health by id (1=healthy, 0=unhealthy).",
		}, []string{"orchestrator_id"}),

		ApprovalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentpipe_approvals_pending",
			Help: "Current number of approval requests awaiting a decision.",
		}),

		ApprovalsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_approvals_decided_total",
			Help: "Total approval requests decided, by outcome.",
		}, []string{"outcome"}),

		PausedConversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentpipe_paused_conversations",
			Help: "Current number of conversations paused awaiting approval.",
		}),

		BudgetBreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpipe_budget_breaches_total",
			Help: "Total conversations that breached their token/cost budget.",
		}, []string{"conversation_id"}),

		TurnLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentpipe_turn_latency_seconds",
			Help:    "End-to-end latency of a single conversation turn.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
	}

	reg.MustRegister(
		m.AgentRequestsTotal,
		m.AgentRequestDuration,
		m.AgentTokensTotal,
		m.AgentCostUSDTotal,
		m.AgentErrorsTotal,
		m.ActiveConversations,
		m.ConversationTurnsTotal,
		m.MessageSizeBytes,
		m.RetryAttemptsTotal,
		m.RateLimitHitsTotal,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.OrchestratorHealth,
		m.ApprovalsPending,
		m.ApprovalsDecided,
		m.PausedConversations,
		m.BudgetBreachesTotal,
		m.TurnLatencySeconds,
	)

	return m
}

// RecordAgentRequest records the outcome of a single agent invocation.
func (m *Metrics) RecordAgentRequest(agentName, agentType, status string) {
	m.AgentRequestsTotal.WithLabelValues(agentName, agentType, status).Inc()
}

// RecordAgentDuration records how long a single agent invocation took.
func (m *Metrics) RecordAgentDuration(agentName, agentType string, seconds float64) {
	m.AgentRequestDuration.WithLabelValues(agentName, agentType).Observe(seconds)
}

// RecordAgentTokens records prompt and completion token counts for an agent.
func (m *Metrics) RecordAgentTokens(agentName string, promptTokens, completionTokens int) {
	m.AgentTokensTotal.WithLabelValues(agentName, "prompt").Add(float64(promptTokens))
	m.AgentTokensTotal.WithLabelValues(agentName, "completion").Add(float64(completionTokens))
}

// RecordAgentCost adds to an agent's cumulative estimated USD cost.
func (m *Metrics) RecordAgentCost(agentName string, usd float64) {
	m.AgentCostUSDTotal.WithLabelValues(agentName).Add(usd)
}

// RecordAgentError records a classified error for an agent.
func (m *Metrics) RecordAgentError(agentName, errorClass string) {
	m.AgentErrorsTotal.WithLabelValues(agentName, errorClass).Inc()
}

// SetCircuitBreakerState publishes the numeric state of an agent's breaker.
func (m *Metrics) SetCircuitBreakerState(agentName string, state int) {
	m.CircuitBreakerState.WithLabelValues(agentName).Set(float64(state))
}

// RecordCircuitBreakerTrip records a transition into the open state.
func (m *Metrics) RecordCircuitBreakerTrip(agentName string) {
	m.CircuitBreakerTrips.WithLabelValues(agentName).Inc()
}

// SetOrchestratorHealth publishes the last observed health of an orchestrator.
func (m *Metrics) SetOrchestratorHealth(orchestratorID string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.OrchestratorHealth.WithLabelValues(orchestratorID).Set(v)
}

// SetApprovalsPending publishes the current pending-approval count.
func (m *Metrics) SetApprovalsPending(n int) {
	m.ApprovalsPending.Set(float64(n))
}

// RecordApprovalDecision records a terminal approval outcome.
func (m *Metrics) RecordApprovalDecision(outcome string) {
	m.ApprovalsDecided.WithLabelValues(outcome).Inc()
}

// SetPausedConversations publishes the current paused-conversation count.
func (m *Metrics) SetPausedConversations(n int) {
	m.PausedConversations.Set(float64(n))
}

// RecordBudgetBreach records the first budget breach for a conversation.
func (m *Metrics) RecordBudgetBreach(conversationID string) {
	m.BudgetBreachesTotal.WithLabelValues(conversationID).Inc()
}

// RecordTurnLatency records the end-to-end latency of one turn.
func (m *Metrics) RecordTurnLatency(mode string, seconds float64) {
	m.TurnLatencySeconds.WithLabelValues(mode).Observe(seconds)
}

// RecordConversationTurn increments the turn counter for a routing mode.
func (m *Metrics) RecordConversationTurn(mode string) {
	m.ConversationTurnsTotal.WithLabelValues(mode).Inc()
}

// RecordRetryAttempt records a retry for an agent.
func (m *Metrics) RecordRetryAttempt(agentName string) {
	m.RetryAttemptsTotal.WithLabelValues(agentName).Inc()
}

// RecordRateLimitHit records a rate-limit throttle for an agent.
func (m *Metrics) RecordRateLimitHit(agentName string) {
	m.RateLimitHitsTotal.WithLabelValues(agentName).Inc()
}

// RecordMessageSize records the size in bytes of a processed message.
func (m *Metrics) RecordMessageSize(bytes int) {
	m.MessageSizeBytes.Observe(float64(bytes))
}
