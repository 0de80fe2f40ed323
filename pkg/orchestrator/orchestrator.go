// Package orchestrator wires every other component into the turn-taking
// conversation engine: it routes a message to a single agent or a
// selector-driven group, gates each turn through a circuit breaker and an
// optional safety check, tracks tokens and cost per turn, and interposes
// human approval on risky actions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/breaker"
	"github.com/shawkym/agentpipe-orchestrator/pkg/config"
	"github.com/shawkym/agentpipe-orchestrator/pkg/health"
	"github.com/shawkym/agentpipe-orchestrator/pkg/hitl"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/metrics"
	"github.com/shawkym/agentpipe-orchestrator/pkg/middleware"
	"github.com/shawkym/agentpipe-orchestrator/pkg/persistence"
	"github.com/shawkym/agentpipe-orchestrator/pkg/ratelimit"
	"github.com/shawkym/agentpipe-orchestrator/pkg/registry"
	"github.com/shawkym/agentpipe-orchestrator/pkg/selector"
	"github.com/shawkym/agentpipe-orchestrator/pkg/stream"
	"github.com/shawkym/agentpipe-orchestrator/pkg/tokens"
	"github.com/shawkym/agentpipe-orchestrator/pkg/tracing"
)

// ObserverFunc is notified with the outcome of a conversation turn that
// completed asynchronously, after a resume from an approval decision.
type ObserverFunc func(conversationID string, result Result)

// Orchestrator composes the registry, selector, circuit breaker, token
// tracker, HITL store/pause manager, and streaming multiplexer into the
// single entry point a caller drives a conversation through.
type Orchestrator struct {
	registry    *registry.Registry
	modelClient agent.ModelClient
	tools       ToolBinding
	safety      SafetyGuardian
	healthMon   *health.Monitor

	breaker    *breaker.Breaker
	tracker    *tokens.Tracker
	approvals  *hitl.Store
	pauseMgr   *hitl.Manager
	thresholds []hitl.Threshold

	tracer    tracing.Tracer
	metrics   *metrics.Metrics
	streamCfg stream.Config
	cfg       config.OrchestratorConfig
	outbound  *middleware.Chain

	mu            sync.RWMutex
	conversations map[string]*conversationState

	obsMu     sync.Mutex
	observers []ObserverFunc

	limiterMu sync.Mutex
	limiters  map[string]*ratelimit.Limiter

	initTime time.Time
}

// limiterFor returns the per-agent request limiter, lazily built from the
// agent's own RateLimit/RateLimitBurst definition the first time it is
// invoked. An agent with RateLimit <= 0 gets a disabled limiter that never
// blocks, matching the provider's own protection against runaway loops
// rather than one the orchestrator imposes by default.
func (o *Orchestrator) limiterFor(a *agent.Agent) *ratelimit.Limiter {
	o.limiterMu.Lock()
	defer o.limiterMu.Unlock()

	if l, ok := o.limiters[a.ID]; ok {
		return l
	}
	l := ratelimit.NewLimiter(a.RateLimit, a.RateLimitBurst)
	o.limiters[a.ID] = l
	return l
}

// conversationState is the running transcript and turn-taking memory for
// one conversation. It outlives a single Orchestrate call: a group
// conversation's state persists across the pause/resume boundary.
type conversationState struct {
	mu               sync.Mutex
	messages         []agent.Message
	previousSpeakers []string
	phase            selector.Phase
	turn             int
}

func (c *conversationState) snapshot() conversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conversationSnapshot{
		Messages:         append([]agent.Message(nil), c.messages...),
		PreviousSpeakers: append([]string(nil), c.previousSpeakers...),
		Phase:            c.phase,
		Turn:             c.turn,
	}
}

// conversationSnapshot is a point-in-time copy of a conversationState, so
// routing and speaker selection can read the transcript without holding
// the live state's lock.
type conversationSnapshot struct {
	Messages         []agent.Message
	PreviousSpeakers []string
	Phase            selector.Phase
	Turn             int
}

// Deps bundles the external collaborators New needs beyond cfg. Registry
// and ModelClient are required; New rejects a nil one. A nil Tracer falls
// back to a no-op tracer, a nil Metrics skips metric recording, and Safety,
// Tools, and HealthMon are optional.
type Deps struct {
	Registry    *registry.Registry
	ModelClient agent.ModelClient
	Persistence persistence.Store
	Tracer      tracing.Tracer
	Metrics     *metrics.Metrics
	Safety      SafetyGuardian
	Tools       ToolBinding
	HealthMon   *health.Monitor
}

// New constructs an Orchestrator from cfg and its runtime dependencies.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if deps.ModelClient == nil {
		return nil, errors.New("orchestrator: model client is required")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.NewNoop()
	}

	br := breaker.NewBreaker("orchestrator", breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		HalfOpenMaxCalls: cfg.CircuitBreaker.HalfOpenMaxCalls,
	}, deps.Metrics)

	tracker := tokens.NewTracker(cfg.Budget.DefaultLimitUSD)

	store := hitl.NewStore(deps.Persistence, nil, deps.Metrics)
	pauseMgr := hitl.NewManager(store, deps.Metrics, 30*time.Second)

	o := &Orchestrator{
		registry:      deps.Registry,
		modelClient:   deps.ModelClient,
		tools:         deps.Tools,
		safety:        deps.Safety,
		healthMon:     deps.HealthMon,
		breaker:       br,
		tracker:       tracker,
		approvals:     store,
		pauseMgr:      pauseMgr,
		thresholds:    buildThresholds(cfg.HITL),
		tracer:        tracer,
		metrics:       deps.Metrics,
		streamCfg:     stream.Config{WindowSize: cfg.Stream.WindowSize, MaxBufferSize: cfg.Stream.MaxBufferSize, HeartbeatInterval: cfg.Stream.HeartbeatInterval},
		cfg:           cfg.Orchestrator,
		conversations: make(map[string]*conversationState),
		limiters:      make(map[string]*ratelimit.Limiter),
		outbound: middleware.NewChain(
			middleware.ErrorRecoveryMiddleware(),
			middleware.LoggingMiddleware(),
			middleware.SanitizationMiddleware(false),
			middleware.EmptyContentValidationMiddleware(),
		),
		initTime: time.Now(),
	}

	return o, nil
}

// OnResult registers an observer notified with the eventual outcome of a
// conversation that was paused and later resumed, since Orchestrate already
// returned a "paused" Result synchronously by that point.
func (o *Orchestrator) OnResult(fn ObserverFunc) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, fn)
}

func (o *Orchestrator) notifyObservers(conversationID string, result Result) {
	o.obsMu.Lock()
	observers := append([]ObserverFunc(nil), o.observers...)
	o.obsMu.Unlock()

	for _, fn := range observers {
		invokeObserver(fn, conversationID, result)
	}
}

func (o *Orchestrator) observerCount() int {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	return len(o.observers)
}

func invokeObserver(fn ObserverFunc, conversationID string, result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{
				"conversation_id": conversationID,
				"panic":           r,
			}).Error("orchestrator observer panicked")
		}
	}()
	fn(conversationID, result)
}

func (o *Orchestrator) stateFor(conversationID string) *conversationState {
	o.mu.RLock()
	st, ok := o.conversations[conversationID]
	o.mu.RUnlock()
	if ok {
		return st
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.conversations[conversationID]; ok {
		return st
	}
	st = &conversationState{}
	o.conversations[conversationID] = st
	return st
}

// Orchestrate routes message through the conversation pipeline and always
// returns a Result, never an error: transient failures, policy rejections,
// and pauses are all represented in the returned Result's Kind.
func (o *Orchestrator) Orchestrate(ctx context.Context, message string, convContext map[string]interface{}, userID, conversationID string) Result {
	start := time.Now()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrate", map[string]string{"conversation_id": conversationID})
	defer span.End()

	var result Result
	callErr := o.breaker.Call(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("orchestrator: recovered panic: %v", r)
			}
		}()
		result, err = o.runPipeline(ctx, message, convContext, userID, conversationID)
		return err
	})

	result.ConversationID = conversationID
	result.DurationSeconds = time.Since(start).Seconds()

	if errors.Is(callErr, breaker.ErrOpen) || errors.Is(callErr, breaker.ErrHalfOpenSaturated) {
		return Result{
			Kind:            ResultError,
			ConversationID:  conversationID,
			Error:           "orchestrator temporarily unavailable: circuit breaker open",
			CircuitBreaker:  true,
			DurationSeconds: time.Since(start).Seconds(),
		}
	}
	if callErr != nil {
		span.SetError(callErr)
		result.Kind = ResultError
		result.Error = callErr.Error()
		return result
	}

	return result
}

// runPipeline implements steps 2-7: safety gate, routing, single/group
// dispatch. Its error return is reserved for failures that should count
// against the circuit breaker; policy outcomes are represented in Result
// with a nil error.
func (o *Orchestrator) runPipeline(ctx context.Context, message string, convContext map[string]interface{}, userID, conversationID string) (Result, error) {
	if o.safety != nil {
		ok, reason, err := o.safety.Validate(ctx, message, convContext)
		if err != nil {
			return Result{}, fmt.Errorf("orchestrator: safety guardian: %w", err)
		}
		if !ok {
			log.WithFields(map[string]interface{}{
				"conversation_id": conversationID,
				"reason":          reason,
			}).Warn("message blocked by safety guardian")
			return Result{Kind: ResultBlocked, Blocked: &BlockedInfo{Reason: reason}}, nil
		}
	}

	st := o.stateFor(conversationID)

	targetAgent, _ := convContext["target_agent"].(string)
	var resolvedTarget string
	if targetAgent != "" {
		if a, ok := o.registry.Get(targetAgent); ok {
			resolvedTarget = a.ID
		}
	}

	snap := st.snapshot()
	candidates := o.registry.List()
	selCtx := selector.BuildContext(message, snap.Messages, snap.PreviousSpeakers, snap.Turn, snap.Phase, resolvedTarget)

	single, singleAgentID := false, ""
	if resolvedTarget != "" {
		single, singleAgentID = true, resolvedTarget
	} else if id, ok := selector.ShouldUseSingleAgent(selCtx, candidates); ok {
		single, singleAgentID = true, id
	}

	userMsg := agent.Message{Source: "user", Kind: agent.KindText, Content: message, Timestamp: time.Now()}
	st.mu.Lock()
	st.messages = append(st.messages, userMsg)
	st.mu.Unlock()

	if single {
		return o.runSingleAgent(ctx, st, singleAgentID, conversationID, userID, convContext)
	}
	return o.runGroup(ctx, st, conversationID, userID, convContext)
}

func prependBounded(speakers []string, id string, max int) []string {
	out := append([]string{id}, speakers...)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func lastNonEmptyAgentMessage(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Source != "user" && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

var terminationMarkers = []string{"DONE", "TERMINATE", "END_CONVERSATION"}

// containsTerminationMarker reports whether content carries one of the
// termination markers as a literal substring, matching the reference
// implementation's `marker in last_message.content` check: "pre-TERMINATE"
// or "TERMINATEnow" both terminate, same as a standalone "TERMINATE".
func containsTerminationMarker(content string) bool {
	for _, marker := range terminationMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) costBreakdown(conversationID string) map[string]float64 {
	tl, ok := o.tracker.GetTimeline(conversationID)
	if !ok {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(tl.AgentUsage))
	for id, u := range tl.AgentUsage {
		out[id] = tokens.MicrosToUSD(u.TotalCostMicros)
	}
	return out
}

func (o *Orchestrator) agentsUsed(conversationID string) []string {
	tl, ok := o.tracker.GetTimeline(conversationID)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(tl.AgentUsage))
	for id := range tl.AgentUsage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) turnCount(conversationID string) int {
	tl, ok := o.tracker.GetTimeline(conversationID)
	if !ok {
		return 0
	}
	return len(tl.Turns)
}

func (o *Orchestrator) budgetBreached(conversationID string) bool {
	tl, ok := o.tracker.GetTimeline(conversationID)
	return ok && tl.BudgetBreached
}
