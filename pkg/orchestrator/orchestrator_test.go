package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/config"
	"github.com/shawkym/agentpipe-orchestrator/pkg/persistence"
	"github.com/shawkym/agentpipe-orchestrator/pkg/registry"
)

// fakeModelClient answers every Invoke with a fixed reply, optionally split
// into chunks to exercise the streaming multiplexer the way a real SSE
// provider would.
type fakeModelClient struct {
	chunks []string
	err    error
}

func (f *fakeModelClient) Invoke(ctx context.Context, a *agent.Agent, transcript []agent.Message, tools []agent.Tool, stream bool) (<-chan agent.UpstreamEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan agent.UpstreamEvent, len(f.chunks))
	for _, c := range f.chunks {
		out <- agent.UpstreamEvent{DeltaContent: c}
	}
	close(out)
	return out, nil
}

// sequencedModelClient answers each Invoke call with the next entry in
// replies, regardless of which agent called it, so a test can script a
// group chat that runs a known number of turns before terminating.
type sequencedModelClient struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (f *sequencedModelClient) Invoke(ctx context.Context, a *agent.Agent, transcript []agent.Message, tools []agent.Tool, stream bool) (<-chan agent.UpstreamEvent, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	reply := "no more scripted replies"
	if idx < len(f.replies) {
		reply = f.replies[idx]
	}
	out := make(chan agent.UpstreamEvent, 1)
	out <- agent.UpstreamEvent{DeltaContent: reply}
	close(out)
	return out, nil
}

func groupTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agents = []agent.Definition{
		{ID: "alpha", DisplayName: "Alpha", Model: "test-model", SystemPrompt: "You are Alpha."},
		{ID: "beta", DisplayName: "Beta", Model: "test-model", SystemPrompt: "You are Beta."},
		{ID: "gamma", DisplayName: "Gamma", Model: "test-model", SystemPrompt: "You are Gamma."},
	}
	cfg.Orchestrator.MaxGroupTurns = 10
	return cfg
}

func TestOrchestrate_GroupChatTerminatesOnMarker(t *testing.T) {
	cfg := groupTestConfig()
	reg, err := registry.LoadDefinitions(cfg.Agents)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}

	client := &sequencedModelClient{replies: []string{
		"let's look into this",
		"here is my analysis",
		"agreed, DONE",
	}}

	o, err := New(cfg, Deps{
		Registry:    reg,
		ModelClient: client,
		Persistence: persistence.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := o.Orchestrate(context.Background(), "three of you should weigh in on this", nil, "user-1", "")

	if result.Kind != ResultOK {
		t.Fatalf("expected ResultOK, got %s (err=%s)", result.Kind, result.Error)
	}
	if result.Routing != "multi_agent" {
		t.Fatalf("expected multi_agent routing, got %q", result.Routing)
	}
	if result.TurnCount != 3 {
		t.Fatalf("expected the group chat to stop at turn 3 on the termination marker, got %d", result.TurnCount)
	}
	for _, id := range []string{"alpha", "beta", "gamma"} {
		if !containsString(result.AgentsUsed, id) {
			t.Fatalf("expected agents_used %v to include %q", result.AgentsUsed, id)
		}
	}
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agents = []agent.Definition{
		{ID: "alpha", DisplayName: "Alpha", Model: "test-model", SystemPrompt: "You are Alpha."},
		{ID: "beta", DisplayName: "Beta", Model: "test-model", SystemPrompt: "You are Beta."},
	}
	cfg.Orchestrator.MaxGroupTurns = 3
	cfg.HITL.Enabled = true
	return cfg
}

func newTestOrchestrator(t *testing.T, client agent.ModelClient) *Orchestrator {
	t.Helper()
	cfg := testConfig()

	reg, err := registry.LoadDefinitions(cfg.Agents)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}

	o, err := New(cfg, Deps{
		Registry:    reg,
		ModelClient: client,
		Persistence: persistence.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestOrchestrate_SingleAgentReturnsResponse(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModelClient{chunks: []string{"hello ", "world"}})

	result := o.Orchestrate(context.Background(), "hi there", nil, "user-1", "")

	if result.Kind != ResultOK {
		t.Fatalf("expected ResultOK, got %s (err=%s)", result.Kind, result.Error)
	}
	if result.Response != "hello world" {
		t.Fatalf("expected concatenated response, got %q", result.Response)
	}
	if result.ConversationID == "" {
		t.Fatal("expected a generated conversation id")
	}
	if result.TurnCount < 1 {
		t.Fatalf("expected at least one turn, got %d", result.TurnCount)
	}
}

func TestOrchestrate_PropagatesModelClientError(t *testing.T) {
	boom := context.DeadlineExceeded
	o := newTestOrchestrator(t, &fakeModelClient{err: boom})

	result := o.Orchestrate(context.Background(), "hi there", nil, "user-1", "")

	if result.Kind != ResultError {
		t.Fatalf("expected ResultError, got %s", result.Kind)
	}
	if result.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestOrchestrate_ResumesExistingConversation(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModelClient{chunks: []string{"first"}})

	first := o.Orchestrate(context.Background(), "turn one", nil, "user-1", "")
	if first.Kind != ResultOK {
		t.Fatalf("first turn failed: %s", first.Error)
	}

	second := o.Orchestrate(context.Background(), "turn two", nil, "user-1", first.ConversationID)
	if second.Kind != ResultOK {
		t.Fatalf("second turn failed: %s", second.Error)
	}
	if second.TurnCount <= first.TurnCount {
		t.Fatalf("expected turn count to grow across calls, got %d then %d", first.TurnCount, second.TurnCount)
	}
}

func TestHealth_ReportsLoadedAgents(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModelClient{chunks: []string{"ok"}})

	h := o.Health()
	if h.AgentCount != 2 {
		t.Fatalf("expected 2 agents, got %d", h.AgentCount)
	}
	if h.Status != "healthy" {
		t.Fatalf("expected healthy status with a closed breaker, got %s", h.Status)
	}
}

func TestLimiterFor_ReturnsSameLimiterForSameAgent(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModelClient{chunks: []string{"ok"}})
	a := &agent.Agent{ID: "alpha", RateLimit: 5, RateLimitBurst: 2}

	l1 := o.limiterFor(a)
	l2 := o.limiterFor(a)
	if l1 != l2 {
		t.Fatal("expected the same limiter instance to be reused for the same agent id")
	}
}

func TestLimiterFor_ZeroRateNeverBlocks(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModelClient{chunks: []string{"ok"}})
	a := &agent.Agent{ID: "unbounded", RateLimit: 0}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 100; i++ {
		if err := o.limiterFor(a).Wait(ctx); err != nil {
			t.Fatalf("expected a zero rate limit to never block, got %v on call %d", err, i)
		}
	}
}
