package selector

import (
	"testing"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

func mkAgent(id string, affinity map[string]float64, domains, keywords []string, maxComplexity, quality float64, avgLatency time.Duration) *agent.Agent {
	return agent.FromDefinition(agent.Definition{
		ID:                id,
		DisplayName:       id,
		SystemPrompt:      "x",
		Model:             "gpt-4",
		ExpertiseDomains:  domains,
		Keywords:          keywords,
		MaxComplexity:     maxComplexity,
		Quality:           quality,
		AvgLatencySeconds: avgLatency.Seconds(),
		PhaseAffinity:     affinity,
	})
}

func TestDetectPhase_KeywordBias(t *testing.T) {
	ctx := BuildContext("let's implement and deploy this now", nil, nil, 12, "", "")
	if ctx.Phase != PhaseExecution {
		t.Fatalf("expected execution phase, got %s", ctx.Phase)
	}
}

func TestDetectPhase_TurnNumberBias(t *testing.T) {
	ctx := BuildContext("hello there", nil, nil, 1, "", "")
	if ctx.Phase != PhaseDiscovery {
		t.Fatalf("expected discovery phase bias on early turn, got %s", ctx.Phase)
	}
}

func TestBuildContext_ExtractsRequiredExpertiseAndCollaboration(t *testing.T) {
	ctx := BuildContext("we need to collaborate on the budget and revenue roadmap", nil, nil, 1, "", "")
	if !ctx.CollaborationNeeded {
		t.Error("expected collaboration indicator to be detected")
	}
	if _, ok := ctx.RequiredExpertise["finance"]; !ok {
		t.Errorf("expected finance expertise to be extracted, got %v", ctx.RequiredExpertise)
	}
}

func TestCalculateComplexity_LongTechnicalMessage(t *testing.T) {
	long := make([]byte, 1200)
	for i := range long {
		long[i] = 'a'
	}
	msg := string(long) + " api architecture implementation algorithm security compliance"
	c := calculateComplexity(msg, 25)
	if c != 1.0 {
		t.Fatalf("expected complexity clipped to 1.0, got %f", c)
	}
}

func TestCalculateUrgency_ClipsAtOne(t *testing.T) {
	u := calculateUrgency("urgent deadline important asap")
	if u != 1.0 {
		t.Fatalf("expected urgency clipped to 1.0, got %f", u)
	}
}

func TestCalculateUrgency_NoIndicators(t *testing.T) {
	if u := calculateUrgency("just a normal message"); u != 0.0 {
		t.Fatalf("expected 0 urgency, got %f", u)
	}
}

func TestShouldUseSingleAgent_ExplicitTarget(t *testing.T) {
	ctx := SelectionContext{TargetAgent: "reviewer"}
	id, ok := ShouldUseSingleAgent(ctx, nil)
	if !ok || id != "reviewer" {
		t.Fatalf("expected explicit target to route directly, got %q/%v", id, ok)
	}
}

func TestShouldUseSingleAgent_DominantScore(t *testing.T) {
	dominant := mkAgent("expert", map[string]float64{"discovery": 1.0}, []string{"finance"}, nil, 1.0, 1.0, time.Second)
	weak := mkAgent("generalist", map[string]float64{"discovery": 0.1}, nil, nil, 1.0, 0.2, 5*time.Second)

	ctx := BuildContext("revenue budget analysis needed", nil, nil, 1, "", "")
	id, ok := ShouldUseSingleAgent(ctx, []*agent.Agent{dominant, weak})
	if !ok || id != "expert" {
		t.Fatalf("expected dominant agent to win single-agent routing, got %q/%v", id, ok)
	}
}

func TestShouldUseSingleAgent_CloseScoresUseGroupFlow(t *testing.T) {
	a1 := mkAgent("a1", map[string]float64{"discovery": 0.5}, nil, nil, 1.0, 0.5, time.Second)
	a2 := mkAgent("a2", map[string]float64{"discovery": 0.5}, nil, nil, 1.0, 0.5, time.Second)

	ctx := BuildContext("hello", nil, nil, 1, "", "")
	_, ok := ShouldUseSingleAgent(ctx, []*agent.Agent{a1, a2})
	if ok {
		t.Fatal("expected near-identical scores to not trigger single-agent routing")
	}
}

func TestSelect_NoEligibleAgentOnEmptyCandidates(t *testing.T) {
	ctx := BuildContext("hi", nil, nil, 1, "", "")
	_, err := Select(ctx, nil)
	if err != ErrNoEligibleAgent {
		t.Fatalf("expected ErrNoEligibleAgent, got %v", err)
	}
}

func TestSelect_RecencyPenaltyDiscouragesRepeat(t *testing.T) {
	a1 := mkAgent("a1", nil, nil, nil, 1.0, 0.9, time.Second)
	a2 := mkAgent("a2", nil, nil, nil, 1.0, 0.9, time.Second)

	ctx := BuildContext("hello", nil, []string{"a1"}, 5, "", "")
	chosen, err := Select(ctx, []*agent.Agent{a1, a2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen != "a2" {
		t.Fatalf("expected recency penalty to favor a2, got %s", chosen)
	}
}

func TestSelect_TiesBreakByLexicographicID(t *testing.T) {
	a1 := mkAgent("alice", nil, nil, nil, 1.0, 0.5, time.Second)
	a2 := mkAgent("bob", nil, nil, nil, 1.0, 0.5, time.Second)

	ctx := BuildContext("hello", nil, nil, 1, "", "")
	chosen, err := Select(ctx, []*agent.Agent{a2, a1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen != "alice" {
		t.Fatalf("expected lexicographically first id on tie, got %s", chosen)
	}
}

func TestSelect_ExplicitTargetWins(t *testing.T) {
	a1 := mkAgent("a1", nil, nil, nil, 1.0, 0.9, time.Second)
	a2 := mkAgent("a2", nil, nil, nil, 1.0, 0.1, time.Second)

	ctx := BuildContext("hello", nil, nil, 1, "", "a2")
	chosen, err := Select(ctx, []*agent.Agent{a1, a2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen != "a2" {
		t.Fatalf("expected explicit target to win regardless of score, got %s", chosen)
	}
}

func TestSelect_EarlyTurnBoostsDiscoveryAgent(t *testing.T) {
	discoverer := mkAgent("discoverer", map[string]float64{"discovery": 0.9}, nil, nil, 1.0, 0.5, time.Second)
	executor := mkAgent("executor", map[string]float64{"discovery": 0.1}, nil, nil, 1.0, 0.5, time.Second)

	ctx := BuildContext("let's get started", nil, nil, 2, "", "")
	chosen, err := Select(ctx, []*agent.Agent{discoverer, executor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen != "discoverer" {
		t.Fatalf("expected early-turn boost to favor discoverer, got %s", chosen)
	}
}
