package tokens

import (
	"testing"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

func TestEstimateTokens_TextMessageIsEvenSplit(t *testing.T) {
	msg := agent.Message{Kind: agent.KindText, Content: makeContent(400)}
	prompt, completion := EstimateTokens(msg)
	if prompt != completion {
		t.Fatalf("expected even split for text, got %d/%d", prompt, completion)
	}
}

func TestEstimateTokens_ToolCallAddsPromptOverhead(t *testing.T) {
	msg := agent.Message{Kind: agent.KindToolCall, Content: makeContent(400)}
	prompt, completion := EstimateTokens(msg)
	contentTokens := len(msg.Content) / charsPerToken
	if prompt != contentTokens+50 {
		t.Fatalf("expected prompt = content+50, got %d (content=%d)", prompt, contentTokens)
	}
	if completion != contentTokens {
		t.Fatalf("expected completion = content, got %d", completion)
	}
}

func TestEstimateTokens_ToolResultSkewsToCompletion(t *testing.T) {
	msg := agent.Message{Kind: agent.KindToolResult, Content: makeContent(900)}
	prompt, completion := EstimateTokens(msg)
	if completion <= prompt {
		t.Fatalf("expected tool-result completion to dominate prompt, got prompt=%d completion=%d", prompt, completion)
	}
}

func TestEstimateTokens_FloorsAtOne(t *testing.T) {
	msg := agent.Message{Kind: agent.KindText, Content: ""}
	prompt, completion := EstimateTokens(msg)
	if prompt != 1 || completion != 1 {
		t.Fatalf("expected empty content to floor at 1/1, got %d/%d", prompt, completion)
	}
}

func TestPriceFor_UnknownModelFallsBackToGPT4(t *testing.T) {
	p, known := PriceFor("some-made-up-model")
	if known {
		t.Fatal("expected unknown model to report known=false")
	}
	gpt4, _ := PriceFor("gpt-4")
	if p != gpt4 {
		t.Fatalf("expected fallback pricing to equal gpt-4 pricing, got %+v vs %+v", p, gpt4)
	}
}

func TestCalculateCostMicros(t *testing.T) {
	promptMicros, completionMicros := CalculateCostMicros(1_000_000, 1_000_000, "gpt-4")
	if promptMicros != 30_000_000 || completionMicros != 60_000_000 {
		t.Fatalf("expected 30M/60M micro-dollars for 1M tokens of gpt-4, got %d/%d", promptMicros, completionMicros)
	}
}

func TestMicrosToUSD_RoundTripsThroughUSDToMicros(t *testing.T) {
	micros := USDToMicros(12.34)
	if micros != 12_340_000 {
		t.Fatalf("expected 12340000 micros, got %d", micros)
	}
	if usd := MicrosToUSD(micros); usd != 12.34 {
		t.Fatalf("expected round trip to 12.34, got %f", usd)
	}
}

func TestTracker_StartConversationIdempotent(t *testing.T) {
	tr := NewTracker(0)
	tl1 := tr.StartConversation("c1", 50)
	tl2 := tr.StartConversation("c1", 999)
	if tl1 != tl2 {
		t.Fatal("expected StartConversation to be idempotent on id")
	}
	if tl1.BudgetLimitMicros != USDToMicros(50) {
		t.Fatalf("expected first budget to stick, got %d", tl1.BudgetLimitMicros)
	}
}

func TestTracker_TrackTurnUpdatesRunningSums(t *testing.T) {
	tr := NewTracker(0)
	msg := agent.Message{Kind: agent.KindText, Content: makeContent(40)}

	turn1 := tr.TrackTurn("c1", 1, "agent-a", msg, "gpt-4", -1, -1)
	turn2 := tr.TrackTurn("c1", 2, "agent-b", msg, "gpt-4", -1, -1)

	tl, ok := tr.GetTimeline("c1")
	if !ok {
		t.Fatal("expected timeline to exist")
	}
	if len(tl.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(tl.Turns))
	}
	if tl.TotalTokens != turn1.TotalTokens+turn2.TotalTokens {
		t.Fatalf("expected running total to sum both turns")
	}
	if len(tl.AgentUsage) != 2 {
		t.Fatalf("expected per-agent breakdown for 2 agents, got %d", len(tl.AgentUsage))
	}
}

func TestTracker_BudgetBreachFiresOnce(t *testing.T) {
	tr := NewTracker(0)
	var breachEvents int
	tr.RegisterCallback(func(event CallbackEvent, _ string, _ TurnTokenUsage, _ Timeline) {
		if event == EventBudgetBreach {
			breachEvents++
		}
	})

	tr.StartConversation("c1", 0.000001) // tiny budget, breached immediately
	msg := agent.Message{Kind: agent.KindText, Content: makeContent(4000)}

	tr.TrackTurn("c1", 1, "a", msg, "gpt-4", -1, -1)
	tr.TrackTurn("c1", 2, "a", msg, "gpt-4", -1, -1)
	tr.TrackTurn("c1", 3, "a", msg, "gpt-4", -1, -1)

	if breachEvents != 1 {
		t.Fatalf("expected budget_breach to fire exactly once, got %d", breachEvents)
	}

	tl, _ := tr.GetTimeline("c1")
	if tl.BudgetBreachTurn != 1 {
		t.Fatalf("expected breach recorded at turn 1, got %d", tl.BudgetBreachTurn)
	}
}

func TestTracker_CallbackPanicDoesNotPropagate(t *testing.T) {
	tr := NewTracker(0)
	tr.RegisterCallback(func(CallbackEvent, string, TurnTokenUsage, Timeline) {
		panic("boom")
	})

	msg := agent.Message{Kind: agent.KindText, Content: "hi"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("expected TrackTurn to absorb callback panic, got %v", r)
		}
	}()
	tr.TrackTurn("c1", 1, "a", msg, "gpt-4", -1, -1)
}

func TestTracker_EndConversationDoesNotRemoveTimeline(t *testing.T) {
	tr := NewTracker(0)
	tr.StartConversation("c1", 0)
	if _, ok := tr.EndConversation("c1"); !ok {
		t.Fatal("expected EndConversation to succeed")
	}
	if _, ok := tr.GetTimeline("c1"); !ok {
		t.Fatal("expected timeline to remain retrievable after end")
	}
}

func TestTracker_SimulateBreach(t *testing.T) {
	tr := NewTracker(1.0)
	msg := agent.Message{Kind: agent.KindText, Content: makeContent(4000)}
	tr.StartConversation("c1", 1.0)
	tr.TrackTurn("c1", 1, "a", msg, "gpt-4", 10000, 10000)

	sim, ok := tr.SimulateBreach("c1", 100)
	if !ok {
		t.Fatal("expected simulation to succeed")
	}
	if !sim.WillBreach {
		t.Fatal("expected large simulated turn count to predict a breach")
	}
}

func TestTracker_SimulateBreach_NoTurnsYet(t *testing.T) {
	tr := NewTracker(1.0)
	tr.StartConversation("c1", 1.0)
	if _, ok := tr.SimulateBreach("c1", 10); ok {
		t.Fatal("expected simulation to fail with no tracked turns")
	}
}

func TestTracker_PeakTurnTracksMaxTokens(t *testing.T) {
	tr := NewTracker(0)
	small := agent.Message{Kind: agent.KindText, Content: makeContent(20)}
	big := agent.Message{Kind: agent.KindText, Content: makeContent(4000)}

	tr.TrackTurn("c1", 1, "a", small, "gpt-4", -1, -1)
	tr.TrackTurn("c1", 2, "a", big, "gpt-4", -1, -1)
	tr.TrackTurn("c1", 3, "a", small, "gpt-4", -1, -1)

	tl, _ := tr.GetTimeline("c1")
	if tl.PeakTurnNumber != 2 {
		t.Fatalf("expected turn 2 to be the peak, got turn %d", tl.PeakTurnNumber)
	}
}

func makeContent(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
