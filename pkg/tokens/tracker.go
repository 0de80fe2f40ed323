// Package tokens implements per-turn token and cost accounting: pricing
// lookups, token estimation from message content, and the conversation-level
// timeline the orchestrator consults to enforce a budget.
package tokens

import (
	"sync"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

// TurnTokenUsage records token/cost/timing data for a single tracked turn.
// Costs are integer micro-dollars (1e-6 USD): convert with tokens.MicrosToUSD
// only when a value crosses into a JSON/API/CLI presentation boundary.
type TurnTokenUsage struct {
	TurnNumber           int
	AgentID              string
	MessageKind          agent.MessageKind
	PromptTokens         int
	CompletionTokens     int
	TotalTokens          int
	PromptCostMicros     int64
	CompletionCostMicros int64
	TotalCostMicros      int64
	StartTime            time.Time
	EndTime              time.Time
	DurationMS           int64
	MessageLength        int
	ToolCalls            []string
	TokensPerSecond      float64
}

// AgentUsage aggregates one agent's contribution to a conversation's timeline.
type AgentUsage struct {
	Turns            int
	TotalTokens      int
	TotalCostMicros  int64
	AvgTokensPerTurn float64
}

// Timeline is the append-only record of every tracked turn in a conversation,
// plus running sums and budget state. Every cost field is integer
// micro-dollars; only a presentation boundary (Result.CostBreakdown, a
// status endpoint, a CLI print) converts to float64 USD.
type Timeline struct {
	mu sync.RWMutex

	ConversationID string
	StartTime      time.Time
	EndTime        time.Time

	Turns []TurnTokenUsage

	TotalPromptTokens     int
	TotalCompletionTokens int
	TotalTokens           int
	TotalCostMicros       int64

	AgentUsage map[string]*AgentUsage

	BudgetLimitMicros     int64
	BudgetLimitSet        bool
	BudgetRemainingMicros int64
	BudgetBreachTurn      int
	BudgetBreached        bool

	AvgTokensPerTurn     float64
	AvgCostPerTurnMicros int64
	PeakTurnTokens       int
	PeakTurnNumber       int
}

// snapshot returns a value copy of the fields callers read outside the lock
// (the callback and export paths never mutate Timeline, but must not race
// with concurrent trackTurn calls on the same conversation).
func (t *Timeline) snapshot() Timeline {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := *t
	cp.Turns = append([]TurnTokenUsage(nil), t.Turns...)
	cp.AgentUsage = make(map[string]*AgentUsage, len(t.AgentUsage))
	for k, v := range t.AgentUsage {
		vv := *v
		cp.AgentUsage[k] = &vv
	}
	return cp
}

// CallbackEvent names the kind of event a Tracker callback is notified of.
type CallbackEvent string

const (
	EventTurnComplete CallbackEvent = "turn_complete"
	EventBudgetBreach CallbackEvent = "budget_breach"
)

// Callback is invoked after a turn is tracked. Panics and errors from
// callbacks are caught and logged; they never propagate to trackTurn.
type Callback func(event CallbackEvent, conversationID string, turn TurnTokenUsage, timeline Timeline)

// Tracker owns every conversation's Timeline and the registered callbacks
// notified on turn completion and budget breach.
type Tracker struct {
	mu                 sync.Mutex
	timelines          map[string]*Timeline
	callbacks          []Callback
	defaultBudgetMicros int64
	defaultBudgetOK    bool
}

// NewTracker constructs a Tracker. defaultBudgetUSD, if > 0, is applied to
// conversations started without an explicit budget override. The USD value
// is converted to integer micro-dollars once, at construction; every
// internal comparison and accumulation from here on is integer arithmetic.
func NewTracker(defaultBudgetUSD float64) *Tracker {
	return &Tracker{
		timelines:           make(map[string]*Timeline),
		defaultBudgetMicros: USDToMicros(defaultBudgetUSD),
		defaultBudgetOK:     defaultBudgetUSD > 0,
	}
}

// RegisterCallback adds a callback invoked on turn_complete and budget_breach.
func (t *Tracker) RegisterCallback(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// StartConversation begins tracking id, or returns the existing Timeline if
// one is already tracked for it. budgetUSD <= 0 means "use the tracker
// default".
func (t *Tracker) StartConversation(id string, budgetUSD float64) *Timeline {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timelines[id]; ok {
		return existing
	}

	limit, hasLimit := t.defaultBudgetMicros, t.defaultBudgetOK
	if budgetUSD > 0 {
		limit, hasLimit = USDToMicros(budgetUSD), true
	}

	tl := &Timeline{
		ConversationID:        id,
		StartTime:             time.Now(),
		AgentUsage:            make(map[string]*AgentUsage),
		BudgetLimitMicros:     limit,
		BudgetLimitSet:        hasLimit,
		BudgetRemainingMicros: limit,
	}
	t.timelines[id] = tl

	log.WithFields(map[string]interface{}{
		"conversation_id": id,
		"budget_usd":      MicrosToUSD(limit),
	}).Info("started token tracking")

	return tl
}

// TrackTurn records one turn's usage. promptTokens/completionTokens of -1
// mean "estimate from message content".
func (t *Tracker) TrackTurn(conversationID string, turnNumber int, agentID string, msg agent.Message, model string, promptTokens, completionTokens int) TurnTokenUsage {
	start := time.Now()

	tl := t.StartConversation(conversationID, 0)

	if promptTokens < 0 || completionTokens < 0 {
		promptTokens, completionTokens = EstimateTokens(msg)
	}
	totalTokens := promptTokens + completionTokens

	if _, known := PriceFor(model); !known {
		log.WithField("model", model).Warn("unknown model, falling back to gpt-4 pricing")
	}
	promptCostMicros, completionCostMicros := CalculateCostMicros(promptTokens, completionTokens, model)
	totalCostMicros := promptCostMicros + completionCostMicros

	end := time.Now()
	durationMS := end.Sub(start).Milliseconds()
	tps := 0.0
	if durationMS > 0 {
		tps = float64(totalTokens) / (float64(durationMS) / 1000.0)
	}

	turn := TurnTokenUsage{
		TurnNumber:           turnNumber,
		AgentID:              agentID,
		MessageKind:          msg.Kind,
		PromptTokens:         promptTokens,
		CompletionTokens:     completionTokens,
		TotalTokens:          totalTokens,
		PromptCostMicros:     promptCostMicros,
		CompletionCostMicros: completionCostMicros,
		TotalCostMicros:      totalCostMicros,
		StartTime:            start,
		EndTime:              end,
		DurationMS:           durationMS,
		MessageLength:        len(msg.Content),
		ToolCalls:            append([]string(nil), msg.ToolCalls...),
		TokensPerSecond:      tps,
	}

	breached := t.updateTimeline(tl, turn)

	snap := tl.snapshot()
	t.fireCallbacks(EventTurnComplete, conversationID, turn, snap)
	if breached {
		t.fireCallbacks(EventBudgetBreach, conversationID, turn, snap)
	}

	return turn
}

func (t *Tracker) updateTimeline(tl *Timeline, turn TurnTokenUsage) (breached bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.Turns = append(tl.Turns, turn)
	tl.TotalPromptTokens += turn.PromptTokens
	tl.TotalCompletionTokens += turn.CompletionTokens
	tl.TotalTokens += turn.TotalTokens
	tl.TotalCostMicros += turn.TotalCostMicros

	usage, ok := tl.AgentUsage[turn.AgentID]
	if !ok {
		usage = &AgentUsage{}
		tl.AgentUsage[turn.AgentID] = usage
	}
	usage.Turns++
	usage.TotalTokens += turn.TotalTokens
	usage.TotalCostMicros += turn.TotalCostMicros
	usage.AvgTokensPerTurn = float64(usage.TotalTokens) / float64(usage.Turns)

	numTurns := len(tl.Turns)
	tl.AvgTokensPerTurn = float64(tl.TotalTokens) / float64(numTurns)
	tl.AvgCostPerTurnMicros = tl.TotalCostMicros / int64(numTurns)

	if numTurns == 1 || turn.TotalTokens > tl.PeakTurnTokens {
		tl.PeakTurnTokens = turn.TotalTokens
		tl.PeakTurnNumber = turn.TurnNumber
	}

	if tl.BudgetLimitSet {
		tl.BudgetRemainingMicros -= turn.TotalCostMicros
		if tl.TotalCostMicros > tl.BudgetLimitMicros && !tl.BudgetBreached {
			tl.BudgetBreached = true
			tl.BudgetBreachTurn = turn.TurnNumber
			breached = true
			log.WithFields(map[string]interface{}{
				"conversation_id": tl.ConversationID,
				"turn":            turn.TurnNumber,
				"overage_usd":     MicrosToUSD(tl.TotalCostMicros - tl.BudgetLimitMicros),
			}).Warn("budget breached")
		}
	}
	return breached
}

func (t *Tracker) fireCallbacks(event CallbackEvent, conversationID string, turn TurnTokenUsage, snap Timeline) {
	t.mu.Lock()
	callbacks := append([]Callback(nil), t.callbacks...)
	t.mu.Unlock()

	for _, cb := range callbacks {
		safeInvoke(cb, event, conversationID, turn, snap)
	}
}

func safeInvoke(cb Callback, event CallbackEvent, conversationID string, turn TurnTokenUsage, snap Timeline) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{
				"event":           event,
				"conversation_id": conversationID,
				"panic":           r,
			}).Error("token tracker callback panicked")
		}
	}()
	cb(event, conversationID, turn, snap)
}

// EndConversation marks id's timeline ended and returns a snapshot. The
// timeline is never removed from the tracker's map.
func (t *Tracker) EndConversation(id string) (Timeline, bool) {
	t.mu.Lock()
	tl, ok := t.timelines[id]
	t.mu.Unlock()
	if !ok {
		return Timeline{}, false
	}

	tl.mu.Lock()
	tl.EndTime = time.Now()
	tl.mu.Unlock()

	return tl.snapshot(), true
}

// BreachSimulation is the outcome of SimulateBreach. Unlike Timeline, this is
// a presentation-facing report, so its cost fields are float64 USD —
// converted from the tracker's internal micro-dollar figures at this one
// boundary.
type BreachSimulation struct {
	CurrentCostUSD     float64
	ProjectedCostUSD   float64
	SimulatedTurns     int
	WillBreach         bool
	TurnsUntilBreach   int
	TurnsUntilBreachOK bool
}

// SimulateBreach projects whether futureTurns more turns at the
// conversation's average cost-per-turn would exceed its budget.
func (t *Tracker) SimulateBreach(id string, futureTurns int) (BreachSimulation, bool) {
	t.mu.Lock()
	tl, ok := t.timelines[id]
	t.mu.Unlock()
	if !ok {
		return BreachSimulation{}, false
	}

	snap := tl.snapshot()
	if len(snap.Turns) == 0 {
		return BreachSimulation{}, false
	}

	simulatedMicros := snap.AvgCostPerTurnMicros * int64(futureTurns)
	projectedMicros := snap.TotalCostMicros + simulatedMicros

	result := BreachSimulation{
		CurrentCostUSD:   MicrosToUSD(snap.TotalCostMicros),
		ProjectedCostUSD: MicrosToUSD(projectedMicros),
		SimulatedTurns:   futureTurns,
	}

	if snap.BudgetLimitSet {
		remainingMicros := snap.BudgetLimitMicros - snap.TotalCostMicros
		if remainingMicros > 0 && snap.AvgCostPerTurnMicros > 0 {
			turnsUntil := int(remainingMicros / snap.AvgCostPerTurnMicros)
			result.TurnsUntilBreach = turnsUntil
			result.TurnsUntilBreachOK = true
			result.WillBreach = turnsUntil < futureTurns
		}
	}

	return result, true
}

// GetTimeline returns a snapshot of id's timeline.
func (t *Tracker) GetTimeline(id string) (Timeline, bool) {
	t.mu.Lock()
	tl, ok := t.timelines[id]
	t.mu.Unlock()
	if !ok {
		return Timeline{}, false
	}
	return tl.snapshot(), true
}
