// Package selector implements the turn-taking speaker selection logic: phase
// detection, complexity/urgency scoring, and the weighted agent-ranking
// algorithm that picks exactly one next speaker per turn.
package selector

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

// Phase is a detected mission phase.
type Phase string

const (
	PhaseDiscovery    Phase = "discovery"
	PhaseAnalysis     Phase = "analysis"
	PhaseStrategy     Phase = "strategy"
	PhaseExecution    Phase = "execution"
	PhaseMonitoring   Phase = "monitoring"
	PhaseOptimization Phase = "optimization"
)

// ErrNoEligibleAgent is returned when Select is called with no candidates.
var ErrNoEligibleAgent = errors.New("selector: no eligible agent")

var phaseKeywords = map[Phase][]string{
	PhaseDiscovery:    {"explore", "understand", "investigate", "research", "identify"},
	PhaseAnalysis:     {"analyze", "evaluate", "assess", "review", "examine"},
	PhaseStrategy:     {"strategy", "plan", "roadmap", "approach", "design"},
	PhaseExecution:    {"implement", "execute", "deploy", "launch", "deliver"},
	PhaseMonitoring:   {"monitor", "track", "measure", "observe", "report"},
	PhaseOptimization: {"optimize", "improve", "enhance", "refine", "tune"},
}

var technicalKeywords = []string{
	"api", "integration", "architecture", "implementation", "algorithm",
	"optimization", "infrastructure", "deployment", "security", "compliance",
}

var urgentWords = []string{"urgent", "asap", "immediately", "critical"}
var deadlineWords = []string{"deadline", "today", "now", "quickly"}
var importantWords = []string{"important", "priority", "needed"}

var domainKeywords = map[string][]string{
	"finance":    {"revenue", "cost", "budget", "financial", "roi", "profit"},
	"strategy":   {"strategy", "vision", "roadmap", "planning", "goals"},
	"technology": {"technical", "api", "system", "software", "infrastructure"},
	"security":   {"security", "risk", "compliance", "vulnerability", "threat"},
	"analytics":  {"metrics", "data", "analysis", "insights", "dashboard"},
	"operations": {"process", "workflow", "efficiency", "operations"},
	"marketing":  {"marketing", "campaign", "brand", "customer", "market"},
	"sales":      {"sales", "revenue", "pipeline", "deals", "targets"},
}

// SelectionContext is rebuilt fresh on every turn from the running
// conversation before a speaker is chosen.
type SelectionContext struct {
	MessageContent      string
	RecentMessages      []agent.Message // bounded to N≈10 by the caller
	Phase               Phase
	PreviousSpeakers    []string // bounded to 5, index 0 = most recent
	Complexity          float64
	Urgency             float64
	RequiredExpertise   map[string]struct{}
	CollaborationNeeded bool
	Turn                int
	TargetAgent         string // explicit override, empty when none given
}

// BuildContext derives a SelectionContext from the latest message and a
// bounded recent-message window, detecting phase/complexity/urgency and
// required expertise from the message content.
func BuildContext(message string, recent []agent.Message, previousSpeakers []string, turn int, previousPhase Phase, targetAgent string) SelectionContext {
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	if len(previousSpeakers) > 5 {
		previousSpeakers = previousSpeakers[:5]
	}

	return SelectionContext{
		MessageContent:      message,
		RecentMessages:      recent,
		Phase:               detectPhase(message, turn, previousPhase),
		PreviousSpeakers:    previousSpeakers,
		Complexity:          calculateComplexity(message, len(recent)),
		Urgency:             calculateUrgency(message),
		RequiredExpertise:   extractRequiredExpertise(message),
		CollaborationNeeded: needsCollaboration(message),
		Turn:                turn,
		TargetAgent:         targetAgent,
	}
}

func detectPhase(message string, turn int, previous Phase) Phase {
	lower := strings.ToLower(message)

	scores := make(map[Phase]int, len(phaseKeywords))
	for phase, keywords := range phaseKeywords {
		count := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		scores[phase] = count
	}

	switch {
	case turn <= 3:
		scores[PhaseDiscovery] += 2
	case turn <= 6:
		scores[PhaseAnalysis] += 2
	case turn <= 10:
		scores[PhaseStrategy] += 1
	default:
		scores[PhaseExecution] += 1
	}

	best := previous
	bestScore := -1
	// Iterate in a fixed order so ties resolve deterministically rather than
	// on map iteration order.
	for _, phase := range []Phase{PhaseDiscovery, PhaseAnalysis, PhaseStrategy, PhaseExecution, PhaseMonitoring, PhaseOptimization} {
		if scores[phase] > bestScore {
			bestScore = scores[phase]
			best = phase
		}
	}
	if bestScore <= 0 && previous != "" {
		return previous
	}
	if best == "" {
		best = PhaseDiscovery
	}
	return best
}

func calculateComplexity(message string, numMessages int) float64 {
	complexity := 0.0
	if len(message) > 500 {
		complexity += 0.2
	}
	if len(message) > 1000 {
		complexity += 0.2
	}
	if numMessages > 10 {
		complexity += 0.2
	}
	if numMessages > 20 {
		complexity += 0.1
	}

	lower := strings.ToLower(message)
	technicalCount := 0
	for _, term := range technicalKeywords {
		if strings.Contains(lower, term) {
			technicalCount++
		}
	}
	bonus := float64(technicalCount) * 0.05
	if bonus > 0.3 {
		bonus = 0.3
	}
	complexity += bonus

	if complexity > 1.0 {
		complexity = 1.0
	}
	return complexity
}

func calculateUrgency(message string) float64 {
	lower := strings.ToLower(message)
	urgency := 0.0
	if containsAny(lower, urgentWords) {
		urgency += 0.5
	}
	if containsAny(lower, deadlineWords) {
		urgency += 0.3
	}
	if containsAny(lower, importantWords) {
		urgency += 0.2
	}
	if urgency > 1.0 {
		urgency = 1.0
	}
	return urgency
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func extractRequiredExpertise(message string) map[string]struct{} {
	lower := strings.ToLower(message)
	required := make(map[string]struct{})
	for domain, keywords := range domainKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				required[domain] = struct{}{}
				break
			}
		}
	}
	return required
}

func needsCollaboration(message string) bool {
	indicators := []string{
		"collaborate", "together", "coordinate", "team", "joint",
		"multiple", "various", "cross-functional", "integrate",
	}
	return containsAny(strings.ToLower(message), indicators)
}

// singleAgentMargin (T1) is the minimum score margin between the top two
// candidates required to route directly to a single dominant agent.
const singleAgentMargin = 0.15

// ShouldUseSingleAgent reports whether the conversation should route to a
// single named agent rather than the full group-chat turn-taking flow.
func ShouldUseSingleAgent(ctx SelectionContext, candidates []*agent.Agent) (string, bool) {
	if ctx.TargetAgent != "" {
		return ctx.TargetAgent, true
	}
	if len(candidates) == 0 {
		return "", false
	}

	scores := scoreAll(ctx, candidates)
	if len(scores) < 2 {
		if len(scores) == 1 {
			return scores[0].id, true
		}
		return "", false
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	margin := scores[0].score - scores[1].score
	if margin >= singleAgentMargin {
		return scores[0].id, true
	}
	return "", false
}

type scoredAgent struct {
	id    string
	score float64
}

func scoreAll(ctx SelectionContext, candidates []*agent.Agent) []scoredAgent {
	out := make([]scoredAgent, 0, len(candidates))
	for _, a := range candidates {
		out = append(out, scoredAgent{id: a.ID, score: score(ctx, a)})
	}
	return out
}

// score computes an agent's raw weighted score for ctx, before turn
// adjustments are applied.
func score(ctx SelectionContext, a *agent.Agent) float64 {
	phaseScore := a.AffinityFor(string(ctx.Phase))

	expertiseScore := 0.0
	if len(ctx.RequiredExpertise) > 0 {
		matches := 0
		for domain := range ctx.RequiredExpertise {
			if a.HasDomain(domain) {
				matches++
			}
		}
		expertiseScore = float64(matches) / float64(max(1, len(ctx.RequiredExpertise)))
	} else {
		expertiseScore = 0.0
	}
	if expertiseScore > 1.0 {
		expertiseScore = 1.0
	}

	messageWords := strings.Fields(strings.ToLower(ctx.MessageContent))
	keywordMatches := 0
	seen := make(map[string]struct{}, len(messageWords))
	for _, w := range messageWords {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if a.HasKeyword(w) {
			keywordMatches++
		}
	}
	keywordScore := float64(keywordMatches) / float64(max(1, len(a.Keywords)))
	if keywordScore > 1.0 {
		keywordScore = 1.0
	}

	complexityScore := 0.5
	if a.MaxComplexity >= ctx.Complexity {
		complexityScore = 1.0
	}

	historicalScore := a.Quality

	urgencyBonus := 0.0
	if ctx.Urgency > 0.7 && a.AvgLatency < 2*time.Second {
		urgencyBonus = 1.0
	}

	total := phaseScore*0.25 +
		expertiseScore*0.30 +
		keywordScore*0.20 +
		complexityScore*0.10 +
		historicalScore*0.10 +
		urgencyBonus*0.05

	return clip01(total)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Select scores every candidate, applies turn adjustments, and returns the
// id of exactly one next speaker. Ties are broken by lexicographically
// smallest agent id.
func Select(ctx SelectionContext, candidates []*agent.Agent) (string, error) {
	if ctx.TargetAgent != "" {
		for _, a := range candidates {
			if a.ID == ctx.TargetAgent {
				return a.ID, nil
			}
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoEligibleAgent
	}

	byID := make(map[string]*agent.Agent, len(candidates))
	scores := make(map[string]float64, len(candidates))
	for _, a := range candidates {
		byID[a.ID] = a
		scores[a.ID] = score(ctx, a)
	}

	applyTurnAdjustments(scores, byID, ctx)

	var bestID string
	bestScore := -1.0
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := scores[id]
		if s > bestScore {
			bestScore = s
			bestID = id
		}
	}

	if bestID == "" {
		return "", ErrNoEligibleAgent
	}
	return bestID, nil
}

func applyTurnAdjustments(scores map[string]float64, byID map[string]*agent.Agent, ctx SelectionContext) {
	n := len(ctx.PreviousSpeakers)
	for id := range scores {
		for i, speaker := range ctx.PreviousSpeakers {
			if speaker == id {
				penalty := 0.2 * (1 - float64(i)/float64(n))
				scores[id] *= 1 - penalty
				break
			}
		}
	}

	switch {
	case ctx.Turn <= 3:
		for id, a := range byID {
			if a.AffinityFor(string(PhaseDiscovery)) > 0.7 {
				scores[id] *= 1.2
			}
		}
	case ctx.Turn > 10:
		for id, a := range byID {
			if a.AffinityFor(string(PhaseExecution)) > 0.7 {
				scores[id] *= 1.15
			}
		}
	}

	if ctx.Urgency > 0.7 {
		for id, a := range byID {
			if a.AvgLatency < 2*time.Second {
				scores[id] *= 1.1
			}
		}
	}
}
