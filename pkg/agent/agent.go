// Package agent defines the Agent data model: the stable, immutable-after-load
// handle that every other component (registry, selector, orchestrator) holds
// a non-owning reference to.
package agent

import (
	"context"
	"fmt"
	"time"
)

// MessageKind classifies a Message's payload.
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindToolCall   MessageKind = "tool-call"
	KindToolResult MessageKind = "tool-result"
	KindHandoff    MessageKind = "handoff"
)

// Message is a single, immutable-once-appended entry in a conversation's
// message log.
type Message struct {
	// Source is the sending agent's id, or "user" for human-sourced input.
	Source string
	// AgentName is the display name of the source, when Source is an agent.
	AgentName string
	Kind      MessageKind
	Content   string
	Timestamp time.Time
	// ToolCalls names tools invoked by this message, when Kind is tool-call.
	ToolCalls []string
	// Metrics carries optional performance/cost data for agent-sourced messages.
	Metrics *ResponseMetrics
}

// ResponseMetrics captures performance and cost information for a single
// agent response, independent of the conversation-level token tracker.
type ResponseMetrics struct {
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Model        string
	Cost         float64
}

// Definition is the raw record an AgentDefinitionSource yields when scanning
// an agent directory — the on-disk shape before it becomes an Agent handle.
type Definition struct {
	ID               string   `yaml:"id"`
	DisplayName      string   `yaml:"display_name"`
	SystemPrompt     string   `yaml:"system_prompt"`
	ToolNames        []string `yaml:"tool_names"`
	CapabilityTags   []string `yaml:"capability_tags"`
	ExpertiseDomains []string `yaml:"expertise_domains"`
	Keywords         []string `yaml:"keywords"`
	Model            string   `yaml:"model"`
	Temperature      float64  `yaml:"temperature"`
	MaxTokens        int      `yaml:"max_tokens"`
	MaxComplexity    float64  `yaml:"max_complexity"`
	AvgLatencySeconds float64 `yaml:"avg_latency_s"`
	Quality          float64  `yaml:"quality"`
	RateLimit        float64  `yaml:"rate_limit"`
	RateLimitBurst   int      `yaml:"rate_limit_burst"`
	Announcement     string   `yaml:"announcement"`
	// PhaseAffinity maps a mission phase name (discovery, analysis, strategy,
	// execution, monitoring, optimization) to this agent's affinity for it,
	// in [0,1]. Phases left unset default to 0.5 when scored.
	PhaseAffinity map[string]float64 `yaml:"phase_affinity"`
}

// Agent is the registry-owned, immutable-after-load handle other components
// reference by id. It is intentionally a plain struct, not an interface: the
// teacher's per-agent-type Agent interface made sense when each agent type
// was a distinct CLI adapter; here every agent is driven uniformly through a
// shared ModelClient, so the only per-agent variance is data.
type Agent struct {
	ID               string
	DisplayName      string
	SystemPrompt     string
	ToolNames        []string
	CapabilityTags   map[string]struct{}
	ExpertiseDomains map[string]struct{}
	Keywords         map[string]struct{}
	Model            string
	Temperature      float64
	MaxTokens        int
	MaxComplexity    float64
	AvgLatency       time.Duration
	Quality          float64
	RateLimit        float64
	RateLimitBurst   int
	Announcement     string
	PhaseAffinity    map[string]float64
}

// FromDefinition builds an immutable Agent handle from a scanned Definition.
func FromDefinition(d Definition) *Agent {
	a := &Agent{
		ID:               d.ID,
		DisplayName:      d.DisplayName,
		SystemPrompt:     d.SystemPrompt,
		ToolNames:        append([]string(nil), d.ToolNames...),
		CapabilityTags:   toSet(d.CapabilityTags),
		ExpertiseDomains: toSet(d.ExpertiseDomains),
		Keywords:         toSet(d.Keywords),
		Model:            d.Model,
		Temperature:      d.Temperature,
		MaxTokens:        d.MaxTokens,
		MaxComplexity:    d.MaxComplexity,
		AvgLatency:       time.Duration(d.AvgLatencySeconds * float64(time.Second)),
		Quality:          d.Quality,
		RateLimit:        d.RateLimit,
		RateLimitBurst:   d.RateLimitBurst,
		Announcement:     d.Announcement,
		PhaseAffinity:    d.PhaseAffinity,
	}
	if a.MaxComplexity == 0 {
		a.MaxComplexity = 1.0
	}
	if a.RateLimitBurst == 0 {
		a.RateLimitBurst = 1
	}
	return a
}

func toSet(vals []string) map[string]struct{} {
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// HasCapability reports whether the agent declares the given capability tag.
func (a *Agent) HasCapability(tag string) bool {
	_, ok := a.CapabilityTags[tag]
	return ok
}

// HasDomain reports whether the agent declares the given expertise domain.
func (a *Agent) HasDomain(domain string) bool {
	_, ok := a.ExpertiseDomains[domain]
	return ok
}

// HasKeyword reports whether the agent declares the given keyword.
func (a *Agent) HasKeyword(word string) bool {
	_, ok := a.Keywords[word]
	return ok
}

// AffinityFor returns the agent's configured affinity for a mission phase,
// defaulting to 0.5 when the phase has no explicit entry.
func (a *Agent) AffinityFor(phase string) float64 {
	if v, ok := a.PhaseAffinity[phase]; ok {
		return v
	}
	return 0.5
}

// Announce returns the agent's join announcement, falling back to a
// generated default when none was configured.
func (a *Agent) Announce() string {
	if a.Announcement != "" {
		return a.Announcement
	}
	return fmt.Sprintf("%s has joined the conversation.", a.DisplayName)
}

// UpstreamEvent is one chunk emitted by a ModelClient while an agent is
// generating a response. Exactly one of the fields is normally populated per
// event, though DeltaContent may accompany ToolCalls.
type UpstreamEvent struct {
	DeltaContent  string
	ToolCalls     []ToolCall
	ToolResults   []ToolResult
	HandoffTarget string
	Messages      []Message
	Err           error
}

// ToolCall describes a single tool invocation requested by a model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolResult describes the outcome of a tool invocation.
type ToolResult struct {
	ToolCallID string
	Output     string
	Err        error
}

// ModelClient is the external collaborator that actually talks to an LLM
// backend. The orchestrator never knows which provider sits behind it.
type ModelClient interface {
	Invoke(ctx context.Context, a *Agent, transcript []Message, tools []Tool, stream bool) (<-chan UpstreamEvent, error)
}

// Tool is a single callable capability an agent may invoke mid-turn.
type Tool struct {
	Name   string
	Invoke func(ctx context.Context, args map[string]interface{}) (string, error)
}
