// Package resilience implements the fallback chain across orchestrator
// variants: an ordered set of independently circuit-breaker-protected
// orchestrators tried in sequence until one produces a non-error result.
package resilience

import (
	"context"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/orchestrator"
)

// Variant names one orchestrator instance participating in a Chain. Each
// variant already carries its own circuit breaker — orchestrator.Orchestrator
// wraps every Orchestrate call in one internally — so Chain only decides
// which variant to try next, not how an individual variant protects itself.
type Variant struct {
	Name string
	Orch *orchestrator.Orchestrator
}

// Chain tries its variants in priority order, falling through to the next
// one when the current variant's circuit breaker is open or its call
// otherwise failed. It mirrors the reference implementation's named
// fallback_chain of resilience-wrapped orchestrators.
type Chain struct {
	variants []Variant
}

// Wrap builds a single-variant Chain around the primary orchestrator. Use
// AddFallback to register lower-priority variants tried only once the
// primary (and every variant before them) has rejected or failed the call.
func Wrap(name string, orch *orchestrator.Orchestrator) *Chain {
	return &Chain{variants: []Variant{{Name: name, Orch: orch}}}
}

// AddFallback appends a lower-priority variant.
func (c *Chain) AddFallback(name string, orch *orchestrator.Orchestrator) {
	c.variants = append(c.variants, Variant{Name: name, Orch: orch})
}

// SetPriority reorders the chain to try `first` ahead of every other
// currently registered variant, mirroring the reference implementation's
// orchestrator-selection endpoint, which spliced the chosen orchestrator to
// the front of unified.fallback_chain. Unknown names are a no-op.
func (c *Chain) SetPriority(first string) {
	idx := -1
	for i, v := range c.variants {
		if v.Name == first {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}
	reordered := make([]Variant, 0, len(c.variants))
	reordered = append(reordered, c.variants[idx])
	for i, v := range c.variants {
		if i != idx {
			reordered = append(reordered, v)
		}
	}
	c.variants = reordered
}

// Names returns the variants' names in current priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.variants))
	for i, v := range c.variants {
		names[i] = v.Name
	}
	return names
}

// Orchestrate runs message through the highest-priority variant, falling
// through to the next variant when a call comes back as ResultError
// (including a breaker-open rejection, which Orchestrator itself already
// reports that way). If every variant fails, the last variant's Result is
// returned so the caller still sees a concrete error instead of silence.
func (c *Chain) Orchestrate(ctx context.Context, message string, convCtx map[string]interface{}, userID, conversationID string) orchestrator.Result {
	var last orchestrator.Result
	for i, v := range c.variants {
		result := v.Orch.Orchestrate(ctx, message, convCtx, userID, conversationID)
		if result.Kind != orchestrator.ResultError {
			return result
		}
		log.WithFields(map[string]interface{}{
			"variant": v.Name,
			"attempt": i + 1,
			"of":      len(c.variants),
			"breaker": result.CircuitBreaker,
		}).Warn("orchestrator variant failed, falling through resilience chain")
		last = result
	}
	return last
}

// Health reports true if at least one variant in the chain is not
// unhealthy (its status is healthy or degraded).
func (c *Chain) Health() bool {
	for _, v := range c.variants {
		if v.Orch.Health().Status != "unhealthy" {
			return true
		}
	}
	return false
}
