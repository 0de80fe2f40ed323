package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/stream"
)

var errNoAgents = errors.New("orchestrator: no agents loaded")

// Stream drives a single-agent turn the same way Orchestrate does, but
// forwards every normalized stream.Event to the caller as it arrives
// instead of buffering the full response. Routing, HITL gating, and group
// conversations aren't supported on this path: a caller that needs those
// should use Orchestrate and poll observers for the final Result.
func (o *Orchestrator) Stream(ctx context.Context, message string, convContext map[string]interface{}, userID, conversationID string) (<-chan stream.Event, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	st := o.stateFor(conversationID)

	targetAgent, _ := convContext["target_agent"].(string)
	var a *agent.Agent
	if targetAgent != "" {
		if resolved, ok := o.registry.Get(targetAgent); ok {
			a = resolved
		}
	}
	if a == nil {
		candidates := o.registry.List()
		if len(candidates) == 0 {
			return nil, errNoAgents
		}
		a = candidates[0]
	}

	userMsg := agent.Message{Source: "user", Kind: agent.KindText, Content: message, Timestamp: time.Now()}

	st.mu.Lock()
	st.messages = append(st.messages, userMsg)
	st.turn++
	turn := st.turn
	transcript := append([]agent.Message(nil), st.messages...)
	st.mu.Unlock()

	if err := o.limiterFor(a).Wait(ctx); err != nil {
		return nil, fmt.Errorf("orchestrator: rate limit wait for %s: %w", a.ID, err)
	}

	upstream, err := o.modelClient.Invoke(ctx, a, transcript, o.toolsFor(a), true)
	if err != nil {
		return nil, err
	}

	mux := stream.NewMultiplexer(conversationID, a.ID, o.streamCfg)
	upstreamEvents := mux.Run(ctx, upstream)

	out := make(chan stream.Event, 8)
	go func() {
		defer close(out)

		var textBuilder strings.Builder
		for ev := range upstreamEvents {
			if ev.Kind == stream.KindText {
				textBuilder.WriteString(ev.Content)
			}
			out <- ev
		}

		if mux.Errored() {
			return
		}

		msg := agent.Message{
			Source:    a.ID,
			AgentName: a.DisplayName,
			Kind:      agent.KindText,
			Content:   textBuilder.String(),
			Timestamp: time.Now(),
			Metrics:   &agent.ResponseMetrics{Model: a.Model},
		}

		o.tracker.TrackTurn(conversationID, turn, a.ID, msg, a.Model, -1, -1)

		st.mu.Lock()
		st.messages = append(st.messages, msg)
		st.previousSpeakers = prependBounded(st.previousSpeakers, a.ID, 5)
		st.mu.Unlock()

		if o.metrics != nil {
			o.metrics.RecordConversationTurn("stream")
		}
	}()

	return out, nil
}
