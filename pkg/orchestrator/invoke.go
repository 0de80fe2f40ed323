package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/middleware"
	"github.com/shawkym/agentpipe-orchestrator/pkg/stream"
	"github.com/shawkym/agentpipe-orchestrator/pkg/tokens"
)

// invokeAgent drives one agent turn end to end: it calls the model client,
// drains the response through the streaming multiplexer, and records
// per-turn token and cost accounting.
func (o *Orchestrator) invokeAgent(ctx context.Context, a *agent.Agent, transcript []agent.Message, conversationID string, turnNumber int) (agent.Message, tokens.TurnTokenUsage, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.ModelCallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.ModelCallTimeout)
		defer cancel()
	}

	callCtx, span := o.tracer.Start(callCtx, "agent_turn", map[string]string{
		"agent_id":        a.ID,
		"conversation_id": conversationID,
	})
	defer span.End()

	if err := o.limiterFor(a).Wait(callCtx); err != nil {
		span.SetError(err)
		return agent.Message{}, tokens.TurnTokenUsage{}, fmt.Errorf("orchestrator: rate limit wait for %s: %w", a.ID, err)
	}

	start := time.Now()
	upstream, err := o.modelClient.Invoke(callCtx, a, transcript, o.toolsFor(a), true)
	if err != nil {
		span.SetError(err)
		if o.metrics != nil {
			o.metrics.RecordAgentError(a.ID, "invoke_failed")
			o.metrics.RecordAgentRequest(a.ID, "model", "error")
		}
		return agent.Message{}, tokens.TurnTokenUsage{}, fmt.Errorf("orchestrator: invoke %s: %w", a.ID, err)
	}

	mux := stream.NewMultiplexer(conversationID, a.ID, o.streamCfg)

	var textBuilder strings.Builder
	var toolCalls []string
	for ev := range mux.Run(callCtx, upstream) {
		switch ev.Kind {
		case stream.KindText:
			textBuilder.WriteString(ev.Content)
		case stream.KindToolCall:
			toolCalls = append(toolCalls, ev.Content)
		}
	}

	if mux.Errored() {
		span.SetError(fmt.Errorf("stream terminated in error"))
		if o.metrics != nil {
			o.metrics.RecordAgentError(a.ID, "stream_error")
			o.metrics.RecordAgentRequest(a.ID, "model", "error")
		}
		return agent.Message{}, tokens.TurnTokenUsage{}, fmt.Errorf("orchestrator: %s stream terminated in error", a.ID)
	}

	duration := time.Since(start)
	msg := agent.Message{
		Source:    a.ID,
		AgentName: a.DisplayName,
		Kind:      agent.KindText,
		Content:   textBuilder.String(),
		Timestamp: time.Now(),
		ToolCalls: toolCalls,
		Metrics: &agent.ResponseMetrics{
			Duration: duration,
			Model:    a.Model,
		},
	}

	processed, err := o.outbound.Process(&middleware.MessageContext{
		Ctx:        callCtx,
		AgentID:    a.ID,
		AgentName:  a.DisplayName,
		TurnNumber: turnNumber,
	}, &msg)
	if err != nil {
		span.SetError(err)
		if o.metrics != nil {
			o.metrics.RecordAgentError(a.ID, "middleware_rejected")
			o.metrics.RecordAgentRequest(a.ID, "model", "error")
		}
		return agent.Message{}, tokens.TurnTokenUsage{}, fmt.Errorf("orchestrator: %s response rejected: %w", a.ID, err)
	}
	msg = *processed

	usage := o.tracker.TrackTurn(conversationID, turnNumber, a.ID, msg, a.Model, -1, -1)

	if o.metrics != nil {
		o.metrics.RecordAgentRequest(a.ID, "model", "success")
		o.metrics.RecordAgentDuration(a.ID, "model", duration.Seconds())
		o.metrics.RecordAgentTokens(a.ID, usage.PromptTokens, usage.CompletionTokens)
		o.metrics.RecordAgentCost(a.ID, tokens.MicrosToUSD(usage.TotalCostMicros))
		o.metrics.RecordTurnLatency("agent_turn", duration.Seconds())
	}

	return msg, usage, nil
}

func (o *Orchestrator) toolsFor(a *agent.Agent) []agent.Tool {
	if o.tools == nil {
		return nil
	}
	return o.tools.ToolsFor(a.ID)
}
