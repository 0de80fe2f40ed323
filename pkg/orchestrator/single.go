package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

// runSingleAgent implements the single-agent path: the selector's best pick
// (or the first loaded agent, if that pick somehow isn't registered) is
// invoked exactly once and its response becomes the conversation's answer.
func (o *Orchestrator) runSingleAgent(ctx context.Context, st *conversationState, agentID, conversationID, userID string, convContext map[string]interface{}) (Result, error) {
	a, ok := o.registry.Get(agentID)
	if !ok {
		candidates := o.registry.List()
		if len(candidates) == 0 {
			return Result{}, fmt.Errorf("orchestrator: no agents loaded")
		}
		a = candidates[0]
	}

	st.mu.Lock()
	st.turn++
	turn := st.turn
	transcript := append([]agent.Message(nil), st.messages...)
	st.mu.Unlock()

	start := time.Now()
	msg, usage, err := o.invokeAgent(ctx, a, transcript, conversationID, turn)
	if err != nil {
		return Result{}, err
	}
	if o.metrics != nil {
		o.metrics.RecordConversationTurn("single_agent")
	}

	pauseResult, err := o.maybeGateHITL(ctx, st, conversationID, userID, a.ID, msg, usage, convContext, "single")
	if err != nil {
		return Result{}, err
	}
	if pauseResult != nil {
		pauseResult.Routing = "single_agent"
		pauseResult.AgentsUsed = o.agentsUsed(conversationID)
		pauseResult.TurnCount = o.turnCount(conversationID)
		pauseResult.CostBreakdown = o.costBreakdown(conversationID)
		return *pauseResult, nil
	}

	st.mu.Lock()
	st.messages = append(st.messages, msg)
	st.previousSpeakers = prependBounded(st.previousSpeakers, a.ID, 5)
	st.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordTurnLatency("single_agent", time.Since(start).Seconds())
	}

	kind := ResultOK
	if o.budgetBreached(conversationID) {
		kind = ResultBudgetExceeded
	}

	return Result{
		Kind:          kind,
		Response:      msg.Content,
		AgentsUsed:    o.agentsUsed(conversationID),
		TurnCount:     o.turnCount(conversationID),
		CostBreakdown: o.costBreakdown(conversationID),
		Routing:       "single_agent",
	}, nil
}
