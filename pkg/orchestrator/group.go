package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/selector"
)

// runGroup implements the group-chat path: a bounded, selector-driven
// turn-taking loop that ends on a termination marker, the configured turn
// ceiling, or external cancellation.
func (o *Orchestrator) runGroup(ctx context.Context, st *conversationState, conversationID, userID string, convContext map[string]interface{}) (Result, error) {
	return o.groupLoop(ctx, st, conversationID, userID, convContext)
}

// continueGroup resumes a group conversation's turn loop after an approval
// decision. fromTurn is the turn number the conversation paused at; the
// pending turn's message was already appended to st by the resume callback.
func (o *Orchestrator) continueGroup(ctx context.Context, st *conversationState, conversationID, userID string, convContext map[string]interface{}, fromTurn int) (Result, error) {
	if containsTerminationMarker(lastNonEmptyAgentMessage(st.snapshot().Messages)) {
		return o.finishGroup(conversationID), nil
	}
	return o.groupLoop(ctx, st, conversationID, userID, convContext)
}

func (o *Orchestrator) groupLoop(ctx context.Context, st *conversationState, conversationID, userID string, convContext map[string]interface{}) (Result, error) {
	maxTurns := o.cfg.MaxGroupTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		snap := st.snapshot()
		if snap.Turn >= maxTurns {
			break
		}

		candidates := o.registry.List()
		lastContent := lastNonEmptyAgentMessage(snap.Messages)
		if lastContent == "" && len(snap.Messages) > 0 {
			lastContent = snap.Messages[len(snap.Messages)-1].Content
		}

		selCtx := selector.BuildContext(lastContent, snap.Messages, snap.PreviousSpeakers, snap.Turn+1, snap.Phase, "")
		speakerID, err := selector.Select(selCtx, candidates)
		if err != nil {
			return Result{}, fmt.Errorf("orchestrator: speaker selection: %w", err)
		}

		a, ok := o.registry.Get(speakerID)
		if !ok {
			return Result{}, fmt.Errorf("orchestrator: selected agent %q not loaded", speakerID)
		}

		st.mu.Lock()
		st.turn++
		turn := st.turn
		st.phase = selCtx.Phase
		transcript := append([]agent.Message(nil), st.messages...)
		st.mu.Unlock()

		start := time.Now()
		msg, usage, err := o.invokeAgent(ctx, a, transcript, conversationID, turn)
		if err != nil {
			return Result{}, err
		}
		if o.metrics != nil {
			o.metrics.RecordConversationTurn("multi_agent")
			o.metrics.RecordTurnLatency("multi_agent", time.Since(start).Seconds())
		}

		pauseResult, err := o.maybeGateHITL(ctx, st, conversationID, userID, a.ID, msg, usage, convContext, "group")
		if err != nil {
			return Result{}, err
		}
		if pauseResult != nil {
			pauseResult.Routing = "multi_agent"
			pauseResult.AgentsUsed = o.agentsUsed(conversationID)
			pauseResult.TurnCount = o.turnCount(conversationID)
			pauseResult.CostBreakdown = o.costBreakdown(conversationID)
			return *pauseResult, nil
		}

		st.mu.Lock()
		st.messages = append(st.messages, msg)
		st.previousSpeakers = prependBounded(st.previousSpeakers, a.ID, 5)
		st.mu.Unlock()

		if o.budgetBreached(conversationID) {
			result := o.finishGroup(conversationID)
			result.Kind = ResultBudgetExceeded
			return result, nil
		}

		if containsTerminationMarker(msg.Content) {
			break
		}
	}

	return o.finishGroup(conversationID), nil
}

func (o *Orchestrator) finishGroup(conversationID string) Result {
	st := o.stateFor(conversationID)
	return Result{
		Kind:          ResultOK,
		Response:      lastNonEmptyAgentMessage(st.snapshot().Messages),
		AgentsUsed:    o.agentsUsed(conversationID),
		TurnCount:     o.turnCount(conversationID),
		CostBreakdown: o.costBreakdown(conversationID),
		Routing:       "multi_agent",
	}
}
