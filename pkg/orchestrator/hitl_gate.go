package orchestrator

import (
	"context"
	"strings"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
	"github.com/shawkym/agentpipe-orchestrator/pkg/config"
	"github.com/shawkym/agentpipe-orchestrator/pkg/hitl"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/tokens"
)

// pauseSnapshot is the ContextSnapshot handed to the Pause Manager: enough
// for a resume callback to pick a conversation back up without reaching
// into the live conversationState (which may have moved on by the time
// approval arrives).
type pauseSnapshot struct {
	Kind        string // "single" or "group"
	AgentID     string
	UserID      string
	ConvContext map[string]interface{}
	TurnAtPause int
}

// maybeGateHITL assesses the turn just produced against the risk threshold
// table. A nil Result means the action was auto-approved (or HITL is
// disabled) and the caller should continue as normal.
func (o *Orchestrator) maybeGateHITL(ctx context.Context, st *conversationState, conversationID, userID, agentID string, msg agent.Message, usage tokens.TurnTokenUsage, convContext map[string]interface{}, kind string) (*Result, error) {
	sensitivities, _ := convContext["data_sensitivity"].([]string)

	approval, err := o.approvals.CreateApproval(ctx, hitl.CreateInput{
		ConversationID:   conversationID,
		UserID:           userID,
		AgentID:          agentID,
		ActionType:       string(msg.Kind),
		Description:      summarize(msg.Content),
		EstimatedCostUSD: tokens.MicrosToUSD(usage.TotalCostMicros),
		DataSensitivity:  sensitivities,
		Thresholds:       o.thresholds,
	})
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, nil
	}

	snap := pauseSnapshot{Kind: kind, AgentID: agentID, UserID: userID, ConvContext: convContext, TurnAtPause: st.snapshot().Turn}
	timeout := approval.ExpiresAt.Sub(approval.CreatedAt)
	resume := o.makeResume(st, msg, snap)

	if err := o.pauseMgr.Pause(conversationID, approval.ID, "hitl approval required", snap, msg, resume, timeout); err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"conversation_id": conversationID,
		"approval_id":     approval.ID,
		"risk_level":      approval.RiskLevel.String(),
	}).Info("conversation paused for human approval")

	return &Result{
		Kind:   ResultPaused,
		Paused: &PausedInfo{ApprovalID: approval.ID, RiskLevel: approval.RiskLevel.String()},
	}, nil
}

func summarize(content string) string {
	const max = 200
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}

// makeResume builds the ResumeFunc the Pause Manager invokes once the
// linked approval reaches a terminal state. A resume must never propagate a
// panic; it is wrapped by the Pause Manager's own recover, and it reports
// its outcome to registered observers since Orchestrate has already
// returned a "paused" Result to its original caller by the time this runs.
func (o *Orchestrator) makeResume(st *conversationState, pendingMsg agent.Message, snap pauseSnapshot) hitl.ResumeFunc {
	return func(ctx context.Context, rc hitl.ResumeContext) error {
		switch rc.Status {
		case hitl.StatusApproved:
			st.mu.Lock()
			st.messages = append(st.messages, pendingMsg)
			st.previousSpeakers = prependBounded(st.previousSpeakers, snap.AgentID, 5)
			st.mu.Unlock()

			if snap.Kind == "single" {
				result := Result{
					Kind:          ResultOK,
					Response:      pendingMsg.Content,
					AgentsUsed:    o.agentsUsed(rc.ConversationID),
					TurnCount:     o.turnCount(rc.ConversationID),
					CostBreakdown: o.costBreakdown(rc.ConversationID),
					Routing:       "single_agent",
				}
				o.notifyObservers(rc.ConversationID, result)
				return nil
			}

			result, err := o.continueGroup(ctx, st, rc.ConversationID, snap.UserID, snap.ConvContext, snap.TurnAtPause)
			if err != nil {
				o.notifyObservers(rc.ConversationID, Result{Kind: ResultError, Error: err.Error()})
				return err
			}
			o.notifyObservers(rc.ConversationID, result)
			return nil

		case hitl.StatusDenied:
			o.notifyObservers(rc.ConversationID, Result{
				Kind:          ResultBlocked,
				Blocked:       &BlockedInfo{Reason: "hitl denied: " + rc.Rationale},
				AgentsUsed:    o.agentsUsed(rc.ConversationID),
				TurnCount:     o.turnCount(rc.ConversationID),
				CostBreakdown: o.costBreakdown(rc.ConversationID),
			})
			return nil

		case hitl.StatusTimeout:
			o.notifyObservers(rc.ConversationID, Result{
				Kind:          ResultError,
				Error:         "approval request timed out",
				AgentsUsed:    o.agentsUsed(rc.ConversationID),
				TurnCount:     o.turnCount(rc.ConversationID),
				CostBreakdown: o.costBreakdown(rc.ConversationID),
			})
			return nil

		default:
			return nil
		}
	}
}

// buildThresholds converts the YAML-serializable risk table into the
// pkg/hitl shape, falling back to the package defaults when unconfigured.
func buildThresholds(cfg config.HITLConfig) []hitl.Threshold {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Thresholds) == 0 {
		return hitl.DefaultThresholds()
	}

	out := make([]hitl.Threshold, 0, len(cfg.Thresholds))
	for _, rt := range cfg.Thresholds {
		out = append(out, hitl.Threshold{
			Level:           parseRiskLevel(rt.Level),
			MinCostUSD:      rt.MinCostUSD,
			Sensitivities:   toSet(rt.Sensitivities),
			Actions:         toSet(rt.Actions),
			RequireApproval: rt.RequireApproval,
			AutoPause:       rt.AutoPause,
			TimeoutMinutes:  rt.TimeoutMinutes,
		})
	}
	return out
}

func parseRiskLevel(s string) hitl.RiskLevel {
	switch strings.ToLower(s) {
	case "medium":
		return hitl.RiskMedium
	case "high":
		return hitl.RiskHigh
	case "critical":
		return hitl.RiskCritical
	default:
		return hitl.RiskLow
	}
}

func toSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}
