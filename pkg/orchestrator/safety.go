package orchestrator

import (
	"context"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

// SafetyGuardian is an optional external collaborator consulted before any
// routing decision is made. When absent, the safety gate is skipped.
type SafetyGuardian interface {
	Validate(ctx context.Context, message string, convContext map[string]interface{}) (ok bool, reason string, err error)
}

// ToolBinding resolves the tools an agent may invoke mid-turn. When absent,
// agents are invoked with no tools bound.
type ToolBinding interface {
	ToolsFor(agentID string) []agent.Tool
}
