package orchestrator

// ResultKind discriminates the shape of a Result, replacing the exception
// hierarchy the reference implementation uses to signal non-happy paths.
type ResultKind string

const (
	ResultOK             ResultKind = "ok"
	ResultBlocked        ResultKind = "blocked"
	ResultPaused         ResultKind = "paused"
	ResultBudgetExceeded ResultKind = "budget_exceeded"
	ResultError          ResultKind = "error"
)

// BlockedInfo explains why a conversation turn was rejected by policy.
type BlockedInfo struct {
	Reason string
}

// PausedInfo identifies the approval a conversation is waiting on.
type PausedInfo struct {
	ApprovalID string
	RiskLevel  string
}

// Result is what Orchestrate always returns, whatever path the turn took.
// At most one of Blocked/Paused is populated, matching Kind: Blocked for
// ResultBlocked, Paused for ResultPaused.
type Result struct {
	Kind ResultKind

	ConversationID  string
	Response        string
	AgentsUsed      []string
	TurnCount       int
	DurationSeconds float64
	CostBreakdown   map[string]float64 // agent id -> cumulative cost (USD)
	Routing         string             // "single_agent" | "multi_agent"

	Error          string
	Blocked        *BlockedInfo
	CircuitBreaker bool
	Paused         *PausedInfo
}
