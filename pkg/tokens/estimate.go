package tokens

import "github.com/shawkym/agentpipe-orchestrator/pkg/agent"

// charsPerToken is the rough estimation constant used when a model client
// doesn't report exact token counts.
const charsPerToken = 4

// EstimateTokens estimates prompt/completion token counts for a message
// whose actual usage wasn't reported by the model client. The split by
// message kind follows text 50/50, tool-call +50 prompt overhead, and
// tool-result 1/3 prompt : 2/3 completion.
func EstimateTokens(msg agent.Message) (promptTokens, completionTokens int) {
	contentTokens := len(msg.Content) / charsPerToken

	switch msg.Kind {
	case agent.KindToolCall:
		promptTokens = contentTokens + 50
		completionTokens = contentTokens
	case agent.KindToolResult:
		promptTokens = contentTokens / 3
		completionTokens = contentTokens - promptTokens
	default:
		promptTokens = contentTokens / 2
		completionTokens = contentTokens - promptTokens
	}

	if promptTokens < 1 {
		promptTokens = 1
	}
	if completionTokens < 1 {
		completionTokens = 1
	}
	return promptTokens, completionTokens
}

// CalculateCostMicros computes prompt/completion cost in integer
// micro-dollars (1e-6 USD) for a token count under a given model's pricing.
// Pure integer arithmetic: no float ever enters the cost computation.
func CalculateCostMicros(promptTokens, completionTokens int, model string) (promptMicros, completionMicros int64) {
	p, _ := PriceFor(model)
	promptMicros = int64(promptTokens) * p.PromptPerMillionMicros / 1_000_000
	completionMicros = int64(completionTokens) * p.CompletionPerMillionMicros / 1_000_000
	return promptMicros, completionMicros
}

// MicrosToUSD converts integer micro-dollars to a float64 USD amount. Use
// only at JSON/API/CLI presentation boundaries, never to feed a further
// internal accumulation.
func MicrosToUSD(micros int64) float64 {
	return float64(micros) / 1_000_000
}

// USDToMicros converts a float64 USD amount — typically a budget read from a
// YAML config file — to integer micro-dollars for internal tracking.
func USDToMicros(usd float64) int64 {
	return int64(usd*1_000_000 + 0.5)
}
