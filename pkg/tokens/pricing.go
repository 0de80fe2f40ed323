package tokens

import "sync"

// Pricing is a model's cost per one million tokens, in integer micro-dollars
// (1e-6 USD). Fixed-point throughout so every downstream cost computation is
// exact integer arithmetic; nothing in the pricing or accounting path
// accumulates binary-float error.
type Pricing struct {
	PromptPerMillionMicros     int64
	CompletionPerMillionMicros int64
}

// defaultModel is used whenever a model has no pricing entry.
const defaultModel = "gpt-4"

var (
	priceTableOnce sync.Once
	priceTable     map[string]Pricing
)

// prices returns the static model → price lookup table, built once. The
// numbers mirror publicly listed per-million-token rates (in USD, converted
// to micro-dollars by multiplying by 1e6) at the time these models were
// current; treat them as indicative, not authoritative.
func prices() map[string]Pricing {
	priceTableOnce.Do(func() {
		priceTable = map[string]Pricing{
			"gpt-4":            {PromptPerMillionMicros: 30_000_000, CompletionPerMillionMicros: 60_000_000},
			"gpt-4-turbo":      {PromptPerMillionMicros: 10_000_000, CompletionPerMillionMicros: 30_000_000},
			"gpt-3.5-turbo":    {PromptPerMillionMicros: 500_000, CompletionPerMillionMicros: 1_500_000},
			"claude-3-opus":    {PromptPerMillionMicros: 15_000_000, CompletionPerMillionMicros: 75_000_000},
			"claude-3-sonnet":  {PromptPerMillionMicros: 3_000_000, CompletionPerMillionMicros: 15_000_000},
			"claude-3-haiku":   {PromptPerMillionMicros: 250_000, CompletionPerMillionMicros: 1_250_000},
			"claude-sonnet-4":  {PromptPerMillionMicros: 3_000_000, CompletionPerMillionMicros: 15_000_000},
			"gemini-1.5-pro":   {PromptPerMillionMicros: 1_250_000, CompletionPerMillionMicros: 5_000_000},
			"gemini-1.5-flash": {PromptPerMillionMicros: 75_000, CompletionPerMillionMicros: 300_000},
		}
	})
	return priceTable
}

// PriceFor returns the pricing for model, falling back to the default
// model's price (and reporting false) when model is unrecognized.
func PriceFor(model string) (Pricing, bool) {
	if p, ok := prices()[model]; ok {
		return p, true
	}
	return prices()[defaultModel], false
}
