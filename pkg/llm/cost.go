package llm

// ModelPricing is USD per million tokens, grounded on the per-model
// InputPrice/OutputPrice fields carried by telnet2-opencode's
// internal/provider/anthropic.go model catalog.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var modelPricing = map[string]ModelPricing{
	"claude-sonnet-4-5-20250929":  {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-opus-4-20250514":      {InputPerMillion: 15.0, OutputPerMillion: 75.0},
	"claude-3-5-sonnet-20241022":  {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-3-5-haiku-20241022":   {InputPerMillion: 0.8, OutputPerMillion: 4.0},
	"claude-haiku-4-5-20251001":   {InputPerMillion: 0.8, OutputPerMillion: 4.0},
}

// defaultPricing is used for an unrecognized model id so cost accounting
// degrades gracefully instead of silently reporting zero.
var defaultPricing = ModelPricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}

// EstimateCost converts a TokenUsage into a USD cost for model.
func EstimateCost(model string, usage TokenUsage) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = defaultPricing
	}
	return float64(usage.InputTokens)/1_000_000*pricing.InputPerMillion +
		float64(usage.OutputTokens)/1_000_000*pricing.OutputPerMillion
}
