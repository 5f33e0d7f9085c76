package llm

import "github.com/limmweb/vk-messager/pkg/models"

// Price is a model's USD cost per million tokens.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing is the price table for the supported models.
func DefaultPricing() map[string]Price {
	return map[string]Price{
		"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	}
}

// Cost estimates the USD price of a usage delta for the model. Unknown models
// cost zero: accounting still records their token counts.
func Cost(pricing map[string]Price, model string, usage models.Usage) float64 {
	price, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)*price.InputPerMillion/1_000_000 +
		float64(usage.OutputTokens)*price.OutputPerMillion/1_000_000
}
