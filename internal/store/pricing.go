package store

import (
	"strings"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

// Price is USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// DefaultPrice applies to models missing from the table.
var DefaultPrice = Price{Input: 3.00, Output: 15.00}

var modelPricing = map[string]Price{
	"claude-sonnet-4-6": {Input: 3.00, Output: 15.00},
	"claude-opus-4-6":   {Input: 5.00, Output: 25.00},
	"claude-haiku-4-5":  {Input: 1.00, Output: 5.00},
}

// PriceFor looks a model up exactly, then by family.
func PriceFor(model string) Price {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	switch {
	case strings.Contains(model, "opus"):
		return modelPricing["claude-opus-4-6"]
	case strings.Contains(model, "haiku"):
		return modelPricing["claude-haiku-4-5"]
	}
	return DefaultPrice
}

// Cost returns the USD cost of usage on model.
func Cost(model string, usage llm.Usage) float64 {
	p := PriceFor(model)
	return (float64(usage.InputTokens)*p.Input + float64(usage.OutputTokens)*p.Output) / 1_000_000
}
