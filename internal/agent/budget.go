package agent

import "github.com/abdul-hamid-achik/agentd/internal/llm"

// Budget tracks what one run has spent. Counters only grow.
type Budget struct {
	limit     int
	usage     llm.Usage
	toolCalls int
	calls     int
}

// NewBudget creates a budget capping input+output tokens at limit.
// limit <= 0 means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Record adds the usage of one provider call.
func (b *Budget) Record(u llm.Usage) {
	b.usage.Add(u)
	b.calls++
}

// RecordToolCall counts one executed tool.
func (b *Budget) RecordToolCall() {
	b.toolCalls++
}

// Exhausted reports whether input+output tokens went over the limit.
func (b *Budget) Exhausted() bool {
	return b.limit > 0 && b.usage.Total() > b.limit
}

// Usage returns the accumulated token counts.
func (b *Budget) Usage() llm.Usage { return b.usage }

// ToolCalls returns the number of executed tools.
func (b *Budget) ToolCalls() int { return b.toolCalls }

// ProviderCalls returns the number of recorded provider calls.
func (b *Budget) ProviderCalls() int { return b.calls }
