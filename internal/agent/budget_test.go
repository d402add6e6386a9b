package agent

import (
	"testing"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

func TestBudget(t *testing.T) {
	b := NewBudget(1000)
	b.Record(llm.Usage{InputTokens: 600, OutputTokens: 300, CacheReadTokens: 5000})
	if b.Exhausted() {
		t.Fatal("900 tokens should not exhaust a 1000 budget; cache reads do not count")
	}

	b.Record(llm.Usage{InputTokens: 100, OutputTokens: 1})
	b.RecordToolCall()
	if !b.Exhausted() {
		t.Error("1001 tokens should exhaust a 1000 budget")
	}

	u := b.Usage()
	if u.InputTokens != 700 || u.OutputTokens != 301 || u.CacheReadTokens != 5000 {
		t.Errorf("Usage() = %+v", u)
	}
	if b.ProviderCalls() != 2 || b.ToolCalls() != 1 {
		t.Errorf("ProviderCalls = %d, ToolCalls = %d", b.ProviderCalls(), b.ToolCalls())
	}
}

func TestBudget_Unlimited(t *testing.T) {
	b := NewBudget(0)
	b.Record(llm.Usage{InputTokens: 1 << 30})
	if b.Exhausted() {
		t.Error("a zero limit means unlimited")
	}
}
