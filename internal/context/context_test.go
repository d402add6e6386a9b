package context

import (
	"fmt"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

func newTestManager(maxTokens int) *Manager {
	cfg := config.DefaultConfig().Context
	cfg.MaxTokens = maxTokens
	return NewManager(cfg, nil)
}

// alternating builds n plain turns starting with the user.
func alternating(n int, size int) []llm.Message {
	msgs := make([]llm.Message, n)
	for i := range msgs {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		msgs[i] = llm.Message{Role: role, Content: fmt.Sprintf("turn %02d %s", i, strings.Repeat("x", size))}
	}
	return msgs
}

type fakeTurn struct {
	role    llm.Role
	content string
}

func (f fakeTurn) AsMessage() llm.Message {
	return llm.Message{Role: f.role, Content: f.content}
}

func TestBuild(t *testing.T) {
	turns := []fakeTurn{
		{llm.RoleAssistant, "left over from a trimmed window"},
		{llm.RoleUser, "hello"},
		{llm.RoleUser, "are you there?"},
		{llm.RoleAssistant, "yes"},
	}

	got := Build(turns)
	wantRoles := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant}
	if len(got) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d: %+v", len(wantRoles), len(got), got)
	}
	for i, role := range wantRoles {
		if got[i].Role != role {
			t.Errorf("turn %d role = %s, want %s", i, got[i].Role, role)
		}
	}
	if got[0].Content != continueFiller {
		t.Errorf("expected filler user turn first, got %q", got[0].Content)
	}
	if got[2].Content != "hello\n\nare you there?" {
		t.Errorf("consecutive user turns not merged: %q", got[2].Content)
	}
}

func TestEstimateTokens(t *testing.T) {
	m := newTestManager(0)
	msgs := []llm.Message{
		llm.UserText(strings.Repeat("a", 300)),
		llm.AssistantText(strings.Repeat("b", 30)),
	}
	// 300/3 + 10 + 30/3 + 10
	if got := m.EstimateTokens(msgs); got != 130 {
		t.Errorf("EstimateTokens() = %d, want 130", got)
	}
	if got := m.EstimateTokens(nil); got != 0 {
		t.Errorf("EstimateTokens(nil) = %d, want 0", got)
	}
	if m.MaxTokens() != DefaultMaxTokens {
		t.Errorf("MaxTokens() = %d, want default %d", m.MaxTokens(), DefaultMaxTokens)
	}
}

func TestTrimShrinksFromOldestEnd(t *testing.T) {
	m := newTestManager(0)
	msgs := alternating(10, 300)

	full := m.EstimateTokens(msgs)
	trimmed := m.Trim(msgs, full/2)

	if len(trimmed) >= len(msgs) {
		t.Fatalf("expected trimming, got %d of %d turns", len(trimmed), len(msgs))
	}
	if m.EstimateTokens(trimmed) > full/2+m.EstimateText(continueFiller)+defaultMessageOverhead {
		t.Errorf("trimmed window still over budget: %d", m.EstimateTokens(trimmed))
	}
	last := trimmed[len(trimmed)-1]
	if last.Content != msgs[len(msgs)-1].Content {
		t.Errorf("newest turn must survive, got %q", last.Content)
	}
	if trimmed[0].Role != llm.RoleUser {
		t.Errorf("window must start with user, got %s", trimmed[0].Role)
	}
}

func TestTrimKeepsNewestTwo(t *testing.T) {
	m := newTestManager(0)
	msgs := alternating(6, 3000)

	trimmed := m.Trim(msgs, 1)

	// The newest two survive even though the budget cannot be met.
	var kept []string
	for _, msg := range trimmed {
		kept = append(kept, msg.Content)
	}
	joined := strings.Join(kept, "|")
	if !strings.Contains(joined, msgs[4].Content) || !strings.Contains(joined, msgs[5].Content) {
		t.Errorf("newest two turns were dropped: %v", kept)
	}
}

func TestTrimUnderBudgetIsNoop(t *testing.T) {
	m := newTestManager(0)
	msgs := alternating(4, 10)
	trimmed := m.Trim(msgs, 0)
	if len(trimmed) != 4 {
		t.Errorf("expected 4 turns, got %d", len(trimmed))
	}
}

func TestTrimUsesCalibration(t *testing.T) {
	m := newTestManager(0).WithCalibrator(NewTokenCalibrator(10))
	msgs := alternating(6, 300)
	raw := m.RawEstimate(msgs)

	// Provider reports twice the estimate: windows are bigger than we think.
	m.Calibrator().Record(raw, raw*2)
	if got := m.EstimateTokens(msgs); got != raw*2 {
		t.Errorf("calibrated estimate = %d, want %d", got, raw*2)
	}
	if trimmed := m.Trim(msgs, raw); len(trimmed) >= len(msgs) {
		t.Error("expected calibrated estimate to force trimming")
	}
}
