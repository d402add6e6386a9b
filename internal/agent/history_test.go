package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	ctxmgr "github.com/abdul-hamid-achik/agentd/internal/context"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
)

// seedTurns stores n alternating turns for alpha, user first. Turn IDs
// start at 1 and each turn's text names its ID.
func seedTurns(t *testing.T, h *testHarness, n int) {
	t.Helper()
	for i := range n {
		text := fmt.Sprintf("message %d", i+1)
		msg := llm.UserText(text)
		if i%2 == 1 {
			msg = llm.AssistantText(text)
		}
		if _, err := h.store.SaveTurn(context.Background(), "alpha", msg, llm.Usage{}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRun_LongHistoryIsSummarized(t *testing.T) {
	cfg := testSettings(permissions.PhaseControlled)
	h := newTestAgent(t, cfg,
		llm.TextResponse("- the user asked about the launch"),
		llm.TextResponse("answer"),
	)
	seedTurns(t, h, 26)
	ctx := context.Background()

	if _, err := h.agent.Run(ctx, "alpha", "what next?"); err != nil {
		t.Fatal(err)
	}
	if h.llm.CallCount() != 2 {
		t.Fatalf("calls = %d, want summary + answer", h.llm.CallCount())
	}

	sumReq := h.llm.Requests[0]
	if sumReq.Model != cfg.GetModel(config.TierFast) {
		t.Errorf("summary model = %q", sumReq.Model)
	}
	if !strings.Contains(sumReq.Messages[0].Content, "message 16") ||
		strings.Contains(sumReq.Messages[0].Content, "message 17") {
		t.Error("summary input should cover exactly the turns before the kept ones")
	}

	// summary + filler + keep_recent turns + the new question
	msgs := h.llm.Requests[1].Messages
	if want := 2 + cfg.Summarizer.KeepRecent + 1; len(msgs) != want {
		t.Fatalf("window = %d messages, want %d", len(msgs), want)
	}
	if !ctxmgr.IsSummary(msgs[0]) {
		t.Errorf("first message is not a summary: %q", msgs[0].Content)
	}
	if msgs[1].Role != llm.RoleAssistant {
		t.Errorf("second message role = %s, want assistant filler", msgs[1].Role)
	}
	if msgs[2].Content != "message 17" {
		t.Errorf("first kept turn = %q, want message 17", msgs[2].Content)
	}
	if msgs[len(msgs)-1].Content != "what next?" {
		t.Errorf("last message = %q", msgs[len(msgs)-1].Content)
	}

	sum, err := h.store.LatestSummary(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if sum == nil || sum.ThroughTurnID != 16 {
		t.Fatalf("stored summary = %+v, want one through turn 16", sum)
	}
}

func TestRun_StoredSummaryIsReused(t *testing.T) {
	cfg := testSettings(permissions.PhaseControlled)
	h := newTestAgent(t, cfg,
		llm.TextResponse("- the user asked about the launch"),
		llm.TextResponse("first answer"),
		llm.TextResponse("second answer"),
	)
	seedTurns(t, h, 26)
	ctx := context.Background()

	if _, err := h.agent.Run(ctx, "alpha", "what next?"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.agent.Run(ctx, "alpha", "and after that?"); err != nil {
		t.Fatal(err)
	}
	if h.llm.CallCount() != 3 {
		t.Fatalf("calls = %d, want one summary over both runs", h.llm.CallCount())
	}

	// Turns 17..28 follow the stored summary; 27 and 28 are the first run.
	msgs := h.llm.Requests[2].Messages
	if len(msgs) != 2+12+1 {
		t.Fatalf("window = %d messages, want 15", len(msgs))
	}
	if !ctxmgr.IsSummary(msgs[0]) || !strings.Contains(msgs[0].Content, "the launch") {
		t.Errorf("first message = %q, want the stored summary", msgs[0].Content)
	}
	if msgs[2].Content != "message 17" {
		t.Errorf("first kept turn = %q, want message 17", msgs[2].Content)
	}
	for _, m := range msgs {
		if m.Content == "message 16" {
			t.Error("a summarized turn was replayed")
		}
	}
}

func TestRun_SummarizerFailureKeepsHistory(t *testing.T) {
	cfg := testSettings(permissions.PhaseControlled)
	h := newTestAgent(t, cfg)
	calls := 0
	h.llm.ChatFunc = func(context.Context, *llm.Request) (*llm.Response, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("provider unavailable")
		}
		return llm.TextResponse("answer"), nil
	}
	seedTurns(t, h, 26)
	ctx := context.Background()

	if _, err := h.agent.Run(ctx, "alpha", "what next?"); err != nil {
		t.Fatal(err)
	}
	msgs := h.llm.Requests[len(h.llm.Requests)-1].Messages
	if len(msgs) != 27 {
		t.Errorf("window = %d messages, want the full history and the question", len(msgs))
	}
	if sum, _ := h.store.LatestSummary(ctx, "alpha"); sum != nil {
		t.Errorf("no summary should be stored, got %+v", sum)
	}
}
