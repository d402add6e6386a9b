package agent

import (
	"testing"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
)

func TestProjectTools(t *testing.T) {
	tests := []struct {
		phase permissions.Phase
		want  map[string]permissions.Decision
	}{
		{
			phase: permissions.PhaseReadOnly,
			want: map[string]permissions.Decision{
				"search_emails": permissions.DecisionAllow,
				"send_email":    permissions.DecisionDeny,
				"create-event":  permissions.DecisionDeny,
			},
		},
		{
			phase: permissions.PhaseControlled,
			want: map[string]permissions.Decision{
				"search_emails": permissions.DecisionAllow,
				"send_email":    permissions.DecisionNeedsApproval,
				"create-event":  permissions.DecisionAllow,
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			h := newTestAgent(t, testSettings(tt.phase))
			phase, got, err := h.agent.ProjectTools(t.Context(), "alpha")
			if err != nil {
				t.Fatal(err)
			}
			if phase != tt.phase {
				t.Errorf("phase = %s, want %s", phase, tt.phase)
			}
			if len(got) != 5 {
				t.Fatalf("got %d tools, want all 5", len(got))
			}
			for _, ts := range got {
				want, ok := tt.want[ts.Name]
				if ok && ts.Decision != want {
					t.Errorf("%s: decision %s, want %s", ts.Name, ts.Decision, want)
				}
			}
		})
	}
}

func TestClearHistory(t *testing.T) {
	h := newTestAgent(t, testSettings(permissions.PhaseReadOnly),
		llm.TextResponse("first"), llm.TextResponse("second"))

	if _, err := h.agent.Run(t.Context(), "alpha", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := h.agent.ClearHistory(t.Context(), "alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.agent.Run(t.Context(), "alpha", "again"); err != nil {
		t.Fatal(err)
	}

	req, _ := h.llm.LastRequest()
	if len(req.Messages) != 1 {
		t.Errorf("history after clear = %d messages, want only the new user turn", len(req.Messages))
	}
	if got := h.runtime.Released(); len(got) != 1 || got[0] != "alpha" {
		t.Errorf("released = %v, want alpha's tool servers released once", got)
	}
	if got := h.runtime.Instances("alpha"); len(got) != 2 {
		t.Errorf("instances after the next run = %v, want them acquired again", got)
	}
	if err := h.agent.ClearHistory(t.Context(), "nope"); err == nil {
		t.Error("expected an error for an unknown project")
	}
}
