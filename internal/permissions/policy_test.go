package permissions

import (
	"testing"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
)

func TestDecision_String(t *testing.T) {
	tests := []struct {
		decision Decision
		expected string
	}{
		{DecisionAllow, "allow"},
		{DecisionNeedsApproval, "needs_approval"},
		{DecisionDeny, "deny"},
		{Decision(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.decision.String(); got != tt.expected {
				t.Errorf("Decision.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParsePhase(t *testing.T) {
	for _, in := range []string{"read_only", "DRAFTS", " controlled "} {
		if _, err := ParsePhase(in); err != nil {
			t.Errorf("ParsePhase(%q) unexpected error: %v", in, err)
		}
	}
	if _, err := ParsePhase("yolo"); err == nil {
		t.Error("ParsePhase should reject unknown phases")
	}
}

func TestPhasePolicy_Check(t *testing.T) {
	drafts := PhasePolicy{
		AllowedPrefixes:  []string{"search_emails", "read_email", "draft_email", "send_email", "tg_get_", "tg_send_"},
		RequiresApproval: []string{"send_email", "tg_send_message"},
	}
	controlled := PhasePolicy{
		AllowedPrefixes:  []string{Wildcard},
		RequiresApproval: []string{"delete_email"},
	}

	tests := []struct {
		name   string
		policy PhasePolicy
		tool   string
		want   Decision
	}{
		{"read allowed", drafts, "search_emails", DecisionAllow},
		{"prefix match", drafts, "tg_get_chats", DecisionAllow},
		{"gated write", drafts, "send_email", DecisionNeedsApproval},
		{"gated prefixed write", drafts, "tg_send_message", DecisionNeedsApproval},
		{"not allowed", drafts, "delete_email", DecisionDeny},
		{"wildcard", controlled, "slack_conversations_history", DecisionAllow},
		{"wildcard gated", controlled, "delete_email", DecisionNeedsApproval},
		{"empty policy denies", PhasePolicy{}, "search_emails", DecisionDeny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Check(tt.tool); got != tt.want {
				t.Errorf("Check(%q) = %s, want %s", tt.tool, got, tt.want)
			}
		})
	}
}

func TestPhasePolicy_Validate(t *testing.T) {
	valid := PhasePolicy{
		AllowedPrefixes:  []string{"send_", "read_"},
		RequiresApproval: []string{"send_email"},
	}
	if err := valid.Validate(PhaseDrafts); err != nil {
		t.Errorf("expected valid policy, got %v", err)
	}

	invalid := PhasePolicy{
		AllowedPrefixes:  []string{"read_"},
		RequiresApproval: []string{"send_email"},
	}
	err := invalid.Validate(PhaseDrafts)
	if err == nil {
		t.Fatal("expected error for gated tool outside allowed prefixes")
	}
	if agenterr.GetCode(err) != "policy_invalid" {
		t.Errorf("expected policy_invalid, got %v", err)
	}
}

func TestPolicySet(t *testing.T) {
	set := PolicySet{
		ReadOnly:   PhasePolicy{AllowedPrefixes: []string{"read_"}},
		Drafts:     PhasePolicy{AllowedPrefixes: []string{"read_", "send_"}, RequiresApproval: []string{"send_email"}},
		Controlled: PhasePolicy{AllowedPrefixes: []string{Wildcard}, RequiresApproval: []string{"send_email"}},
	}

	if err := set.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if set.IsZero() {
		t.Error("populated set should not be zero")
	}
	if !(PolicySet{}).IsZero() {
		t.Error("empty set should be zero")
	}

	p, ok := set.ForPhase(PhaseDrafts)
	if !ok || !p.NeedsApproval("send_email") {
		t.Error("drafts policy should gate send_email")
	}
	if _, ok := set.ForPhase(Phase("unknown")); ok {
		t.Error("unknown phase should not resolve")
	}

	set.ReadOnly.RequiresApproval = []string{"send_email"}
	if err := set.Validate(); err == nil {
		t.Error("expected read_only gate without allow to fail validation")
	}
}
