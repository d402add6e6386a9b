package permissions

import (
	"fmt"
	"slices"
	"strings"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
)

// Phase is a project's autonomy level
type Phase string

const (
	PhaseReadOnly   Phase = "read_only"  // Read tools only, nothing gated
	PhaseDrafts     Phase = "drafts"     // Read and write tools, every write gated
	PhaseControlled Phase = "controlled" // Everything allowed, destructive tools gated
)

// Phases lists every phase in escalation order.
var Phases = []Phase{PhaseReadOnly, PhaseDrafts, PhaseControlled}

// ParsePhase converts a string to a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Phases, p) {
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Wildcard in AllowedPrefixes matches every tool name.
const Wildcard = "*"

// Decision is the outcome of checking a tool against a phase policy
type Decision int

const (
	DecisionAllow         Decision = iota // Execute immediately
	DecisionNeedsApproval                 // Suspend the run until a human resolves it
	DecisionDeny                          // Not visible to the model in this phase
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionNeedsApproval:
		return "needs_approval"
	case DecisionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// PhasePolicy lists the tool-name prefixes visible in a phase and the exact
// tool names that must be approved before they run.
type PhasePolicy struct {
	AllowedPrefixes  []string `yaml:"allowed_prefixes" json:"allowed_prefixes"`
	RequiresApproval []string `yaml:"requires_approval" json:"requires_approval"`
}

// Allows reports whether name is covered by an allowed prefix.
func (p PhasePolicy) Allows(name string) bool {
	for _, prefix := range p.AllowedPrefixes {
		if prefix == Wildcard || strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// NeedsApproval reports whether name is an approval-gated tool.
func (p PhasePolicy) NeedsApproval(name string) bool {
	return slices.Contains(p.RequiresApproval, name)
}

// Check classifies a tool call under this policy.
func (p PhasePolicy) Check(name string) Decision {
	if !p.Allows(name) {
		return DecisionDeny
	}
	if p.NeedsApproval(name) {
		return DecisionNeedsApproval
	}
	return DecisionAllow
}

// Validate enforces that every gated tool is also allowed. A gate on a tool
// the model can never see is a configuration mistake.
func (p PhasePolicy) Validate(phase Phase) error {
	for _, name := range p.RequiresApproval {
		if !p.Allows(name) {
			return agenterr.PolicyInvalid(string(phase), name)
		}
	}
	return nil
}

// PolicySet holds one PhasePolicy per phase.
type PolicySet struct {
	ReadOnly   PhasePolicy `yaml:"read_only" json:"read_only"`
	Drafts     PhasePolicy `yaml:"drafts" json:"drafts"`
	Controlled PhasePolicy `yaml:"controlled" json:"controlled"`
}

// ForPhase returns the policy for phase.
func (s PolicySet) ForPhase(phase Phase) (PhasePolicy, bool) {
	switch phase {
	case PhaseReadOnly:
		return s.ReadOnly, true
	case PhaseDrafts:
		return s.Drafts, true
	case PhaseControlled:
		return s.Controlled, true
	default:
		return PhasePolicy{}, false
	}
}

// Validate checks every phase.
func (s PolicySet) Validate() error {
	for _, phase := range Phases {
		p, _ := s.ForPhase(phase)
		if err := p.Validate(phase); err != nil {
			return err
		}
	}
	return nil
}

// IsZero reports whether no phase carries any rule.
func (s PolicySet) IsZero() bool {
	for _, phase := range Phases {
		p, _ := s.ForPhase(phase)
		if len(p.AllowedPrefixes) > 0 || len(p.RequiresApproval) > 0 {
			return false
		}
	}
	return true
}
