package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/permissions"
	"github.com/abdul-hamid-achik/agentd/internal/tools"
)

const defaultBasePrompt = `You are a personal operations assistant. You work through the connected services listed below: reading mail, calendars, chats and tickets, and acting on them when the current phase permits.

Be concise. Quote names, dates, email addresses and links exactly as the tools return them. Never invent data you did not read from a tool. When a tool fails, say so and suggest what the user can do.`

// PromptContext is what the system prompt is assembled from.
type PromptContext struct {
	Base        string // empty selects the default prompt
	ProjectID   string
	DisplayName string
	Phase       permissions.Phase
	Services    []tools.ServerType
	Now         time.Time
}

// BuildSystemPrompt assembles the system prompt for a run.
func BuildSystemPrompt(pc PromptContext) string {
	var b strings.Builder

	base := strings.TrimSpace(pc.Base)
	if base == "" {
		base = defaultBasePrompt
	}
	b.WriteString(base)
	b.WriteString("\n\n## Context\n")
	fmt.Fprintf(&b, "- Current time: %s\n", pc.Now.Format("Monday, 2 January 2006 15:04 MST"))
	name := pc.DisplayName
	if name == "" {
		name = pc.ProjectID
	}
	fmt.Fprintf(&b, "- Project: %s\n", name)
	fmt.Fprintf(&b, "- Phase: %s\n", pc.Phase)

	b.WriteString("\n## Connected services\n")
	if len(pc.Services) == 0 {
		b.WriteString("- none; answer from the conversation only\n")
	}
	for _, t := range pc.Services {
		m := t.Meta()
		fmt.Fprintf(&b, "- %s: %s\n", m.DisplayName, m.Capability)
	}

	b.WriteString("\n## Rules for this phase\n")
	b.WriteString(phaseRules(pc.Phase))
	return b.String()
}

func phaseRules(phase permissions.Phase) string {
	switch phase {
	case permissions.PhaseDrafts:
		return "You may prepare drafts and propose actions. Anything that sends, changes or deletes data waits for human approval; tell the user when an action is awaiting approval.\n"
	case permissions.PhaseControlled:
		return "You may act on the user's behalf. Outbound and destructive actions still wait for human approval; tell the user when one is pending.\n"
	default:
		return "You can only read. Do not try to send, create, modify or delete anything; describe what you would do instead.\n"
	}
}

// loadBasePrompt reads a prompt file. An empty path returns "".
func loadBasePrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}
