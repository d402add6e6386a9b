package context

import (
	"strings"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

// continueFiller opens a window that would otherwise start with the assistant.
const continueFiller = "Continue."

// Normalize makes a window acceptable to the provider. It runs once after
// every structural edit:
//   - empty turns are dropped
//   - tool results without a matching call in the preceding assistant turn
//     are dropped, as are tool calls never answered by the next user turn
//   - consecutive turns of the same role are merged
//   - a window starting with the assistant gets a filler user turn first
//
// A trailing assistant turn keeps its tool calls; the loop answers them.
func Normalize(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for i, msg := range messages {
		msg = cloneMessage(msg)

		switch msg.Role {
		case llm.RoleUser:
			msg.ToolResults = answeredResults(msg.ToolResults, previousAssistant(out))
		case llm.RoleAssistant:
			if len(msg.ToolCalls) > 0 && i < len(messages)-1 {
				msg.ToolCalls = answeredCalls(msg.ToolCalls, nextUser(messages, i))
			}
		default:
			continue
		}

		if isEmpty(msg) {
			continue
		}

		if n := len(out); n > 0 && out[n-1].Role == msg.Role {
			out[n-1] = merge(out[n-1], msg)
			continue
		}
		out = append(out, msg)
	}

	if len(out) > 0 && out[0].Role != llm.RoleUser {
		out = append([]llm.Message{llm.UserText(continueFiller)}, out...)
	}
	return out
}

func previousAssistant(out []llm.Message) *llm.Message {
	if len(out) == 0 || out[len(out)-1].Role != llm.RoleAssistant {
		return nil
	}
	return &out[len(out)-1]
}

func nextUser(messages []llm.Message, i int) *llm.Message {
	if i+1 >= len(messages) || messages[i+1].Role != llm.RoleUser {
		return nil
	}
	return &messages[i+1]
}

func answeredResults(results []llm.ToolResult, assistant *llm.Message) []llm.ToolResult {
	if len(results) == 0 {
		return results
	}
	if assistant == nil {
		return nil
	}
	ids := make(map[string]bool, len(assistant.ToolCalls))
	for _, tc := range assistant.ToolCalls {
		ids[tc.ID] = true
	}
	kept := results[:0]
	for _, tr := range results {
		if ids[tr.ToolCallID] {
			kept = append(kept, tr)
		}
	}
	return kept
}

func answeredCalls(calls []llm.ToolCall, user *llm.Message) []llm.ToolCall {
	if user == nil {
		return nil
	}
	ids := make(map[string]bool, len(user.ToolResults))
	for _, tr := range user.ToolResults {
		ids[tr.ToolCallID] = true
	}
	kept := calls[:0]
	for _, tc := range calls {
		if ids[tc.ID] {
			kept = append(kept, tc)
		}
	}
	return kept
}

func isEmpty(msg llm.Message) bool {
	return strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 && len(msg.ToolResults) == 0
}

func merge(a, b llm.Message) llm.Message {
	switch {
	case a.Content == "":
		a.Content = b.Content
	case b.Content != "":
		a.Content = a.Content + "\n\n" + b.Content
	}
	a.ToolCalls = append(a.ToolCalls, b.ToolCalls...)
	a.ToolResults = append(a.ToolResults, b.ToolResults...)
	return a
}

func cloneMessage(msg llm.Message) llm.Message {
	if msg.ToolCalls != nil {
		msg.ToolCalls = append([]llm.ToolCall(nil), msg.ToolCalls...)
	}
	if msg.ToolResults != nil {
		msg.ToolResults = append([]llm.ToolResult(nil), msg.ToolResults...)
	}
	return msg
}
