package llm

import (
	"context"
	"strings"
)

// Role is the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Stop reasons reported by the provider
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult answers a ToolCall in the following user turn
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one conversation turn. A user turn carries text and/or tool
// results; an assistant turn carries text and/or tool calls.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// UserText builds a plain user turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantText builds a plain assistant turn.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// IsPlainText reports whether the turn holds only text.
func (m Message) IsPlainText() bool {
	return len(m.ToolCalls) == 0 && len(m.ToolResults) == 0
}

// TextLength returns the number of characters the turn contributes to a
// request, including serialized tool traffic.
func (m Message) TextLength() int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.ID) + approxInputLength(tc.Input)
	}
	for _, tr := range m.ToolResults {
		n += len(tr.Content) + len(tr.ToolCallID)
	}
	return n
}

func approxInputLength(input map[string]any) int {
	n := 2
	for k, v := range input {
		n += len(k) + 4
		if s, ok := v.(string); ok {
			n += len(s)
		} else {
			n += 8
		}
	}
	return n
}

// ToolDefinition defines a tool for the LLM
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Usage counts tokens billed for one or more provider calls
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Request is one provider call. Each call names its own model, so one client
// serves concurrent runs on different tiers.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Response represents an LLM response
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
	Model      string
}

// Text returns the trimmed text content.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Content)
}

// LLMClient is the interface for LLM clients
type LLMClient interface {
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// FlattenToolTraffic renders tool calls and results as plain text, for
// requests that carry no tool definitions.
func FlattenToolTraffic(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.IsPlainText() {
			out = append(out, msg)
			continue
		}
		var b strings.Builder
		b.WriteString(msg.Content)
		for _, tc := range msg.ToolCalls {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("[called tool " + tc.Name + "]")
		}
		for _, tr := range msg.ToolResults {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			label := "[tool result]\n"
			if tr.IsError {
				label = "[tool error]\n"
			}
			b.WriteString(label + tr.Content)
		}
		out = append(out, Message{Role: msg.Role, Content: b.String()})
	}
	return out
}
