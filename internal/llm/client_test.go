package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/agentd/internal/config"
)

const sampleMessageJSON = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-haiku-4-5",
  "content": [
    {"type": "text", "text": "Looking that up."},
    {"type": "tool_use", "id": "toolu_01", "name": "gmail_search", "input": {"query": "invoice"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 120, "output_tokens": 30, "cache_read_input_tokens": 80, "cache_creation_input_tokens": 40}
}`

func testProvider(baseURL string) config.ProviderConfig {
	p := config.DefaultConfig().Provider
	p.BaseURL = baseURL
	return p
}

type capturedRequest struct {
	header http.Header
	body   map[string]any
}

func newCaptureServer(t *testing.T) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleMessageJSON))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func TestClient_ChatParsesResponse(t *testing.T) {
	server, _ := newCaptureServer(t)
	client := NewClient(testProvider(server.URL), Credentials{APIKey: "sk-test"}, nil)

	resp, err := client.Chat(context.Background(), &Request{
		Model:    "claude-haiku-4-5",
		Messages: []Message{UserText("find my invoice")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Looking that up.", resp.Content)
	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, "claude-haiku-4-5", resp.Model)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_01", resp.ToolCalls[0].ID)
	assert.Equal(t, "gmail_search", resp.ToolCalls[0].Name)
	assert.Equal(t, "invoice", resp.ToolCalls[0].Input["query"])
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 30, CacheReadTokens: 80, CacheWriteTokens: 40}, resp.Usage)
}

func TestClient_RequestShape(t *testing.T) {
	server, captured := newCaptureServer(t)
	client := NewClient(testProvider(server.URL), Credentials{APIKey: "sk-test"}, nil)

	_, err := client.Chat(context.Background(), &Request{
		System: "You are a project assistant.",
		Messages: []Message{
			UserText("search mail"),
			{Role: RoleAssistant, Content: "Searching.", ToolCalls: []ToolCall{{ID: "t1", Name: "gmail_search", Input: map[string]any{"query": "x"}}}},
			{Role: RoleUser, ToolResults: []ToolResult{{ToolCallID: "t1", Content: "no results", IsError: true}}},
		},
		Tools: []ToolDefinition{
			{Name: "gmail_search", Description: "Search", InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			}},
			{Name: "gmail_read", Description: "Read", InputSchema: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)

	body := captured.body
	assert.Equal(t, "claude-sonnet-4-6", body["model"], "empty model falls back to the provider default")
	assert.EqualValues(t, 2048, body["max_tokens"])
	assert.Equal(t, "sk-test", captured.header.Get("X-Api-Key"))

	system := body["system"].([]any)[0].(map[string]any)
	assert.Equal(t, "You are a project assistant.", system["text"])
	assert.Equal(t, map[string]any{"type": "ephemeral"}, system["cache_control"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 2)
	assert.NotContains(t, tools[0].(map[string]any), "cache_control")
	assert.Equal(t, map[string]any{"type": "ephemeral"}, tools[1].(map[string]any)["cache_control"])
	schema := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, []any{"query"}, schema["required"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 3)

	assistant := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, assistant, 2)
	assert.Equal(t, "text", assistant[0].(map[string]any)["type"])
	assert.Equal(t, "tool_use", assistant[1].(map[string]any)["type"])
	assert.Equal(t, "t1", assistant[1].(map[string]any)["id"])

	result := messages[2].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "t1", result["tool_use_id"])
	assert.Equal(t, true, result["is_error"])
}

func TestClient_OAuthHeaders(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	server, captured := newCaptureServer(t)
	client := NewClient(testProvider(server.URL), Credentials{AuthToken: "oauth-token"}, nil)

	_, err := client.Chat(context.Background(), &Request{Messages: []Message{UserText("hi")}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer oauth-token", captured.header.Get("Authorization"))
	assert.Contains(t, captured.header.Values("Anthropic-Beta"), oauthBetaHeader)
	assert.Empty(t, captured.header.Get("X-Api-Key"))
}

func TestClient_ErrorIsClassifiable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient(testProvider(server.URL), Credentials{APIKey: "sk-test"}, nil)
	_, err := client.Chat(context.Background(), &Request{Messages: []Message{UserText("hi")}})
	require.Error(t, err)

	kind, _ := ClassifyError(err)
	assert.Equal(t, KindOverloaded, kind)
}

func TestConvertMessagesSkipsEmptyTurns(t *testing.T) {
	out := convertMessages([]Message{
		UserText("hi"),
		{Role: RoleAssistant},
		AssistantText("hello"),
	})
	assert.Len(t, out, 2)
}

func TestParseToolInput(t *testing.T) {
	got, err := parseToolInput("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = parseToolInput("null")
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = parseToolInput("{not json")
	assert.Error(t, err)
}

func TestFlattenToolTraffic(t *testing.T) {
	out := FlattenToolTraffic([]Message{
		UserText("find the invoice"),
		{Role: RoleAssistant, Content: "Searching.", ToolCalls: []ToolCall{{ID: "t1", Name: "search_emails"}}},
		{Role: RoleUser, ToolResults: []ToolResult{{ToolCallID: "t1", Content: "no results", IsError: true}}},
	})

	require.Len(t, out, 3)
	for _, msg := range out {
		assert.True(t, msg.IsPlainText())
	}
	assert.Equal(t, "find the invoice", out[0].Content)
	assert.Equal(t, "Searching.\n[called tool search_emails]", out[1].Content)
	assert.Equal(t, "[tool error]\nno results", out[2].Content)
}
