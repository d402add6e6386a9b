package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockLLMClient implements LLMClient for testing.
type MockLLMClient struct {
	// ChatFunc overrides the default behavior when set.
	ChatFunc func(ctx context.Context, req *Request) (*Response, error)

	mu        sync.Mutex
	responses []*Response

	// Requests records every Chat call in order.
	Requests []Request
}

var _ LLMClient = (*MockLLMClient)(nil)

// NewMockLLMClient creates a mock that replays responses in order and
// answers "mock response" once they run out.
func NewMockLLMClient(responses ...*Response) *MockLLMClient {
	return &MockLLMClient{responses: responses}
}

// Chat calls the injected ChatFunc or returns the next queued response.
func (m *MockLLMClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	recorded := *req
	recorded.Messages = append([]Message(nil), req.Messages...)
	m.Requests = append(m.Requests, recorded)
	var next *Response
	if len(m.responses) > 0 {
		next = m.responses[0]
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if next != nil {
		return next, nil
	}
	return &Response{
		Content:    "mock response",
		StopReason: StopEndTurn,
		Model:      req.Model,
	}, nil
}

// CallCount returns the number of Chat calls so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request.
func (m *MockLLMClient) LastRequest() (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}, fmt.Errorf("no requests recorded")
	}
	return m.Requests[len(m.Requests)-1], nil
}

// ToolUseResponse builds a response requesting the given tool calls.
func ToolUseResponse(calls ...ToolCall) *Response {
	return &Response{ToolCalls: calls, StopReason: StopToolUse}
}

// TextResponse builds a final text response.
func TextResponse(text string) *Response {
	return &Response{Content: text, StopReason: StopEndTurn}
}
