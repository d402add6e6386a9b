// Package approval suspends risky tool calls until a human approves or
// rejects them. Each request is resolved exactly once.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

// Status is the lifecycle state of a request
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Sentinels for errors.Is; stores return the same codes with the id filled in.
var (
	ErrNotFound        = agenterr.ApprovalNotFound("")
	ErrAlreadyResolved = agenterr.ApprovalAlreadyResolved("")
)

// Request is a gated tool call waiting for a decision. Snapshot holds the
// message window, including the assistant turn that asked for the tool.
type Request struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  map[string]any  `json:"tool_input"`
	ToolUseID  string          `json:"tool_use_id"`
	Snapshot   json.RawMessage `json:"snapshot"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt time.Time       `json:"resolved_at,omitzero"`
}

// NewRequest builds a pending request with a fresh id.
func NewRequest(projectID string, call llm.ToolCall, window []llm.Message) (*Request, error) {
	snapshot, err := json.Marshal(window)
	if err != nil {
		return nil, fmt.Errorf("encode message snapshot: %w", err)
	}
	return &Request{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ToolName:  call.Name,
		ToolInput: call.Input,
		ToolUseID: call.ID,
		Snapshot:  snapshot,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Messages decodes the message window snapshot.
func (r *Request) Messages() ([]llm.Message, error) {
	if len(r.Snapshot) == 0 {
		return nil, nil
	}
	var msgs []llm.Message
	if err := json.Unmarshal(r.Snapshot, &msgs); err != nil {
		return nil, fmt.Errorf("decode message snapshot for %s: %w", r.ID, err)
	}
	return msgs, nil
}

// ToolCall rebuilds the gated call.
func (r *Request) ToolCall() llm.ToolCall {
	return llm.ToolCall{ID: r.ToolUseID, Name: r.ToolName, Input: r.ToolInput}
}

func (r *Request) clone() *Request {
	c := *r
	c.Snapshot = append(json.RawMessage(nil), r.Snapshot...)
	if r.ToolInput != nil {
		c.ToolInput = make(map[string]any, len(r.ToolInput))
		for k, v := range r.ToolInput {
			c.ToolInput[k] = v
		}
	}
	return &c
}

// Store persists requests. Transition must move a request out of pending
// atomically: of two concurrent calls for one id, exactly one succeeds and
// the other gets ErrAlreadyResolved.
type Store interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	Transition(ctx context.Context, id string, to Status, at time.Time) (*Request, error)
	Pending(ctx context.Context, projectID string) ([]*Request, error)
}

// Notifier announces new pending requests.
type Notifier interface {
	Notify(ctx context.Context, req *Request) error
}
