// Package store persists conversation turns, the tool-call audit log and
// per-day cost aggregates.
package store

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

// maxToolResultLength caps audited tool results.
const maxToolResultLength = 10240

const truncatedSuffix = "...[truncated]"

// Turn is a persisted conversation turn.
type Turn struct {
	ID           int64
	ProjectID    string
	Message      llm.Message
	InputTokens  int
	OutputTokens int
	CreatedAt    time.Time
}

// AsMessage returns the provider message for the turn.
func (t Turn) AsMessage() llm.Message {
	return t.Message
}

// Summary is a stored compression of a project's conversation. It stands in
// for every turn up to and including ThroughTurnID.
type Summary struct {
	ProjectID     string
	Text          string
	ThroughTurnID int64
	CreatedAt     time.Time
}

// ToolCallRecord is one audited tool execution.
type ToolCallRecord struct {
	ProjectID    string
	ToolName     string
	Input        map[string]any
	Result       string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	IsError      bool
	CreatedAt    time.Time
}

// CostRecord aggregates one day of usage for a project and model.
type CostRecord struct {
	Date         string // YYYY-MM-DD, UTC
	ProjectID    string
	Model        string
	Requests     int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Store is the persistence collaborator of the agent loop.
type Store interface {
	SaveTurn(ctx context.Context, projectID string, msg llm.Message, usage llm.Usage) (int64, error)
	RecentTurns(ctx context.Context, projectID string, limit int) ([]Turn, error)
	// ClearTurns also drops the project's summaries.
	ClearTurns(ctx context.Context, projectID string) error
	SaveSummary(ctx context.Context, sum Summary) error
	// LatestSummary returns nil without error when the project has none.
	LatestSummary(ctx context.Context, projectID string) (*Summary, error)
	LogToolCall(ctx context.Context, rec ToolCallRecord) error
	RecordCost(ctx context.Context, projectID, model string, usage llm.Usage) error
	CostSummary(ctx context.Context, days int) ([]CostRecord, error)
	Close() error
}

func clipResult(s string) string {
	runes := []rune(s)
	if len(runes) <= maxToolResultLength {
		return s
	}
	return string(runes[:maxToolResultLength]) + truncatedSuffix
}

func costDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
