package store

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
}

func TestMySQLStore_InitSchema(t *testing.T) {
	ops := make([]mockOperation, 0, len(schema))
	for _, stmt := range schema {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)

	require.NoError(t, NewMySQLStore(db).InitSchema(context.Background()))
}

func TestMySQLStore_SaveTurn(t *testing.T) {
	db, drv := newMockDB(t, []mockOperation{
		execOp(insertTurnSQL, mockResult{lastInsertID: 42, rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)

	s := NewMySQLStore(db)
	s.now = fixedClock()
	id, err := s.SaveTurn(context.Background(), "alpha", llm.UserText("hi"), llm.Usage{InputTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestMySQLStore_RecentTurnsOldestFirst(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, drv := newMockDB(t, []mockOperation{
		queryOp(recentTurnsSQL, mockRowsData{
			columns: []string{"id", "project_id", "content", "tokens_input", "tokens_output", "created_at"},
			values: [][]driver.Value{
				{int64(8), "alpha", `{"role":"assistant","content":"done"}`, int64(0), int64(12), created},
				{int64(7), "alpha", `{"role":"user","content":"do it"}`, int64(30), int64(0), created},
			},
		}),
	})
	defer drv.assertConsumed(t)

	turns, err := NewMySQLStore(db).RecentTurns(context.Background(), "alpha", 20)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, int64(7), turns[0].ID)
	assert.Equal(t, llm.RoleUser, turns[0].AsMessage().Role)
	assert.Equal(t, "done", turns[1].AsMessage().Content)
	assert.Equal(t, 12, turns[1].OutputTokens)
}

func TestMySQLStore_ClearAndLog(t *testing.T) {
	db, drv := newMockDB(t, []mockOperation{
		execOp(clearTurnsSQL, mockResult{rowsAffected: 5}),
		execOp(clearSummariesSQL, mockResult{rowsAffected: 1}),
		execOp(insertToolCallSQL, mockResult{lastInsertID: 1, rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)

	s := NewMySQLStore(db)
	s.now = fixedClock()
	ctx := context.Background()

	require.NoError(t, s.ClearTurns(ctx, "alpha"))
	require.NoError(t, s.LogToolCall(ctx, ToolCallRecord{
		ProjectID: "alpha",
		ToolName:  "search_emails",
		Input:     map[string]any{"query": "is:unread"},
		Result:    "3 threads",
		Model:     "claude-sonnet-4-6",
		Latency:   250 * time.Millisecond,
	}))
}

func TestMySQLStore_Summaries(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	db, drv := newMockDB(t, []mockOperation{
		execOp(insertSummarySQL, mockResult{lastInsertID: 3, rowsAffected: 1}),
		queryOp(latestSummarySQL, mockRowsData{
			columns: []string{"project_id", "summary", "through_turn_id", "created_at"},
			values: [][]driver.Value{
				{"alpha", "- met Anna", int64(16), created},
			},
		}),
		queryOp(latestSummarySQL, mockRowsData{
			columns: []string{"project_id", "summary", "through_turn_id", "created_at"},
		}),
	})
	defer drv.assertConsumed(t)

	s := NewMySQLStore(db)
	s.now = fixedClock()
	ctx := context.Background()

	require.NoError(t, s.SaveSummary(ctx, Summary{ProjectID: "alpha", Text: "- met Anna", ThroughTurnID: 16}))

	sum, err := s.LatestSummary(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, "- met Anna", sum.Text)
	assert.Equal(t, int64(16), sum.ThroughTurnID)

	sum, err = s.LatestSummary(ctx, "beta")
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestMySQLStore_Costs(t *testing.T) {
	db, drv := newMockDB(t, []mockOperation{
		execOp(upsertCostSQL, mockResult{rowsAffected: 1}),
		queryOp(costSummarySQL, mockRowsData{
			columns: []string{"date", "project_id", "model", "requests_count", "tokens_input", "tokens_output", "cost_usd"},
			values: [][]driver.Value{
				{"2026-03-10", "alpha", "claude-sonnet-4-6", int64(3), int64(9000), int64(1200), 0.045},
			},
		}),
	})
	defer drv.assertConsumed(t)

	s := NewMySQLStore(db)
	s.now = fixedClock()
	ctx := context.Background()

	require.NoError(t, s.RecordCost(ctx, "alpha", "claude-sonnet-4-6", llm.Usage{InputTokens: 3000, OutputTokens: 400}))

	summary, err := s.CostSummary(ctx, 7)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, 3, summary[0].Requests)
	assert.InDelta(t, 0.045, summary[0].CostUSD, 1e-9)
}

func TestOpenMySQL_RejectsBadDSN(t *testing.T) {
	_, err := OpenMySQL(context.Background(), "", config.StorageConfig{})
	assert.Error(t, err)

	_, err = OpenMySQL(context.Background(), "not a dsn", config.StorageConfig{})
	assert.Error(t, err)
}
