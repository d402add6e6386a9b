package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

// OpenMySQL opens and pings a pool. Times are parsed as UTC.
func OpenMySQL(ctx context.Context, dsn string, cfg config.StorageConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql dsn is empty")
	}
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mcfg.ParseTime = true
	mcfg.Loc = time.UTC

	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, agenterr.StorageFailed("connect mysql", err)
	}
	return db, nil
}

// MySQLStore implements Store on MySQL.
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore wraps an open pool. Call InitSchema once at startup.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversation_turns (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        project_id VARCHAR(128) NOT NULL,
        role VARCHAR(16) NOT NULL,
        content MEDIUMTEXT NOT NULL,
        tokens_input INT NOT NULL DEFAULT 0,
        tokens_output INT NOT NULL DEFAULT 0,
        created_at DATETIME(6) NOT NULL,
        INDEX idx_turns_project (project_id, id)
)`,
	`CREATE TABLE IF NOT EXISTS conversation_summaries (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        project_id VARCHAR(128) NOT NULL,
        summary TEXT NOT NULL,
        through_turn_id BIGINT NOT NULL,
        created_at DATETIME(6) NOT NULL,
        INDEX idx_summaries_project (project_id, id)
)`,
	`CREATE TABLE IF NOT EXISTS tool_calls (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        project_id VARCHAR(128) NOT NULL,
        tool_name VARCHAR(255) NOT NULL,
        tool_input TEXT,
        tool_result TEXT,
        model VARCHAR(64) NOT NULL,
        tokens_input INT NOT NULL DEFAULT 0,
        tokens_output INT NOT NULL DEFAULT 0,
        latency_ms BIGINT NOT NULL DEFAULT 0,
        is_error BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME(6) NOT NULL,
        INDEX idx_tool_calls_project (project_id, created_at)
)`,
	`CREATE TABLE IF NOT EXISTS cost_tracking (
        date CHAR(10) NOT NULL,
        project_id VARCHAR(128) NOT NULL,
        model VARCHAR(64) NOT NULL,
        requests_count INT NOT NULL DEFAULT 0,
        tokens_input BIGINT NOT NULL DEFAULT 0,
        tokens_output BIGINT NOT NULL DEFAULT 0,
        cost_usd DECIMAL(12,6) NOT NULL DEFAULT 0,
        PRIMARY KEY (date, project_id, model)
)`,
}

// InitSchema creates missing tables.
func (s *MySQLStore) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return agenterr.StorageFailed("init schema", err)
		}
	}
	return nil
}

const insertTurnSQL = `INSERT INTO conversation_turns
        (project_id, role, content, tokens_input, tokens_output, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

func (s *MySQLStore) SaveTurn(ctx context.Context, projectID string, msg llm.Message, usage llm.Usage) (int64, error) {
	content, err := json.Marshal(msg)
	if err != nil {
		return 0, agenterr.StorageFailed("encode turn", err)
	}
	res, err := s.db.ExecContext(ctx, insertTurnSQL,
		projectID,
		string(msg.Role),
		string(content),
		usage.InputTokens,
		usage.OutputTokens,
		s.now().UTC(),
	)
	if err != nil {
		return 0, agenterr.StorageFailed("save turn", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, agenterr.StorageFailed("save turn", err)
	}
	return id, nil
}

const recentTurnsSQL = `SELECT id, project_id, content, tokens_input, tokens_output, created_at
        FROM conversation_turns WHERE project_id = ? ORDER BY id DESC LIMIT ?`

func (s *MySQLStore) RecentTurns(ctx context.Context, projectID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, recentTurnsSQL, projectID, limit)
	if err != nil {
		return nil, agenterr.StorageFailed("recent turns", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t       Turn
			content string
		)
		if err := rows.Scan(&t.ID, &t.ProjectID, &content, &t.InputTokens, &t.OutputTokens, &t.CreatedAt); err != nil {
			return nil, agenterr.StorageFailed("scan turn", err)
		}
		if err := json.Unmarshal([]byte(content), &t.Message); err != nil {
			return nil, agenterr.StorageFailed("decode turn", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, agenterr.StorageFailed("recent turns", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

const (
	clearTurnsSQL     = `DELETE FROM conversation_turns WHERE project_id = ?`
	clearSummariesSQL = `DELETE FROM conversation_summaries WHERE project_id = ?`
)

func (s *MySQLStore) ClearTurns(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, clearTurnsSQL, projectID); err != nil {
		return agenterr.StorageFailed("clear turns", err)
	}
	if _, err := s.db.ExecContext(ctx, clearSummariesSQL, projectID); err != nil {
		return agenterr.StorageFailed("clear summaries", err)
	}
	return nil
}

const insertSummarySQL = `INSERT INTO conversation_summaries
        (project_id, summary, through_turn_id, created_at)
        VALUES (?, ?, ?, ?)`

func (s *MySQLStore) SaveSummary(ctx context.Context, sum Summary) error {
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, insertSummarySQL,
		sum.ProjectID, sum.Text, sum.ThroughTurnID, sum.CreatedAt); err != nil {
		return agenterr.StorageFailed("save summary", err)
	}
	return nil
}

const latestSummarySQL = `SELECT project_id, summary, through_turn_id, created_at
        FROM conversation_summaries WHERE project_id = ? ORDER BY id DESC LIMIT 1`

func (s *MySQLStore) LatestSummary(ctx context.Context, projectID string) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, latestSummarySQL, projectID).
		Scan(&sum.ProjectID, &sum.Text, &sum.ThroughTurnID, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, agenterr.StorageFailed("latest summary", err)
	}
	return &sum, nil
}

const insertToolCallSQL = `INSERT INTO tool_calls
        (project_id, tool_name, tool_input, tool_result, model, tokens_input, tokens_output, latency_ms, is_error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *MySQLStore) LogToolCall(ctx context.Context, rec ToolCallRecord) error {
	var input sql.NullString
	if len(rec.Input) > 0 {
		data, err := json.Marshal(rec.Input)
		if err != nil {
			return agenterr.StorageFailed("encode tool input", err)
		}
		input = sql.NullString{String: string(data), Valid: true}
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, insertToolCallSQL,
		rec.ProjectID,
		rec.ToolName,
		input,
		clipResult(rec.Result),
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Latency.Milliseconds(),
		rec.IsError,
		created.UTC(),
	)
	if err != nil {
		return agenterr.StorageFailed("log tool call", err)
	}
	return nil
}

const upsertCostSQL = `INSERT INTO cost_tracking
        (date, project_id, model, requests_count, tokens_input, tokens_output, cost_usd)
        VALUES (?, ?, ?, 1, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        requests_count = requests_count + 1,
        tokens_input = tokens_input + VALUES(tokens_input),
        tokens_output = tokens_output + VALUES(tokens_output),
        cost_usd = cost_usd + VALUES(cost_usd)`

func (s *MySQLStore) RecordCost(ctx context.Context, projectID, model string, usage llm.Usage) error {
	_, err := s.db.ExecContext(ctx, upsertCostSQL,
		costDate(s.now()),
		projectID,
		model,
		usage.InputTokens,
		usage.OutputTokens,
		Cost(model, usage),
	)
	if err != nil {
		return agenterr.StorageFailed("record cost", err)
	}
	return nil
}

const costSummarySQL = `SELECT DATE_FORMAT(date, '%Y-%m-%d'), project_id, model, requests_count, tokens_input, tokens_output, cost_usd
        FROM cost_tracking WHERE date >= ? ORDER BY date DESC, project_id, model`

func (s *MySQLStore) CostSummary(ctx context.Context, days int) ([]CostRecord, error) {
	since := costDate(s.now().AddDate(0, 0, -days))
	rows, err := s.db.QueryContext(ctx, costSummarySQL, since)
	if err != nil {
		return nil, agenterr.StorageFailed("cost summary", err)
	}
	defer rows.Close()

	var out []CostRecord
	for rows.Next() {
		var rec CostRecord
		if err := rows.Scan(&rec.Date, &rec.ProjectID, &rec.Model, &rec.Requests,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD); err != nil {
			return nil, agenterr.StorageFailed("scan cost", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, agenterr.StorageFailed("cost summary", err)
	}
	return out, nil
}

// DB exposes the pool for stores sharing the database.
func (s *MySQLStore) DB() *sql.DB { return s.db }

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
