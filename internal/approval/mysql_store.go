package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
)

// MySQLStore keeps requests in the approval_requests table. The pending
// guard lives in the UPDATE itself, so concurrent resolutions across
// processes still resolve once.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps an open database. See store.OpenMySQL.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

const approvalSchema = `CREATE TABLE IF NOT EXISTS approval_requests (
        id VARCHAR(36) PRIMARY KEY,
        project_id VARCHAR(128) NOT NULL,
        tool_name VARCHAR(255) NOT NULL,
        tool_input TEXT NOT NULL,
        tool_use_id VARCHAR(128) NOT NULL,
        snapshot MEDIUMTEXT NOT NULL,
        status VARCHAR(16) NOT NULL,
        created_at DATETIME(6) NOT NULL,
        resolved_at DATETIME(6) NULL,
        INDEX idx_approval_status (status, project_id)
)`

// InitSchema creates the table when missing.
func (s *MySQLStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, approvalSchema); err != nil {
		return agenterr.StorageFailed("init approval_requests", err)
	}
	return nil
}

const insertApprovalSQL = `INSERT INTO approval_requests
        (id, project_id, tool_name, tool_input, tool_use_id, snapshot, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (s *MySQLStore) Create(ctx context.Context, req *Request) error {
	input, err := json.Marshal(req.ToolInput)
	if err != nil {
		return agenterr.StorageFailed("encode tool input", err)
	}
	_, err = s.db.ExecContext(ctx, insertApprovalSQL,
		req.ID,
		req.ProjectID,
		req.ToolName,
		string(input),
		req.ToolUseID,
		string(req.Snapshot),
		string(req.Status),
		req.CreatedAt,
	)
	if err != nil {
		return agenterr.StorageFailed("create approval", err)
	}
	return nil
}

const selectApprovalSQL = `SELECT id, project_id, tool_name, tool_input, tool_use_id, snapshot, status, created_at, resolved_at
        FROM approval_requests`

func (s *MySQLStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, selectApprovalSQL+` WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agenterr.ApprovalNotFound(id)
	}
	if err != nil {
		return nil, agenterr.StorageFailed("get approval", err)
	}
	return req, nil
}

const resolveApprovalSQL = `UPDATE approval_requests SET status = ?, resolved_at = ?
        WHERE id = ? AND status = 'pending'`

func (s *MySQLStore) Transition(ctx context.Context, id string, to Status, at time.Time) (*Request, error) {
	res, err := s.db.ExecContext(ctx, resolveApprovalSQL, string(to), at, id)
	if err != nil {
		return nil, agenterr.StorageFailed("resolve approval", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, agenterr.StorageFailed("resolve approval", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, agenterr.ApprovalAlreadyResolved(id)
	}
	return s.Get(ctx, id)
}

func (s *MySQLStore) Pending(ctx context.Context, projectID string) ([]*Request, error) {
	query := selectApprovalSQL + ` WHERE status = 'pending' ORDER BY created_at`
	args := []any{}
	if projectID != "" {
		query = selectApprovalSQL + ` WHERE status = 'pending' AND project_id = ? ORDER BY created_at`
		args = append(args, projectID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, agenterr.StorageFailed("list pending approvals", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, agenterr.StorageFailed("scan approval", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, agenterr.StorageFailed("list pending approvals", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	var (
		req      Request
		input    string
		snapshot string
		status   string
		resolved sql.NullTime
	)
	if err := row.Scan(
		&req.ID,
		&req.ProjectID,
		&req.ToolName,
		&input,
		&req.ToolUseID,
		&snapshot,
		&status,
		&req.CreatedAt,
		&resolved,
	); err != nil {
		return nil, err
	}
	if input != "" {
		if err := json.Unmarshal([]byte(input), &req.ToolInput); err != nil {
			return nil, err
		}
	}
	req.Snapshot = json.RawMessage(snapshot)
	req.Status = Status(status)
	if resolved.Valid {
		req.ResolvedAt = resolved.Time
	}
	return &req, nil
}
