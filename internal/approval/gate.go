package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/logging"
)

// Gate opens and resolves approval requests.
type Gate struct {
	store    Store
	notifier Notifier
	log      *logging.Logger
	now      func() time.Time
}

// NewGate creates a gate. A nil notifier logs new requests.
func NewGate(store Store, notifier Notifier, log *logging.Logger) *Gate {
	log = log.WithPrefix("approval")
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &Gate{store: store, notifier: notifier, log: log, now: time.Now}
}

// Open persists a pending request and announces it. A failed announcement
// is logged; the request stays resolvable through the CLI.
func (g *Gate) Open(ctx context.Context, req *Request) error {
	if req.Status == "" {
		req.Status = StatusPending
	}
	if err := g.store.Create(ctx, req); err != nil {
		return err
	}

	g.log.Event(logging.EventApprovalOpen,
		logging.ApprovalID(req.ID), logging.Project(req.ProjectID), logging.ToolName(req.ToolName))
	g.log.Metrics().RecordToolGated(req.ToolName)

	if err := g.notifier.Notify(ctx, req); err != nil {
		g.log.Warn("approval notification failed", logging.ApprovalID(req.ID), logging.Error(err))
	}
	return nil
}

// Resolve moves a pending request to outcome. Only the first resolution
// of a request succeeds; later ones return ErrAlreadyResolved.
func (g *Gate) Resolve(ctx context.Context, id string, outcome Status) (*Request, error) {
	if outcome != StatusApproved && outcome != StatusRejected {
		return nil, fmt.Errorf("invalid approval outcome %q", outcome)
	}

	req, err := g.store.Transition(ctx, id, outcome, g.now().UTC())
	if err != nil {
		g.log.Event(logging.EventApprovalConflict, logging.ApprovalID(id), logging.Error(err))
		return nil, err
	}

	g.log.Event(logging.EventApprovalResolved,
		logging.ApprovalID(id), logging.F("outcome", string(outcome)), logging.ToolName(req.ToolName))
	g.log.Metrics().RecordApproval(outcome == StatusApproved)
	g.log.Info("approval resolved",
		logging.ApprovalID(id), logging.Project(req.ProjectID), logging.F("outcome", string(outcome)))
	return req, nil
}

// Get returns a request in any state.
func (g *Gate) Get(ctx context.Context, id string) (*Request, error) {
	return g.store.Get(ctx, id)
}

// Pending lists unresolved requests, oldest first. An empty projectID
// lists every project.
func (g *Gate) Pending(ctx context.Context, projectID string) ([]*Request, error) {
	return g.store.Pending(ctx, projectID)
}
