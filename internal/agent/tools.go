package agent

import (
	"context"
	"fmt"

	"github.com/abdul-hamid-achik/agentd/internal/approval"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
)

// ToolStatus is a tool a project can reach and what its phase does with it.
type ToolStatus struct {
	Name       string
	InstanceID string
	Decision   permissions.Decision
}

// ProjectTools starts the project's tool servers and lists every tool they
// expose, including the ones the current phase hides from the model.
func (a *Agent) ProjectTools(ctx context.Context, projectID string) (permissions.Phase, []ToolStatus, error) {
	ps, err := a.setup(projectID)
	if err != nil {
		return "", nil, err
	}
	if a.tools == nil || len(ps.project.ToolServers) == 0 {
		return ps.project.Phase, nil, nil
	}
	if err := a.tools.AcquireProject(ctx, ps.id, ps.project.ToolServers); err != nil {
		return ps.project.Phase, nil, fmt.Errorf("start tool servers for %q: %w", projectID, err)
	}

	descs := a.tools.Registry().FilterForInstances(a.tools.Instances(ps.id), []string{permissions.Wildcard})
	out := make([]ToolStatus, 0, len(descs))
	for _, d := range descs {
		out = append(out, ToolStatus{
			Name:       d.Name,
			InstanceID: d.InstanceID,
			Decision:   ps.policy.Check(d.Name),
		})
	}
	return ps.project.Phase, out, nil
}

// ClearHistory forgets the project's conversation and stored summary, and
// releases its tool servers; the next run starts them again. Tool-call and
// cost records are kept.
func (a *Agent) ClearHistory(ctx context.Context, projectID string) error {
	if _, err := a.settings.Project(projectID); err != nil {
		return err
	}
	if err := a.store.ClearTurns(ctx, projectID); err != nil {
		return fmt.Errorf("clear history for %q: %w", projectID, err)
	}
	if a.tools != nil {
		a.tools.Release(projectID)
	}
	a.log.Info("conversation cleared", logging.Project(projectID))
	return nil
}

// PendingApprovals lists the project's unresolved approval requests, or
// every project's when projectID is empty.
func (a *Agent) PendingApprovals(ctx context.Context, projectID string) ([]*approval.Request, error) {
	return a.gate.Pending(ctx, projectID)
}
