package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/agentd/internal/logging"
)

// DigestKind selects a proactive report.
type DigestKind string

const (
	DigestDaily  DigestKind = "daily"  // plan for today
	DigestWeekly DigestKind = "weekly" // plan for the week ahead
	DigestReport DigestKind = "report" // what happened this week

	// DigestPlan is the weekly plan on Mondays and the daily plan otherwise.
	DigestPlan DigestKind = "plan"
)

// ParseDigestKind validates a kind name.
func ParseDigestKind(s string) (DigestKind, error) {
	switch k := DigestKind(strings.ToLower(strings.TrimSpace(s))); k {
	case DigestDaily, DigestWeekly, DigestReport, DigestPlan:
		return k, nil
	}
	return "", fmt.Errorf("unknown digest kind %q, want daily, weekly, report or plan", s)
}

// Resolve maps DigestPlan to the concrete kind for now.
func (k DigestKind) Resolve(now time.Time) DigestKind {
	if k != DigestPlan {
		return k
	}
	if now.Weekday() == time.Monday {
		return DigestWeekly
	}
	return DigestDaily
}

const dateLayout = "Monday, 2 January 2006"

// DigestPrompt is the request sent to the agent for kind. kind must already
// be resolved.
func DigestPrompt(kind DigestKind, project string, now time.Time) string {
	switch kind {
	case DigestWeekly:
		monday := weekStart(now)
		return fmt.Sprintf(`Prepare the plan for the week of %s for project %s.

Check the calendar for this week's meetings and deadlines, and mail and chats for requests still waiting on me.
Group the plan by day. For each item give the time, who is involved and what I need to prepare.
End with the three priorities for the week.`, monday.Format(dateLayout), project)
	case DigestReport:
		monday := weekStart(now)
		return fmt.Sprintf(`Write the weekly report for project %s covering %s to %s.

Use the calendar, mail, chats and tickets to list what was done, which meetings took place and what was decided.
Then list what is still open or blocked, with owners.
Keep it short enough to forward as is.`, project, monday.Format(dateLayout), now.Format(dateLayout))
	default:
		return fmt.Sprintf(`Prepare my plan for today, %s, for project %s.

Check today's calendar events, unanswered mail and chats, and tickets due soon.
List the day in time order, then the follow-ups I owe, most urgent first.`, now.Format(dateLayout), project)
	}
}

// weekStart returns the Monday of now's week.
func weekStart(now time.Time) time.Time {
	return now.AddDate(0, 0, -((int(now.Weekday())+6)%7))
}

// Digest runs the proactive report kind for projectID. It is an ordinary
// run: the prompt and answer join the project's history.
func (a *Agent) Digest(ctx context.Context, projectID string, kind DigestKind) (*Result, error) {
	project, err := a.settings.Project(projectID)
	if err != nil {
		return nil, err
	}
	now := a.now()
	kind = kind.Resolve(now)

	a.log.Info("running digest", logging.Project(projectID), logging.F("kind", string(kind)))
	return a.Run(ctx, projectID, DigestPrompt(kind, project.DisplayName, now))
}
