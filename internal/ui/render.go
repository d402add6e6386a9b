// Package ui renders agent results and operator listings for the terminal.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/abdul-hamid-achik/agentd/internal/agent"
	"github.com/abdul-hamid-achik/agentd/internal/approval"
	"github.com/abdul-hamid-achik/agentd/internal/permissions"
	"github.com/abdul-hamid-achik/agentd/internal/store"
)

// Renderer writes styled output to w. Colors are dropped when w is not a
// terminal or NO_COLOR is set.
type Renderer struct {
	w   io.Writer
	tty bool
	s   styles
}

// NewRenderer creates a renderer for w.
func NewRenderer(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{w: w, tty: isTerminal(w), s: newStyles(r)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// IsTTY reports whether output goes to a terminal.
func (r *Renderer) IsTTY() bool {
	return r.tty
}

func (r *Renderer) println(s string) {
	fmt.Fprintln(r.w, s)
}

// Result prints the answer, then a footer with tool calls and usage. A
// suspended run also gets an approval box.
func (r *Renderer) Result(res *agent.Result) {
	if res == nil {
		return
	}
	r.println(r.s.text.Render(strings.TrimSpace(res.Text)))

	if res.Pending != nil {
		r.println(r.s.section.Render(r.approvalBox(res.Pending)))
	}

	var lines []string
	for _, tc := range res.ToolCalls {
		style, mark := r.s.tool, "✓"
		if tc.IsError {
			style, mark = r.s.toolErr, "✗"
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s %s", mark, tc.Name))+
			r.s.meta.Render(" "+formatLatency(tc.Duration)))
	}
	lines = append(lines, r.s.meta.Render(usageLine(res)))
	r.println(r.s.section.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}

func usageLine(res *agent.Result) string {
	parts := []string{res.Model}
	if res.FastPath {
		parts = append(parts, "fast path")
	} else {
		parts = append(parts, plural(res.Rounds, "round"))
	}
	parts = append(parts, fmt.Sprintf("%d in / %d out tokens", res.Usage.InputTokens, res.Usage.OutputTokens))
	if res.Usage.CacheReadTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", res.Usage.CacheReadTokens))
	}
	return strings.Join(parts, " · ")
}

func (r *Renderer) approvalBox(req *approval.Request) string {
	lines := []string{
		r.s.warning.Render("Approval required: " + req.ToolName),
		r.s.key.Render("id: ") + req.ID,
		r.s.key.Render("project: ") + req.ProjectID,
	}
	if input := formatInput(req.ToolInput); input != "" {
		lines = append(lines, r.s.key.Render("input: ")+input)
	}
	lines = append(lines, r.s.meta.Render(fmt.Sprintf("agentd approve %s  |  agentd reject %s", req.ID, req.ID)))
	return r.s.box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Pending lists unresolved approval requests, oldest first.
func (r *Renderer) Pending(reqs []*approval.Request) {
	if len(reqs) == 0 {
		r.println(r.s.empty.Render("No pending approvals."))
		return
	}
	lines := []string{r.s.title.Render("Pending approvals"), r.s.header.Render(plural(len(reqs), "request"))}
	for _, req := range reqs {
		lines = append(lines, r.s.section.Render(lipgloss.JoinVertical(lipgloss.Left,
			r.s.tool.Render(req.ToolName)+r.s.meta.Render(" "+req.ProjectID+" · "+req.CreatedAt.Local().Format(time.DateTime)),
			r.s.key.Render("id: ")+req.ID,
			r.s.key.Render("input: ")+formatInput(req.ToolInput),
		)))
	}
	r.println(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Costs prints the daily cost summary with a total.
func (r *Renderer) Costs(recs []store.CostRecord, days int) {
	title := r.s.title.Render(fmt.Sprintf("Costs, last %s", plural(days, "day")))
	if len(recs) == 0 {
		r.println(title)
		r.println(r.s.empty.Render("No usage recorded."))
		return
	}

	rows := [][]string{{"DATE", "PROJECT", "MODEL", "REQUESTS", "INPUT", "OUTPUT", "USD"}}
	var total float64
	for _, c := range recs {
		rows = append(rows, []string{
			c.Date, c.ProjectID, c.Model,
			fmt.Sprint(c.Requests), fmt.Sprint(c.InputTokens), fmt.Sprint(c.OutputTokens),
			fmt.Sprintf("%.4f", c.CostUSD),
		})
		total += c.CostUSD
	}
	r.println(title)
	r.println(r.table(rows))
	r.println(r.s.warning.Render(fmt.Sprintf("total $%.4f", total)))
}

// Tools lists a project's tools with what the phase does with each.
func (r *Renderer) Tools(projectID string, phase permissions.Phase, list []agent.ToolStatus) {
	r.println(r.s.title.Render(projectID) + r.s.header.Render(" phase "+string(phase)))
	if len(list) == 0 {
		r.println(r.s.empty.Render("No tools available."))
		return
	}
	rows := [][]string{{"TOOL", "INSTANCE", "DECISION"}}
	for _, ts := range list {
		rows = append(rows, []string{ts.Name, ts.InstanceID, r.decision(ts.Decision)})
	}
	r.println(r.table(rows))
}

func (r *Renderer) decision(d permissions.Decision) string {
	switch d {
	case permissions.DecisionAllow:
		return r.s.allow.Render(d.String())
	case permissions.DecisionNeedsApproval:
		return r.s.warning.Render(d.String())
	default:
		return r.s.deny.Render(d.String())
	}
}

// table left-aligns columns on the rendered width of each cell. The first
// row is the header.
func (r *Renderer) table(rows [][]string) string {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	lines := make([]string, 0, len(rows))
	for n, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if n == 0 {
			line = r.s.header.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(data)
}

func formatLatency(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
