package ui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	text    lipgloss.Style
	tool    lipgloss.Style
	toolErr lipgloss.Style
	meta    lipgloss.Style
	warning lipgloss.Style
	box     lipgloss.Style
	key     lipgloss.Style
	allow   lipgloss.Style
	deny    lipgloss.Style
	empty   lipgloss.Style
	section lipgloss.Style
	spinner lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true),
		header:  r.NewStyle().Foreground(lipgloss.Color("241")),
		text:    r.NewStyle(),
		tool:    r.NewStyle().Foreground(lipgloss.Color("39")),
		toolErr: r.NewStyle().Foreground(lipgloss.Color("203")),
		meta:    r.NewStyle().Faint(true),
		warning: r.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),
		key:     r.NewStyle().Foreground(lipgloss.Color("250")),
		allow:   r.NewStyle().Foreground(lipgloss.Color("114")),
		deny:    r.NewStyle().Foreground(lipgloss.Color("203")),
		empty:   r.NewStyle().Faint(true),
		section: r.NewStyle().MarginTop(1),
		spinner: r.NewStyle().Foreground(lipgloss.Color("45")),
	}
}
