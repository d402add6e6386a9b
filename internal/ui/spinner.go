package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/abdul-hamid-achik/agentd/internal/llm"
)

// Braille spinner animation frames
var spinnerFrames = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

// ANSI cursor control
const (
	cursorStart = "\r"
	clearLine   = "\033[2K"
)

// minAnimated is the shortest wait worth animating.
const minAnimated = 500 * time.Millisecond

// Spinner shows provider waits (retry backoff, client-side throttling) on
// a status line. Its Wait method is an llm.WaitCallback.
type Spinner struct {
	w   io.Writer
	tty bool
	s   styles
}

// NewSpinner creates a spinner writing to w, usually stderr.
func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{w: w, tty: isTerminal(w), s: newStyles(lipgloss.NewRenderer(w))}
}

// Wait blocks for info.Duration or until ctx is cancelled.
func (s *Spinner) Wait(ctx context.Context, info llm.WaitInfo) error {
	if info.Duration < minAnimated {
		return sleep(ctx, info.Duration)
	}
	if !s.tty {
		fmt.Fprintln(s.w, s.staticLine(info))
		return sleep(ctx, info.Duration)
	}
	return s.animate(ctx, info)
}

func (s *Spinner) animate(ctx context.Context, info llm.WaitInfo) error {
	start := time.Now()
	frame := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	defer fmt.Fprint(s.w, clearLine+cursorStart)

	for {
		remaining := max(info.Duration-time.Since(start), 0)
		fmt.Fprint(s.w, clearLine+cursorStart+s.statusLine(spinnerFrames[frame], info, remaining))
		if remaining == 0 {
			return nil
		}
		select {
		case <-ticker.C:
			frame = (frame + 1) % len(spinnerFrames)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// staticLine is the single line printed when output is piped:
// "Retrying: waiting 45s (attempt 2, rate limited)".
func (s *Spinner) staticLine(info llm.WaitInfo) string {
	msg := fmt.Sprintf("%s: waiting %s", waitLabel(info), formatDuration(info.Duration))
	switch {
	case info.Attempt > 0 && info.Reason != "":
		msg += fmt.Sprintf(" (attempt %d, %s)", info.Attempt, info.Reason)
	case info.Attempt > 0:
		msg += fmt.Sprintf(" (attempt %d)", info.Attempt)
	case info.Reason != "":
		msg += fmt.Sprintf(" (%s)", info.Reason)
	}
	return msg
}

// statusLine: "⠹ Retrying | attempt 2 | rate limited | 45s remaining".
func (s *Spinner) statusLine(frame rune, info llm.WaitInfo, remaining time.Duration) string {
	sep := s.s.meta.Render(" | ")
	line := s.s.spinner.Render(string(frame)) + " " + s.s.warning.Render(waitLabel(info))
	if info.Attempt > 0 {
		line += sep + fmt.Sprintf("attempt %d", info.Attempt)
	}
	if info.Reason != "" {
		line += sep + info.Reason
	}
	return line + sep + s.s.title.Render(formatDuration(remaining)+" remaining")
}

func waitLabel(info llm.WaitInfo) string {
	if info.Attempt == 0 {
		return "Throttling"
	}
	return "Retrying"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// formatDuration formats a duration for display (45s, 1m30s, 5m00s)
func formatDuration(d time.Duration) string {
	d = max(d.Round(time.Second), 0)

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60

	if minutes == 0 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%02ds", minutes, seconds)
}
