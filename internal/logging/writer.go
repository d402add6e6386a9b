package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// lineWriter renders log lines onto out, dropping levels below min.
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
	min Level
}

func newLineWriter(out io.Writer, min Level) *lineWriter {
	return &lineWriter{out: out, min: min}
}

func (w *lineWriter) setOutput(out io.Writer) {
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()
}

func (w *lineWriter) setLevel(level Level) {
	w.mu.Lock()
	w.min = level
	w.mu.Unlock()
}

func (w *lineWriter) enabled(level Level) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out != nil && level >= w.min
}

func (w *lineWriter) write(level Level, prefix, msg string, fields []Field) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil || level < w.min {
		return
	}
	_, _ = io.WriteString(w.out, formatLine(time.Now(), level, prefix, msg, fields))
}

// formatLine: "15:04:05 WARN  [toolserver] reconnecting instance=gmail attempt=2"
func formatLine(ts time.Time, level Level, prefix, msg string, fields []Field) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %-5s ", ts.Format("15:04:05"), level)
	if prefix != "" {
		sb.WriteString("[" + prefix + "] ")
	}
	sb.WriteString(msg)
	for _, f := range fields {
		f = f.redacted()
		sb.WriteString(" " + f.Key + "=" + formatValue(f.Value))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		if strings.ContainsAny(val, " \t\n\"") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case error:
		return fmt.Sprintf("%q", val.Error())
	case time.Duration:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// dailyFile appends to agentd-YYYY-MM-DD.log under dir and moves to a new
// file when the local date changes, so a long-running process does not grow
// one file forever. The directory is created on the first write.
type dailyFile struct {
	mu   sync.Mutex
	dir  string
	now  func() time.Time
	date string
	f    *os.File
}

func newDailyFile(dir string) *dailyFile {
	return &dailyFile{dir: dir, now: time.Now}
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	date := d.now().Format(time.DateOnly)
	if d.f == nil || date != d.date {
		if err := d.openLocked(date); err != nil {
			return 0, err
		}
	}
	return d.f.Write(p)
}

func (d *dailyFile) openLocked(date string) error {
	if d.f != nil {
		_ = d.f.Close()
		d.f = nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(d.pathFor(date), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	d.f, d.date = f, date
	return nil
}

func (d *dailyFile) pathFor(date string) string {
	return filepath.Join(d.dir, "agentd-"+date+".log")
}

// Path is the file currently written, or "" before the first write.
func (d *dailyFile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ""
	}
	return d.pathFor(d.date)
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
