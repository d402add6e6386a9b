// Package logging is agentd's structured logger.
//
// Every line goes to stderr above the configured level and, when a log
// directory is set, to a daily file at every level. In debug mode events are
// also traced as JSONL, optionally with full provider payloads. Fields whose
// keys look like credentials are redacted everywhere.
//
//	log, err := logging.New(logging.ConfigFromEnv())
//	if err != nil {
//	    return err
//	}
//	defer log.Close()
//
//	log.Info("tool server started", logging.Instance("gmail-work"))
//	log.Event(logging.EventToolStart, logging.ToolName("search_emails"))
package logging

import (
	"errors"
	"os"
)

// Logger is safe for concurrent use. A nil *Logger discards everything, so
// components take one without checking.
type Logger struct {
	console *lineWriter
	file    *lineWriter
	daily   *dailyFile
	tracer  *Tracer
	metrics *Metrics

	// component tag, e.g. "agent", "llm", "toolserver"
	prefix string
}

// New creates a logger from cfg.
func New(cfg Config) (*Logger, error) {
	tracer, err := NewTracer(cfg.DebugDir, cfg.DebugMode, cfg.DebugLLM)
	if err != nil {
		return nil, err
	}

	level := cfg.Level
	if cfg.DebugMode {
		level = LevelDebug
	}
	l := &Logger{
		console: newLineWriter(os.Stderr, level),
		file:    newLineWriter(nil, LevelDebug),
		tracer:  tracer,
		metrics: NewMetrics(),
	}
	if cfg.LogDir != "" {
		l.daily = newDailyFile(cfg.LogDir)
		l.file.setOutput(l.daily)
	}
	return l, nil
}

// WithPrefix returns a logger sharing every output, tagged with prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l == nil {
		return nil
	}
	c := *l
	c.prefix = prefix
	return &c
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []Field) {
	if l == nil {
		return
	}
	l.console.write(level, l.prefix, msg, fields)
	l.file.write(level, l.prefix, msg, fields)
}

// Event traces a structured event; a no-op outside debug mode.
func (l *Logger) Event(eventType string, fields ...Field) {
	if l != nil {
		l.tracer.Event(eventType, fields...)
	}
}

// LLMRequest traces a full provider request (AGENTD_DEBUG_LLM=1).
func (l *Logger) LLMRequest(requestID string, payload map[string]any) {
	if l != nil {
		l.tracer.LLMRequest(requestID, payload)
	}
}

// LLMResponse traces a full provider response (AGENTD_DEBUG_LLM=1).
func (l *Logger) LLMResponse(requestID string, payload map[string]any) {
	if l != nil {
		l.tracer.LLMResponse(requestID, payload)
	}
}

// Metrics returns the process counters. The nil collector of a nil logger
// ignores records.
func (l *Logger) Metrics() *Metrics {
	if l == nil {
		return nil
	}
	return l.metrics
}

func (l *Logger) IsTracingEnabled() bool {
	return l != nil && l.tracer.IsEnabled()
}

// Close traces the metrics snapshot and closes the file and trace.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.tracer.EventWithData(EventSessionMetrics, l.metrics.GetSnapshot())

	var errs []error
	if l.daily != nil {
		errs = append(errs, l.daily.Close())
	}
	errs = append(errs, l.tracer.Close())
	return errors.Join(errs...)
}
