package logging

import (
	"strings"
	"time"
)

// Field is one key=value pair attached to a log line or trace event.
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Identifiers.
func RequestID(id string) Field  { return F("request_id", id) }
func Project(id string) Field    { return F("project", id) }
func Instance(id string) Field   { return F("instance", id) }
func ApprovalID(id string) Field { return F("approval_id", id) }
func ToolName(name string) Field { return F("tool", name) }
func Model(name string) Field    { return F("model", name) }
func Phase(p string) Field       { return F("phase", p) }

// Counters.
func Count(n int) Field           { return F("count", n) }
func MessageCount(n int) Field    { return F("msg_count", n) }
func Iteration(n int) Field       { return F("iteration", n) }
func Attempt(n int) Field         { return F("attempt", n) }
func InputTokens(n int) Field     { return F("input_tokens", n) }
func OutputTokens(n int) Field    { return F("output_tokens", n) }
func CacheReadTokens(n int) Field { return F("cache_read_tokens", n) }

func Reason(r string) Field { return F("reason", r) }

// Duration is recorded in whole milliseconds.
func Duration(d time.Duration) Field { return F("duration_ms", d.Milliseconds()) }

func DurationSince(start time.Time) Field { return Duration(time.Since(start)) }

// Query truncates q to 200 bytes.
func Query(q string) Field {
	const limit = 200
	if len(q) > limit {
		q = q[:limit-3] + "..."
	}
	return F("query", q)
}

// Error stores err's message, or nil.
func Error(err error) Field {
	if err == nil {
		return F("error", nil)
	}
	return F("error", err.Error())
}

// sensitiveKeys mark fields whose values never reach a log line or trace.
// Token counters ("input_tokens") are exempt.
var sensitiveKeys = []string{"token", "secret", "password", "api_key", "dsn", "authorization"}

const redactedValue = "[redacted]"

func (f Field) redacted() Field {
	key := strings.ToLower(f.Key)
	if strings.Contains(key, "tokens") {
		return f
	}
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return Field{Key: f.Key, Value: redactedValue}
		}
	}
	return f
}

func fieldsToMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		f = f.redacted()
		m[f.Key] = f.Value
	}
	return m
}
