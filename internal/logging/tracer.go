package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one line of the JSONL trace. Request and project ids are lifted
// out of the data so traces of concurrent runs can be filtered with jq.
type Event struct {
	Timestamp string         `json:"ts"`
	Event     string         `json:"event"`
	Session   string         `json:"session"`
	RequestID string         `json:"request_id,omitempty"`
	Project   string         `json:"project,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// LLMPayload is one full provider request or response.
type LLMPayload struct {
	Timestamp string         `json:"ts"`
	Type      string         `json:"type"` // request | response
	Session   string         `json:"session"`
	RequestID string         `json:"request_id"`
	Data      map[string]any `json:"data"`
}

// jsonlFile serializes values one per line.
type jsonlFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *json.Encoder
}

func openJSONL(path string) (*jsonlFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &jsonlFile{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (j *jsonlFile) write(v any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f != nil {
		_ = j.enc.Encode(v)
	}
}

func (j *jsonlFile) close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Tracer writes structured events, and optionally full provider payloads,
// to JSONL files in debug mode. Disabled tracers drop everything.
type Tracer struct {
	sessionID string
	events    *jsonlFile
	payloads  *jsonlFile
}

// NewTracer creates a tracer. Files are only created when debugMode is set;
// payload tracing additionally needs llmEnabled.
func NewTracer(debugDir string, debugMode, llmEnabled bool) (*Tracer, error) {
	t := &Tracer{sessionID: generateID("sess_")}
	if !debugMode {
		return t, nil
	}

	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug directory: %w", err)
	}
	stamp := time.Now().Format("20060102-150405")

	events, err := openJSONL(filepath.Join(debugDir, "trace-"+stamp+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	t.events = events

	if llmEnabled {
		payloads, err := openJSONL(filepath.Join(debugDir, "llm-"+stamp+".jsonl"))
		if err != nil {
			_ = events.close()
			return nil, fmt.Errorf("create payload file: %w", err)
		}
		t.payloads = payloads
	}

	t.emit(EventSessionStart, map[string]any{"pid": os.Getpid(), "llm_trace": llmEnabled})
	return t, nil
}

// IsEnabled reports whether events are recorded.
func (t *Tracer) IsEnabled() bool {
	return t != nil && t.events != nil
}

// GetSessionID returns the id shared by every event of this process.
func (t *Tracer) GetSessionID() string {
	if t == nil {
		return ""
	}
	return t.sessionID
}

// GetPath returns the event trace path, or "" when disabled.
func (t *Tracer) GetPath() string {
	if !t.IsEnabled() {
		return ""
	}
	return t.events.path
}

// Event records eventType with fields.
func (t *Tracer) Event(eventType string, fields ...Field) {
	if t.IsEnabled() {
		t.emit(eventType, fieldsToMap(fields))
	}
}

// EventWithData records eventType with data merged with fields; fields win.
func (t *Tracer) EventWithData(eventType string, data map[string]any, fields ...Field) {
	if !t.IsEnabled() {
		return
	}
	merged := make(map[string]any, len(data)+len(fields))
	for k, v := range data {
		merged[k] = v
	}
	for k, v := range fieldsToMap(fields) {
		merged[k] = v
	}
	t.emit(eventType, merged)
}

func (t *Tracer) emit(eventType string, data map[string]any) {
	ev := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Event:     eventType,
		Session:   t.sessionID,
		RequestID: lift(data, "request_id"),
		Project:   lift(data, "project"),
	}
	if len(data) > 0 {
		ev.Data = data
	}
	t.events.write(ev)
}

// lift removes key from data and returns it when it holds a string.
func lift(data map[string]any, key string) string {
	s, ok := data[key].(string)
	if ok {
		delete(data, key)
	}
	return s
}

// LLMRequest records a full provider request.
func (t *Tracer) LLMRequest(requestID string, payload map[string]any) {
	t.payload("request", requestID, payload)
}

// LLMResponse records a full provider response.
func (t *Tracer) LLMResponse(requestID string, payload map[string]any) {
	t.payload("response", requestID, payload)
}

func (t *Tracer) payload(kind, requestID string, data map[string]any) {
	if t == nil || t.payloads == nil {
		return
	}
	t.payloads.write(LLMPayload{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      kind,
		Session:   t.sessionID,
		RequestID: requestID,
		Data:      data,
	})
}

// Close records the end of the session and closes the files.
func (t *Tracer) Close() error {
	if !t.IsEnabled() {
		return nil
	}
	t.emit(EventSessionEnd, nil)
	err := t.events.close()
	if perr := t.payloads.close(); err == nil {
		err = perr
	}
	return err
}

func generateID(prefix string) string {
	return prefix + uuid.NewString()
}

// GenerateRequestID creates a unique request identifier for a run.
func GenerateRequestID() string {
	return generateID("req_")
}
