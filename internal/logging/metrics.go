package logging

import (
	"sync"
	"time"
)

// ToolMetrics tracks metrics for a single tool.
type ToolMetrics struct {
	Calls     int           `json:"calls"`
	Errors    int           `json:"errors"`
	Gated     int           `json:"gated"`
	TotalTime time.Duration `json:"total_time_ms"`
}

// LLMMetrics tracks provider usage.
type LLMMetrics struct {
	Requests         int `json:"requests"`
	Errors           int `json:"errors"`
	Retries          int `json:"retries"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Metrics collects runtime counters for the process.
type Metrics struct {
	mu sync.Mutex

	Start time.Time `json:"start"`

	RunsTotal     int `json:"runs_total"`
	FastPathRuns  int `json:"fast_path_runs"`
	Summarized    int `json:"summarized"`
	ApprovalsOpen int `json:"approvals_opened"`
	Approved      int `json:"approved"`
	Rejected      int `json:"rejected"`

	Tools map[string]*ToolMetrics `json:"tools"`
	LLM   LLMMetrics              `json:"llm"`
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		Start: time.Now(),
		Tools: make(map[string]*ToolMetrics),
	}
}

// RecordRun counts an agent run; fastPath marks runs answered without tools.
func (m *Metrics) RecordRun(fastPath bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunsTotal++
	if fastPath {
		m.FastPathRuns++
	}
}

// RecordToolCall records a tool call.
func (m *Metrics) RecordToolCall(name string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tool := m.getOrCreateTool(name)
	tool.Calls++
	tool.TotalTime += duration
	if err != nil {
		tool.Errors++
	}
}

// RecordToolGated records a tool call held for approval.
func (m *Metrics) RecordToolGated(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreateTool(name).Gated++
	m.ApprovalsOpen++
}

// RecordApproval records the outcome of a resolved approval.
func (m *Metrics) RecordApproval(approved bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if approved {
		m.Approved++
	} else {
		m.Rejected++
	}
}

// RecordLLMRequest records a provider call.
func (m *Metrics) RecordLLMRequest(input, output, cacheRead, cacheWrite int, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LLM.Requests++
	m.LLM.InputTokens += input
	m.LLM.OutputTokens += output
	m.LLM.CacheReadTokens += cacheRead
	m.LLM.CacheWriteTokens += cacheWrite
	if err != nil {
		m.LLM.Errors++
	}
}

// RecordLLMRetry records one retried provider call.
func (m *Metrics) RecordLLMRetry() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LLM.Retries++
}

// RecordSummarization records a history compression.
func (m *Metrics) RecordSummarization() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Summarized++
}

func (m *Metrics) getOrCreateTool(name string) *ToolMetrics {
	if m.Tools[name] == nil {
		m.Tools[name] = &ToolMetrics{}
	}
	return m.Tools[name]
}

// MetricsSummary provides a summary view of the counters.
type MetricsSummary struct {
	Uptime          time.Duration
	RunsTotal       int
	FastPathRuns    int
	ToolCallsTotal  int
	ToolErrorsTotal int
	ToolGatedTotal  int
	ToolTimeTotal   time.Duration
	Approved        int
	Rejected        int
	Summarized      int
	LLM             LLMMetrics
}

// Summary returns totals across all tools.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSummary{
		Uptime:       time.Since(m.Start),
		RunsTotal:    m.RunsTotal,
		FastPathRuns: m.FastPathRuns,
		Approved:     m.Approved,
		Rejected:     m.Rejected,
		Summarized:   m.Summarized,
		LLM:          m.LLM,
	}
	for _, t := range m.Tools {
		s.ToolCallsTotal += t.Calls
		s.ToolErrorsTotal += t.Errors
		s.ToolGatedTotal += t.Gated
		s.ToolTimeTotal += t.TotalTime
	}
	return s
}

// GetSnapshot returns the summary as a map for serialization.
func (m *Metrics) GetSnapshot() map[string]any {
	s := m.Summary()
	return map[string]any{
		"uptime_ms":          s.Uptime.Milliseconds(),
		"runs_total":         s.RunsTotal,
		"fast_path_runs":     s.FastPathRuns,
		"tool_calls_total":   s.ToolCallsTotal,
		"tool_errors_total":  s.ToolErrorsTotal,
		"tool_gated_total":   s.ToolGatedTotal,
		"tool_time_total_ms": s.ToolTimeTotal.Milliseconds(),
		"approved":           s.Approved,
		"rejected":           s.Rejected,
		"summarized":         s.Summarized,
		"llm_requests":       s.LLM.Requests,
		"llm_errors":         s.LLM.Errors,
		"llm_retries":        s.LLM.Retries,
		"llm_input_tokens":   s.LLM.InputTokens,
		"llm_output_tokens":  s.LLM.OutputTokens,
		"llm_cache_read":     s.LLM.CacheReadTokens,
		"llm_cache_write":    s.LLM.CacheWriteTokens,
	}
}
