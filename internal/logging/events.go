package logging

// Event types written to JSONL traces.
const (
	EventSessionStart   = "session.start"
	EventSessionEnd     = "session.end"
	EventSessionMetrics = "session.metrics"

	// Agent runs
	EventRunStart    = "run.start"
	EventRunComplete = "run.complete"
	EventRunAborted  = "run.aborted"
	EventRunBudget   = "run.budget_exhausted"
	EventRunRounds   = "run.round_limit"
	EventClassify    = "run.classify"
	EventFastPath    = "run.fast_path"

	// Context window
	EventContextTrim      = "context.trim"
	EventContextSummarize = "context.summarize"
	EventContextClear     = "context.clear"

	// Provider calls
	EventLLMRequest  = "llm.request"
	EventLLMResponse = "llm.response"
	EventLLMError    = "llm.error"
	EventLLMRetry    = "llm.retry"
	EventLLMRefresh  = "llm.auth_refresh"

	// Tools
	EventToolStart    = "tool.start"
	EventToolComplete = "tool.complete"
	EventToolError    = "tool.error"
	EventToolGated    = "tool.gated"

	// Approvals
	EventApprovalOpen     = "approval.open"
	EventApprovalResolved = "approval.resolved"
	EventApprovalConflict = "approval.conflict"

	// Tool servers
	EventServerStart     = "toolserver.start"
	EventServerStop      = "toolserver.stop"
	EventServerReconnect = "toolserver.reconnect"
	EventServerTimeout   = "toolserver.timeout"

	EventError = "error"
)
