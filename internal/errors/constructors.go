package errors

import "fmt"

// AuthExpired creates an error for a provider call rejected with expired credentials.
func AuthExpired(cause error) *AgentError {
	return &AgentError{
		Category:  CategoryLLM,
		Code:      "llm_auth_expired",
		Message:   "provider credentials expired",
		Retryable: false,
		Cause:     cause,
	}
}

// AuthRefreshFailed creates an error for when refreshing provider credentials fails.
func AuthRefreshFailed(cause error) *AgentError {
	return &AgentError{
		Category:  CategoryLLM,
		Code:      "llm_auth_refresh_failed",
		Message:   "could not refresh provider credentials",
		Retryable: false,
		Cause:     cause,
	}
}

// RateLimited creates an error for a provider 429 that outlived the retry budget.
func RateLimited(attempts int, cause error) *AgentError {
	return &AgentError{
		Category:  CategoryLLM,
		Code:      "llm_rate_limited",
		Message:   fmt.Sprintf("provider rate limit persisted after %d attempts", attempts),
		Retryable: true,
		Cause:     cause,
	}
}

// Overloaded creates an error for a provider that stayed overloaded.
func Overloaded(attempts int, cause error) *AgentError {
	return &AgentError{
		Category:  CategoryLLM,
		Code:      "llm_overloaded",
		Message:   fmt.Sprintf("provider overloaded after %d attempts", attempts),
		Retryable: true,
		Cause:     cause,
	}
}

// LLMRequestFailed creates an error for when an LLM request fails.
func LLMRequestFailed(cause error) *AgentError {
	return &AgentError{
		Category:  CategoryLLM,
		Code:      "llm_request_failed",
		Message:   "LLM request failed",
		Retryable: false,
		Cause:     cause,
	}
}

// ToolNotFound creates an error for when a requested tool does not exist.
func ToolNotFound(name string) *AgentError {
	return &AgentError{
		Category:  CategoryTool,
		Code:      "tool_not_found",
		Message:   fmt.Sprintf("tool %q not found", name),
		Retryable: false,
	}
}

// ToolExecutionFailed creates an error for when a tool execution fails.
// Retryability depends on the underlying cause.
func ToolExecutionFailed(name string, cause error) *AgentError {
	return &AgentError{
		Category:  CategoryTool,
		Code:      "tool_execution_failed",
		Message:   fmt.Sprintf("tool %q execution failed", name),
		Retryable: IsRetryable(cause),
		Cause:     cause,
	}
}

// ToolCallTimeout creates an error for a tool call that exceeded its deadline.
// The owning connection is considered disconnected afterwards.
func ToolCallTimeout(name, instance string) *AgentError {
	return &AgentError{
		Category:  CategoryToolServer,
		Code:      "tool_call_timeout",
		Message:   fmt.Sprintf("tool %q timed out on %q", name, instance),
		Retryable: true,
	}
}

// ToolServerUnreachable creates an error for an instance that could not be (re)connected.
func ToolServerUnreachable(instance string, cause error) *AgentError {
	return &AgentError{
		Category:  CategoryToolServer,
		Code:      "toolserver_unreachable",
		Message:   fmt.Sprintf("tool server %q is unreachable", instance),
		Retryable: false,
		Cause:     cause,
	}
}

// UnknownServerType creates an error for an instance declaring a type with no launcher.
func UnknownServerType(typ string) *AgentError {
	return &AgentError{
		Category:  CategoryToolServer,
		Code:      "toolserver_unknown_type",
		Message:   fmt.Sprintf("unknown tool server type %q", typ),
		Retryable: false,
	}
}

// ProjectNotFound creates an error for a run against an unconfigured project.
func ProjectNotFound(id string) *AgentError {
	return &AgentError{
		Category:  CategoryAgent,
		Code:      "project_not_found",
		Message:   fmt.Sprintf("project %q not found", id),
		Retryable: false,
	}
}

// ApprovalNotFound creates an error for an unknown approval id.
func ApprovalNotFound(id string) *AgentError {
	return &AgentError{
		Category:  CategoryApproval,
		Code:      "approval_not_found",
		Message:   fmt.Sprintf("approval %q not found", id),
		Retryable: false,
	}
}

// ApprovalAlreadyResolved creates an error for a second resolution of the same request.
func ApprovalAlreadyResolved(id string) *AgentError {
	return &AgentError{
		Category:  CategoryApproval,
		Code:      "approval_already_resolved",
		Message:   fmt.Sprintf("approval %q was already resolved", id),
		Retryable: false,
	}
}

// PolicyInvalid creates an error for a phase policy that gates a tool it does not allow.
func PolicyInvalid(phase, tool string) *AgentError {
	return &AgentError{
		Category:  CategoryPermission,
		Code:      "policy_invalid",
		Message:   fmt.Sprintf("phase %q requires approval for %q which no allowed prefix covers", phase, tool),
		Retryable: false,
	}
}

// ConfigLoadFailed creates an error for when configuration loading fails.
func ConfigLoadFailed(path string, cause error) *AgentError {
	return &AgentError{
		Category:  CategoryConfig,
		Code:      "config_load_failed",
		Message:   fmt.Sprintf("failed to load config from %q", path),
		Retryable: false,
		Cause:     cause,
	}
}

// StorageFailed creates an error for a failed persistence operation.
func StorageFailed(op string, cause error) *AgentError {
	return &AgentError{
		Category:  CategoryStorage,
		Code:      "storage_failed",
		Message:   fmt.Sprintf("storage operation %q failed", op),
		Retryable: false,
		Cause:     cause,
	}
}
