// Package errors defines the categorised error type shared by agentd's
// packages. Callers branch on Code; Category groups codes by subsystem.
package errors

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryLLM        Category = "llm"
	CategoryTool       Category = "tool"
	CategoryToolServer Category = "toolserver"
	CategoryAgent      Category = "agent"
	CategoryApproval   Category = "approval"
	CategoryConfig     Category = "config"
	CategoryPermission Category = "permission"
	CategoryStorage    Category = "storage"
)

// AgentError carries a stable machine-readable Code alongside the message.
// Two AgentErrors match under errors.Is when category and code agree.
type AgentError struct {
	Category  Category
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *AgentError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AgentError) Unwrap() error { return e.Cause }

func (e *AgentError) Is(target error) bool {
	t, ok := target.(*AgentError)
	return ok && e.Category == t.Category && e.Code == t.Code
}

func find(err error) (*AgentError, bool) {
	var ae *AgentError
	ok := errors.As(err, &ae)
	return ae, ok
}

// IsRetryable reports whether the first AgentError in err's chain is
// marked retryable. Foreign errors are not.
func IsRetryable(err error) bool {
	ae, ok := find(err)
	return ok && ae.Retryable
}

// GetCategory returns "" when err holds no AgentError.
func GetCategory(err error) Category {
	if ae, ok := find(err); ok {
		return ae.Category
	}
	return ""
}

// GetCode returns "" when err holds no AgentError.
func GetCode(err error) string {
	if ae, ok := find(err); ok {
		return ae.Code
	}
	return ""
}
