package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/abdul-hamid-achik/agentd/internal/config"
	agenterr "github.com/abdul-hamid-achik/agentd/internal/errors"
	"github.com/abdul-hamid-achik/agentd/internal/logging"
)

// ErrorKind classifies provider failures for the retry controller.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindAuthExpired
	KindRateLimited
	KindOverloaded
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindOverloaded:
		return "overloaded"
	default:
		return "other"
	}
}

// ClassifyError maps a provider error to a kind and the server-suggested
// wait, if any.
func ClassifyError(err error) (ErrorKind, time.Duration) {
	if err == nil {
		return KindOther, 0
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return KindAuthExpired, 0
		case http.StatusTooManyRequests:
			return KindRateLimited, ParseRetryAfter(apiErr.Response)
		case 529, http.StatusServiceUnavailable:
			return KindOverloaded, ParseRetryAfter(apiErr.Response)
		}
		return KindOther, 0
	}

	// Fallback for transports that only surface text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return KindRateLimited, 0
	case strings.Contains(msg, "529") || strings.Contains(msg, "overloaded"):
		return KindOverloaded, 0
	}
	return KindOther, 0
}

// ParseRetryAfter reads a Retry-After header given either as seconds or as
// an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// CalculateBackoff returns base*2^attempt capped at maxDelay.
func CalculateBackoff(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && backoff > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(backoff)
}

// RetryPolicy bounds the retry controller.
type RetryPolicy struct {
	RateLimitRetries int
	RateLimitBase    time.Duration
	OverloadRetries  int
	OverloadBase     time.Duration
	MaxDelay         time.Duration
	CanRefresh       bool
}

// PolicyFromConfig builds a policy from the retry section of the config.
func PolicyFromConfig(cfg config.RetryConfig, canRefresh bool) RetryPolicy {
	return RetryPolicy{
		RateLimitRetries: cfg.RateLimitRetries,
		RateLimitBase:    cfg.RateLimitBase,
		OverloadRetries:  cfg.OverloadRetries,
		OverloadBase:     cfg.OverloadBase,
		MaxDelay:         cfg.MaxDelay,
		CanRefresh:       canRefresh,
	}
}

// RetryState is what the controller has done so far for one request.
type RetryState struct {
	RateLimitAttempts int
	OverloadAttempts  int
	Refreshed         bool
	RetryAfter        time.Duration
}

// Action is the controller's next step.
type Action int

const (
	ActionGiveUp Action = iota
	ActionRefresh
	ActionBackoff
)

func (a Action) String() string {
	switch a {
	case ActionRefresh:
		return "refresh"
	case ActionBackoff:
		return "backoff"
	default:
		return "give_up"
	}
}

// RetryDecision is the outcome of Decide.
type RetryDecision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Decide picks the next step for a failed provider call. Credentials are
// refreshed at most once per request; rate limits honor Retry-After before
// falling back to exponential backoff.
func Decide(policy RetryPolicy, kind ErrorKind, state RetryState) RetryDecision {
	switch kind {
	case KindAuthExpired:
		if !policy.CanRefresh {
			return RetryDecision{Action: ActionGiveUp, Reason: "credentials expired and no refresher configured"}
		}
		if state.Refreshed {
			return RetryDecision{Action: ActionGiveUp, Reason: "credentials rejected after refresh"}
		}
		return RetryDecision{Action: ActionRefresh, Reason: "credentials expired"}

	case KindRateLimited:
		if state.RateLimitAttempts >= policy.RateLimitRetries {
			return RetryDecision{Action: ActionGiveUp, Reason: fmt.Sprintf("rate limited after %d retries", state.RateLimitAttempts)}
		}
		delay := state.RetryAfter
		reason := "rate limited, honoring Retry-After"
		if delay <= 0 {
			delay = CalculateBackoff(policy.RateLimitBase, state.RateLimitAttempts, policy.MaxDelay)
			reason = "rate limited"
		}
		return RetryDecision{Action: ActionBackoff, Delay: delay, Reason: reason}

	case KindOverloaded:
		if state.OverloadAttempts >= policy.OverloadRetries {
			return RetryDecision{Action: ActionGiveUp, Reason: fmt.Sprintf("overloaded after %d retries", state.OverloadAttempts)}
		}
		return RetryDecision{
			Action: ActionBackoff,
			Delay:  CalculateBackoff(policy.OverloadBase, state.OverloadAttempts, policy.MaxDelay),
			Reason: "provider overloaded",
		}
	}
	return RetryDecision{Action: ActionGiveUp, Reason: "non-retryable error"}
}

// TokenRefresher obtains a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// ClientFactory builds a provider client for an access token.
type ClientFactory func(accessToken string) LLMClient

// RetryingClient wraps a provider client with the retry controller, optional
// credential refresh and an optional client-side token bucket. It is safe
// for concurrent runs.
type RetryingClient struct {
	mu        sync.RWMutex
	inner     LLMClient
	factory   ClientFactory
	refresher TokenRefresher
	policy    RetryPolicy
	bucket    *TokenBucket
	estimator *TokenEstimator
	onWait    WaitCallback
	log       *logging.Logger
}

var _ LLMClient = (*RetryingClient)(nil)

// RetryingOption configures a RetryingClient.
type RetryingOption func(*RetryingClient)

// WithRefresher enables refresh-and-retry on expired credentials. The factory
// rebuilds the inner client around the new token.
func WithRefresher(r TokenRefresher, factory ClientFactory) RetryingOption {
	return func(c *RetryingClient) {
		c.refresher = r
		c.factory = factory
		c.policy.CanRefresh = r != nil && factory != nil
	}
}

// WithTokenBucket throttles requests client-side before they are sent.
func WithTokenBucket(tb *TokenBucket, estimator *TokenEstimator) RetryingOption {
	return func(c *RetryingClient) {
		c.bucket = tb
		c.estimator = estimator
	}
}

// WithWaitCallback replaces the default sleep used between retries.
func WithWaitCallback(cb WaitCallback) RetryingOption {
	return func(c *RetryingClient) {
		c.onWait = cb
	}
}

// NewRetryingClient creates a retrying wrapper around inner.
func NewRetryingClient(inner LLMClient, policy RetryPolicy, log *logging.Logger, opts ...RetryingOption) *RetryingClient {
	c := &RetryingClient{
		inner:  inner,
		policy: policy,
		log:    log.WithPrefix("llm"),
	}
	c.policy.CanRefresh = false
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RetryingClient) current() LLMClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner
}

// Chat sends the request, retrying per the policy.
func (c *RetryingClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	if c.bucket != nil {
		estimator := c.estimator
		if estimator == nil {
			estimator = NewTokenEstimator(0)
		}
		if err := c.bucket.Wait(ctx, estimator.EstimateRequest(req)); err != nil {
			return nil, err
		}
	}

	metrics := c.log.Metrics()
	var state RetryState
	for {
		resp, err := c.current().Chat(ctx, req)
		if err == nil {
			metrics.RecordLLMRequest(resp.Usage.InputTokens, resp.Usage.OutputTokens,
				resp.Usage.CacheReadTokens, resp.Usage.CacheWriteTokens, nil)
			c.tracePayload(req, resp)
			return resp, nil
		}
		metrics.RecordLLMRequest(0, 0, 0, 0, err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		kind, retryAfter := ClassifyError(err)
		state.RetryAfter = retryAfter
		decision := Decide(c.policy, kind, state)

		switch decision.Action {
		case ActionRefresh:
			c.log.Event(logging.EventLLMRefresh, logging.Reason(decision.Reason))
			token, rerr := c.refresher.Refresh(ctx)
			if rerr != nil {
				return nil, agenterr.AuthRefreshFailed(rerr)
			}
			c.mu.Lock()
			c.inner = c.factory(token)
			c.mu.Unlock()
			state.Refreshed = true

		case ActionBackoff:
			attempt := state.RateLimitAttempts + 1
			if kind == KindOverloaded {
				attempt = state.OverloadAttempts + 1
			}
			c.log.Warn("provider call failed, retrying",
				logging.Reason(decision.Reason),
				logging.Attempt(attempt),
				logging.Duration(decision.Delay),
			)
			c.log.Event(logging.EventLLMRetry, logging.Reason(decision.Reason), logging.Attempt(attempt))
			metrics.RecordLLMRetry()
			if werr := c.wait(ctx, WaitInfo{Duration: decision.Delay, Reason: decision.Reason, Attempt: attempt}); werr != nil {
				return nil, werr
			}
			if kind == KindOverloaded {
				state.OverloadAttempts++
			} else {
				state.RateLimitAttempts++
			}

		default:
			c.log.Event(logging.EventLLMError, logging.Reason(decision.Reason), logging.Error(err))
			switch kind {
			case KindRateLimited:
				return nil, agenterr.RateLimited(state.RateLimitAttempts+1, err)
			case KindOverloaded:
				return nil, agenterr.Overloaded(state.OverloadAttempts+1, err)
			case KindAuthExpired:
				return nil, agenterr.AuthExpired(err)
			}
			return nil, agenterr.LLMRequestFailed(err)
		}
	}
}

func (c *RetryingClient) wait(ctx context.Context, info WaitInfo) error {
	if c.onWait != nil {
		return c.onWait(ctx, info)
	}
	return sleepContext(ctx, info.Duration)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tracePayload records the exchange in the payload trace when
// AGENTD_DEBUG_LLM is on.
func (c *RetryingClient) tracePayload(req *Request, resp *Response) {
	if !c.log.IsTracingEnabled() {
		return
	}
	id := logging.GenerateRequestID()
	toolNames := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Name)
	}
	c.log.LLMRequest(id, map[string]any{
		"model":      req.Model,
		"system":     req.System,
		"messages":   req.Messages,
		"tools":      toolNames,
		"max_tokens": req.MaxTokens,
	})
	c.log.LLMResponse(id, map[string]any{
		"model":       resp.Model,
		"content":     resp.Content,
		"tool_calls":  resp.ToolCalls,
		"stop_reason": resp.StopReason,
		"usage":       resp.Usage,
	})
}
