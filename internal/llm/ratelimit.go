package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenEstimator approximates token counts from character length.
type TokenEstimator struct {
	charsPerToken int
}

// NewTokenEstimator creates an estimator; charsPerToken <= 0 selects 4.
func NewTokenEstimator(charsPerToken int) *TokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &TokenEstimator{charsPerToken: charsPerToken}
}

// EstimateTokens estimates the number of tokens in a string with a 20% buffer.
func (e *TokenEstimator) EstimateTokens(text string) int {
	return int(float64(len(text)/e.charsPerToken) * 1.2)
}

// EstimateRequest estimates the input tokens of a whole request.
func (e *TokenEstimator) EstimateRequest(req *Request) int {
	if req == nil {
		return 0
	}
	total := e.EstimateTokens(req.System)
	for _, msg := range req.Messages {
		// ~4 tokens of framing per message
		total += 4 + int(float64(msg.TextLength()/e.charsPerToken)*1.2)
	}
	// Tool definitions average ~100 tokens each
	total += len(req.Tools) * 100
	return total
}

// WaitInfo describes a pause before a provider call.
type WaitInfo struct {
	Duration time.Duration
	Reason   string
	Attempt  int // 1-based retry number, 0 for throttling
}

// WaitCallback blocks for info.Duration or until ctx is cancelled.
type WaitCallback func(ctx context.Context, info WaitInfo) error

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	limiter *rate.Limiter
	onWait  WaitCallback
}

// NewTokenBucket creates a limiter refilling tokensPerMinute, with a burst of
// ten seconds worth of tokens (at least 1000).
func NewTokenBucket(tokensPerMinute int, onWait WaitCallback) *TokenBucket {
	burst := tokensPerMinute / 6
	if burst < 1000 {
		burst = 1000
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60.0), burst),
		onWait:  onWait,
	}
}

// Wait blocks until tokens are available. Requests larger than the burst are
// clamped to it so they are delayed rather than rejected.
func (tb *TokenBucket) Wait(ctx context.Context, tokens int) error {
	if tokens > tb.limiter.Burst() {
		tokens = tb.limiter.Burst()
	}
	reservation := tb.limiter.ReserveN(time.Now(), tokens)
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	var err error
	if tb.onWait != nil {
		err = tb.onWait(ctx, WaitInfo{Duration: delay, Reason: "token bucket cooldown"})
	} else {
		err = sleepContext(ctx, delay)
	}
	if err != nil {
		reservation.Cancel()
	}
	return err
}
