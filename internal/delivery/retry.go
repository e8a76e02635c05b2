package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultMaxAttempts is the single bound on send attempts used for every
// rate-limited send: the first try plus one retry.
const DefaultMaxAttempts = 2

// RetryPolicy controls how rate-limited sends are retried. Only
// RateLimitedError is retried; the wait is the provider's reported delay
// plus Slack.
type RetryPolicy struct {
	MaxAttempts int
	Slack       time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 2 attempts and 5s slack on top of the reported wait.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Slack:       5 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShouldRetry returns the wait before the next attempt and whether one
// should be made after err on the given 1-indexed attempt.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		return 0, false
	}
	return rl.RetryAfter + p.Slack, true
}

// Execute runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. It returns nil on success or the last error.
func (p *RetryPolicy) Execute(ctx context.Context, sleep SleepFunc, fn func() error) error {
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		wait, ok := p.ShouldRetry(err, attempt)
		if !ok {
			return err
		}
		slog.Warn("rate limited, backing off", "attempt", attempt, "wait", wait)
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
}
