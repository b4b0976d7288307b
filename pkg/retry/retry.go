// Package retry provides a bounded retry loop with exponential backoff used
// by the order pipelines for broker and broadcast calls.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop: at most MaxAttempts calls, sleeping BaseDelay
// before the second attempt and doubling thereafter. RetryIf decides whether
// a given failure is worth another attempt; a nil RetryIf retries everything.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	RetryIf     func(error) bool
}

// Result reports how a retry loop ended.
type Result struct {
	Attempts int
	Err      error
}

// Do calls fn under the policy. It returns on the first success, when RetryIf
// rejects an error, when attempts are exhausted, or when ctx is cancelled
// during a backoff sleep. The returned Result always carries the number of
// attempts actually made and the final error (nil on success).
func (p Policy) Do(ctx context.Context, fn func() error) Result {
	delay := p.BaseDelay
	var err error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return Result{Attempts: attempt}
		}

		if p.RetryIf != nil && !p.RetryIf(err) {
			return Result{Attempts: attempt, Err: err}
		}

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return Result{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
	}

	return Result{Attempts: p.MaxAttempts, Err: err}
}
