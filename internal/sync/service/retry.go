package service

import (
	"context"
	"math/rand"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/pkg/db"
)

// RetryPolicy retries deadlock-class write errors with exponential backoff
// plus jitter. Sleep and Jitter are injectable so tests run without real
// delays.
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Sleep       func(time.Duration)
	Jitter      func() float64

	// OnRetry is invoked before each retry attempt.
	OnRetry func(attempt int, err error)
}

func NewRetryPolicy(profile config.SyncProfile) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  profile.MaxRetries,
		BackoffBase: profile.BackoffBase,
		BackoffMax:  profile.BackoffMax,
		Sleep:       time.Sleep,
		Jitter:      rand.Float64,
	}
}

// Do runs fn, retrying only transient write-contention errors up to the
// configured ceiling. Any other error is surfaced immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !db.IsDeadlockErr(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxRetries {
			return lastErr
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr)
		}
		p.Sleep(p.backoff(attempt))
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base << uint(attempt)
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		delay = p.BackoffMax
	}
	jitter := 1.0
	if p.Jitter != nil {
		jitter = 0.5 + p.Jitter() // [0.5, 1.5)
	}
	return time.Duration(float64(delay) * jitter)
}
