package main

import (
	"context"
	"errors"
	"math/big"
	"time"

	"growvault/observability"
)

// readRetrier retries rate-limited ledger reads with exponential backoff.
// It wraps only reads: a retried write could double-apply a state change, so
// writes surface their first failure directly.
type readRetrier struct {
	attempts  int
	baseDelay time.Duration
	sleep     func(context.Context, time.Duration) error
}

func newReadRetrier(attempts int, baseDelay time.Duration) *readRetrier {
	if attempts <= 0 {
		attempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &readRetrier{
		attempts:  attempts,
		baseDelay: baseDelay,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *readRetrier) backoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := r.baseDelay * time.Duration(1<<uint(attempt-1))
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// do runs op, retrying while it fails with ErrRateLimited. Any other error,
// including context cancellation, propagates immediately.
func (r *readRetrier) do(ctx context.Context, op func(context.Context) (*big.Int, error)) (*big.Int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}
		observability.Gateway().LedgerRetry.Inc()
		if err := r.sleep(ctx, r.backoffDuration(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
