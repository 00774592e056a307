package sender

import (
	"context"
	"time"
)

// Clock provides the interruptible sleep between sends. Tests replace it
// to drive workers deterministically.
type Clock interface {
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy decides whether a failed publish is retried. The manager
// itself never retries; a policy is opt-in.
type RetryPolicy interface {
	// Next is called after failed attempt number attempt (1-based) and
	// returns the delay before the next attempt, or false to give up.
	Next(attempt int, err error) (time.Duration, bool)
}

// minRetryDelay is the floor of a Backoff delay, so a zero Initial cannot
// hammer a failing broker.
const minRetryDelay = 100 * time.Millisecond

// Backoff is a capped exponential RetryPolicy.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Next doubles the delay per attempt up to Max, giving up after MaxAttempts.
// Every delay, the first included, is capped at Max when Max is set.
func (b Backoff) Next(attempt int, _ error) (time.Duration, bool) {
	if attempt >= b.MaxAttempts {
		return 0, false
	}
	d := max(b.Initial, minRetryDelay)
	for i := 1; i < attempt && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d, true
}
