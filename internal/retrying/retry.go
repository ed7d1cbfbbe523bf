package retrying

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds a retry loop. Jitter is the +/- fraction applied to each
// computed delay, e.g. 0.2 spreads delays across [0.8d, 1.2d].
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// Delay returns the backoff before the given 1-based attempt, exponential in
// the attempt number and capped at MaxDelay, before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}

	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if d <= 0 || p.Jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * p.Jitter
	jittered := time.Duration(float64(d) * (1 + spread))
	if jittered < 0 {
		return 0
	}
	return jittered
}

// Do runs op up to MaxAttempts times, sleeping between attempts, as long as
// retryable reports the failure as worth another try. The last error is
// returned unwrapped so callers can classify it.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := p.jittered(p.Delay(attempt)); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
