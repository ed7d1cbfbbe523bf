package retrying

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayBounds(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	if got := p.Delay(1); got != 0 {
		t.Fatalf("expected no delay before first attempt, got %v", got)
	}
	if got := p.Delay(2); got != 100*time.Millisecond {
		t.Fatalf("unexpected delay before second attempt: %v", got)
	}
	if got := p.Delay(3); got != 200*time.Millisecond {
		t.Fatalf("unexpected delay before third attempt: %v", got)
	}
	if got := p.Delay(10); got != 300*time.Millisecond {
		t.Fatalf("expected delay capped at max, got %v", got)
	}
}

func TestDelayWithoutBase(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3}
	if got := p.Delay(2); got != 0 {
		t.Fatalf("expected zero delay without a base, got %v", got)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5}, func(error) bool { return true }, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5}, func(err error) bool { return !errors.Is(err, fatal) }, func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	transient := errors.New("transient")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4}, func(error) bool { return true }, func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error returned, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: time.Hour}, func(error) bool { return true }, func(context.Context) error {
		calls++
		cancel()
		return errors.New("keep going")
	})
	if err == nil {
		t.Fatalf("expected an error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected no retries after cancellation, got %d calls", calls)
	}
}
