package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeterministicIDIsStable(t *testing.T) {
	t.Parallel()

	a := DeterministicID(KindResolveReference, "42:1")
	b := DeterministicID(KindResolveReference, "42:1")
	if a != b {
		t.Fatalf("expected stable id, got %q and %q", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("expected a valid UUID, got %q: %v", a, err)
	}
}

func TestDeterministicIDSeparatesKindsAndIdentities(t *testing.T) {
	t.Parallel()

	base := DeterministicID(KindResolveReference, "42:1")
	if DeterministicID(KindCoverRefresh, "42:1") == base {
		t.Fatalf("different kinds must not collide")
	}
	if DeterministicID(KindResolveReference, "42:2") == base {
		t.Fatalf("different attempts must not collide")
	}
	if DeterministicID(KindResolveReference, "421:") == base {
		t.Fatalf("identity separator must prevent ambiguity")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()

	if got := backoffDelay(1); got != 30*time.Second {
		t.Fatalf("unexpected first backoff: %v", got)
	}
	if got := backoffDelay(2); got != time.Minute {
		t.Fatalf("unexpected second backoff: %v", got)
	}
	if got := backoffDelay(20); got != 30*time.Minute {
		t.Fatalf("expected backoff capped at 30m, got %v", got)
	}
}
