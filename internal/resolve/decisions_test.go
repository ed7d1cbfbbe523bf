package resolve

import (
	"testing"
	"time"
)

func TestDuplicateDecisionMergesCurrentByDefault(t *testing.T) {
	t.Parallel()

	current := RefSnapshot{ReferenceID: 20, Progress: 5}
	existing := RefSnapshot{ReferenceID: 10, Progress: 12}
	if got := DuplicateDecision(current, existing); got != MergeCurrentIntoExisting {
		t.Fatalf("expected current merged into existing, got %v", got)
	}
}

func TestDuplicateDecisionProtectsManualLink(t *testing.T) {
	t.Parallel()

	current := RefSnapshot{ReferenceID: 20, Progress: 1, ManuallyLinked: true}
	existing := RefSnapshot{ReferenceID: 10, Progress: 12}
	if got := DuplicateDecision(current, existing); got != AbortFlagReview {
		t.Fatalf("manually linked reference must never be merged away, got %v", got)
	}
}

func TestDuplicateDecisionFlagsHigherProgress(t *testing.T) {
	t.Parallel()

	current := RefSnapshot{ReferenceID: 20, Progress: 30}
	existing := RefSnapshot{ReferenceID: 10, Progress: 12}
	if got := DuplicateDecision(current, existing); got != AbortFlagReview {
		t.Fatalf("current with strictly more progress must flag review, got %v", got)
	}
}

func TestDuplicateDecisionTieBreaksOnLowerID(t *testing.T) {
	t.Parallel()

	current := RefSnapshot{ReferenceID: 5, Progress: 12}
	existing := RefSnapshot{ReferenceID: 10, Progress: 12}
	if got := DuplicateDecision(current, existing); got != MergeExistingIntoCurrent {
		t.Fatalf("lower id survives on equal progress, got %v", got)
	}

	current = RefSnapshot{ReferenceID: 15, Progress: 12}
	if got := DuplicateDecision(current, existing); got != MergeCurrentIntoExisting {
		t.Fatalf("lower existing id survives on equal progress, got %v", got)
	}
}

func TestDuplicateDecisionNeverDeletesManualSurvivorSide(t *testing.T) {
	t.Parallel()

	// Equal progress, current has the lower id, but the existing row is
	// manually linked: the manual row must survive.
	current := RefSnapshot{ReferenceID: 5, Progress: 12}
	existing := RefSnapshot{ReferenceID: 10, Progress: 12, ManuallyLinked: true}
	if got := DuplicateDecision(current, existing); got != MergeCurrentIntoExisting {
		t.Fatalf("manually linked existing row must survive, got %v", got)
	}
}

func TestRecoveryDelayExponentialWithCap(t *testing.T) {
	t.Parallel()

	base := 15 * time.Minute
	cap := 24 * time.Hour

	if got := RecoveryDelay(1, base, cap); got != 15*time.Minute {
		t.Fatalf("unexpected first delay: %v", got)
	}
	if got := RecoveryDelay(2, base, cap); got != 30*time.Minute {
		t.Fatalf("unexpected second delay: %v", got)
	}
	if got := RecoveryDelay(3, base, cap); got != time.Hour {
		t.Fatalf("unexpected third delay: %v", got)
	}
	if got := RecoveryDelay(50, base, cap); got != cap {
		t.Fatalf("expected delay capped at %v, got %v", cap, got)
	}
}

func TestRecoveryDelayDegenerateInputs(t *testing.T) {
	t.Parallel()

	if got := RecoveryDelay(0, 15*time.Minute, time.Hour); got != 15*time.Minute {
		t.Fatalf("expected attempt clamped to 1, got %v", got)
	}
	if got := RecoveryDelay(3, 0, time.Hour); got != 0 {
		t.Fatalf("expected zero base to disable delay, got %v", got)
	}
}
