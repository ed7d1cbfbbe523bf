package resolve

import "time"

// RefSnapshot is the slice of a tracked reference the duplicate-merge
// decision needs.
type RefSnapshot struct {
	ReferenceID    int64
	Progress       float64
	ManuallyLinked bool
}

// MergeOutcome is the verdict for two references of one user resolving to
// the same canonical series.
type MergeOutcome int

const (
	// MergeCurrentIntoExisting folds the current reference's progress into
	// the existing one and soft-deletes the current row.
	MergeCurrentIntoExisting MergeOutcome = iota
	// MergeExistingIntoCurrent keeps the current row and soft-deletes the
	// existing one.
	MergeExistingIntoCurrent
	// AbortFlagReview binds without merging and flags the current reference
	// for human review.
	AbortFlagReview
)

// DuplicateDecision picks the surviving reference. Progress is never lost:
// the survivor always carries the maximum of the two values. A manually
// linked row is never soft-deleted by automation. On equal progress the
// lower (older) reference id survives.
func DuplicateDecision(current, existing RefSnapshot) MergeOutcome {
	if current.ManuallyLinked {
		return AbortFlagReview
	}
	if current.Progress > existing.Progress {
		return AbortFlagReview
	}
	if current.Progress == existing.Progress {
		if existing.ManuallyLinked {
			return MergeCurrentIntoExisting
		}
		if current.ReferenceID < existing.ReferenceID {
			return MergeExistingIntoCurrent
		}
	}
	return MergeCurrentIntoExisting
}

// RecoveryDelay schedules the next automated retry for an unresolved
// reference: exponential in the attempt count, capped.
func RecoveryDelay(attempts int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if cap > 0 && delay >= cap {
			return cap
		}
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}
