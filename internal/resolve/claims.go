package resolve

import (
	"context"
	"fmt"

	"kanon/internal/db"
)

// ClaimStatus is the outcome of trying to claim a reference row.
type ClaimStatus int

const (
	// Claimed: this worker holds the row lock for the transaction.
	Claimed ClaimStatus = iota
	// AlreadyClaimed: another worker holds the row; skip silently.
	AlreadyClaimed
	// NotFound: no such live reference.
	NotFound
)

type refRow struct {
	ReferenceID    int64
	UserID         string
	RawURL         string
	RawTitle       string
	Status         string
	Attempts       int
	NeedsReview    bool
	ManuallyLinked bool
	SeriesID       *int64
	Progress       float64
}

// tryClaimReferenceTx locks one live reference row with SKIP LOCKED so
// concurrent workers never block on the same reference.
func tryClaimReferenceTx(ctx context.Context, tx db.Tx, referenceID int64) (refRow, ClaimStatus, error) {
	const claim = `
SELECT
	reference_id,
	user_id::text,
	COALESCE(raw_url, ''),
	raw_title,
	status,
	attempts,
	needs_review,
	manually_linked,
	series_id,
	progress
FROM catalog.tracked_references
WHERE reference_id = $1
  AND deleted_at IS NULL
FOR UPDATE SKIP LOCKED
`

	var row refRow
	err := tx.QueryRow(ctx, claim, referenceID).Scan(
		&row.ReferenceID,
		&row.UserID,
		&row.RawURL,
		&row.RawTitle,
		&row.Status,
		&row.Attempts,
		&row.NeedsReview,
		&row.ManuallyLinked,
		&row.SeriesID,
		&row.Progress,
	)
	if err == nil {
		return row, Claimed, nil
	}
	if !db.IsNoRows(err) {
		return refRow{}, NotFound, fmt.Errorf("claim reference %d: %w", referenceID, err)
	}

	// No row came back: either the row is locked elsewhere or it is gone.
	const probe = `
SELECT 1
FROM catalog.tracked_references
WHERE reference_id = $1
  AND deleted_at IS NULL
`
	var one int
	if err := tx.QueryRow(ctx, probe, referenceID).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return refRow{}, NotFound, nil
		}
		return refRow{}, NotFound, fmt.Errorf("probe reference %d: %w", referenceID, err)
	}
	return refRow{}, AlreadyClaimed, nil
}

// seriesOverriddenTx reports whether a series is under user override, in
// which case automated resolution must not touch references bound to it.
func seriesOverriddenTx(ctx context.Context, tx db.Tx, seriesID int64) (bool, error) {
	const q = `
SELECT provenance
FROM catalog.canonical_series
WHERE series_id = $1
  AND deleted_at IS NULL
`
	var provenance string
	if err := tx.QueryRow(ctx, q, seriesID).Scan(&provenance); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("check series provenance: %w", err)
	}
	return provenance == db.ProvenanceUserOverride, nil
}

// findDuplicateReferenceTx locks any other live reference of the same user
// already bound to the series.
func findDuplicateReferenceTx(ctx context.Context, tx db.Tx, userID string, seriesID, excludeReferenceID int64) (RefSnapshot, bool, error) {
	const q = `
SELECT reference_id, progress, manually_linked
FROM catalog.tracked_references
WHERE user_id = $1::uuid
  AND series_id = $2
  AND reference_id <> $3
  AND deleted_at IS NULL
ORDER BY reference_id
LIMIT 1
FOR UPDATE
`

	var snap RefSnapshot
	err := tx.QueryRow(ctx, q, userID, seriesID, excludeReferenceID).Scan(
		&snap.ReferenceID,
		&snap.Progress,
		&snap.ManuallyLinked,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return RefSnapshot{}, false, nil
		}
		return RefSnapshot{}, false, fmt.Errorf("find duplicate reference: %w", err)
	}
	return snap, true, nil
}

// currentBindingTx re-reads the reference's series binding under the lock,
// the referential guard against a concurrent rebind committed before our
// claim.
func currentBindingTx(ctx context.Context, tx db.Tx, referenceID int64) (*int64, error) {
	const q = `
SELECT series_id
FROM catalog.tracked_references
WHERE reference_id = $1
  AND deleted_at IS NULL
`
	var seriesID *int64
	if err := tx.QueryRow(ctx, q, referenceID).Scan(&seriesID); err != nil {
		return nil, fmt.Errorf("re-read reference binding: %w", err)
	}
	return seriesID, nil
}
