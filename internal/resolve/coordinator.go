package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kanon/internal/canon"
	"kanon/internal/config"
	"kanon/internal/db"
	"kanon/internal/errclass"
	"kanon/internal/events"
	"kanon/internal/globaltime"
	"kanon/internal/locks"
	"kanon/internal/match"
	"kanon/internal/queue"
	"kanon/internal/retrying"
)

// Coordinator drives a tracked reference through
// pending -> resolved | unresolved | permanently_failed. It owns all state
// transitions on tracked references; nothing else writes their status.
type Coordinator struct {
	pool    *db.Pool
	matcher *match.Matcher
	client  match.MetadataClient
	store   *canon.Store
	jobs    *queue.Queue
	locker  *locks.Locker
	bus     *events.Bus
	cfg     *config.Config
	logger  zerolog.Logger
}

func NewCoordinator(
	pool *db.Pool,
	matcher *match.Matcher,
	client match.MetadataClient,
	store *canon.Store,
	jobs *queue.Queue,
	locker *locks.Locker,
	bus *events.Bus,
	cfg *config.Config,
	logger zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		pool:    pool,
		matcher: matcher,
		client:  client,
		store:   store,
		jobs:    jobs,
		locker:  locker,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
	}
}

// Jobs exposes the queue for the worker loop.
func (c *Coordinator) Jobs() *queue.Queue {
	return c.jobs
}

func (c *Coordinator) txPolicy() retrying.Policy {
	return retrying.Policy{
		MaxAttempts: c.cfg.TxMaxAttempts,
		BaseDelay:   c.cfg.TxBackoffBase,
		MaxDelay:    c.cfg.TxBackoffMax,
		Jitter:      0.2,
	}
}

// ResolveReference runs one resolution attempt for a reference. The whole
// attempt executes inside a serializable transaction; serialization conflicts
// and unique-constraint races are retried here, every other failure is left
// to the job queue's backoff.
func (c *Coordinator) ResolveReference(ctx context.Context, referenceID int64) error {
	return retrying.Do(ctx, c.txPolicy(), errclass.IsConflict, func(ctx context.Context) error {
		return c.resolveOnce(ctx, referenceID)
	})
}

func (c *Coordinator) resolveOnce(ctx context.Context, referenceID int64) error {
	tx, err := c.pool.BeginTx(ctx, db.TxOptions{Serializable: true})
	if err != nil {
		return fmt.Errorf("begin resolve tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	ref, claimStatus, err := tryClaimReferenceTx(ctx, tx, referenceID)
	if err != nil {
		return err
	}
	switch claimStatus {
	case AlreadyClaimed:
		c.logger.Debug().Int64("reference_id", referenceID).Msg("reference claimed elsewhere, skipping")
		return nil
	case NotFound:
		c.logger.Debug().Int64("reference_id", referenceID).Msg("reference gone, skipping")
		return nil
	}

	// Rechecks under the row lock: the job may have been enqueued before a
	// user intervened or another worker finished the same reference.
	if ref.Status == db.ReferenceStatusResolved || ref.ManuallyLinked {
		return nil
	}
	if ref.SeriesID != nil {
		overridden, err := seriesOverriddenTx(ctx, tx, *ref.SeriesID)
		if err != nil {
			return err
		}
		if overridden {
			c.logger.Info().
				Int64("reference_id", referenceID).
				Int64("series_id", *ref.SeriesID).
				Msg("bound series is user-overridden, leaving reference untouched")
			return nil
		}
	}

	attempt := ref.Attempts + 1
	result, matchErr := c.matcher.Match(ctx, match.Reference{
		Title: ref.RawTitle,
		URL:   ref.RawURL,
	}, attempt)
	if matchErr != nil {
		if err := c.handleMatchError(ctx, tx, ref, attempt, matchErr); err != nil {
			return err
		}
		committed = true
		if err := tx.Commit(ctx); err != nil {
			committed = false
			return fmt.Errorf("commit after match failure: %w", err)
		}
		// Transient failures re-throw so the job layer backs off and retries.
		if errclass.IsRetryable(matchErr) {
			return matchErr
		}
		return nil
	}

	if result.Source == match.SourceNone {
		if err := c.markUnmatchedTx(ctx, tx, ref, attempt, "no candidate cleared the similarity threshold"); err != nil {
			return err
		}
		committed = true
		return tx.Commit(ctx)
	}

	outcome, seriesID, err := c.bindTargetTx(ctx, tx, result)
	if err != nil {
		return err
	}

	// Referential guard: the binding may have changed between enqueue and
	// claim. A mismatch is recovered silently, never an inconsistent write.
	binding, err := currentBindingTx(ctx, tx, referenceID)
	if err != nil {
		return err
	}
	if binding != nil && *binding != seriesID {
		c.logger.Warn().
			Int64("reference_id", referenceID).
			Int64("bound_series_id", *binding).
			Int64("matched_series_id", seriesID).
			Msg("reference rebound concurrently, abandoning attempt")
		return nil
	}

	needsReview := result.NeedsReview
	progress := ref.Progress

	dup, hasDup, err := findDuplicateReferenceTx(ctx, tx, ref.UserID, seriesID, ref.ReferenceID)
	if err != nil {
		return err
	}
	if hasDup {
		current := RefSnapshot{ReferenceID: ref.ReferenceID, Progress: ref.Progress, ManuallyLinked: ref.ManuallyLinked}
		switch DuplicateDecision(current, dup) {
		case MergeCurrentIntoExisting:
			if err := c.mergeReferencesTx(ctx, tx, dup.ReferenceID, ref.ReferenceID, maxProgress(ref.Progress, dup.Progress)); err != nil {
				return err
			}
			c.logger.Info().
				Int64("merged_reference_id", ref.ReferenceID).
				Int64("surviving_reference_id", dup.ReferenceID).
				Int64("series_id", seriesID).
				Msg("duplicate reference merged")
			committed = true
			return tx.Commit(ctx)
		case MergeExistingIntoCurrent:
			if err := c.mergeReferencesTx(ctx, tx, ref.ReferenceID, dup.ReferenceID, maxProgress(ref.Progress, dup.Progress)); err != nil {
				return err
			}
			progress = maxProgress(ref.Progress, dup.Progress)
			c.logger.Info().
				Int64("merged_reference_id", dup.ReferenceID).
				Int64("surviving_reference_id", ref.ReferenceID).
				Int64("series_id", seriesID).
				Msg("duplicate reference merged")
		case AbortFlagReview:
			needsReview = true
			c.logger.Info().
				Int64("reference_id", ref.ReferenceID).
				Int64("duplicate_reference_id", dup.ReferenceID).
				Msg("duplicate merge aborted, flagged for review")
		}
	}

	if err := c.markResolvedTx(ctx, tx, ref.ReferenceID, seriesID, result.Confidence, needsReview, attempt, progress); err != nil {
		return err
	}

	if result.Candidate != nil {
		if err := c.enqueueEnrichmentTx(ctx, tx, seriesID); err != nil {
			return err
		}
	}
	if outcome != nil && outcome.Created {
		if err := c.enqueueSeriesAvailableTx(ctx, tx, outcome.SeriesUUID, outcome.Title); err != nil {
			return err
		}
	}

	committed = true
	if err := tx.Commit(ctx); err != nil {
		committed = false
		return fmt.Errorf("commit resolve tx: %w", err)
	}

	c.logger.Info().
		Int64("reference_id", ref.ReferenceID).
		Int64("series_id", seriesID).
		Str("source", string(result.Source)).
		Float64("confidence", result.Confidence).
		Bool("needs_review", needsReview).
		Msg("reference resolved")
	return nil
}

// bindTargetTx turns the matcher's verdict into a concrete canonical series,
// upserting the candidate when the match came from the provider.
func (c *Coordinator) bindTargetTx(ctx context.Context, tx db.Tx, result match.Result) (*canon.UpsertOutcome, int64, error) {
	if result.Candidate == nil {
		if result.LocalSeriesID == nil {
			return nil, 0, fmt.Errorf("match result carries neither candidate nor local series")
		}
		return nil, *result.LocalSeriesID, nil
	}

	info := canon.SourceInfo{
		Provider:   c.client.Name(),
		ProviderID: result.Candidate.ProviderID,
		Confidence: result.Confidence,
		CoverURL:   result.Candidate.CoverURL,
	}
	outcome, err := c.store.UpsertCanonical(ctx, tx, *result.Candidate, info)
	if err != nil {
		if errors.Is(err, canon.ErrOverrideProtected) {
			// Raced with a user override; retry the attempt so the recheck
			// path sees the final provenance.
			return nil, 0, errclass.Conflict("canonical upsert", err)
		}
		return nil, 0, err
	}
	if err := c.store.LinkSource(ctx, tx, outcome.SeriesID, info); err != nil {
		return nil, 0, err
	}
	return &outcome, outcome.SeriesID, nil
}

// handleMatchError records the failed attempt and, for failures eligible for
// recovery, schedules the next one. PolicyBlocked is terminal with no retry.
func (c *Coordinator) handleMatchError(ctx context.Context, tx db.Tx, ref refRow, attempt int, matchErr error) error {
	reason := errclass.Reason(matchErr)

	switch errclass.KindOf(matchErr) {
	case errclass.KindPolicyBlocked:
		return c.markFailedTx(ctx, tx, ref.ReferenceID, db.ReferenceStatusPermanentlyFailed, attempt, reason, nil)
	case errclass.KindPermanent:
		return c.markUnmatchedTx(ctx, tx, ref, attempt, reason)
	default:
		// Transient or conflict: record the attempt, keep the current status,
		// let the job layer retry.
		const q = `
UPDATE catalog.tracked_references
SET attempts = $1, last_attempt_at = $2, last_error = $3, updated_at = $2
WHERE reference_id = $4
  AND deleted_at IS NULL
`
		if _, err := tx.Exec(ctx, q, attempt, globaltime.UTC(), reason, ref.ReferenceID); err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		return nil
	}
}

// markUnmatchedTx transitions to unresolved (or permanently_failed once the
// retry budget is spent) and schedules the next automated recovery attempt.
func (c *Coordinator) markUnmatchedTx(ctx context.Context, tx db.Tx, ref refRow, attempt int, reason string) error {
	status := db.ReferenceStatusUnresolved
	if attempt >= c.cfg.MaxResolveRetries {
		status = db.ReferenceStatusPermanentlyFailed
	}

	var nextAttempt *int64
	if status == db.ReferenceStatusUnresolved {
		delay := RecoveryDelay(attempt, c.cfg.RecoveryBaseDelay, c.cfg.RecoveryMaxDelay)
		if err := c.enqueueResolveTx(ctx, tx, ref.ReferenceID, attempt+1, delay); err != nil {
			return err
		}
		unix := globaltime.UTC().Add(delay).Unix()
		nextAttempt = &unix
	}

	return c.markFailedTx(ctx, tx, ref.ReferenceID, status, attempt, reason, nextAttempt)
}

func (c *Coordinator) markFailedTx(ctx context.Context, tx db.Tx, referenceID int64, status string, attempt int, reason string, nextAttemptUnix *int64) error {
	const q = `
UPDATE catalog.tracked_references
SET status = $1,
    attempts = $2,
    last_attempt_at = $3,
    next_attempt_at = CASE WHEN $4::bigint IS NULL THEN NULL ELSE to_timestamp($4::bigint) END,
    last_error = $5,
    updated_at = $3
WHERE reference_id = $6
  AND deleted_at IS NULL
`
	if _, err := tx.Exec(ctx, q, status, attempt, globaltime.UTC(), nextAttemptUnix, errclass.Sanitize(reason), referenceID); err != nil {
		return fmt.Errorf("mark reference %s: %w", status, err)
	}
	c.logger.Info().
		Int64("reference_id", referenceID).
		Str("status", status).
		Int("attempts", attempt).
		Str("reason", errclass.Sanitize(reason)).
		Msg("resolution attempt did not match")
	return nil
}

// markResolvedTx binds the reference to its series. The retry counter resets
// only for a confident, review-free match; a flagged match keeps its attempt
// history for operators.
func (c *Coordinator) markResolvedTx(ctx context.Context, tx db.Tx, referenceID, seriesID int64, confidence float64, needsReview bool, attempt int, progress float64) error {
	attempts := attempt
	if !needsReview && confidence >= c.cfg.ReviewMinConfidence {
		attempts = 0
	}

	const q = `
UPDATE catalog.tracked_references
SET series_id = $1,
    status = $2,
    match_confidence = $3,
    needs_review = $4,
    attempts = $5,
    progress = $6,
    last_attempt_at = $7,
    next_attempt_at = NULL,
    last_error = NULL,
    updated_at = $7
WHERE reference_id = $8
  AND deleted_at IS NULL
`
	if _, err := tx.Exec(ctx, q, seriesID, db.ReferenceStatusResolved, confidence, needsReview, attempts, progress, globaltime.UTC(), referenceID); err != nil {
		return fmt.Errorf("mark reference resolved: %w", err)
	}
	return nil
}

// mergeReferencesTx folds the loser into the survivor: the survivor keeps the
// higher progress and the series binding, the loser is soft-deleted.
func (c *Coordinator) mergeReferencesTx(ctx context.Context, tx db.Tx, survivorID, mergedID int64, progress float64) error {
	now := globaltime.UTC()

	const keep = `
UPDATE catalog.tracked_references
SET progress = GREATEST(progress, $1), updated_at = $2
WHERE reference_id = $3
  AND deleted_at IS NULL
`
	if _, err := tx.Exec(ctx, keep, progress, now, survivorID); err != nil {
		return fmt.Errorf("merge progress into reference %d: %w", survivorID, err)
	}

	const retire = `
UPDATE catalog.tracked_references
SET deleted_at = $1, updated_at = $1
WHERE reference_id = $2
  AND deleted_at IS NULL
`
	if _, err := tx.Exec(ctx, retire, now, mergedID); err != nil {
		return fmt.Errorf("soft-delete merged reference %d: %w", mergedID, err)
	}
	return nil
}

func (c *Coordinator) enqueueResolveTx(ctx context.Context, tx db.Tx, referenceID int64, attempt int, delay time.Duration) error {
	dedupe := queue.DeterministicID(queue.KindResolveReference, fmt.Sprintf("%d:%d", referenceID, attempt))
	payload := resolveJobPayload{ReferenceID: referenceID}
	return c.jobs.EnqueueTx(ctx, tx, queue.KindResolveReference, payload, dedupe, 0, delay)
}

func (c *Coordinator) enqueueEnrichmentTx(ctx context.Context, tx db.Tx, seriesID int64) error {
	payload := seriesJobPayload{SeriesID: seriesID}
	coverKey := queue.DeterministicID(queue.KindCoverRefresh, fmt.Sprintf("%d", seriesID))
	if err := c.jobs.EnqueueTx(ctx, tx, queue.KindCoverRefresh, payload, coverKey, -1, 0); err != nil {
		return err
	}
	statsKey := queue.DeterministicID(queue.KindStatsEnrichment, fmt.Sprintf("%d", seriesID))
	return c.jobs.EnqueueTx(ctx, tx, queue.KindStatsEnrichment, payload, statsKey, -1, 0)
}

func (c *Coordinator) enqueueSeriesAvailableTx(ctx context.Context, tx db.Tx, seriesUUID, seriesTitle string) error {
	payload := seriesAvailablePayload{SeriesUUID: seriesUUID, Title: seriesTitle, Provider: c.client.Name()}
	dedupe := queue.DeterministicID(queue.KindSeriesAvailable, seriesUUID)
	return c.jobs.EnqueueTx(ctx, tx, queue.KindSeriesAvailable, payload, dedupe, 1, 0)
}

func maxProgress(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
