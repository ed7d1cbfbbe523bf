package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kanon/internal/canon"
	"kanon/internal/db"
	"kanon/internal/errclass"
	"kanon/internal/globaltime"
	"kanon/internal/locks"
	"kanon/internal/provider"
	"kanon/internal/queue"
	"kanon/internal/retrying"
	candidateschema "kanon/schema"
)

type resolveJobPayload struct {
	ReferenceID int64 `json:"reference_id"`
}

type seriesJobPayload struct {
	SeriesID int64 `json:"series_id"`
}

type seriesAvailablePayload struct {
	SeriesUUID string `json:"series_uuid"`
	Title      string `json:"title"`
	Provider   string `json:"provider,omitempty"`
}

// Submission is a user's request to track a work.
type Submission struct {
	UserID   string
	RawURL   string
	RawTitle string
}

// Submitted is the accepted reference, handed back to the API layer.
type Submitted struct {
	ReferenceID   int64
	ReferenceUUID string
	Status        string
}

// Submit records a tracked reference and queues its first resolution
// attempt, both in one transaction so a crash can never orphan either side.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) (Submitted, error) {
	title := strings.TrimSpace(sub.RawTitle)
	if title == "" {
		return Submitted{}, errclass.Permanent("submit reference", fmt.Errorf("raw title must not be empty"))
	}
	if strings.TrimSpace(sub.UserID) == "" {
		return Submitted{}, errclass.Permanent("submit reference", fmt.Errorf("user id must not be empty"))
	}

	tx, err := c.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return Submitted{}, fmt.Errorf("begin submit tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	const insert = `
INSERT INTO catalog.tracked_references (user_id, raw_url, raw_title, status, created_at, updated_at)
VALUES ($1::uuid, $2, $3, $4, $5, $5)
RETURNING reference_id, reference_uuid::text
`
	var (
		rawURL *string
		out    Submitted
	)
	if trimmed := strings.TrimSpace(sub.RawURL); trimmed != "" {
		rawURL = &trimmed
	}
	err = tx.QueryRow(ctx, insert, sub.UserID, rawURL, title, db.ReferenceStatusPending, globaltime.UTC()).
		Scan(&out.ReferenceID, &out.ReferenceUUID)
	if err != nil {
		return Submitted{}, fmt.Errorf("insert tracked reference: %w", err)
	}
	out.Status = db.ReferenceStatusPending

	if err := c.enqueueResolveTx(ctx, tx, out.ReferenceID, 1, 0); err != nil {
		return Submitted{}, err
	}

	committed = true
	if err := tx.Commit(ctx); err != nil {
		committed = false
		return Submitted{}, fmt.Errorf("commit submit tx: %w", err)
	}

	c.logger.Info().
		Int64("reference_id", out.ReferenceID).
		Str("reference_uuid", out.ReferenceUUID).
		Msg("reference submitted")
	return out, nil
}

// CanonicalizeScraped validates a scraped payload and upserts it into the
// canonical store under the per-title lock, so concurrent scrapes of the same
// work serialize instead of racing the title lookup.
func (c *Coordinator) CanonicalizeScraped(ctx context.Context, payload json.RawMessage) (canon.UpsertOutcome, error) {
	candidate, err := candidateschema.ValidateScrapedCandidate(payload)
	if err != nil {
		return canon.UpsertOutcome{}, errclass.Permanent("validate scraped candidate", err)
	}

	lockKey := locks.TitleLockKey(candidate.Title)
	token, ok, err := c.locker.Acquire(ctx, lockKey, c.cfg.TitleLockTTL)
	if err != nil {
		return canon.UpsertOutcome{}, errclass.Transient("acquire title lock", err)
	}
	if !ok {
		return canon.UpsertOutcome{}, errclass.Conflict("acquire title lock", fmt.Errorf("title %q is being canonicalized elsewhere", candidate.Title))
	}
	defer func() {
		if err := c.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			c.logger.Warn().Err(err).Str("key", lockKey).Msg("title lock release failed")
		}
	}()

	var outcome canon.UpsertOutcome
	err = retrying.Do(ctx, c.txPolicy(), errclass.IsConflict, func(ctx context.Context) error {
		tx, err := c.pool.BeginTx(ctx, db.TxOptions{Serializable: true})
		if err != nil {
			return fmt.Errorf("begin canonicalize tx: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(ctx)
			}
		}()

		info := canon.SourceInfo{
			Provider:   candidate.Provider,
			ProviderID: candidate.ProviderID,
			Confidence: 1,
			CoverURL:   candidate.CoverURL,
		}
		outcome, err = c.store.UpsertCanonical(ctx, tx, scrapedToCandidate(candidate), info)
		if err != nil {
			return err
		}
		if err := c.store.LinkSource(ctx, tx, outcome.SeriesID, info); err != nil {
			return err
		}
		if err := c.enqueueEnrichmentTx(ctx, tx, outcome.SeriesID); err != nil {
			return err
		}
		if outcome.Created {
			if err := c.enqueueSeriesAvailableTx(ctx, tx, outcome.SeriesUUID, outcome.Title); err != nil {
				return err
			}
		}

		committed = true
		return tx.Commit(ctx)
	})
	if err != nil {
		return canon.UpsertOutcome{}, err
	}

	c.logger.Info().
		Int64("series_id", outcome.SeriesID).
		Str("provider", candidate.Provider).
		Bool("created", outcome.Created).
		Bool("merged", outcome.Merged).
		Msg("scraped candidate canonicalized")
	return outcome, nil
}

func scrapedToCandidate(s *candidateschema.ScrapedCandidate) provider.Candidate {
	return provider.Candidate{
		ProviderID:    s.ProviderID,
		Title:         s.Title,
		AltTitles:     s.AltTitles,
		Description:   s.Description,
		CoverURL:      s.CoverURL,
		Status:        s.Status,
		ContentRating: s.ContentRating,
		Genres:        s.Genres,
		Themes:        s.Themes,
		Language:      s.Language,
		Year:          s.Year,
		Creators:      s.Creators,
	}
}

// HandleJob dispatches one claimed job to its handler.
func (c *Coordinator) HandleJob(ctx context.Context, job *db.ResolutionJob) error {
	switch job.Kind {
	case queue.KindResolveReference:
		var payload resolveJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errclass.Permanent("decode resolve payload", err)
		}
		return c.ResolveReference(ctx, payload.ReferenceID)
	case queue.KindCanonicalize:
		_, err := c.CanonicalizeScraped(ctx, job.Payload)
		return err
	case queue.KindCoverRefresh:
		var payload seriesJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errclass.Permanent("decode cover refresh payload", err)
		}
		return c.RefreshCover(ctx, payload.SeriesID)
	case queue.KindStatsEnrichment:
		var payload seriesJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errclass.Permanent("decode stats payload", err)
		}
		return c.EnrichStats(ctx, payload.SeriesID)
	case queue.KindSeriesAvailable:
		var payload seriesAvailablePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errclass.Permanent("decode series_available payload", err)
		}
		return c.bus.PublishSeriesAvailable(ctx, payload.SeriesUUID, payload.Title, payload.Provider)
	default:
		return errclass.Permanent("dispatch job", fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

// RecoverDue re-enqueues resolution for unresolved references whose scheduled
// recovery time has passed. Deterministic dedupe keys make the sweep safe to
// run from multiple processes.
func (c *Coordinator) RecoverDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `
SELECT reference_id, attempts
FROM catalog.tracked_references
WHERE status = $1
  AND next_attempt_at IS NOT NULL
  AND next_attempt_at <= $2
  AND deleted_at IS NULL
ORDER BY next_attempt_at
LIMIT $3
`
	rows, err := c.pool.Query(ctx, q, db.ReferenceStatusUnresolved, globaltime.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("list recoverable references: %w", err)
	}
	defer rows.Close()

	type due struct {
		referenceID int64
		attempts    int
	}
	var dues []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.referenceID, &d.attempts); err != nil {
			return 0, fmt.Errorf("scan recoverable reference: %w", err)
		}
		dues = append(dues, d)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate recoverable references: %w", err)
	}

	enqueued := 0
	for _, d := range dues {
		dedupe := queue.DeterministicID(queue.KindResolveReference, fmt.Sprintf("%d:%d", d.referenceID, d.attempts+1))
		payload := resolveJobPayload{ReferenceID: d.referenceID}
		if err := c.jobs.Enqueue(ctx, queue.KindResolveReference, payload, dedupe, 0, 0); err != nil {
			return enqueued, err
		}
		enqueued++
	}

	if enqueued > 0 {
		c.logger.Info().Int("count", enqueued).Msg("recovery sweep enqueued resolutions")
	}
	return enqueued, nil
}

// RefreshCover re-fetches a series from its authoritative provider and runs
// the result through the normal merge, which applies the placeholder-cover
// precedence rules.
func (c *Coordinator) RefreshCover(ctx context.Context, seriesID int64) error {
	const q = `
SELECT COALESCE(provider, ''), COALESCE(external_id, '')
FROM catalog.canonical_series
WHERE series_id = $1
  AND deleted_at IS NULL
`
	var providerName, externalID string
	if err := c.pool.QueryRow(ctx, q, seriesID).Scan(&providerName, &externalID); err != nil {
		if db.IsNoRows(err) {
			return nil
		}
		return fmt.Errorf("load series %d for cover refresh: %w", seriesID, err)
	}
	if providerName == "" || externalID == "" || strings.HasPrefix(externalID, canon.ProvisionalIDPrefix) {
		return nil
	}

	candidate, err := c.client.GetByID(ctx, externalID)
	if err != nil {
		if errclass.KindOf(err) == errclass.KindNotFound {
			return c.recordSourceFailure(ctx, providerName, externalID)
		}
		return err
	}

	return retrying.Do(ctx, c.txPolicy(), errclass.IsConflict, func(ctx context.Context) error {
		tx, err := c.pool.BeginTx(ctx, db.TxOptions{Serializable: true})
		if err != nil {
			return fmt.Errorf("begin cover refresh tx: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				_ = tx.Rollback(ctx)
			}
		}()

		info := canon.SourceInfo{
			Provider:   providerName,
			ProviderID: externalID,
			Confidence: 1,
			CoverURL:   candidate.CoverURL,
		}
		if _, err := c.store.UpsertCanonical(ctx, tx, *candidate, info); err != nil {
			return err
		}
		if err := c.store.LinkSource(ctx, tx, seriesID, info); err != nil {
			return err
		}

		committed = true
		return tx.Commit(ctx)
	})
}

// EnrichStats refreshes source-link health bookkeeping for a series and
// schedules the next periodic check.
func (c *Coordinator) EnrichStats(ctx context.Context, seriesID int64) error {
	const q = `
UPDATE catalog.source_links
SET next_check_at = $1, updated_at = $2
WHERE series_id = $3
`
	now := globaltime.UTC()
	if _, err := c.pool.Exec(ctx, q, now.Add(24*time.Hour), now, seriesID); err != nil {
		return fmt.Errorf("schedule source checks for series %d: %w", seriesID, err)
	}

	const count = `
SELECT COUNT(*)
FROM catalog.tracked_references
WHERE series_id = $1
  AND deleted_at IS NULL
`
	var trackers int64
	if err := c.pool.QueryRow(ctx, count, seriesID).Scan(&trackers); err != nil {
		return fmt.Errorf("count trackers for series %d: %w", seriesID, err)
	}

	c.logger.Debug().
		Int64("series_id", seriesID).
		Int64("trackers", trackers).
		Msg("source link bookkeeping refreshed")
	return nil
}

func (c *Coordinator) recordSourceFailure(ctx context.Context, providerName, providerID string) error {
	const q = `
UPDATE catalog.source_links
SET consecutive_failures = consecutive_failures + 1, updated_at = $1
WHERE provider = $2
  AND provider_id = $3
`
	if _, err := c.pool.Exec(ctx, q, globaltime.UTC(), providerName, providerID); err != nil {
		return fmt.Errorf("record source failure %s/%s: %w", providerName, providerID, err)
	}
	return nil
}
