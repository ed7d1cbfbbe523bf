package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kanon/internal/db"
	"kanon/internal/errclass"
	"kanon/internal/globaltime"
)

// Job kinds understood by the worker.
const (
	KindResolveReference = "resolve_reference"
	KindCanonicalize     = "canonicalize_candidate"
	KindCoverRefresh     = "cover_refresh"
	KindStatsEnrichment  = "stats_enrichment"
	KindSeriesAvailable  = "series_available"
)

const maxJobAttempts = 10

var jobNamespace = uuid.MustParse("4d1c2f9e-5b77-4b1a-9a8e-7f3f2d6c1a42")

// DeterministicID derives the dedupe key for a job from its kind and logical
// identity, so resubmitting the same work is a no-op against an in-flight or
// completed job.
func DeterministicID(kind, identity string) string {
	return uuid.NewSHA1(jobNamespace, []byte(kind+":"+identity)).String()
}

// Queue is the shared DB-backed job queue. Claiming uses SKIP LOCKED so
// workers never block each other on the same row.
type Queue struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func New(pool *db.Pool, logger zerolog.Logger) *Queue {
	return &Queue{pool: pool, logger: logger}
}

// Enqueue inserts a job outside any caller transaction.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, dedupeKey string, priority int, delay time.Duration) error {
	tx, err := q.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin enqueue tx: %w", err)
	}
	if err := q.EnqueueTx(ctx, tx, kind, payload, dedupeKey, priority, delay); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit enqueue tx: %w", err)
	}
	return nil
}

// EnqueueTx inserts a job inside the caller's transaction. Conflicts on the
// dedupe key are silently ignored: the job is already queued or running.
func (q *Queue) EnqueueTx(ctx context.Context, tx db.Tx, kind string, payload any, dedupeKey string, priority int, delay time.Duration) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	if delay < 0 {
		delay = 0
	}

	const insert = `
INSERT INTO catalog.resolution_jobs (dedupe_key, kind, payload, priority, run_at, status, created_at, updated_at)
VALUES ($1::uuid, $2, $3::jsonb, $4, $5, 'queued', $6, $6)
ON CONFLICT (dedupe_key) DO NOTHING
`

	now := globaltime.UTC()
	if _, err := tx.Exec(ctx, insert, dedupeKey, kind, string(encoded), priority, now.Add(delay), now); err != nil {
		return fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return nil
}

// ClaimNext picks one runnable job and marks it running. Returns found=false
// when nothing is due.
func (q *Queue) ClaimNext(ctx context.Context) (*db.ResolutionJob, bool, error) {
	tx, err := q.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin claim tx: %w", err)
	}

	const claim = `
SELECT job_id, dedupe_key, kind, payload::text, priority, run_at, attempts
FROM catalog.resolution_jobs
WHERE status = 'queued'
  AND run_at <= $1
ORDER BY priority DESC, run_at, job_id
LIMIT 1
FOR UPDATE SKIP LOCKED
`

	now := globaltime.UTC()
	var (
		job     db.ResolutionJob
		payload string
	)
	err = tx.QueryRow(ctx, claim, now).Scan(
		&job.JobID,
		&job.DedupeKey,
		&job.Kind,
		&payload,
		&job.Priority,
		&job.RunAt,
		&job.Attempts,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		if db.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	job.Payload = json.RawMessage(payload)

	const markRunning = `
UPDATE catalog.resolution_jobs
SET status = 'running', attempts = attempts + 1, claimed_at = $1, updated_at = $1
WHERE job_id = $2
`
	if _, err := tx.Exec(ctx, markRunning, now, job.JobID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("mark job running: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("commit claim tx: %w", err)
	}

	job.Attempts++
	return &job, true, nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, jobID int64) error {
	const q1 = `
UPDATE catalog.resolution_jobs
SET status = 'done', last_error = NULL, updated_at = $1
WHERE job_id = $2
`
	if _, err := q.pool.Exec(ctx, q1, globaltime.UTC(), jobID); err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	return nil
}

// Fail records a failure. Retryable failures are requeued with exponential
// backoff until the attempt cap; everything else is terminal.
func (q *Queue) Fail(ctx context.Context, job *db.ResolutionJob, jobErr error) error {
	reason := errclass.Reason(jobErr)

	if errclass.IsRetryable(jobErr) && job.Attempts < maxJobAttempts {
		delay := backoffDelay(job.Attempts)
		const requeue = `
UPDATE catalog.resolution_jobs
SET status = 'queued', run_at = $1, last_error = $2, claimed_at = NULL, updated_at = $3
WHERE job_id = $4
`
		now := globaltime.UTC()
		if _, err := q.pool.Exec(ctx, requeue, now.Add(delay), reason, now, job.JobID); err != nil {
			return fmt.Errorf("requeue job %d: %w", job.JobID, err)
		}
		q.logger.Warn().
			Int64("job_id", job.JobID).
			Str("kind", job.Kind).
			Dur("delay", delay).
			Str("reason", reason).
			Msg("job requeued after retryable failure")
		return nil
	}

	const fail = `
UPDATE catalog.resolution_jobs
SET status = 'failed', last_error = $1, updated_at = $2
WHERE job_id = $3
`
	if _, err := q.pool.Exec(ctx, fail, reason, globaltime.UTC(), job.JobID); err != nil {
		return fmt.Errorf("fail job %d: %w", job.JobID, err)
	}
	q.logger.Error().
		Int64("job_id", job.JobID).
		Str("kind", job.Kind).
		Str("reason", reason).
		Msg("job failed terminally")
	return nil
}

func backoffDelay(attempts int) time.Duration {
	delay := 30 * time.Second
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return delay
}
