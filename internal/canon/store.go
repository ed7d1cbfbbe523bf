package canon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"kanon/internal/db"
	"kanon/internal/globaltime"
	"kanon/internal/provider"
	"kanon/internal/title"
)

// SourceInfo describes where an upserted candidate came from.
type SourceInfo struct {
	Provider   string
	ProviderID string
	Confidence float64
	CoverURL   string
}

// UpsertOutcome reports what the store did for one candidate.
type UpsertOutcome struct {
	SeriesID   int64
	SeriesUUID string
	Title      string
	Created    bool
	Merged     bool
}

// Store owns all writes to canonical series and source links. Callers supply
// the enclosing transaction; the store never commits.
type Store struct {
	logger zerolog.Logger
}

func NewStore(logger zerolog.Logger) *Store {
	return &Store{logger: logger}
}

// UpsertCanonical creates or merges the canonical record for a candidate.
// Lookup order: confirmed external identity first, then normalized title.
// A user-overridden record is matched but never mutated.
func (s *Store) UpsertCanonical(ctx context.Context, tx db.Tx, candidate provider.Candidate, info SourceInfo) (UpsertOutcome, error) {
	if tx == nil {
		return UpsertOutcome{}, fmt.Errorf("canonical upsert requires a transaction")
	}

	resolvedTitle := strings.TrimSpace(candidate.Title)
	if resolvedTitle == "" {
		return UpsertOutcome{}, fmt.Errorf("candidate title must not be empty")
	}
	normalized := title.Normalize(resolvedTitle)

	existing, found, err := findSeriesByExternalIDTx(ctx, tx, info.Provider, info.ProviderID)
	if err != nil {
		return UpsertOutcome{}, err
	}
	if !found {
		existing, found, err = findSeriesByNormalizedTitleTx(ctx, tx, normalized)
		if err != nil {
			return UpsertOutcome{}, err
		}
	}

	if !found {
		record := NewSeriesRecord(candidate, info.Provider, resolvedTitle)
		outcome, err := insertSeriesTx(ctx, tx, record, normalized)
		if err != nil {
			return UpsertOutcome{}, err
		}
		s.logger.Info().
			Int64("series_id", outcome.SeriesID).
			Str("title", record.Title).
			Msg("created canonical series")
		return outcome, nil
	}

	if existing.record.Provenance == db.ProvenanceUserOverride {
		// The match still binds to this series; its pinned fields stay as
		// the user set them.
		return UpsertOutcome{SeriesID: existing.seriesID, SeriesUUID: existing.seriesUUID, Title: existing.record.Title}, nil
	}

	merged, changed, err := MergeSeries(existing.record, candidate, info.Provider, resolvedTitle)
	if err != nil {
		return UpsertOutcome{}, err
	}
	if !changed {
		return UpsertOutcome{SeriesID: existing.seriesID, SeriesUUID: existing.seriesUUID, Title: existing.record.Title}, nil
	}

	if err := updateSeriesTx(ctx, tx, existing.seriesID, merged); err != nil {
		return UpsertOutcome{}, err
	}
	return UpsertOutcome{SeriesID: existing.seriesID, SeriesUUID: existing.seriesUUID, Title: merged.Title, Merged: true}, nil
}

// LinkSource upserts the (provider, provider_id) binding for a series. The
// compound identity, never the surrogate id, is the conflict key, so
// re-resolution can never duplicate a link.
func (s *Store) LinkSource(ctx context.Context, tx db.Tx, seriesID int64, info SourceInfo) error {
	if tx == nil {
		return fmt.Errorf("source link requires a transaction")
	}
	if strings.TrimSpace(info.Provider) == "" || strings.TrimSpace(info.ProviderID) == "" {
		return fmt.Errorf("source link requires provider and provider id")
	}

	const q = `
INSERT INTO catalog.source_links (
	series_id,
	provider,
	provider_id,
	match_confidence,
	cover_url,
	consecutive_failures,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
ON CONFLICT (provider, provider_id) DO UPDATE SET
	series_id = EXCLUDED.series_id,
	match_confidence = EXCLUDED.match_confidence,
	cover_url = COALESCE(EXCLUDED.cover_url, catalog.source_links.cover_url),
	consecutive_failures = 0,
	updated_at = EXCLUDED.updated_at
`

	var coverURL *string
	if trimmed := strings.TrimSpace(info.CoverURL); trimmed != "" {
		coverURL = &trimmed
	}

	if _, err := tx.Exec(ctx, q, seriesID, info.Provider, info.ProviderID, info.Confidence, coverURL, globaltime.UTC()); err != nil {
		return fmt.Errorf("upsert source link %s/%s: %w", info.Provider, info.ProviderID, err)
	}
	return nil
}

// ApplyUserOverride pins a series' descriptive fields against automated
// mutation until explicitly cleared.
func (s *Store) ApplyUserOverride(ctx context.Context, tx db.Tx, seriesID int64, userID string) error {
	const q = `
UPDATE catalog.canonical_series
SET provenance = $1, overridden_by = $2::uuid, updated_at = $3
WHERE series_id = $4 AND deleted_at IS NULL
`
	tag, err := tx.Exec(ctx, q, db.ProvenanceUserOverride, userID, globaltime.UTC(), seriesID)
	if err != nil {
		return fmt.Errorf("apply user override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNoRows
	}
	return nil
}

// ClearUserOverride returns a series to automated stewardship.
func (s *Store) ClearUserOverride(ctx context.Context, tx db.Tx, seriesID int64) error {
	const q = `
UPDATE catalog.canonical_series
SET provenance = $1, overridden_by = NULL, updated_at = $2
WHERE series_id = $3 AND deleted_at IS NULL
`
	if _, err := tx.Exec(ctx, q, db.ProvenanceCanonical, globaltime.UTC(), seriesID); err != nil {
		return fmt.Errorf("clear user override: %w", err)
	}
	return nil
}

type seriesRow struct {
	seriesID   int64
	seriesUUID string
	record     SeriesRecord
}

const seriesColumns = `
	series_id,
	series_uuid::text,
	title,
	COALESCE(alternative_titles, '[]'::jsonb)::text,
	COALESCE(description, ''),
	COALESCE(cover_url, ''),
	status,
	COALESCE(content_rating, ''),
	COALESCE(genres, '[]'::jsonb)::text,
	COALESCE(themes, '[]'::jsonb)::text,
	COALESCE(language, ''),
	COALESCE(year, 0),
	COALESCE(creators, '[]'::jsonb)::text,
	COALESCE(provider, ''),
	COALESCE(external_id, ''),
	COALESCE(external_ids, '{}'::jsonb)::text,
	provenance`

func scanSeriesRow(row *db.Row) (seriesRow, error) {
	var (
		out          seriesRow
		altJSON      string
		genresJSON   string
		themesJSON   string
		creatorsJSON string
		idsJSON      string
	)
	err := row.Scan(
		&out.seriesID,
		&out.seriesUUID,
		&out.record.Title,
		&altJSON,
		&out.record.Description,
		&out.record.CoverURL,
		&out.record.Status,
		&out.record.ContentRating,
		&genresJSON,
		&themesJSON,
		&out.record.Language,
		&out.record.Year,
		&creatorsJSON,
		&out.record.Provider,
		&out.record.ExternalID,
		&idsJSON,
		&out.record.Provenance,
	)
	if err != nil {
		return seriesRow{}, err
	}

	_ = json.Unmarshal([]byte(altJSON), &out.record.AltTitles)
	_ = json.Unmarshal([]byte(genresJSON), &out.record.Genres)
	_ = json.Unmarshal([]byte(themesJSON), &out.record.Themes)
	_ = json.Unmarshal([]byte(creatorsJSON), &out.record.Creators)
	_ = json.Unmarshal([]byte(idsJSON), &out.record.ExternalIDs)
	return out, nil
}

func findSeriesByExternalIDTx(ctx context.Context, tx db.Tx, providerName, providerID string) (seriesRow, bool, error) {
	if strings.TrimSpace(providerName) == "" || strings.TrimSpace(providerID) == "" {
		return seriesRow{}, false, nil
	}

	q := `
SELECT` + seriesColumns + `
FROM catalog.canonical_series
WHERE provider = $1
  AND external_id = $2
  AND deleted_at IS NULL
LIMIT 1
`
	row, err := scanSeriesRow(tx.QueryRow(ctx, q, providerName, providerID))
	if err != nil {
		if db.IsNoRows(err) {
			return seriesRow{}, false, nil
		}
		return seriesRow{}, false, fmt.Errorf("find series by external id: %w", err)
	}
	return row, true, nil
}

func findSeriesByNormalizedTitleTx(ctx context.Context, tx db.Tx, normalized string) (seriesRow, bool, error) {
	if normalized == "" {
		return seriesRow{}, false, nil
	}

	q := `
SELECT` + seriesColumns + `
FROM catalog.canonical_series
WHERE normalized_title = $1
  AND deleted_at IS NULL
ORDER BY series_id
LIMIT 1
`
	row, err := scanSeriesRow(tx.QueryRow(ctx, q, normalized))
	if err != nil {
		if db.IsNoRows(err) {
			return seriesRow{}, false, nil
		}
		return seriesRow{}, false, fmt.Errorf("find series by normalized title: %w", err)
	}
	return row, true, nil
}

func insertSeriesTx(ctx context.Context, tx db.Tx, record SeriesRecord, normalized string) (UpsertOutcome, error) {
	const q = `
INSERT INTO catalog.canonical_series (
	title,
	normalized_title,
	alternative_titles,
	description,
	cover_url,
	status,
	content_rating,
	genres,
	themes,
	language,
	year,
	creators,
	provider,
	external_id,
	external_ids,
	provenance,
	created_at,
	updated_at
)
VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12::jsonb, $13, $14, $15::jsonb, $16, $17, $17)
RETURNING series_id, series_uuid::text
`

	var outcome UpsertOutcome
	err := tx.QueryRow(ctx, q,
		record.Title,
		normalized,
		mustJSON(record.AltTitles),
		nullableString(record.Description),
		nullableString(record.CoverURL),
		record.Status,
		nullableString(record.ContentRating),
		mustJSON(record.Genres),
		mustJSON(record.Themes),
		nullableString(record.Language),
		nullableInt(record.Year),
		mustJSON(record.Creators),
		nullableString(record.Provider),
		nullableString(record.ExternalID),
		mustJSON(record.ExternalIDs),
		record.Provenance,
		globaltime.UTC(),
	).Scan(&outcome.SeriesID, &outcome.SeriesUUID)
	if err != nil {
		return UpsertOutcome{}, fmt.Errorf("insert canonical series: %w", err)
	}
	outcome.Title = record.Title
	outcome.Created = true
	return outcome, nil
}

func updateSeriesTx(ctx context.Context, tx db.Tx, seriesID int64, record SeriesRecord) error {
	const q = `
UPDATE catalog.canonical_series
SET
	alternative_titles = $1::jsonb,
	description = $2,
	cover_url = $3,
	status = $4,
	content_rating = $5,
	genres = $6::jsonb,
	themes = $7::jsonb,
	language = $8,
	year = $9,
	creators = $10::jsonb,
	provider = $11,
	external_id = $12,
	external_ids = $13::jsonb,
	updated_at = $14
WHERE series_id = $15
  AND provenance <> $16
  AND deleted_at IS NULL
`

	tag, err := tx.Exec(ctx, q,
		mustJSON(record.AltTitles),
		nullableString(record.Description),
		nullableString(record.CoverURL),
		record.Status,
		nullableString(record.ContentRating),
		mustJSON(record.Genres),
		mustJSON(record.Themes),
		nullableString(record.Language),
		nullableInt(record.Year),
		mustJSON(record.Creators),
		nullableString(record.Provider),
		nullableString(record.ExternalID),
		mustJSON(record.ExternalIDs),
		globaltime.UTC(),
		seriesID,
		db.ProvenanceUserOverride,
	)
	if err != nil {
		return fmt.Errorf("update canonical series %d: %w", seriesID, err)
	}
	if tag.RowsAffected() == 0 {
		// Raced with an override; the guard in the WHERE clause wins.
		return ErrOverrideProtected
	}
	return nil
}

func mustJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

func nullableString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
