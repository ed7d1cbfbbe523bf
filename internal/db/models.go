package db

import (
	"encoding/json"
	"time"
)

// Provenance of a canonical record's descriptive fields.
const (
	ProvenanceCanonical    = "CANONICAL"
	ProvenanceUserOverride = "USER_OVERRIDE"
)

// Lifecycle statuses for a canonical series. Completed and cancelled are
// terminal: automated merges never regress them.
const (
	SeriesStatusOngoing   = "ongoing"
	SeriesStatusHiatus    = "hiatus"
	SeriesStatusCompleted = "completed"
	SeriesStatusCancelled = "cancelled"
)

// Resolution statuses for a tracked reference.
const (
	ReferenceStatusPending           = "pending"
	ReferenceStatusResolved          = "resolved"
	ReferenceStatusUnresolved        = "unresolved"
	ReferenceStatusPermanentlyFailed = "permanently_failed"
)

// Job statuses.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// CanonicalSeries maps catalog.canonical_series: the single deduplicated
// record for one real-world work. Soft-deleted, never hard-deleted.
type CanonicalSeries struct {
	SeriesID          int64           `gorm:"column:series_id;primaryKey;autoIncrement"`
	SeriesUUID        string          `gorm:"column:series_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Title             string          `gorm:"column:title;type:text;not null"`
	NormalizedTitle   string          `gorm:"column:normalized_title;type:text;not null;index"`
	AlternativeTitles json.RawMessage `gorm:"column:alternative_titles;type:jsonb"`
	Description       *string         `gorm:"column:description;type:text"`
	CoverURL          *string         `gorm:"column:cover_url;type:text"`
	Status            string          `gorm:"column:status;type:text;not null;default:''"`
	ContentRating     *string         `gorm:"column:content_rating;type:text"`
	Genres            json.RawMessage `gorm:"column:genres;type:jsonb"`
	Themes            json.RawMessage `gorm:"column:themes;type:jsonb"`
	Language          *string         `gorm:"column:language;type:text"`
	Year              *int            `gorm:"column:year;type:integer"`
	Creators          json.RawMessage `gorm:"column:creators;type:jsonb"`
	// Authoritative provider identity; uniqueness is enforced by a partial
	// index over non-deleted rows. The full per-provider map lives in
	// external_ids.
	Provider      *string         `gorm:"column:provider;type:text"`
	ExternalID    *string         `gorm:"column:external_id;type:text"`
	ExternalIDs   json.RawMessage `gorm:"column:external_ids;type:jsonb"`
	Provenance    string          `gorm:"column:provenance;type:text;not null;default:CANONICAL"`
	OverriddenBy  *string         `gorm:"column:overridden_by;type:uuid"`
	DeletedAt     *time.Time      `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (CanonicalSeries) TableName() string { return "catalog.canonical_series" }

// SourceLink maps catalog.source_links: a (provider, provider_id) binding to
// exactly one canonical series, upserted by that compound key.
type SourceLink struct {
	LinkID              int64      `gorm:"column:link_id;primaryKey;autoIncrement"`
	LinkUUID            string     `gorm:"column:link_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SeriesID            int64      `gorm:"column:series_id;type:bigint;not null;index"`
	Provider            string     `gorm:"column:provider;type:text;not null;uniqueIndex:idx_source_links_provider_id,priority:1"`
	ProviderID          string     `gorm:"column:provider_id;type:text;not null;uniqueIndex:idx_source_links_provider_id,priority:2"`
	MatchConfidence     float64    `gorm:"column:match_confidence;type:double precision;not null;default:0"`
	CoverURL            *string    `gorm:"column:cover_url;type:text"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures;type:integer;not null;default:0"`
	NextCheckAt         *time.Time `gorm:"column:next_check_at;type:timestamptz"`
	CreatedAt           time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (SourceLink) TableName() string { return "catalog.source_links" }

// TrackedReference maps catalog.tracked_references: a user's pointer to a
// work, mutated exclusively by the resolution coordinator.
type TrackedReference struct {
	ReferenceID     int64      `gorm:"column:reference_id;primaryKey;autoIncrement"`
	ReferenceUUID   string     `gorm:"column:reference_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	UserID          string     `gorm:"column:user_id;type:uuid;not null;index"`
	RawURL          *string    `gorm:"column:raw_url;type:text"`
	RawTitle        string     `gorm:"column:raw_title;type:text;not null"`
	Status          string     `gorm:"column:status;type:text;not null;default:pending"`
	Attempts        int        `gorm:"column:attempts;type:integer;not null;default:0"`
	NeedsReview     bool       `gorm:"column:needs_review;type:boolean;not null;default:false"`
	ManuallyLinked  bool       `gorm:"column:manually_linked;type:boolean;not null;default:false"`
	MatchConfidence *float64   `gorm:"column:match_confidence;type:double precision"`
	SeriesID        *int64     `gorm:"column:series_id;type:bigint;index"`
	Progress        float64    `gorm:"column:progress;type:double precision;not null;default:0"`
	LastAttemptAt   *time.Time `gorm:"column:last_attempt_at;type:timestamptz"`
	NextAttemptAt   *time.Time `gorm:"column:next_attempt_at;type:timestamptz"`
	LastError       *string    `gorm:"column:last_error;type:text"`
	DeletedAt       *time.Time `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt       time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TrackedReference) TableName() string { return "catalog.tracked_references" }

// ResolutionJob maps catalog.resolution_jobs: the shared work queue. The
// dedupe key makes enqueueing idempotent against in-flight duplicates.
type ResolutionJob struct {
	JobID     int64           `gorm:"column:job_id;primaryKey;autoIncrement"`
	DedupeKey string          `gorm:"column:dedupe_key;type:uuid;not null;unique"`
	Kind      string          `gorm:"column:kind;type:text;not null"`
	Payload   json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Priority  int             `gorm:"column:priority;type:integer;not null;default:0"`
	RunAt     time.Time       `gorm:"column:run_at;type:timestamptz;not null;default:now()"`
	Status    string          `gorm:"column:status;type:text;not null;default:queued"`
	Attempts  int             `gorm:"column:attempts;type:integer;not null;default:0"`
	LastError *string         `gorm:"column:last_error;type:text"`
	ClaimedAt *time.Time      `gorm:"column:claimed_at;type:timestamptz"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ResolutionJob) TableName() string { return "catalog.resolution_jobs" }

func autoMigrateModels() []any {
	return []any{
		&CanonicalSeries{},
		&SourceLink{},
		&TrackedReference{},
		&ResolutionJob{},
	}
}
