package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"kanon/internal/db"
	"kanon/internal/errclass"
	"kanon/internal/resolve"
)

// Server is the HTTP surface: reference submission and read-only views over
// references and canonical series. All mutation flows through the
// coordinator; handlers never write catalog tables directly.
type Server struct {
	echo        *echo.Echo
	pool        *db.Pool
	coordinator *resolve.Coordinator
	logger      zerolog.Logger
}

func NewServer(pool *db.Pool, coordinator *resolve.Coordinator, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:        e,
		pool:        pool,
		coordinator: coordinator,
		logger:      logger,
	}

	api := e.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/references", s.handleSubmitReference)
	api.GET("/references/:uuid", s.handleGetReference)
	api.GET("/series/:uuid", s.handleGetSeries)

	return s
}

func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.pool.DB().PingContext(ctx); err != nil {
		return jsendError(c, http.StatusServiceUnavailable, "database unreachable")
	}
	return jsendSuccess(c, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	UserID   string `json:"user_id"`
	RawURL   string `json:"raw_url"`
	RawTitle string `json:"raw_title"`
}

func (s *Server) handleSubmitReference(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return jsendFail(c, http.StatusBadRequest, map[string]string{"body": "invalid JSON"})
	}
	if _, err := uuid.Parse(strings.TrimSpace(req.UserID)); err != nil {
		return jsendFail(c, http.StatusBadRequest, map[string]string{"user_id": "must be a UUID"})
	}
	if strings.TrimSpace(req.RawTitle) == "" {
		return jsendFail(c, http.StatusBadRequest, map[string]string{"raw_title": "must not be empty"})
	}

	submitted, err := s.coordinator.Submit(c.Request().Context(), resolve.Submission{
		UserID:   strings.TrimSpace(req.UserID),
		RawURL:   req.RawURL,
		RawTitle: req.RawTitle,
	})
	if err != nil {
		if errclass.KindOf(err) == errclass.KindPermanent {
			return jsendFail(c, http.StatusBadRequest, map[string]string{"submission": errclass.Reason(err)})
		}
		s.logger.Error().Err(err).Msg("reference submission failed")
		return jsendError(c, http.StatusInternalServerError, "submission failed")
	}

	return jsendSuccess(c, http.StatusAccepted, map[string]any{
		"reference_uuid": submitted.ReferenceUUID,
		"status":         submitted.Status,
	})
}

type referenceView struct {
	ReferenceUUID   string   `json:"reference_uuid"`
	RawTitle        string   `json:"raw_title"`
	RawURL          string   `json:"raw_url,omitempty"`
	Status          string   `json:"status"`
	Attempts        int      `json:"attempts"`
	NeedsReview     bool     `json:"needs_review"`
	ManuallyLinked  bool     `json:"manually_linked"`
	MatchConfidence *float64 `json:"match_confidence,omitempty"`
	Progress        float64  `json:"progress"`
	SeriesUUID      string   `json:"series_uuid,omitempty"`
	LastError       string   `json:"last_error,omitempty"`
}

func (s *Server) handleGetReference(c echo.Context) error {
	refUUID := c.Param("uuid")
	if _, err := uuid.Parse(refUUID); err != nil {
		return jsendFail(c, http.StatusBadRequest, map[string]string{"uuid": "must be a UUID"})
	}

	const q = `
SELECT
	r.reference_uuid::text,
	r.raw_title,
	COALESCE(r.raw_url, ''),
	r.status,
	r.attempts,
	r.needs_review,
	r.manually_linked,
	r.match_confidence,
	r.progress,
	COALESCE(cs.series_uuid::text, ''),
	COALESCE(r.last_error, '')
FROM catalog.tracked_references r
LEFT JOIN catalog.canonical_series cs ON cs.series_id = r.series_id AND cs.deleted_at IS NULL
WHERE r.reference_uuid = $1::uuid
  AND r.deleted_at IS NULL
`

	var view referenceView
	err := s.pool.QueryRow(c.Request().Context(), q, refUUID).Scan(
		&view.ReferenceUUID,
		&view.RawTitle,
		&view.RawURL,
		&view.Status,
		&view.Attempts,
		&view.NeedsReview,
		&view.ManuallyLinked,
		&view.MatchConfidence,
		&view.Progress,
		&view.SeriesUUID,
		&view.LastError,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return jsendNotFound(c, "reference")
		}
		s.logger.Error().Err(err).Str("reference_uuid", refUUID).Msg("reference lookup failed")
		return jsendError(c, http.StatusInternalServerError, "lookup failed")
	}

	return jsendSuccess(c, http.StatusOK, view)
}

type sourceLinkView struct {
	Provider        string  `json:"provider"`
	ProviderID      string  `json:"provider_id"`
	MatchConfidence float64 `json:"match_confidence"`
	CoverURL        string  `json:"cover_url,omitempty"`
}

type seriesView struct {
	SeriesUUID    string           `json:"series_uuid"`
	Title         string           `json:"title"`
	AltTitles     []string         `json:"alternative_titles,omitempty"`
	Description   string           `json:"description,omitempty"`
	CoverURL      string           `json:"cover_url,omitempty"`
	Status        string           `json:"status,omitempty"`
	ContentRating string           `json:"content_rating,omitempty"`
	Genres        []string         `json:"genres,omitempty"`
	Themes        []string         `json:"themes,omitempty"`
	Language      string           `json:"language,omitempty"`
	Year          int              `json:"year,omitempty"`
	Creators      []string         `json:"creators,omitempty"`
	Provenance    string           `json:"provenance"`
	Sources       []sourceLinkView `json:"sources,omitempty"`
}

func (s *Server) handleGetSeries(c echo.Context) error {
	seriesUUID := c.Param("uuid")
	if _, err := uuid.Parse(seriesUUID); err != nil {
		return jsendFail(c, http.StatusBadRequest, map[string]string{"uuid": "must be a UUID"})
	}

	ctx := c.Request().Context()

	const q = `
SELECT
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
	provenance
FROM catalog.canonical_series
WHERE series_uuid = $1::uuid
  AND deleted_at IS NULL
`

	var (
		seriesID     int64
		view         seriesView
		altJSON      string
		genresJSON   string
		themesJSON   string
		creatorsJSON string
	)
	err := s.pool.QueryRow(ctx, q, seriesUUID).Scan(
		&seriesID,
		&view.SeriesUUID,
		&view.Title,
		&altJSON,
		&view.Description,
		&view.CoverURL,
		&view.Status,
		&view.ContentRating,
		&genresJSON,
		&themesJSON,
		&view.Language,
		&view.Year,
		&creatorsJSON,
		&view.Provenance,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return jsendNotFound(c, "series")
		}
		s.logger.Error().Err(err).Str("series_uuid", seriesUUID).Msg("series lookup failed")
		return jsendError(c, http.StatusInternalServerError, "lookup failed")
	}

	_ = json.Unmarshal([]byte(altJSON), &view.AltTitles)
	_ = json.Unmarshal([]byte(genresJSON), &view.Genres)
	_ = json.Unmarshal([]byte(themesJSON), &view.Themes)
	_ = json.Unmarshal([]byte(creatorsJSON), &view.Creators)

	sources, err := s.loadSourceLinks(ctx, seriesID)
	if err != nil {
		s.logger.Error().Err(err).Int64("series_id", seriesID).Msg("source link lookup failed")
		return jsendError(c, http.StatusInternalServerError, "lookup failed")
	}
	view.Sources = sources

	return jsendSuccess(c, http.StatusOK, view)
}

func (s *Server) loadSourceLinks(ctx context.Context, seriesID int64) ([]sourceLinkView, error) {
	const q = `
SELECT provider, provider_id, match_confidence, COALESCE(cover_url, '')
FROM catalog.source_links
WHERE series_id = $1
ORDER BY provider, provider_id
`
	rows, err := s.pool.Query(ctx, q, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list source links: %w", err)
	}
	defer rows.Close()

	var links []sourceLinkView
	for rows.Next() {
		var link sourceLinkView
		if err := rows.Scan(&link.Provider, &link.ProviderID, &link.MatchConfidence, &link.CoverURL); err != nil {
			return nil, fmt.Errorf("scan source link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
