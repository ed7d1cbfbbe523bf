package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"kanon/internal/errclass"
	"kanon/internal/language"
	"kanon/internal/provider"
	"kanon/internal/strategy"
	"kanon/internal/title"
)

// Source identifies which resolution path produced a match.
type Source string

const (
	SourceExactID        Source = "exact_id"
	SourceLocalTitle     Source = "local_title"
	SourceProviderSearch Source = "provider_search"
	SourceNone           Source = "none"
)

// Blend adjustments applied on top of raw title similarity.
const (
	creatorOverlapBoost   = 0.05
	languageMatchBoost    = 0.03
	languageMismatchPenal = 0.10
)

// MetadataClient is the external provider surface the matcher needs.
type MetadataClient interface {
	Name() string
	SearchByTitle(ctx context.Context, title string, limit int) ([]provider.Candidate, error)
	GetByID(ctx context.Context, providerID string) (*provider.Candidate, error)
}

// LocalCatalog resolves exact title hits against already-canonicalized series.
type LocalCatalog interface {
	FindByExactTitle(ctx context.Context, title string) (*LocalSeries, error)
}

// LocalSeries is the slim local-catalog row the matcher cares about.
type LocalSeries struct {
	SeriesID int64
	Title    string
}

// Reference is the input being resolved: a user-submitted URL/title or a
// scraped candidate's identity.
type Reference struct {
	Title    string
	URL      string
	Language string
	Year     int
	Creators []string
}

// Signals are the secondary evidence recorded alongside a match.
type Signals struct {
	BestSimilarity     float64
	MatchedVariation   string
	CreatorOverlap     int
	LanguageKnown      bool
	LanguageCompatible bool
	YearDrift          *int
}

// Result is the matcher's verdict for one attempt. A nil Candidate with
// Source == SourceNone means "no match", which is not an error.
type Result struct {
	Candidate     *provider.Candidate
	LocalSeriesID *int64
	Source        Source
	Confidence    float64
	NeedsReview   bool
	Signals       Signals
}

// Policy holds the configurable review-decision thresholds.
type Policy struct {
	ReviewMinConfidence float64
	YearDriftTolerance  int
}

type Matcher struct {
	client  MetadataClient
	catalog LocalCatalog
	policy  Policy
	logger  zerolog.Logger
}

func NewMatcher(client MetadataClient, catalog LocalCatalog, policy Policy, logger zerolog.Logger) *Matcher {
	return &Matcher{
		client:  client,
		catalog: catalog,
		policy:  policy,
		logger:  logger,
	}
}

// Match resolves a reference using the escalation strategy for the given
// 1-based attempt. Resolution order: exact external identifier from the URL,
// local exact title, provider search across title variations.
func (m *Matcher) Match(ctx context.Context, ref Reference, attempt int) (Result, error) {
	if m == nil || m.client == nil {
		return Result{}, fmt.Errorf("matcher is not initialized")
	}

	if providerID := provider.ExtractIDFromURL(ref.URL); providerID != "" {
		result, done, err := m.matchByExactID(ctx, providerID)
		if err != nil {
			return Result{}, err
		}
		if done {
			return result, nil
		}
	}

	if m.catalog != nil && strings.TrimSpace(ref.Title) != "" {
		local, err := m.catalog.FindByExactTitle(ctx, ref.Title)
		if err != nil {
			return Result{}, fmt.Errorf("local title lookup: %w", err)
		}
		if local != nil {
			seriesID := local.SeriesID
			result := Result{
				LocalSeriesID: &seriesID,
				Source:        SourceLocalTitle,
				Confidence:    1,
				Signals:       Signals{BestSimilarity: 1},
			}
			result.NeedsReview = DecideReview(result.Confidence, false, result.Signals, m.policy)
			return result, nil
		}
	}

	return m.matchByProviderSearch(ctx, ref, strategy.ForAttempt(attempt))
}

func (m *Matcher) matchByExactID(ctx context.Context, providerID string) (Result, bool, error) {
	candidate, err := m.client.GetByID(ctx, providerID)
	if err != nil {
		if errclass.KindOf(err) == errclass.KindNotFound {
			// A stale or foreign URL; fall through to title search.
			return Result{}, false, nil
		}
		return Result{}, false, err
	}

	return Result{
		Candidate:   candidate,
		Source:      SourceExactID,
		Confidence:  1,
		NeedsReview: false,
		Signals:     Signals{BestSimilarity: 1},
	}, true, nil
}

func (m *Matcher) matchByProviderSearch(ctx context.Context, ref Reference, strat strategy.SearchStrategy) (Result, error) {
	if !strat.FuzzyMatch || strings.TrimSpace(ref.Title) == "" {
		return Result{Source: SourceNone}, nil
	}

	variations := []string{ref.Title}
	if strat.UseTitleVariations {
		variations = strategy.TitleVariations(ref.Title, strat.Aggressiveness)
	}

	refLanguage := language.NormalizeCode(ref.Language)
	if refLanguage == "" {
		refLanguage = language.DetectCode(ref.Title)
	}

	for _, variation := range variations {
		candidates, err := m.client.SearchByTitle(ctx, variation, strat.MaxCandidates)
		if err != nil {
			if errclass.KindOf(err) == errclass.KindNotFound {
				continue
			}
			return Result{}, err
		}

		var best *Result
		for i := range candidates {
			candidate := candidates[i]
			scored := scoreCandidate(ref, refLanguage, candidate)
			scored.MatchedVariation = variation
			confidence := BlendScore(scored)

			if best == nil || confidence > best.Confidence {
				best = &Result{
					Candidate:  &candidate,
					Source:     SourceProviderSearch,
					Confidence: confidence,
					Signals:    scored,
				}
			}
		}

		if best != nil && best.Confidence >= strat.SimilarityThreshold {
			best.NeedsReview = DecideReview(best.Confidence, false, best.Signals, m.policy)
			m.logger.Debug().
				Str("variation", variation).
				Float64("confidence", best.Confidence).
				Bool("needs_review", best.NeedsReview).
				Msg("provider search accepted candidate")
			return *best, nil
		}
	}

	return Result{Source: SourceNone}, nil
}

// scoreCandidate computes the raw similarity and secondary signals for one
// candidate against the reference.
func scoreCandidate(ref Reference, refLanguage string, candidate provider.Candidate) Signals {
	best := title.Similarity(ref.Title, candidate.Title)
	for _, alt := range candidate.AltTitles {
		if s := title.Similarity(ref.Title, alt); s > best {
			best = s
		}
	}

	signals := Signals{
		BestSimilarity: best,
		CreatorOverlap: creatorOverlap(ref.Creators, candidate.Creators),
	}

	candidateLanguage := language.NormalizeCode(candidate.Language)
	if refLanguage != "" && candidateLanguage != "" {
		signals.LanguageKnown = true
		signals.LanguageCompatible = language.Compatible(refLanguage, candidateLanguage)
	}

	if ref.Year > 0 && candidate.Year > 0 {
		drift := ref.Year - candidate.Year
		if drift < 0 {
			drift = -drift
		}
		signals.YearDrift = &drift
	}

	return signals
}

// BlendScore folds secondary signals into the raw title similarity,
// clamped to [0,1].
func BlendScore(signals Signals) float64 {
	score := signals.BestSimilarity
	if signals.CreatorOverlap > 0 {
		score += creatorOverlapBoost
	}
	if signals.LanguageKnown {
		if signals.LanguageCompatible {
			score += languageMatchBoost
		} else {
			score -= languageMismatchPenal
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// DecideReview is the deterministic review policy: a match skips review only
// when it is an exact-identifier match, or its confidence clears the
// configured bar and no secondary signal actively contradicts it.
func DecideReview(confidence float64, isExactID bool, signals Signals, policy Policy) bool {
	if isExactID {
		return false
	}
	if confidence < policy.ReviewMinConfidence {
		return true
	}
	if signals.LanguageKnown && !signals.LanguageCompatible {
		return true
	}
	if signals.YearDrift != nil && *signals.YearDrift > policy.YearDriftTolerance {
		return true
	}
	return false
}

func creatorOverlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(a))
	for _, creator := range a {
		if key := title.Normalize(creator); key != "" {
			seen[key] = struct{}{}
		}
	}
	overlap := 0
	for _, creator := range b {
		if _, ok := seen[title.Normalize(creator)]; ok {
			overlap++
		}
	}
	return overlap
}
