package match

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"kanon/internal/errclass"
	"kanon/internal/provider"
)

type fakeClient struct {
	name      string
	byID      map[string]provider.Candidate
	searchHit []provider.Candidate
	searchErr error
	searches  int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) SearchByTitle(ctx context.Context, title string, limit int) ([]provider.Candidate, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchHit, nil
}

func (f *fakeClient) GetByID(ctx context.Context, providerID string) (*provider.Candidate, error) {
	if candidate, ok := f.byID[providerID]; ok {
		return &candidate, nil
	}
	return nil, errclass.NotFound("get manga", errors.New("no such id"))
}

type fakeCatalog struct {
	byTitle map[string]*LocalSeries
}

func (f *fakeCatalog) FindByExactTitle(ctx context.Context, title string) (*LocalSeries, error) {
	if f.byTitle == nil {
		return nil, nil
	}
	return f.byTitle[title], nil
}

func testPolicy() Policy {
	return Policy{ReviewMinConfidence: 0.92, YearDriftTolerance: 2}
}

func TestMatchExactIDShortCircuits(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name: "mangadex",
		byID: map[string]provider.Candidate{
			"abc-123": {ProviderID: "abc-123", Title: "Solo Leveling"},
		},
	}
	m := NewMatcher(client, &fakeCatalog{}, testPolicy(), zerolog.Nop())

	result, err := m.Match(context.Background(), Reference{
		Title: "completely different words",
		URL:   "https://mangadex.org/title/abc-123/solo-leveling",
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceExactID {
		t.Fatalf("unexpected source: %s", result.Source)
	}
	if result.Confidence != 1 || result.NeedsReview {
		t.Fatalf("exact id match must be confident and review-free: %+v", result)
	}
	if client.searches != 0 {
		t.Fatalf("exact id match must not search, got %d searches", client.searches)
	}
}

func TestMatchStaleURLFallsThroughToSearch(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name: "mangadex",
		searchHit: []provider.Candidate{
			{ProviderID: "def-456", Title: "Solo Leveling"},
		},
	}
	m := NewMatcher(client, &fakeCatalog{}, testPolicy(), zerolog.Nop())

	result, err := m.Match(context.Background(), Reference{
		Title: "Solo Leveling",
		URL:   "https://mangadex.org/title/gone-404/solo-leveling",
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceProviderSearch {
		t.Fatalf("expected fall-through to provider search, got %s", result.Source)
	}
	if result.Candidate == nil || result.Candidate.ProviderID != "def-456" {
		t.Fatalf("unexpected candidate: %+v", result.Candidate)
	}
}

func TestMatchLocalExactTitle(t *testing.T) {
	t.Parallel()

	client := &fakeClient{name: "mangadex"}
	catalog := &fakeCatalog{byTitle: map[string]*LocalSeries{
		"Berserk": {SeriesID: 7, Title: "Berserk"},
	}}
	m := NewMatcher(client, catalog, testPolicy(), zerolog.Nop())

	result, err := m.Match(context.Background(), Reference{Title: "Berserk"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceLocalTitle {
		t.Fatalf("unexpected source: %s", result.Source)
	}
	if result.LocalSeriesID == nil || *result.LocalSeriesID != 7 {
		t.Fatalf("unexpected local series id: %v", result.LocalSeriesID)
	}
	if client.searches != 0 {
		t.Fatalf("local hit must not search the provider")
	}
}

func TestMatchNoCandidateClearsThreshold(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name: "mangadex",
		searchHit: []provider.Candidate{
			{ProviderID: "xyz", Title: "Something Entirely Unrelated"},
		},
	}
	m := NewMatcher(client, &fakeCatalog{}, testPolicy(), zerolog.Nop())

	result, err := m.Match(context.Background(), Reference{Title: "Mushoku Tensei"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceNone {
		t.Fatalf("expected no-match verdict, got %+v", result)
	}
}

func TestMatchSequelNotSwallowedOnFirstAttempt(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name: "mangadex",
		searchHit: []provider.Candidate{
			{ProviderID: "season2", Title: "Mushoku Tensei Season 2"},
		},
	}
	m := NewMatcher(client, &fakeCatalog{}, testPolicy(), zerolog.Nop())

	result, err := m.Match(context.Background(), Reference{Title: "Mushoku Tensei"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceNone {
		t.Fatalf("sequel must not clear the first-attempt threshold, got %+v", result)
	}
}

func TestMatchAcceptsNearMissOnSecondAttempt(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name: "mangadex",
		searchHit: []provider.Candidate{
			{ProviderID: "near-miss", Title: "Berserk Golden Arcs"},
		},
	}
	m := NewMatcher(client, &fakeCatalog{}, testPolicy(), zerolog.Nop())

	ref := Reference{Title: "Berserk Golden Age"}

	first, err := m.Match(context.Background(), ref, 1)
	if err != nil {
		t.Fatalf("unexpected error on attempt 1: %v", err)
	}
	if first.Source != SourceNone {
		t.Fatalf("near miss must not clear the strict first-attempt threshold, got %+v", first)
	}

	second, err := m.Match(context.Background(), ref, 2)
	if err != nil {
		t.Fatalf("unexpected error on attempt 2: %v", err)
	}
	if second.Source != SourceProviderSearch {
		t.Fatalf("relaxed second-attempt threshold must accept the near miss, got %+v", second)
	}
	if second.Candidate == nil || second.Candidate.ProviderID != "near-miss" {
		t.Fatalf("unexpected candidate: %+v", second.Candidate)
	}
	if second.Confidence < 0.78 || second.Confidence >= 0.85 {
		t.Fatalf("confidence must sit between the two thresholds, got %f", second.Confidence)
	}
	if !second.NeedsReview {
		t.Fatalf("a sub-bar confidence match must be flagged for review")
	}
}

func TestMatchPropagatesTransientSearchErrors(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name:      "mangadex",
		searchErr: errclass.Transient("search manga", errors.New("rate limited")),
	}
	m := NewMatcher(client, &fakeCatalog{}, testPolicy(), zerolog.Nop())

	_, err := m.Match(context.Background(), Reference{Title: "Berserk"}, 1)
	if errclass.KindOf(err) != errclass.KindTransient {
		t.Fatalf("expected transient error propagated, got %v", err)
	}
}

func TestBlendScore(t *testing.T) {
	t.Parallel()

	base := Signals{BestSimilarity: 0.8}
	if got := BlendScore(base); got != 0.8 {
		t.Fatalf("unexpected blended score: %f", got)
	}

	boosted := Signals{BestSimilarity: 0.8, CreatorOverlap: 1, LanguageKnown: true, LanguageCompatible: true}
	if got := BlendScore(boosted); got < 0.879 || got > 0.881 {
		t.Fatalf("expected creator and language boosts, got %f", got)
	}

	penalized := Signals{BestSimilarity: 0.8, LanguageKnown: true, LanguageCompatible: false}
	if got := BlendScore(penalized); got < 0.69 || got > 0.71 {
		t.Fatalf("expected language mismatch penalty, got %f", got)
	}

	if got := BlendScore(Signals{BestSimilarity: 0.99, CreatorOverlap: 3, LanguageKnown: true, LanguageCompatible: true}); got != 1 {
		t.Fatalf("expected score clamped to 1, got %f", got)
	}
	if got := BlendScore(Signals{BestSimilarity: 0.05, LanguageKnown: true}); got < 0 {
		t.Fatalf("expected score clamped to 0, got %f", got)
	}
}

func TestDecideReview(t *testing.T) {
	t.Parallel()

	policy := testPolicy()

	if DecideReview(0.5, true, Signals{}, policy) {
		t.Fatalf("exact id match never needs review")
	}
	if !DecideReview(0.91, false, Signals{}, policy) {
		t.Fatalf("confidence below the bar needs review")
	}
	if DecideReview(0.95, false, Signals{}, policy) {
		t.Fatalf("confident clean match must not need review")
	}
	if !DecideReview(0.95, false, Signals{LanguageKnown: true, LanguageCompatible: false}, policy) {
		t.Fatalf("language contradiction needs review")
	}

	drift := 5
	if !DecideReview(0.95, false, Signals{YearDrift: &drift}, policy) {
		t.Fatalf("excessive year drift needs review")
	}
	smallDrift := 1
	if DecideReview(0.95, false, Signals{YearDrift: &smallDrift}, policy) {
		t.Fatalf("tolerated year drift must not need review")
	}
}
