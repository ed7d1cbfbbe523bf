package canon

import (
	"errors"
	"testing"

	"kanon/internal/db"
	"kanon/internal/provider"
)

func TestMergeSeriesRejectsUserOverride(t *testing.T) {
	t.Parallel()

	existing := SeriesRecord{Title: "Berserk", Provenance: db.ProvenanceUserOverride}
	_, changed, err := MergeSeries(existing, provider.Candidate{Title: "Berserk"}, "mangadex", "Berserk")
	if !errors.Is(err, ErrOverrideProtected) {
		t.Fatalf("expected override protection, got %v", err)
	}
	if changed {
		t.Fatalf("did not expect a change report on rejection")
	}
}

func TestMergeSeriesUnionsAltTitlesExcludingPrimary(t *testing.T) {
	t.Parallel()

	existing := SeriesRecord{
		Title:      "Solo Leveling",
		AltTitles:  []string{"Na Honjaman Lebel-eob"},
		Provenance: db.ProvenanceCanonical,
	}
	incoming := provider.Candidate{
		Title:     "Solo Leveling!",
		AltTitles: []string{"Only I Level Up", "SOLO LEVELING"},
	}

	merged, changed, err := MergeSeries(existing, incoming, "mangadex", "Solo Leveling")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("expected a change")
	}
	for _, alt := range merged.AltTitles {
		if alt == "Solo Leveling" || alt == "Solo Leveling!" || alt == "SOLO LEVELING" {
			t.Fatalf("primary title leaked into alternatives: %v", merged.AltTitles)
		}
	}
	if !containsString(merged.AltTitles, "Only I Level Up") {
		t.Fatalf("expected incoming alt title kept, got %v", merged.AltTitles)
	}
	if !containsString(merged.AltTitles, "Na Honjaman Lebel-eob") {
		t.Fatalf("expected existing alt title kept, got %v", merged.AltTitles)
	}
}

func TestMergeSeriesFillsOnlyEmptyScalars(t *testing.T) {
	t.Parallel()

	existing := SeriesRecord{
		Title:       "Berserk",
		Description: "An epic.",
		Year:        1989,
		Provenance:  db.ProvenanceCanonical,
	}
	incoming := provider.Candidate{
		Title:       "Berserk",
		Description: "Another description.",
		Language:    "ja",
		Year:        1990,
		Creators:    []string{"Kentaro Miura"},
	}

	merged, _, err := MergeSeries(existing, incoming, "mangadex", "Berserk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Description != "An epic." {
		t.Fatalf("existing description must not be overwritten, got %q", merged.Description)
	}
	if merged.Year != 1989 {
		t.Fatalf("existing year must not be overwritten, got %d", merged.Year)
	}
	if merged.Language != "ja" {
		t.Fatalf("expected empty language filled, got %q", merged.Language)
	}
	if len(merged.Creators) != 1 || merged.Creators[0] != "Kentaro Miura" {
		t.Fatalf("expected empty creators filled, got %v", merged.Creators)
	}
}

func TestMergeSeriesIsIdempotent(t *testing.T) {
	t.Parallel()

	existing := SeriesRecord{Title: "Berserk", Provenance: db.ProvenanceCanonical}
	incoming := provider.Candidate{
		ProviderID:  "abc-123",
		Title:       "Berserk",
		AltTitles:   []string{"Kenpuu Denki Berserk"},
		Description: "An epic.",
		Genres:      []string{"Action", "Horror"},
		Language:    "ja",
		Year:        1989,
	}

	once, changedOnce, err := MergeSeries(existing, incoming, "mangadex", "Berserk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changedOnce {
		t.Fatalf("expected first merge to change the record")
	}

	twice, changedTwice, err := MergeSeries(once, incoming, "mangadex", "Berserk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changedTwice {
		t.Fatalf("expected second merge to be a no-op, got %+v", twice)
	}
}

func TestMergeCoverPrecedence(t *testing.T) {
	t.Parallel()

	if got, replaced := mergeCover("https://cdn.example/placeholder.png", "https://cdn.example/art.jpg"); !replaced || got != "https://cdn.example/art.jpg" {
		t.Fatalf("expected real art to replace placeholder, got %q replaced=%v", got, replaced)
	}
	if _, replaced := mergeCover("https://cdn.example/art.jpg", "https://cdn.example/no-cover.png"); replaced {
		t.Fatalf("real art must never lose to a placeholder")
	}
	if got, replaced := mergeCover("", "https://cdn.example/art.jpg"); !replaced || got != "https://cdn.example/art.jpg" {
		t.Fatalf("expected empty cover filled, got %q replaced=%v", got, replaced)
	}
	if _, replaced := mergeCover("https://cdn.example/art.jpg", "https://cdn.example/other.jpg"); replaced {
		t.Fatalf("ties keep the existing cover")
	}
}

func TestMergeStatusTerminalGuard(t *testing.T) {
	t.Parallel()

	if got, replaced := mergeStatus(db.SeriesStatusCompleted, db.SeriesStatusOngoing); replaced || got != db.SeriesStatusCompleted {
		t.Fatalf("terminal status must not regress, got %q replaced=%v", got, replaced)
	}
	if got, replaced := mergeStatus(db.SeriesStatusOngoing, db.SeriesStatusCompleted); !replaced || got != db.SeriesStatusCompleted {
		t.Fatalf("expected progression into terminal, got %q replaced=%v", got, replaced)
	}
	if got, replaced := mergeStatus("", db.SeriesStatusHiatus); !replaced || got != db.SeriesStatusHiatus {
		t.Fatalf("expected empty status filled, got %q replaced=%v", got, replaced)
	}
	if got, replaced := mergeStatus(db.SeriesStatusOngoing, db.SeriesStatusHiatus); replaced || got != db.SeriesStatusOngoing {
		t.Fatalf("non-terminal statuses keep the existing value, got %q replaced=%v", got, replaced)
	}
}

func TestMergeExternalIDProvisionalReplacement(t *testing.T) {
	t.Parallel()

	if got, replaced := mergeExternalID("mangadex", ProvisionalIDPrefix+"abc", "mangadex", "real-id"); !replaced || got != "real-id" {
		t.Fatalf("expected provisional id replaced, got %q replaced=%v", got, replaced)
	}
	if _, replaced := mergeExternalID("mangadex", "confirmed-id", "mangadex", "other-id"); replaced {
		t.Fatalf("confirmed id must never be overwritten")
	}
	if got, replaced := mergeExternalID("", "", "mangadex", "real-id"); !replaced || got != "real-id" {
		t.Fatalf("expected empty slot filled, got %q replaced=%v", got, replaced)
	}
	if _, replaced := mergeExternalID("mangadex", ProvisionalIDPrefix+"abc", "other", "real-id"); replaced {
		t.Fatalf("provisional replacement requires the same provider")
	}
}

func TestIsPlaceholderCover(t *testing.T) {
	t.Parallel()

	if !IsPlaceholderCover("") {
		t.Fatalf("expected empty cover to count as placeholder")
	}
	if !IsPlaceholderCover("https://cdn.example/NO-COVER.png") {
		t.Fatalf("expected marker match to be case-insensitive")
	}
	if IsPlaceholderCover("https://cdn.example/volume1.jpg") {
		t.Fatalf("did not expect real art to count as placeholder")
	}
}

func TestNewSeriesRecordProvisionalFreeIdentity(t *testing.T) {
	t.Parallel()

	record := NewSeriesRecord(provider.Candidate{
		ProviderID: "abc-123",
		Title:      "Berserk",
		AltTitles:  []string{"Berserk", "Kenpuu Denki Berserk"},
	}, "mangadex", "Berserk")

	if record.Provider != "mangadex" || record.ExternalID != "abc-123" {
		t.Fatalf("unexpected identity: %q/%q", record.Provider, record.ExternalID)
	}
	if record.ExternalIDs["mangadex"] != "abc-123" {
		t.Fatalf("expected external id map populated, got %v", record.ExternalIDs)
	}
	if containsString(record.AltTitles, "Berserk") {
		t.Fatalf("primary title leaked into alternatives: %v", record.AltTitles)
	}
	if record.Provenance != db.ProvenanceCanonical {
		t.Fatalf("unexpected provenance: %q", record.Provenance)
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
