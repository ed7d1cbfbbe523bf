package title

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got := Normalize("  Solo   Leveling  "); got != "solo leveling" {
		t.Fatalf("unexpected normalized title: %q", got)
	}
	if got := Normalize("Re:Zéro"); got != "re zero" {
		t.Fatalf("expected diacritics and punctuation stripped, got %q", got)
	}
	if got := Normalize("TOWER-OF_GOD!!!"); got != "tower of god" {
		t.Fatalf("unexpected normalized title: %q", got)
	}
	if got := Normalize("進撃の巨人"); got != "進撃の巨人" {
		t.Fatalf("expected non-latin letters kept, got %q", got)
	}
	if got := Normalize("   "); got != "" {
		t.Fatalf("expected blank input to normalize to empty string, got %q", got)
	}
	if got := Normalize("!!!"); got != "" {
		t.Fatalf("expected punctuation-only input to normalize to empty string, got %q", got)
	}
}

func TestSimilarityIdenticalAfterNormalization(t *testing.T) {
	t.Parallel()

	if got := Similarity("Solo Leveling", "solo   LEVELING!"); got != 1 {
		t.Fatalf("expected identical normalized titles to score 1, got %f", got)
	}
}

func TestSimilarityEmptyInputs(t *testing.T) {
	t.Parallel()

	if got := Similarity("", "Berserk"); got != 0 {
		t.Fatalf("expected empty side to score 0, got %f", got)
	}
	if got := Similarity("???", "Berserk"); got != 0 {
		t.Fatalf("expected punctuation-only side to score 0, got %f", got)
	}
}

func TestSimilarityIsSymmetric(t *testing.T) {
	t.Parallel()

	a, b := "Mushoku Tensei", "Mushoku Tensei: Jobless Reincarnation"
	if Similarity(a, b) != Similarity(b, a) {
		t.Fatalf("expected symmetric similarity")
	}
}

func TestSimilaritySequelStaysBelowFirstAttemptThreshold(t *testing.T) {
	t.Parallel()

	// A sequel entry must not swallow the base title on an early attempt.
	got := Similarity("Mushoku Tensei", "Mushoku Tensei Season 2")
	if got >= 0.85 {
		t.Fatalf("expected sequel similarity below 0.85, got %f", got)
	}
	if got >= 0.78 {
		t.Fatalf("expected sequel similarity below 0.78, got %f", got)
	}
	if got <= 0 {
		t.Fatalf("expected some residual similarity, got %f", got)
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	if got := levenshtein([]rune("kitten"), []rune("sitting")); got != 3 {
		t.Fatalf("unexpected edit distance: %d", got)
	}
	if got := levenshtein([]rune(""), []rune("abc")); got != 3 {
		t.Fatalf("unexpected edit distance for empty side: %d", got)
	}
	if got := levenshtein([]rune("same"), []rune("same")); got != 0 {
		t.Fatalf("unexpected edit distance for equal strings: %d", got)
	}
}
