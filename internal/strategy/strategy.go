package strategy

import (
	"strings"
	"unicode"
)

// Aggressiveness controls how far TitleVariations strays from the original
// spelling. Higher levels only ever add variations.
type Aggressiveness int

const (
	AggressivenessNone Aggressiveness = iota
	AggressivenessModerate
	AggressivenessHigh
)

// SearchStrategy is the escalation profile for one resolution attempt.
// Later attempts widen the candidate pool and lower the acceptance bar.
type SearchStrategy struct {
	Attempt             int
	ExactMatch          bool
	FuzzyMatch          bool
	UseTitleVariations  bool
	SimilarityThreshold float64
	MaxCandidates       int
	Aggressiveness      Aggressiveness
}

const (
	thresholdFirstAttempt  = 0.85
	thresholdSecondAttempt = 0.78
	thresholdThirdAttempt  = 0.70
	thresholdFloor         = 0.60
)

// ForAttempt maps a 1-based attempt counter to its search strategy. Pure
// function; thresholds are non-increasing and candidate breadth is
// non-decreasing across attempts.
func ForAttempt(attempt int) SearchStrategy {
	if attempt < 1 {
		attempt = 1
	}

	s := SearchStrategy{
		Attempt:    attempt,
		ExactMatch: true,
		FuzzyMatch: true,
	}

	switch attempt {
	case 1:
		s.SimilarityThreshold = thresholdFirstAttempt
		s.MaxCandidates = 5
		s.Aggressiveness = AggressivenessNone
	case 2:
		s.UseTitleVariations = true
		s.SimilarityThreshold = thresholdSecondAttempt
		s.MaxCandidates = 10
		s.Aggressiveness = AggressivenessModerate
	case 3:
		s.UseTitleVariations = true
		s.SimilarityThreshold = thresholdThirdAttempt
		s.MaxCandidates = 15
		s.Aggressiveness = AggressivenessHigh
	default:
		s.UseTitleVariations = true
		s.SimilarityThreshold = thresholdFloor
		s.MaxCandidates = 20
		s.Aggressiveness = AggressivenessHigh
	}
	return s
}

var leadingArticles = []string{"the ", "a ", "an "}

// annotation markers commonly appended by aggregator sites.
var suffixMarkers = []string{
	"raw",
	"raws",
	"official",
	"colored",
	"uncensored",
	"webtoon",
	"manhwa",
	"manhua",
	"manga",
}

const reducedWordCount = 4

// TitleVariations produces an ordered, deduplicated list of plausible
// alternate spellings for a provider search, starting with the title itself.
// The list is finite and has no hidden state; callers may restart it freely.
func TitleVariations(raw string, level Aggressiveness) []string {
	base := strings.Join(strings.Fields(raw), " ")
	if base == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}

	add(base)
	add(stripSuffixAnnotations(base))
	add(stripLeadingArticle(base))
	add(stripLeadingArticle(stripSuffixAnnotations(base)))
	add(stripTrailingNumerals(stripSuffixAnnotations(base)))

	if level >= AggressivenessModerate {
		add(firstWords(stripSuffixAnnotations(base), reducedWordCount))
	}
	if level >= AggressivenessHigh {
		add(alphanumericOnly(base))
	}

	return out
}

// stripSuffixAnnotations removes trailing bracketed tags and annotation
// markers, e.g. "Solo Leveling [Official] (Raw)" -> "Solo Leveling".
func stripSuffixAnnotations(s string) string {
	for {
		trimmed := strings.TrimSpace(s)

		if cut, ok := trimTrailingBracket(trimmed, '[', ']'); ok {
			s = cut
			continue
		}
		if cut, ok := trimTrailingBracket(trimmed, '(', ')'); ok {
			s = cut
			continue
		}

		lower := strings.ToLower(trimmed)
		stripped := false
		for _, marker := range suffixMarkers {
			if strings.HasSuffix(lower, " "+marker) {
				s = trimmed[:len(trimmed)-len(marker)-1]
				stripped = true
				break
			}
		}
		if !stripped {
			return trimmed
		}
	}
}

func trimTrailingBracket(s string, open, closing byte) (string, bool) {
	if s == "" || s[len(s)-1] != closing {
		return s, false
	}
	if idx := strings.LastIndexByte(s, open); idx > 0 {
		return strings.TrimSpace(s[:idx]), true
	}
	return s, false
}

func stripLeadingArticle(s string) string {
	lower := strings.ToLower(s)
	for _, article := range leadingArticles {
		if strings.HasPrefix(lower, article) && len(s) > len(article) {
			return strings.TrimSpace(s[len(article):])
		}
	}
	return s
}

// stripTrailingNumerals drops a trailing volume/season number so that
// "Berserk 3" can still find the base entry.
func stripTrailingNumerals(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return s
	}
	last := fields[len(fields)-1]
	for _, r := range last {
		if !unicode.IsDigit(r) {
			return s
		}
	}
	return strings.Join(fields[:len(fields)-1], " ")
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[:n], " ")
}

func alphanumericOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
