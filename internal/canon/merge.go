package canon

import (
	"errors"
	"sort"
	"strings"

	"kanon/internal/db"
	"kanon/internal/provider"
	"kanon/internal/title"
)

// ErrOverrideProtected is returned before any mutation is attempted against
// a series whose fields were pinned by a user override.
var ErrOverrideProtected = errors.New("series is user-overridden; automated merge rejected")

// ProvisionalIDPrefix marks identifiers minted locally for scrape-seeded rows
// before a confirmed external identifier is known. Only these may be replaced.
const ProvisionalIDPrefix = "local:"

// SeriesRecord is the merge-rule view of a canonical series row.
type SeriesRecord struct {
	Title         string
	AltTitles     []string
	Description   string
	CoverURL      string
	Status        string
	ContentRating string
	Genres        []string
	Themes        []string
	Language      string
	Year          int
	Creators      []string
	Provider      string
	ExternalID    string
	ExternalIDs   map[string]string
	Provenance    string
}

// MergeSeries applies the deterministic, non-destructive field-merge rules to
// an existing record and an incoming candidate. It reports whether anything
// changed. User-overridden records are rejected outright.
func MergeSeries(existing SeriesRecord, incoming provider.Candidate, providerName, resolvedTitle string) (SeriesRecord, bool, error) {
	if existing.Provenance == db.ProvenanceUserOverride {
		return existing, false, ErrOverrideProtected
	}

	merged := existing
	changed := false

	// Alternative titles: union of existing + incoming + the just-resolved
	// title; the primary title never counts as its own alternative.
	altInput := make([]string, 0, len(existing.AltTitles)+len(incoming.AltTitles)+2)
	altInput = append(altInput, existing.AltTitles...)
	altInput = append(altInput, incoming.AltTitles...)
	altInput = append(altInput, resolvedTitle, incoming.Title)
	merged.AltTitles = unionExcluding(altInput, existing.Title)
	if !equalStrings(merged.AltTitles, existing.AltTitles) {
		changed = true
	}

	merged.Genres = union(existing.Genres, incoming.Genres)
	if !equalStrings(merged.Genres, existing.Genres) {
		changed = true
	}
	merged.Themes = union(existing.Themes, incoming.Themes)
	if !equalStrings(merged.Themes, existing.Themes) {
		changed = true
	}

	if merged.Description == "" && strings.TrimSpace(incoming.Description) != "" {
		merged.Description = strings.TrimSpace(incoming.Description)
		changed = true
	}

	if next, replace := mergeCover(existing.CoverURL, incoming.CoverURL); replace {
		merged.CoverURL = next
		changed = true
	}

	if next, replace := mergeStatus(existing.Status, incoming.Status); replace {
		merged.Status = next
		changed = true
	}

	if merged.ContentRating == "" && strings.TrimSpace(incoming.ContentRating) != "" {
		merged.ContentRating = strings.TrimSpace(incoming.ContentRating)
		changed = true
	}

	if merged.Language == "" && strings.TrimSpace(incoming.Language) != "" {
		merged.Language = strings.TrimSpace(incoming.Language)
		changed = true
	}
	if merged.Year == 0 && incoming.Year > 0 {
		merged.Year = incoming.Year
		changed = true
	}
	if len(merged.Creators) == 0 && len(incoming.Creators) > 0 {
		merged.Creators = union(nil, incoming.Creators)
		changed = true
	}

	if next, replace := mergeExternalID(existing.Provider, existing.ExternalID, providerName, incoming.ProviderID); replace {
		merged.Provider = providerName
		merged.ExternalID = next
		changed = true
	}
	if merged.ExternalIDs == nil {
		merged.ExternalIDs = map[string]string{}
		for k, v := range existing.ExternalIDs {
			merged.ExternalIDs[k] = v
		}
	}
	if incoming.ProviderID != "" {
		current, ok := merged.ExternalIDs[providerName]
		if !ok || strings.HasPrefix(current, ProvisionalIDPrefix) {
			if current != incoming.ProviderID {
				merged.ExternalIDs = cloneMap(merged.ExternalIDs)
				merged.ExternalIDs[providerName] = incoming.ProviderID
				changed = true
			}
		}
	}

	return merged, changed, nil
}

// NewSeriesRecord builds the record for a first-seen candidate.
func NewSeriesRecord(incoming provider.Candidate, providerName, resolvedTitle string) SeriesRecord {
	primary := strings.TrimSpace(incoming.Title)
	if primary == "" {
		primary = strings.TrimSpace(resolvedTitle)
	}

	record := SeriesRecord{
		Title:         primary,
		AltTitles:     unionExcluding(append(append([]string{}, incoming.AltTitles...), resolvedTitle), primary),
		Description:   strings.TrimSpace(incoming.Description),
		CoverURL:      strings.TrimSpace(incoming.CoverURL),
		Status:        strings.TrimSpace(incoming.Status),
		ContentRating: strings.TrimSpace(incoming.ContentRating),
		Genres:        union(nil, incoming.Genres),
		Themes:        union(nil, incoming.Themes),
		Language:      strings.TrimSpace(incoming.Language),
		Creators:      union(nil, incoming.Creators),
		Provenance:    db.ProvenanceCanonical,
		ExternalIDs:   map[string]string{},
	}
	if incoming.Year > 0 {
		record.Year = incoming.Year
	}
	if incoming.ProviderID != "" {
		record.Provider = providerName
		record.ExternalID = incoming.ProviderID
		record.ExternalIDs[providerName] = incoming.ProviderID
	}
	return record
}

var placeholderCoverMarkers = []string{
	"placeholder",
	"no-cover",
	"nocover",
	"missing",
	"default.",
}

// IsPlaceholderCover reports whether a cover URL is a stand-in image rather
// than real art.
func IsPlaceholderCover(coverURL string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(coverURL))
	if trimmed == "" {
		return true
	}
	for _, marker := range placeholderCoverMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

// mergeCover: a real image replaces a placeholder; a real image never loses
// to a placeholder; ties keep the existing value.
func mergeCover(existing, incoming string) (string, bool) {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" || incoming == existing {
		return existing, false
	}
	if IsPlaceholderCover(existing) && !IsPlaceholderCover(incoming) {
		return incoming, true
	}
	if existing == "" && !IsPlaceholderCover(incoming) {
		return incoming, true
	}
	return existing, false
}

// mergeStatus fills an empty status and allows progression into a terminal
// status, but never regresses a terminal status to a non-terminal one.
func mergeStatus(existing, incoming string) (string, bool) {
	incoming = strings.TrimSpace(strings.ToLower(incoming))
	if incoming == "" || incoming == existing {
		return existing, false
	}
	if existing == "" {
		return incoming, true
	}
	if isTerminalStatus(existing) {
		return existing, false
	}
	if isTerminalStatus(incoming) {
		return incoming, true
	}
	return existing, false
}

func isTerminalStatus(status string) bool {
	return status == db.SeriesStatusCompleted || status == db.SeriesStatusCancelled
}

// mergeExternalID fills an empty provider slot, or replaces a provisional
// local identifier with a confirmed external one. A confirmed identifier is
// never overwritten.
func mergeExternalID(existingProvider, existingID, incomingProvider, incomingID string) (string, bool) {
	if incomingID == "" || incomingProvider == "" {
		return existingID, false
	}
	if existingID == "" {
		return incomingID, true
	}
	if existingProvider == incomingProvider && strings.HasPrefix(existingID, ProvisionalIDPrefix) && existingID != incomingID {
		return incomingID, true
	}
	return existingID, false
}

// union returns the sorted, case-insensitively deduplicated set union. The
// first spelling seen for a key wins.
func union(existing, incoming []string) []string {
	return unionExcluding(append(append([]string{}, existing...), incoming...), "")
}

func unionExcluding(values []string, excluded string) []string {
	excludedKey := title.Normalize(excluded)
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		key := title.Normalize(value)
		if key == "" || (excludedKey != "" && key == excludedKey) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
