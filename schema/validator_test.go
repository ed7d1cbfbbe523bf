package candidateschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func validPayload() map[string]any {
	return map[string]any{
		"payload_version": "v1",
		"provider":        "mangadex",
		"provider_id":     "abc-123",
		"title":           "Solo Leveling",
		"alt_titles":      []string{"Only I Level Up"},
		"status":          "ongoing",
		"language":        "ko",
		"year":            2018,
		"match_criteria": []map[string]any{
			{"kind": "exact_id"},
		},
	}
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return encoded
}

func TestValidateScrapedCandidateAcceptsValidPayload(t *testing.T) {
	t.Parallel()

	candidate, err := ValidateScrapedCandidate(marshal(t, validPayload()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidate.Provider != "mangadex" || candidate.ProviderID != "abc-123" {
		t.Fatalf("unexpected identity: %+v", candidate)
	}
	if candidate.Year != 2018 {
		t.Fatalf("unexpected year: %d", candidate.Year)
	}
	if len(candidate.MatchCriteria) != 1 || candidate.MatchCriteria[0].Kind != CriteriaExactID {
		t.Fatalf("unexpected criteria: %+v", candidate.MatchCriteria)
	}
}

func TestValidateScrapedCandidateRejectsUnknownCriteriaKind(t *testing.T) {
	t.Parallel()

	payload := validPayload()
	payload["match_criteria"] = []map[string]any{
		{"kind": "regex_title"},
	}

	if _, err := ValidateScrapedCandidate(marshal(t, payload)); err == nil {
		t.Fatalf("expected unknown criteria kind to be rejected")
	}
}

func TestValidateScrapedCandidateRequiresFuzzyThreshold(t *testing.T) {
	t.Parallel()

	payload := validPayload()
	payload["match_criteria"] = []map[string]any{
		{"kind": "fuzzy_title"},
	}

	_, err := ValidateScrapedCandidate(marshal(t, payload))
	if err == nil || !strings.Contains(err.Error(), "threshold") {
		t.Fatalf("expected missing threshold rejection, got %v", err)
	}

	payload["match_criteria"] = []map[string]any{
		{"kind": "fuzzy_title", "threshold": 0.8},
	}
	if _, err := ValidateScrapedCandidate(marshal(t, payload)); err != nil {
		t.Fatalf("unexpected error with threshold present: %v", err)
	}
}

func TestValidateScrapedCandidateRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	payload := validPayload()
	delete(payload, "provider_id")
	if _, err := ValidateScrapedCandidate(marshal(t, payload)); err == nil {
		t.Fatalf("expected missing provider_id to be rejected")
	}

	payload = validPayload()
	payload["title"] = "   "
	if _, err := ValidateScrapedCandidate(marshal(t, payload)); err == nil {
		t.Fatalf("expected blank title to be rejected")
	}
}

func TestValidateScrapedCandidateRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := ValidateScrapedCandidate(json.RawMessage(`{"provider":`)); err == nil {
		t.Fatalf("expected malformed JSON to be rejected")
	}
	if _, err := ValidateScrapedCandidate(json.RawMessage(`{} trailing`)); err == nil {
		t.Fatalf("expected trailing data to be rejected")
	}
}
