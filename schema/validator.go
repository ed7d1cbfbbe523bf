// Package candidateschema validates scraped-candidate payloads at the
// process boundary before they reach canonicalization.
package candidateschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed scraped_candidate.schema.json
var scrapedCandidateSchemaJSON string

// CriteriaKind is the closed enumeration of match criteria a scrape job may
// request. Unknown kinds are rejected by the schema rather than silently
// matching nothing.
type CriteriaKind string

const (
	CriteriaExactID    CriteriaKind = "exact_id"
	CriteriaExactTitle CriteriaKind = "exact_title"
	CriteriaFuzzyTitle CriteriaKind = "fuzzy_title"
)

type MatchCriterion struct {
	Kind      CriteriaKind `json:"kind"`
	Threshold *float64     `json:"threshold,omitempty"`
}

type ScrapedCandidate struct {
	PayloadVersion string           `json:"payload_version"`
	Provider       string           `json:"provider"`
	ProviderID     string           `json:"provider_id"`
	Title          string           `json:"title"`
	AltTitles      []string         `json:"alt_titles,omitempty"`
	Description    string           `json:"description,omitempty"`
	CoverURL       string           `json:"cover_url,omitempty"`
	Status         string           `json:"status,omitempty"`
	ContentRating  string           `json:"content_rating,omitempty"`
	Genres         []string         `json:"genres,omitempty"`
	Themes         []string         `json:"themes,omitempty"`
	Language       string           `json:"language,omitempty"`
	Year           int              `json:"year,omitempty"`
	Creators       []string         `json:"creators,omitempty"`
	MatchCriteria  []MatchCriterion `json:"match_criteria,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateScrapedCandidate decodes and validates a candidate payload.
func ValidateScrapedCandidate(payload json.RawMessage) (*ScrapedCandidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var candidate ScrapedCandidate
	if err := json.Unmarshal(normalized, &candidate); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&candidate); err != nil {
		return nil, err
	}

	return &candidate, nil
}

func validateSemantics(candidate *ScrapedCandidate) error {
	if strings.TrimSpace(candidate.Provider) == "" {
		return fmt.Errorf("provider must not be blank")
	}
	if strings.TrimSpace(candidate.ProviderID) == "" {
		return fmt.Errorf("provider_id must not be blank")
	}
	if strings.TrimSpace(candidate.Title) == "" {
		return fmt.Errorf("title must not be blank")
	}
	for _, criterion := range candidate.MatchCriteria {
		if criterion.Kind == CriteriaFuzzyTitle && criterion.Threshold == nil {
			return fmt.Errorf("fuzzy_title criteria require a threshold")
		}
	}
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("scraped_candidate.schema.json", strings.NewReader(scrapedCandidateSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("scraped_candidate.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})
	return compiledSchema, compiledSchemaErr
}

func decodeStrictJSON(payload json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := ensureEOF(decoder); err != nil {
		return nil, err
	}
	return value, nil
}

func ensureEOF(decoder *json.Decoder) error {
	if _, err := decoder.Token(); err != io.EOF {
		return fmt.Errorf("payload contains trailing JSON data")
	}
	return nil
}
