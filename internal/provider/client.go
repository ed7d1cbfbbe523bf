package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kanon/internal/errclass"
)

const maxResponseBytes = 4 << 20

// Client talks to the external metadata provider. Both calls can fail with
// rate-limit, transient-network or not-found outcomes; each is mapped onto
// the resolution error taxonomy.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	cache      *Cache
	logger     zerolog.Logger
}

func NewClient(name, baseURL string, timeout time.Duration, cache *Cache, logger zerolog.Logger) *Client {
	return &Client{
		name:    strings.TrimSpace(name),
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:  cache,
		logger: logger,
	}
}

// Name returns the provider identifier used for source links.
func (c *Client) Name() string { return c.name }

// SearchByTitle returns up to limit candidate works for a title query.
func (c *Client) SearchByTitle(ctx context.Context, title string, limit int) ([]Candidate, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := url.Values{}
	query.Set("title", title)
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/manga?"+query.Encode(), "search manga")
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errclass.Permanent("search manga", fmt.Errorf("decode search response: %w", err))
	}

	candidates := make([]Candidate, 0, len(parsed.Results))
	for _, payload := range parsed.Results {
		if strings.TrimSpace(payload.ID) == "" || strings.TrimSpace(payload.Title) == "" {
			continue
		}
		candidate := payload.toCandidate()
		candidates = append(candidates, candidate)
		if c.cache != nil {
			c.cache.Put(candidate.ProviderID, candidate)
		}
	}
	return candidates, nil
}

// GetByID fetches one work by its provider identifier. The TTL cache is an
// optimization only; a miss always falls through to a live call.
func (c *Client) GetByID(ctx context.Context, providerID string) (*Candidate, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, errclass.NotFound("get manga", fmt.Errorf("empty provider id"))
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(providerID); ok {
			return &cached, nil
		}
	}

	body, err := c.get(ctx, "/manga/"+url.PathEscape(providerID), "get manga")
	if err != nil {
		return nil, err
	}

	var payload candidatePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errclass.Permanent("get manga", fmt.Errorf("decode manga response: %w", err))
	}
	if strings.TrimSpace(payload.ID) == "" {
		return nil, errclass.NotFound("get manga", fmt.Errorf("provider returned no record for %s", providerID))
	}

	candidate := payload.toCandidate()
	if c.cache != nil {
		c.cache.Put(candidate.ProviderID, candidate)
	}
	return &candidate, nil
}

func (c *Client) get(ctx context.Context, path, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errclass.Permanent(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errclass.Transient(op, fmt.Errorf("provider request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errclass.Transient(op, fmt.Errorf("read provider response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errclass.Transient(op, fmt.Errorf("provider rate limited (retry-after=%s)", resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusNotFound:
		return nil, errclass.NotFound(op, fmt.Errorf("provider returned 404"))
	case resp.StatusCode >= 500:
		return nil, errclass.Transient(op, fmt.Errorf("provider returned %d", resp.StatusCode))
	default:
		return nil, errclass.Permanent(op, fmt.Errorf("provider returned %d", resp.StatusCode))
	}
}

// ExtractIDFromURL pulls a provider identifier out of a user-submitted URL
// such as https://provider.example/title/<id>/slug. Returns "" when the URL
// carries no recognizable identifier.
func ExtractIDFromURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, segment := range segments {
		switch strings.ToLower(segment) {
		case "title", "manga", "series", "comic":
			if i+1 < len(segments) && segments[i+1] != "" {
				return segments[i+1]
			}
		}
	}
	return ""
}
