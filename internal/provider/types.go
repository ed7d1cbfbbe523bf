package provider

// Candidate is one work as described by an external metadata provider.
type Candidate struct {
	ProviderID    string   `json:"provider_id"`
	Title         string   `json:"title"`
	AltTitles     []string `json:"alt_titles,omitempty"`
	Description   string   `json:"description,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
	Status        string   `json:"status,omitempty"`
	ContentRating string   `json:"content_rating,omitempty"`
	Genres        []string `json:"genres,omitempty"`
	Themes        []string `json:"themes,omitempty"`
	Language      string   `json:"language,omitempty"`
	Year          int      `json:"year,omitempty"`
	Creators      []string `json:"creators,omitempty"`
}

type searchResponse struct {
	Results []candidatePayload `json:"results"`
}

type candidatePayload struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	AltTitles     []string `json:"alt_titles"`
	Description   string   `json:"description"`
	CoverURL      string   `json:"cover_url"`
	Status        string   `json:"status"`
	ContentRating string   `json:"content_rating"`
	Genres        []string `json:"genres"`
	Themes        []string `json:"themes"`
	Language      string   `json:"language"`
	Year          int      `json:"year"`
	Creators      []string `json:"creators"`
}

func (p candidatePayload) toCandidate() Candidate {
	return Candidate{
		ProviderID:    p.ID,
		Title:         p.Title,
		AltTitles:     p.AltTitles,
		Description:   p.Description,
		CoverURL:      p.CoverURL,
		Status:        p.Status,
		ContentRating: p.ContentRating,
		Genres:        p.Genres,
		Themes:        p.Themes,
		Language:      p.Language,
		Year:          p.Year,
		Creators:      p.Creators,
	}
}
