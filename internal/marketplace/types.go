package marketplace

import "time"

// PluginInfo is the normalized shape of a marketplace plugin record.
// Listings arrive in slightly different shapes per endpoint; every path
// funnels through this one.
type PluginInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	Kind          string         `json:"kind,omitempty"`
	Description   string         `json:"description,omitempty"`
	Author        string         `json:"author,omitempty"`
	Category      string         `json:"category,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Downloads     int            `json:"downloads"`
	Rating        float64        `json:"rating"`
	Verified      bool           `json:"verified"`
	Certification *Certification `json:"certification,omitempty"`
	Checksums     Checksums      `json:"checksums"`
	UpdatedAt     time.Time      `json:"updatedAt,omitzero"`
}

// Certification records a marketplace review outcome.
type Certification struct {
	Level     string    `json:"level"`
	IssuedAt  time.Time `json:"issuedAt,omitzero"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Checksums carries the published digests for a plugin archive.
type Checksums struct {
	SHA256 string `json:"sha256"`
}

// SearchQuery narrows a marketplace search.
type SearchQuery struct {
	Query     string
	Category  string
	Tags      []string
	Author    string
	MinRating float64
	Verified  bool
	Limit     int
	Offset    int
	// SortBy is one of relevance, downloads, rating, updated.
	SortBy string
}

// SearchResult is a page of search hits.
type SearchResult struct {
	Results []PluginInfo     `json:"results"`
	Total   int              `json:"total"`
	HasMore bool             `json:"hasMore"`
	Facets  map[string][]any `json:"facets,omitempty"`
}

// Review is one user review of a plugin.
type Review struct {
	ID        string    `json:"id"`
	PluginID  string    `json:"pluginId"`
	Author    string    `json:"author"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	Helpful   int       `json:"helpful"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// ReviewPage is a paginated set of reviews.
type ReviewPage struct {
	Reviews []Review `json:"reviews"`
	Total   int      `json:"total"`
	HasMore bool     `json:"hasMore"`
}

// PublishResult reports a successful publish.
type PublishResult struct {
	PluginID string `json:"pluginId"`
	Version  string `json:"version"`
	URL      string `json:"url"`
}

// InstallOptions tunes the install flow.
type InstallOptions struct {
	Version          string
	RequireCertified bool
	SkipSecurityScan bool
	SandboxTimeout   time.Duration
}
