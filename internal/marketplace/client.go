// Package marketplace implements the HTTP client for the plugin registry:
// search, install with integrity and sandbox gates, publish, ratings,
// reviews, and usage analytics.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ragworks/raggo/internal/logger"
	"github.com/ragworks/raggo/internal/retry"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

const (
	defaultBaseURL        = "https://marketplace.ragworks.dev/api/v1"
	defaultUserAgent      = "raggo-marketplace/1.0"
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	infoCacheTTL          = 5 * time.Minute
)

// ClientOptions configures a marketplace client.
type ClientOptions struct {
	BaseURL        string
	APIKey         string
	UserAgent      string
	InstallDir     string
	RequestTimeout time.Duration
	MaxRetries     int
	// TestMode disables background timers (analytics flush) so tests do
	// not leak goroutines.
	TestMode bool
	HTTP     *http.Client
	Logger   *logger.Logger
}

type cachedInfo struct {
	info    PluginInfo
	fetched time.Time
}

// Client talks to the plugin marketplace.
type Client struct {
	baseURL        string
	apiKey         string
	userAgent      string
	installDir     string
	requestTimeout time.Duration
	maxRetries     int
	testMode       bool
	httpClient     *http.Client
	log            *logger.Logger

	cacheMu   sync.Mutex
	infoCache map[string]cachedInfo
	clock     func() time.Time

	analytics *analyticsBuffer
}

// NewClient creates a marketplace client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:         opts.APIKey,
		userAgent:      opts.UserAgent,
		installDir:     opts.InstallDir,
		requestTimeout: opts.RequestTimeout,
		maxRetries:     opts.MaxRetries,
		testMode:       opts.TestMode,
		httpClient:     opts.HTTP,
		log:            log.WithComponent("marketplace"),
		infoCache:      map[string]cachedInfo{},
		clock:          time.Now,
	}
	c.analytics = newAnalyticsBuffer(c, opts.TestMode)
	return c
}

// Close stops background workers and flushes pending analytics.
func (c *Client) Close() {
	c.analytics.close()
}

// apiError is the structured error body some endpoints return.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest performs one marketplace call with retries, returning the raw
// response body. Each attempt gets its own timeout. Responses may be
// structured JSON or plain text; non-2xx surfaces the server message when
// one is present.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = encoded
	}

	return retry.DoValue(ctx, "marketplace "+method+" "+path, func(ctx context.Context) ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			message := serverMessage(data)
			if message == "" {
				message = resp.Status
			}
			return nil, fmt.Errorf("marketplace request failed (%d): %s", resp.StatusCode, message)
		}
		return data, nil
	}, retry.Options{Retries: c.maxRetries})
}

// serverMessage extracts a human-readable message from an error body that
// may be structured JSON or plain text.
func serverMessage(data []byte) string {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return ""
	}
	var structured apiError
	if err := json.Unmarshal(data, &structured); err == nil {
		if structured.Message != "" {
			return structured.Message
		}
		if structured.Error != "" {
			return structured.Error
		}
	}
	return trimmed
}

// Search queries the marketplace listing endpoint.
func (c *Client) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	query := url.Values{}
	if q.Query != "" {
		query.Set("q", q.Query)
	}
	if q.Category != "" {
		query.Set("category", q.Category)
	}
	if len(q.Tags) > 0 {
		query.Set("tags", strings.Join(q.Tags, ","))
	}
	if q.Author != "" {
		query.Set("author", q.Author)
	}
	if q.MinRating > 0 {
		query.Set("minRating", strconv.FormatFloat(q.MinRating, 'f', -1, 64))
	}
	if q.Verified {
		query.Set("verified", "true")
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	switch q.SortBy {
	case "", "relevance", "downloads", "rating", "updated":
		if q.SortBy != "" {
			query.Set("sortBy", q.SortBy)
		}
	default:
		return SearchResult{}, raggerrors.NewInvalidInput("sortBy", "must be one of relevance, downloads, rating, updated")
	}

	data, err := c.doRequest(ctx, http.MethodGet, "/plugins/search", query, nil)
	if err != nil {
		return SearchResult{}, err
	}

	var result SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return SearchResult{}, fmt.Errorf("decoding search response: %w", err)
	}
	if result.Results == nil {
		result.Results = []PluginInfo{}
	}
	return result, nil
}

// Info fetches one plugin record, serving repeat lookups from a five
// minute in-process cache.
func (c *Client) Info(ctx context.Context, pluginID string) (PluginInfo, error) {
	if pluginID == "" {
		return PluginInfo{}, raggerrors.NewInvalidInput("pluginId", "is required")
	}

	c.cacheMu.Lock()
	if cached, ok := c.infoCache[pluginID]; ok && c.clock().Sub(cached.fetched) < infoCacheTTL {
		c.cacheMu.Unlock()
		return cached.info, nil
	}
	c.cacheMu.Unlock()

	data, err := c.doRequest(ctx, http.MethodGet, "/plugins/"+url.PathEscape(pluginID), nil, nil)
	if err != nil {
		return PluginInfo{}, err
	}

	var info PluginInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return PluginInfo{}, fmt.Errorf("decoding plugin info: %w", err)
	}

	c.cacheMu.Lock()
	c.infoCache[pluginID] = cachedInfo{info: info, fetched: c.clock()}
	c.cacheMu.Unlock()
	return info, nil
}

// Rate submits a 1..5 star review for a plugin version and records the
// review event in analytics.
func (c *Client) Rate(ctx context.Context, pluginID string, rating int, review, version string) error {
	if rating < 1 || rating > 5 {
		return raggerrors.NewRatingOutOfRange(rating)
	}

	body := map[string]any{"rating": rating, "version": version}
	if review != "" {
		body["review"] = review
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/plugins/"+url.PathEscape(pluginID)+"/reviews", nil, body); err != nil {
		return err
	}

	c.analytics.record("plugin.rated", map[string]any{"pluginId": pluginID, "rating": rating})
	return nil
}

// Reviews fetches a page of reviews sorted by helpful, recent, or rating.
func (c *Client) Reviews(ctx context.Context, pluginID, sortBy string, limit, offset int) (ReviewPage, error) {
	switch sortBy {
	case "", "helpful", "recent", "rating":
	default:
		return ReviewPage{}, raggerrors.NewInvalidInput("sortBy", "must be one of helpful, recent, rating")
	}

	query := url.Values{}
	if sortBy != "" {
		query.Set("sortBy", sortBy)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}

	data, err := c.doRequest(ctx, http.MethodGet, "/plugins/"+url.PathEscape(pluginID)+"/reviews", query, nil)
	if err != nil {
		return ReviewPage{}, err
	}

	var page ReviewPage
	if err := json.Unmarshal(data, &page); err != nil {
		return ReviewPage{}, fmt.Errorf("decoding reviews: %w", err)
	}
	return page, nil
}

// Trending fetches the trending list for a period of day, week, or month.
func (c *Client) Trending(ctx context.Context, period string, limit int) ([]PluginInfo, error) {
	switch period {
	case "day", "week", "month":
	default:
		return nil, raggerrors.NewInvalidInput("period", "must be one of day, week, month")
	}

	query := url.Values{"period": []string{period}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	data, err := c.doRequest(ctx, http.MethodGet, "/plugins/trending", query, nil)
	if err != nil {
		return nil, err
	}

	var trending []PluginInfo
	if err := json.Unmarshal(data, &trending); err != nil {
		return nil, fmt.Errorf("decoding trending: %w", err)
	}
	return trending, nil
}
