// Package client provides the authenticated LingQ API transport: GET
// requests with a static token, a timeout, error classification and an
// optional Redis cache for discovery listings.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/lingq-export/pkg/cache"
	"github.com/Sternrassler/lingq-export/pkg/lingq"
	"github.com/Sternrassler/lingq-export/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for LingQ API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_requests_total",
		Help: "Total LingQ API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lingq_request_duration_seconds",
		Help:    "LingQ API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingq_errors_total",
		Help: "Total LingQ API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the LingQ v2 API root.
const DefaultBaseURL = "https://www.lingq.com/api/v2"

// ErrorClass represents a classification of failed requests.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 2xx response whose body could not be parsed.
	ErrorClassDecode ErrorClass = "decode"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, without trailing slash.
	BaseURL string

	// APIKey is sent as "Authorization: Token <key>" on every request. REQUIRED.
	APIKey string

	// UserAgent header
	UserAgent string

	// Timeout per request
	Timeout time.Duration

	// Redis enables caching of the languages and contexts listings (optional).
	Redis *redis.Client

	// ListingTTL is the cache lifetime of listings without Cache-Control.
	ListingTTL time.Duration

	// HTTPClient overrides the default http.Client (tests, proxies).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIKey:     apiKey,
		UserAgent:  "lingq-export/1.0",
		Timeout:    30 * time.Second,
		ListingTTL: cache.DefaultTTL,
	}
}

// Client is an immutable, authenticated handle on the LingQ API. It is safe
// for concurrent use; credentials are fixed at construction.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      *cache.Manager
	config     Config
	account    string
	logger     zerolog.Logger
}

// New creates a new LingQ client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.ListingTTL <= 0 {
		cfg.ListingTTL = cache.DefaultTTL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		cacheManager = cache.NewManager(cfg.Redis)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cache:      cacheManager,
		config:     cfg,
		account:    cache.AccountFingerprint(cfg.APIKey),
		logger:     log.With().Str("component", "lingq-client").Logger(),
	}, nil
}

// Account returns a non-reversible identifier of the API key, used to scope
// shared state (cache, throttle cooldown) per account.
func (c *Client) Account() string {
	return c.account
}

// Do performs an authenticated request. Responses with status >= 400 are
// returned as *APIError with the body already closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	endpoint := endpointLabel(req.URL.Path)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("Authorization", "Token "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", req.URL.RawQuery).
		Msg("Executing LingQ request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: errClass,
			Endpoint:   req.URL.Path,
			Message:    "request failed",
			Err:        err,
		}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := c.classifyError(resp, nil)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Endpoint:   req.URL.Path,
			Message:    resp.Status,
		}
		if retryAfter, ok := ratelimit.ParseRetryAfter(resp.Header); ok {
			apiErr.RetryAfter = retryAfter
		}

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("LingQ request error")

		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, apiErr
	}

	return resp, nil
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Get performs a GET request to an API path relative to the base URL.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// getJSON fetches path and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Endpoint:   path,
			Message:    "read body",
			Err:        err,
		}
	}
	return c.decode(path, resp.StatusCode, body, out)
}

func (c *Client) decode(path string, status int, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &APIError{
			StatusCode: status,
			ErrorClass: ErrorClassDecode,
			Endpoint:   path,
			Message:    "decode response",
			Err:        err,
		}
	}
	return nil
}

// getListing is getJSON with the optional Redis cache in front of it.
func (c *Client) getListing(ctx context.Context, path string, out any) error {
	if c.cache == nil {
		return c.getJSON(ctx, path, nil, out)
	}

	key := cache.CacheKey{Endpoint: path, Account: c.account}

	entry, err := c.cache.Get(ctx, key)
	if err == nil {
		c.logger.Debug().Str("endpoint", path).Msg("Listing served from cache")
		return c.decode(path, entry.StatusCode, entry.Data, out)
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("endpoint", path).Msg("Cache get error")
	}

	resp, err := c.Get(ctx, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	entry, err = cache.ResponseToEntry(resp, c.config.ListingTTL)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Endpoint:   path,
			Message:    "read body",
			Err:        err,
		}
	}

	if err := c.decode(path, entry.StatusCode, entry.Data, out); err != nil {
		return err
	}

	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", path).Msg("Failed to cache listing")
	}
	return nil
}

// Ping verifies connectivity and credentials against the languages listing.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Get(ctx, "/languages/", nil)
	if err != nil {
		return fmt.Errorf("connection test: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Languages returns the languages listing. The API answers either a bare
// array or a {results: [...]} envelope; both are accepted.
func (c *Client) Languages(ctx context.Context) ([]lingq.Language, error) {
	var raw json.RawMessage
	if err := c.getListing(ctx, "/languages/", &raw); err != nil {
		return nil, fmt.Errorf("get languages: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var languages []lingq.Language
		if err := c.decode("/languages/", http.StatusOK, raw, &languages); err != nil {
			return nil, fmt.Errorf("get languages: %w", err)
		}
		return languages, nil
	}

	var envelope struct {
		Results []lingq.Language `json:"results"`
	}
	if err := c.decode("/languages/", http.StatusOK, raw, &envelope); err != nil {
		return nil, fmt.Errorf("get languages: %w", err)
	}
	return envelope.Results, nil
}

// Contexts returns the account's declared learning contexts.
func (c *Client) Contexts(ctx context.Context) ([]lingq.UserContext, error) {
	var envelope struct {
		Results []lingq.UserContext `json:"results"`
	}
	if err := c.getListing(ctx, "/contexts/", &envelope); err != nil {
		return nil, fmt.Errorf("get contexts: %w", err)
	}
	return envelope.Results, nil
}

// FetchPage fetches one page of a language's cards. Page numbers are 1-based.
// Errors are returned unwrapped (*APIError) so callers can classify them.
func (c *Client) FetchPage(ctx context.Context, language string, page, pageSize int) (*lingq.Page, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	var result lingq.Page
	if err := c.getJSON(ctx, cardsPath(language), query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CountCards returns the total number of cards of a language using a
// single-record page.
func (c *Client) CountCards(ctx context.Context, language string) (int, error) {
	page, err := c.FetchPage(ctx, language, 1, 1)
	if err != nil {
		return 0, fmt.Errorf("count cards for %s: %w", language, err)
	}
	return page.Count, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func cardsPath(language string) string {
	return "/" + url.PathEscape(language) + "/cards/"
}

// endpointLabel keeps metric label cardinality independent of languages.
func endpointLabel(path string) string {
	if strings.HasSuffix(path, "/cards/") {
		return "/{language}/cards/"
	}
	if i := strings.LastIndex(path, "/api/v2"); i >= 0 {
		return path[i+len("/api/v2"):]
	}
	return path
}
