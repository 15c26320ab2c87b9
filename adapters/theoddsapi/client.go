package theoddsapi

import (
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

	"github.com/rs/zerolog"

	"github.com/XavierBriggs/Pythia/pkg/contracts"
	"github.com/XavierBriggs/Pythia/pkg/models"
)

const (
	// DefaultBaseURL is the sports endpoint of The Odds API v4
	DefaultBaseURL = "https://api.the-odds-api.com/v4/sports"
	userAgent      = "Pythia/1.0 (Fortuna Odds Aggregator)"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Client implements the VendorAdapter interface for The Odds API
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	rateLimits models.RateLimits
	mu         sync.RWMutex
}

// Ensure Client implements VendorAdapter
var _ contracts.VendorAdapter = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the vendor endpoint (used by tests and staging proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new The Odds API client
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: zerolog.Nop(),
		rateLimits: models.RateLimits{
			RequestsRemaining: 500, // Default quota
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchSports retrieves the list of sports available for a region
func (c *Client) FetchSports(ctx context.Context, region string) ([]models.Sport, error) {
	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("regions", region)

	body, err := c.doRequest(ctx, c.baseURL, params)
	if err != nil {
		return nil, fmt.Errorf("fetch sports failed: %w", err)
	}

	var sports []models.Sport
	if err := json.Unmarshal(body, &sports); err != nil {
		return nil, fmt.Errorf("parse sports response: %w", err)
	}

	return sports, nil
}

// FetchOdds retrieves events with decimal odds for a single sport
func (c *Client) FetchOdds(ctx context.Context, sportKey, region, markets string) ([]models.RawEvent, error) {
	endpoint := fmt.Sprintf("%s/%s/odds", c.baseURL, url.PathEscape(sportKey))

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("regions", region)
	params.Set("markets", markets)
	params.Set("oddsFormat", "decimal")
	params.Set("dateFormat", "iso")

	body, err := c.doRequest(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("fetch odds for %s failed: %w", sportKey, err)
	}

	var events []models.RawEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("parse odds response for %s: %w", sportKey, err)
	}

	return events, nil
}

// GetRateLimits returns a snapshot of the current rate limit information
func (c *Client) GetRateLimits() models.RateLimits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimits
}

// doRequest performs a single HTTP GET. Retrying is left to the caller.
func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	fullURL := endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	c.updateRateLimits(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debug().
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("vendor request")

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	return body, nil
}

// updateRateLimits extracts rate limit info from response headers
func (c *Client) updateRateLimits(headers http.Header) {
	remaining := headers.Get("x-requests-remaining")
	used := headers.Get("x-requests-used")
	if remaining == "" && used == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if val, err := strconv.Atoi(remaining); err == nil {
		c.rateLimits.RequestsRemaining = val
	}
	if val, err := strconv.Atoi(used); err == nil {
		c.rateLimits.RequestsUsed = val
	}
	c.rateLimits.UpdatedAt = time.Now()
}

// HTTPError represents a non-200 vendor response
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
