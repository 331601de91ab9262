// Package thedyrt implements the bounded client for TheDyrt's location
// search API.
package thedyrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/outdoorsight/campground-crawler/internal/campground"
	"github.com/outdoorsight/campground-crawler/internal/geo"
	"github.com/outdoorsight/campground-crawler/internal/metrics"
)

const (
	searchPath  = "/locations/search-results"
	detailsPath = "/locations"

	defaultBaseURL   = "https://thedyrt.com/api/v6"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// maxBodyBytes caps response reads against a misbehaving upstream.
	maxBodyBytes = 16 << 20
)

// Config controls Client behavior.
type Config struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	MaxAttempts       int
	DetailMaxAttempts int
	BackoffBase       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	RateLimitCooldown time.Duration
	Concurrency       int
	RequestsPerSecond float64
}

// Client fetches pages of campground records within geographic bounds. All
// outbound calls share one counting semaphore sized to Concurrency, so at
// most that many requests are in flight regardless of how many cell tasks
// are running.
type Client struct {
	httpClient   *http.Client
	cfg          Config
	sem          *semaphore.Weighted
	limiter      *rate.Limiter
	searchPolicy *retryPolicy
	detailPolicy *retryPolicy
	logger       *zap.Logger
}

// New constructs a Client, applying defaults for unset fields.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("client concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DetailMaxAttempts <= 0 {
		cfg.DetailMaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:    rate.NewLimiter(limit, 1),
		searchPolicy: &retryPolicy{
			maxAttempts: cfg.MaxAttempts,
			baseDelay:   cfg.BackoffBase,
			minDelay:    cfg.BackoffMin,
			maxDelay:    cfg.BackoffMax,
		},
		detailPolicy: &retryPolicy{
			maxAttempts: cfg.DetailMaxAttempts,
			baseDelay:   cfg.BackoffBase,
			minDelay:    cfg.BackoffMin,
			maxDelay:    cfg.BackoffMax / 2,
		},
		logger: logger,
	}, nil
}

// FetchPage retrieves one page of campground records for the cell. A
// malformed response body is not retried: it is logged and yields an empty
// page with a nil error, so the cell proceeds with whatever pages succeeded.
func (c *Client) FetchPage(ctx context.Context, cell geo.Cell, page, pageSize int) ([]campground.RawRecord, error) {
	q := url.Values{}
	q.Set("ne", fmt.Sprintf("%v,%v", cell.North, cell.East))
	q.Set("sw", fmt.Sprintf("%v,%v", cell.South, cell.West))
	q.Set("page[size]", strconv.Itoa(pageSize))
	q.Set("page[number]", strconv.Itoa(page))

	body, err := c.get(ctx, "search", c.cfg.BaseURL+searchPath+"?"+q.Encode(), c.searchPolicy)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d for cell %s: %w", page, cell, err)
	}

	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Error("malformed search response",
			zap.String("cell", cell.String()),
			zap.Int("page", page),
			zap.Error(err),
		)
		return nil, nil
	}

	records := make([]campground.RawRecord, 0, len(envelope.Data))
	for _, item := range envelope.Data {
		rec, ok := c.flattenSearchItem(item)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Details fetches the full record for one campground id. It follows the same
// semaphore and retry discipline as FetchPage with a lower attempt ceiling.
func (c *Client) Details(ctx context.Context, id string) (campground.RawRecord, error) {
	if id == "" {
		return nil, errors.New("campground id is required")
	}

	body, err := c.get(ctx, "details", c.cfg.BaseURL+detailsPath+"/"+url.PathEscape(id), c.detailPolicy)
	if err != nil {
		return nil, fmt.Errorf("fetch details for %s: %w", id, err)
	}

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Error("malformed details response", zap.String("id", id), zap.Error(err))
		return campground.RawRecord{}, nil
	}
	return flattenEnvelope(envelope.Data), nil
}

// get runs one request with retries. Every attempt holds the shared
// semaphore for the duration of the network call and releases it whether the
// attempt succeeds or fails.
func (c *Client) get(ctx context.Context, endpoint, rawURL string, policy *retryPolicy) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, err := c.attempt(ctx, endpoint, rawURL)
		if err == nil {
			return body, nil
		}
		if !policy.shouldRetry(err, attempt+1) {
			return nil, err
		}

		wait := policy.backoff(attempt)
		var te *transientError
		if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
			// 429 gets an extra fixed cooldown on top of the backoff schedule.
			wait += c.cfg.RateLimitCooldown
			c.logger.Warn("rate limited by upstream",
				zap.String("endpoint", endpoint),
				zap.Duration("cooldown", c.cfg.RateLimitCooldown),
			)
		}

		c.logger.Debug("retrying upstream request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := sleepContext(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire request slot: %w", err)
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://thedyrt.com/search")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstreamRequest(endpoint, 0, time.Since(start))
		return nil, &transientError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.ObserveUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, &transientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	if readErr != nil {
		return nil, &transientError{Err: fmt.Errorf("read body: %w", readErr)}
	}
	return body, nil
}
