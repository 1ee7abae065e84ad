// Package mdblist implements the rate-limited client for the MDBList
// metadata API used to enrich mirrored catalog items.
package mdblist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.mdblist.com"

	// BatchMax is the provider's documented ceiling on external IDs
	// per batch request.
	BatchMax = 200

	maxAttempts   = 4
	baseBackoff   = time.Second
	errorLogDedup = 5 * time.Minute

	// Minimum delay between requests per tier. Supporters get a much
	// higher request allowance.
	freeDelay      = time.Second
	supporterDelay = 100 * time.Millisecond
)

var ErrNotConfigured = errors.New("mdblist api key not configured")

// ErrorLog deduplicates operator-facing API error records.
type ErrorLog interface {
	HasRecentSimilarError(ctx context.Context, source, kind string, statusCode int, window time.Duration) (bool, error)
	LogAPIError(ctx context.Context, source, kind string, statusCode int, message string) error
}

// Client talks to the MDBList API. All outbound calls flow through a
// single limiter guarding lastRequest, so concurrent callers cannot
// both pass the delay check before either records its slot.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	errorLog   ErrorLog

	// Limiter state. supporter is refreshed from the user-info
	// endpoint at most once per tierTTL.
	mu          sync.Mutex
	lastRequest time.Time
	supporter   bool
	tierChecked time.Time
	tierTTL     time.Duration
}

// NewClient creates an MDBList client. errorLog may be nil, in which
// case dedup falls back to plain log output.
func NewClient(apiKey string, tierTTL time.Duration, errorLog ErrorLog) *Client {
	if tierTTL <= 0 {
		tierTTL = 15 * time.Minute
	}
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		errorLog:   errorLog,
		tierTTL:    tierTTL,
	}
}

// UpdateAPIKey swaps the API key and invalidates the cached tier.
func (c *Client) UpdateAPIKey(apiKey string) {
	c.mu.Lock()
	c.apiKey = apiKey
	c.tierChecked = time.Time{}
	c.supporter = false
	c.mu.Unlock()
}

func (c *Client) key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.key() != ""
}

// MediaInfo is the enrichment payload for one item.
type MediaInfo struct {
	IMDBID  string `json:"imdbid"`
	Title   string `json:"title"`
	Ratings []struct {
		Source string   `json:"source"`
		Value  *float64 `json:"value"`
	} `json:"ratings"`
	Keywords []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"keyword"`
	Streams []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"streams"`
}

type userInfo struct {
	PatronStatus string `json:"patron_status"`
}

// waitTurn reserves the next request slot. The reservation happens
// under the mutex so the read-check-update sequence is atomic; the
// sleep itself happens outside the lock.
func (c *Client) waitTurn(ctx context.Context) error {
	delay := c.currentDelay(ctx)

	c.mu.Lock()
	next := c.lastRequest.Add(delay)
	now := time.Now()
	if next.Before(now) {
		next = now
	}
	c.lastRequest = next
	c.mu.Unlock()

	return sleepUntil(ctx, next)
}

// currentDelay returns the per-tier minimum interval, refreshing the
// cached tier when it expired.
func (c *Client) currentDelay(ctx context.Context) time.Duration {
	c.mu.Lock()
	expired := time.Since(c.tierChecked) >= c.tierTTL
	supporter := c.supporter
	if expired {
		// Claim the refresh slot before releasing the lock so only
		// one caller hits the user-info endpoint.
		c.tierChecked = time.Now()
	}
	c.mu.Unlock()

	if expired {
		// The tier check does not consume a request slot: it runs at
		// most once per TTL, and routing it through waitTurn would
		// recurse into this function.
		supporter = c.refreshTier(ctx, supporter)
	}
	if supporter {
		return supporterDelay
	}
	return freeDelay
}

func (c *Client) refreshTier(ctx context.Context, previous bool) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/user?apikey=%s", c.baseURL, c.key()), nil)
	if err != nil {
		return previous
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[mdblist] tier refresh failed: %v", err)
		return previous
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return previous
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return previous
	}
	supporter := info.PatronStatus == "active_patron"

	c.mu.Lock()
	c.supporter = supporter
	c.mu.Unlock()

	if supporter != previous {
		log.Printf("[mdblist] tier changed: supporter=%v", supporter)
	}
	return supporter
}

// request issues one rate-limited call. 429s are waited out per the
// Retry-After hint (exponential backoff when absent) and retried up to
// the attempt ceiling. Other non-success statuses are logged once per
// dedup window and reported as a nil payload with no error, so batch
// loops keep moving. A nil, nil return means "no usable response".
func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	url := fmt.Sprintf("%s%s?apikey=%s", c.baseURL, path, c.key())

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("mdblist request: %w", err)
			if err := sleepUntil(ctx, time.Now().Add(backoff(attempt))); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			return data, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			wait := retryAfter(resp, backoff(attempt))
			c.logDeduped(ctx, "rate_limit", resp.StatusCode,
				fmt.Sprintf("rate limited on %s, waiting %s (attempt %d/%d)", path, wait, attempt+1, maxAttempts))
			lastErr = fmt.Errorf("mdblist rate limited: status 429")
			if err := sleepUntil(ctx, time.Now().Add(wait)); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("mdblist server error: status %d", resp.StatusCode)
			c.logDeduped(ctx, "server_error", resp.StatusCode,
				fmt.Sprintf("server error %d on %s (attempt %d/%d)", resp.StatusCode, path, attempt+1, maxAttempts))
			if err := sleepUntil(ctx, time.Now().Add(backoff(attempt))); err != nil {
				return nil, err
			}

		default:
			resp.Body.Close()
			c.logDeduped(ctx, "request_failed", resp.StatusCode,
				fmt.Sprintf("unexpected status %d on %s", resp.StatusCode, path))
			return nil, nil
		}
	}

	c.logDeduped(ctx, "retries_exhausted", 0, fmt.Sprintf("giving up on %s: %v", path, lastErr))
	return nil, nil
}

// GetMediaBatch fetches enrichment payloads for up to BatchMax IMDB
// ids in one call. mediaType is "movie" or "show". IDs with no match
// are simply absent from the result; callers distinguish that from a
// transport failure by the nil slice + nil error combination.
func (c *Client) GetMediaBatch(ctx context.Context, mediaType string, imdbIDs []string) ([]MediaInfo, error) {
	if len(imdbIDs) == 0 {
		return nil, nil
	}
	if len(imdbIDs) > BatchMax {
		return nil, fmt.Errorf("batch of %d exceeds provider maximum %d", len(imdbIDs), BatchMax)
	}

	body := map[string]any{
		"ids":                imdbIDs,
		"append_to_response": []string{"keyword", "streams"},
	}
	data, err := c.request(ctx, http.MethodPost, "/imdb/"+mediaType, body)
	if err != nil || data == nil {
		return nil, err
	}

	var out []MediaInfo
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return out, nil
}

// GetMedia fetches the enrichment payload for a single IMDB id.
// Returns nil, nil when the id has no match.
func (c *Client) GetMedia(ctx context.Context, mediaType, imdbID string) (*MediaInfo, error) {
	data, err := c.request(ctx, http.MethodGet,
		fmt.Sprintf("/imdb/%s/%s", mediaType, imdbID), nil)
	if err != nil || data == nil {
		return nil, err
	}

	var info MediaInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode media response: %w", err)
	}
	if info.IMDBID == "" {
		return nil, nil
	}
	return &info, nil
}

func (c *Client) logDeduped(ctx context.Context, kind string, status int, message string) {
	if c.errorLog != nil {
		recent, err := c.errorLog.HasRecentSimilarError(ctx, "mdblist", kind, status, errorLogDedup)
		if err == nil && recent {
			return
		}
		if err == nil {
			if err := c.errorLog.LogAPIError(ctx, "mdblist", kind, status, message); err != nil {
				log.Printf("[mdblist] failed to record api error: %v", err)
			}
		}
	}
	log.Printf("[mdblist] %s", message)
}

// retryAfter reads the server's Retry-After hint, falling back to the
// given backoff when absent or unparseable.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

// backoff returns baseBackoff doubled per attempt: 1s, 2s, 4s, 8s.
func backoff(attempt int) time.Duration {
	return baseBackoff << attempt
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
