package phash

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

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

var ErrNoHash = errors.New("no hash in response")

// Client computes perceptual hashes of remote images through an image
// metadata service.
type Client struct {
	privateKey string
	endpoint   string
	httpClient HTTPClient
	limiter    *rate.Limiter
	cache      *lru.LRU[string, string]

	// MaxRetries bounds the number of rate limited retries per image.
	MaxRetries int
}

type Options struct {
	Endpoint   string
	RPS        float64
	Burst      int
	CacheSize  int
	CacheTTL   time.Duration
	MaxRetries int
}

func NewClient(privateKey string, httpClient HTTPClient, opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	return &Client{
		privateKey: privateKey,
		endpoint:   opts.Endpoint,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		cache:      lru.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		MaxRetries: opts.MaxRetries,
	}
}

// Hash returns the perceptual hash of the image at imageURL.
func (c *Client) Hash(ctx context.Context, imageURL string) (string, error) {
	if h, ok := c.cache.Get(imageURL); ok {
		return h, nil
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}

		hash, retryAfter, err := c.fetch(ctx, imageURL)
		if err == nil {
			c.cache.Add(imageURL, hash)
			return hash, nil
		}

		if retryAfter == 0 || attempt >= c.MaxRetries {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

// fetch performs a single request. A non-zero duration means the call was
// rate limited and may be retried after it.
func (c *Client) fetch(ctx context.Context, imageURL string) (string, time.Duration, error) {
	q := url.Values{}
	q.Set("url", imageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.privateKey, "")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("doing request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusTooManyRequests {
		return "", retryDelay(res.Header), fmt.Errorf("rate limited")
	}

	if res.StatusCode != http.StatusOK {
		resBody, _ := io.ReadAll(res.Body)
		return "", 0, fmt.Errorf("unexpected status code: %d: %s", res.StatusCode, resBody)
	}

	var meta MetadataResponse
	if err = json.NewDecoder(res.Body).Decode(&meta); err != nil {
		return "", 0, fmt.Errorf("decoding response: %w", err)
	}

	if meta.PHash == "" {
		return "", 0, ErrNoHash
	}

	return meta.PHash, 0, nil
}

func retryDelay(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}

	return time.Second
}
