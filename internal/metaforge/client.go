// Package metaforge is a client for the game content API.
//
// Every request goes through an optional per-endpoint circuit breaker and
// an optional response cache. Successful bodies are written to the cache;
// when the upstream fails (network error, 5xx, open circuit) a cached body
// for the same URL is served instead.
package metaforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/djlord-it/arc-companion/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.metaforge.gg/v1/"
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps upstream bodies (8MB).
	maxResponseSize = 8 << 20
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUpstreamStatus = errors.New("unexpected upstream status")
)

// ResponseCache stores raw response bodies keyed by request URL.
type ResponseCache interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Set(ctx context.Context, url string, body []byte) error
}

type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

// MetricsSink defines the interface for recording client metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	UpstreamRequest(endpoint, statusClass string, duration time.Duration)
	CacheLookup(hit bool)
	CacheFallback(endpoint string)
}

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Endpoint, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return ErrUpstreamStatus
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	cache   ResponseCache // optional, nil = disabled
	breaker Breaker       // optional, nil = disabled
	metrics MetricsSink   // optional, nil = disabled
}

// New creates a client for the API rooted at baseURL. A trailing slash is
// added if missing so relative endpoint paths resolve beneath it.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: scheme must be http or https")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) WithCache(cache ResponseCache) *Client {
	c.cache = cache
	return c
}

func (c *Client) WithBreaker(b Breaker) *Client {
	c.breaker = b
	return c
}

// WithMetrics attaches a metrics sink to the client.
func (c *Client) WithMetrics(sink MetricsSink) *Client {
	c.metrics = sink
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) resolve(path string, query url.Values) string {
	ref := &url.URL{Path: path}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.baseURL.ResolveReference(ref).String()
}

// get fetches endpoint/path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	target := c.resolve(path, query)

	body, err := c.fetch(ctx, endpoint, target)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		cached, ok := c.cached(ctx, target)
		if !ok {
			return err
		}
		log.Printf("metaforge: %s failed, serving cached body: %v", endpoint, err)
		if c.metrics != nil {
			c.metrics.CacheFallback(endpoint)
		}
		body = cached
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", endpoint, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint, target string) ([]byte, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(endpoint); err != nil {
			c.observe(endpoint, 0, err, 0)
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		}
	}

	start := time.Now()
	body, status, err := c.do(ctx, target)
	c.observe(endpoint, status, err, time.Since(start))

	switch {
	case err != nil:
		c.recordFailure(endpoint)
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	case status >= 200 && status < 300:
		if c.breaker != nil {
			c.breaker.RecordSuccess(endpoint)
		}
		c.store(ctx, target, body)
		return body, nil
	case status >= 500 || status == http.StatusTooManyRequests:
		c.recordFailure(endpoint)
	}
	return nil, &StatusError{Endpoint: endpoint, StatusCode: status}
}

func (c *Client) do(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) recordFailure(endpoint string) {
	if c.breaker != nil {
		c.breaker.RecordFailure(endpoint)
	}
}

func (c *Client) observe(endpoint string, status int, err error, d time.Duration) {
	if c.metrics != nil {
		c.metrics.UpstreamRequest(endpoint, metrics.ClassifyStatus(status, err), d)
	}
}

func (c *Client) cached(ctx context.Context, target string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	body, err := c.cache.Get(ctx, target)
	hit := err == nil && len(body) > 0
	if c.metrics != nil {
		c.metrics.CacheLookup(hit)
	}
	return body, hit
}

func (c *Client) store(ctx context.Context, target string, body []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, target, body); err != nil {
		log.Printf("metaforge: cache set error: %v", err)
	}
}
