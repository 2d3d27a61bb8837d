// Package restclient is the JSON-over-HTTPS client shared by the REST
// provider adapters. It handles bearer authentication, JSON encoding, and
// bounded retry with backoff on HTTP 429.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

var metricRequest = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mailboard_provider_request_duration_seconds",
		Help:    "Provider API request duration.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"provider", "method", "result"},
)

const maxBackoff = 30 * time.Second

// Client talks to one provider API on behalf of one access token.
type Client struct {
	provider    model.ProviderKind
	baseURL     string
	token       string
	httpClient  *http.Client
	maxRetries  int
	backoffUnit time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 30s-timeout HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackoffUnit sets the first retry delay; later retries double it.
func WithBackoffUnit(d time.Duration) Option {
	return func(c *Client) { c.backoffUnit = d }
}

// WithMaxRetries bounds the number of retries after a 429.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New creates a client for baseURL authenticating with token.
func New(provider model.ProviderKind, baseURL, token string, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:  3,
		backoffUnit: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs a GET and decodes the JSON response into result. path may
// be absolute, as returned by APIs that hand out next-page links.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPatch, path, body, result)
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path
	}
	return c.baseURL + path
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	url := c.resolve(path)

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	for attempt := 0; ; attempt++ {
		start := time.Now()
		status, respBody, retryAfter, err := c.roundTrip(ctx, method, url, payload)
		c.observe(method, status, err, start)
		if err != nil {
			return err
		}

		if status == http.StatusTooManyRequests {
			if attempt >= c.maxRetries {
				return apperr.New(apperr.ProviderUnavailable,
					"rate limited on %s %s after %d retries", method, path, c.maxRetries,
				).WithProvider(c.provider)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(retryAfter, attempt)):
				continue
			}
		}

		if err := c.checkStatus(method, path, status, respBody); err != nil {
			return err
		}

		// No content to parse (e.g. 204).
		if result == nil || status == http.StatusNoContent || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperr.Wrap(apperr.ProviderUnavailable, err,
				"unmarshaling response from %s %s", method, path,
			).WithProvider(c.provider)
		}
		return nil
	}
}

func (c *Client) roundTrip(
	ctx context.Context,
	method, url string,
	payload []byte,
) (int, []byte, string, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, "", ctx.Err()
		}
		return 0, nil, "", apperr.Wrap(apperr.ProviderUnavailable, err,
			"executing request %s %s", method, req.URL.Path,
		).WithProvider(c.provider)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, "", apperr.Wrap(apperr.ProviderUnavailable, err,
			"reading response body",
		).WithProvider(c.provider)
	}
	return resp.StatusCode, respBody, resp.Header.Get("Retry-After"), nil
}

func (c *Client) checkStatus(method, path string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.New(apperr.ReauthorizationRequired,
			"provider rejected the access token (%d) on %s %s", status, method, path,
		).WithProvider(c.provider)
	case status == http.StatusNotFound:
		return apperr.New(apperr.NotFound,
			"not found on %s %s", method, path,
		).WithProvider(c.provider)
	default:
		return apperr.New(apperr.ProviderUnavailable,
			"unexpected status %d on %s %s: %s", status, method, path, truncate(string(body), 300),
		).WithProvider(c.provider)
	}
}

// backoff honors a Retry-After header in seconds, otherwise doubles the
// backoff unit per attempt. Both are capped at maxBackoff.
func (c *Client) backoff(retryAfter string, attempt int) time.Duration {
	wait := c.backoffUnit << uint(attempt)
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			wait = time.Duration(seconds) * time.Second
		}
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

func (c *Client) observe(method string, status int, err error, start time.Time) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case status == http.StatusTooManyRequests:
		result = "ratelimited"
	case status >= 500:
		result = "servererror"
	case status >= 400:
		result = "usererror"
	}
	metricRequest.WithLabelValues(string(c.provider), method, result).Observe(time.Since(start).Seconds())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
