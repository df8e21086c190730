// Package scholar provides a client for the author-profile lookup API used to
// resolve citing-author affiliations. The service is rate limited and blocks
// automated callers aggressively, so the client carries a QPS ceiling and
// retries transient statuses with backoff.
package scholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrAuthorNotFound is returned when the service has no profile for an id.
var ErrAuthorNotFound = eris.New("scholar: author not found")

// Author is a looked-up author profile.
//
// Affiliation is the free-text affiliation the author self-reports on their
// profile. Organization is the service-verified institution name, present
// only when the profile is linked to a verified organization.
type Author struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Affiliation  string `json:"affiliation"`
	Organization string `json:"organization"`
}

// AuthorService defines the author lookup operation.
type AuthorService interface {
	// AuthorByID fetches one author profile by its scholar id.
	AuthorByID(ctx context.Context, id string) (*Author, error)
}

// Option configures the scholar client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an author lookup client.
func NewClient(apiKey string, opts ...Option) AuthorService {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.scholarmap.dev/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(1, 1), // conservative default: 1 req/s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes a request with backoff retries on transient failures
// (429, 500, 502, 503), honoring the rate limiter before each attempt.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "scholar: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("scholar: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) AuthorByID(ctx context.Context, id string) (*Author, error) {
	reqURL := fmt.Sprintf("%s/authors/%s", c.baseURL, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scholar: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "scholar: request failed")
	}

	if statusCode == http.StatusNotFound {
		return nil, ErrAuthorNotFound
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("scholar: unexpected status %d: %s", statusCode, string(body))
	}

	var author Author
	if err := json.Unmarshal(body, &author); err != nil {
		return nil, eris.Wrap(err, "scholar: unmarshal author")
	}
	return &author, nil
}
