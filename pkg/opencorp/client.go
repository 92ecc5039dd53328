// Package opencorp provides the secondary company registry used as the
// tier-4 resolution fallback. Coverage is weaker than the primary
// directory, and only zero-cost search forms exist: the registry has no
// priced retrieval at all.
package opencorp

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

	"github.com/sells-group/prospect-pipeline/internal/resilience"
)

// Client is the secondary-registry search surface.
type Client interface {
	// SearchExact returns companies whose registered name matches exactly
	// (case-insensitive on the registry side).
	SearchExact(ctx context.Context, name string) ([]Company, error)
	// SearchFuzzy returns near-matches for a name.
	SearchFuzzy(ctx context.Context, name string) ([]Company, error)
}

// Company is a registry search result.
type Company struct {
	Number     string `json:"company_number"`
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url,omitempty"`
}

// ClientOption configures the registry client.
type ClientOption func(*httpClient)

// WithRateLimit sets a per-second rate limit for registry calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a registry client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(2, 2),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SearchExact(ctx context.Context, name string) ([]Company, error) {
	return c.search(ctx, name, "exact")
}

func (c *httpClient) SearchFuzzy(ctx context.Context, name string) ([]Company, error) {
	return c.search(ctx, name, "fuzzy")
}

func (c *httpClient) search(ctx context.Context, name, mode string) ([]Company, error) {
	q := url.Values{"q": {name}, "mode": {mode}}

	companies, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Company, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/companies/search?"+q.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, eris.Wrap(err, "read body")
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, nil
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(
				eris.Errorf("status %d", resp.StatusCode), resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, eris.Errorf("status %d", resp.StatusCode)
		}

		var out struct {
			Companies []Company `json:"companies"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "decode response")
		}
		return out.Companies, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("opencorp: search %s %q", mode, name))
	}
	return companies, nil
}
