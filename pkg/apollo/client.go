// Package apollo provides access to the primary organization directory.
// The API has two capability classes: zero-cost preview queries (Finder)
// and priced full-record retrieval (Enricher). Resolution code receives
// only a Finder, so preview-tier paths cannot reach the priced endpoint.
package apollo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-pipeline/internal/resilience"
)

// Finder is the zero-cost preview query surface.
type Finder interface {
	// FilterByDomain issues an exact-match filter on registrable domain.
	// Returns nil when no organization matches.
	FilterByDomain(ctx context.Context, domain string) (*OrgPreview, error)
	// SearchOrganizations pages through name-search results.
	SearchOrganizations(ctx context.Context, name string, page int) (*SearchPage, error)
	// SuggestOrganizations returns fuzzy near-matches for a name.
	SuggestOrganizations(ctx context.Context, name string) ([]OrgPreview, error)
}

// Enricher is the priced full-record retrieval surface.
type Enricher interface {
	// EnrichOrganization fetches the full priced record for an identifier.
	EnrichOrganization(ctx context.Context, id string, scope AssociationScope) (*OrgRecord, error)
	// EnrichProfile fetches the full priced person profile for a contact id.
	EnrichProfile(ctx context.Context, id string) (*ProfileRecord, error)
}

// Client combines both capability classes.
type Client interface {
	Finder
	Enricher
}

// AssociationScope selects how related organizations are attributed:
// only current affiliations, or any historical one. The two differ by an
// order of magnitude in result size.
type AssociationScope string

const (
	ScopeCurrent AssociationScope = "current"
	ScopeEver    AssociationScope = "ever"
)

// OrgPreview is the shallow record returned by preview queries.
type OrgPreview struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Domain     string `json:"primary_domain"`
	WebsiteURL string `json:"website_url"`
}

// SearchPage is one page of a paginated name search.
type SearchPage struct {
	Organizations []OrgPreview `json:"organizations"`
	Page          int          `json:"page"`
	TotalPages    int          `json:"total_pages"`
}

// OrgRecord is a full priced record: the structured subset plus the raw
// response body so unknown upstream fields survive caching.
type OrgRecord struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Domain        string          `json:"primary_domain"`
	WebsiteURL    string          `json:"website_url"`
	Industry      string          `json:"industry"`
	EmployeeCount int             `json:"estimated_num_employees"`
	City          string          `json:"city"`
	State         string          `json:"state"`
	Country       string          `json:"country"`
	RelatedOrgIDs []string        `json:"related_org_ids"`
	KeyContactIDs []string        `json:"key_contact_ids"`
	Raw           json.RawMessage `json:"-"`
}

// ProfileRecord is a full priced person profile.
type ProfileRecord struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Title          string          `json:"title"`
	Seniority      string          `json:"seniority"`
	Email          string          `json:"email"`
	LinkedinURL    string          `json:"linkedin_url"`
	OrganizationID string          `json:"organization_id"`
	Raw            json.RawMessage `json:"-"`
}

// ClientOption configures the directory client.
type ClientOption func(*httpClient)

// WithRateLimit sets a per-second rate limit for directory calls.
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

// NewClient creates a directory client for the given base URL and key.
func NewClient(baseURL, apiKey string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FilterByDomain(ctx context.Context, domain string) (*OrgPreview, error) {
	q := url.Values{"domain": {domain}}
	var resp struct {
		Organization *OrgPreview `json:"organization"`
	}
	found, err := c.getJSON(ctx, "/v1/organizations/preview", q, &resp)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: filter by domain %s", domain))
	}
	if !found {
		return nil, nil
	}
	return resp.Organization, nil
}

func (c *httpClient) SearchOrganizations(ctx context.Context, name string, page int) (*SearchPage, error) {
	q := url.Values{
		"name":     {name},
		"page":     {strconv.Itoa(page)},
		"per_page": {"25"},
	}
	var sp SearchPage
	if _, err := c.getJSON(ctx, "/v1/organizations/search", q, &sp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: search organizations %q page %d", name, page))
	}
	return &sp, nil
}

func (c *httpClient) SuggestOrganizations(ctx context.Context, name string) ([]OrgPreview, error) {
	q := url.Values{"q": {name}}
	var resp struct {
		Organizations []OrgPreview `json:"organizations"`
	}
	if _, err := c.getJSON(ctx, "/v1/organizations/suggest", q, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: suggest organizations %q", name))
	}
	return resp.Organizations, nil
}

func (c *httpClient) EnrichOrganization(ctx context.Context, id string, scope AssociationScope) (*OrgRecord, error) {
	if scope == "" {
		scope = ScopeCurrent
	}
	q := url.Values{"association_scope": {string(scope)}}

	body, found, err := c.getRaw(ctx, "/v1/organizations/"+url.PathEscape(id), q)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: enrich organization %s", id))
	}
	if !found {
		return nil, eris.Errorf("apollo: organization %s not found", id)
	}

	var rec OrgRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: decode organization %s", id))
	}
	rec.Raw = body
	return &rec, nil
}

func (c *httpClient) EnrichProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	body, found, err := c.getRaw(ctx, "/v1/people/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: enrich profile %s", id))
	}
	if !found {
		return nil, eris.Errorf("apollo: profile %s not found", id)
	}

	var rec ProfileRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: decode profile %s", id))
	}
	rec.Raw = body
	return &rec, nil
}

// getJSON issues a rate-limited, retried GET and decodes the response into
// out. The bool return is false for a 404.
func (c *httpClient) getJSON(ctx context.Context, path string, q url.Values, out any) (bool, error) {
	body, found, err := c.getRaw(ctx, path, q)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return true, eris.Wrap(err, "decode response")
	}
	return true, nil
}

func (c *httpClient) getRaw(ctx context.Context, path string, q url.Values) ([]byte, bool, error) {
	type result struct {
		body  []byte
		found bool
	}

	res, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (result, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return result{}, err
		}

		u := c.baseURL + path
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return result{}, eris.Wrap(err, "build request")
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return result{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return result{}, eris.Wrap(err, "read body")
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return result{found: false}, nil
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return result{}, resilience.NewTransientError(
				eris.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)),
				resp.StatusCode,
			)
		case resp.StatusCode != http.StatusOK:
			return result{}, eris.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
		}

		return result{body: body, found: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.body, res.found, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
