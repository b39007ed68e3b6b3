// Package priorart provides the HTTP client for the external prior-art and
// regulatory search service used by the legal agent.
//
// Lookups fail open: an unreachable or erroring service yields empty
// results, and the legal analysis proceeds without prior-art context rather
// than failing the run.
package priorart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"patentflow/pkg/logx"
)

// Result is a single prior-art or regulatory search hit.
type Result struct {
	Title     string  `json:"title"`
	Reference string  `json:"reference"` // e.g. patent number or statute cite
	Summary   string  `json:"summary"`
	Score     float64 `json:"score"`
}

// Client talks to the prior-art search service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logx.Logger
}

// NewClient creates a prior-art client. An empty baseURL produces a client
// whose searches always return nothing, which keeps the legal agent wiring
// uniform in deployments without the service.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logx.NewLogger("priorart"),
	}
}

// SearchPriorArt queries prior art by invention title. Always returns a
// usable (possibly empty) slice.
func (c *Client) SearchPriorArt(ctx context.Context, title string, limit int) []Result {
	return c.search(ctx, "/v1/prior-art", title, limit)
}

// SearchRegulations queries regulatory/statutory material by keyword, e.g.
// "35 USC 112 enablement".
func (c *Client) SearchRegulations(ctx context.Context, query string, limit int) []Result {
	return c.search(ctx, "/v1/regulations", query, limit)
}

func (c *Client) search(ctx context.Context, path, query string, limit int) []Result {
	if c.baseURL == "" || query == "" {
		return []Result{}
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.logger.Warn("bad prior-art URL, skipping search: %v", err)
		return []Result{}
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		c.logger.Warn("building prior-art request failed, skipping: %v", err)
		return []Result{}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("prior-art search unavailable, proceeding without it: %v", err)
		return []Result{}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("prior-art search returned %s, proceeding without it", resp.Status)
		return []Result{}
	}

	var payload struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Warn("prior-art response decode failed, proceeding without it: %v", err)
		return []Result{}
	}

	if payload.Results == nil {
		return []Result{}
	}
	return payload.Results
}

// String implements fmt.Stringer for log output.
func (c *Client) String() string {
	if c.baseURL == "" {
		return "priorart(disabled)"
	}
	return fmt.Sprintf("priorart(%s)", c.baseURL)
}
