// Package search implements the client for the agent registry's semantic
// search endpoint.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaseURL is the hosted search endpoint.
const DefaultBaseURL = "https://semantic-search.ag0.xyz"

// Result is one search hit: an agent identified by chain and registry id.
type Result struct {
	ChainID int     `json:"chainId"`
	AgentID string  `json:"agentId"`
	Score   float64 `json:"score"`
}

// Query is a search request. MinScore and TopK are optional filters.
type Query struct {
	Text     string
	MinScore *float64
	TopK     *int
}

// Client calls the search endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBaseURL points the client at a different search deployment.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// NewClient creates a search client with the hosted endpoint as default.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		timeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs a semantic query over the agent registry. A blank query returns
// no results without a network call. Rows the endpoint returns with missing
// or malformed fields are skipped, as are agent ids without a chain prefix.
func (c *Client) Search(ctx context.Context, query Query) ([]Result, error) {
	text := strings.TrimSpace(query.Text)
	if text == "" {
		return nil, nil
	}

	body := map[string]interface{}{"query": text}
	if query.MinScore != nil {
		body["minScore"] = *query.MinScore
	}
	if query.TopK != nil {
		body["topK"] = *query.TopK
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/api/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read search response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	return decodeResults(data)
}

// decodeResults accepts either a bare result array or a {"results": [...]}
// wrapper and drops rows that do not look like agent hits.
func decodeResults(data []byte) ([]Result, error) {
	var rows []json.RawMessage

	var wrapper struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Results != nil {
		rows = wrapper.Results
	} else if err := json.Unmarshal(data, &rows); err != nil {
		return nil, nil
	}

	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		var r Result
		if err := json.Unmarshal(row, &r); err != nil {
			continue
		}
		if r.AgentID == "" || !strings.Contains(r.AgentID, ":") {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
