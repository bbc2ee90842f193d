// Package rpc implements a JSON-RPC 2.0 client over HTTP for agent capability
// endpoints: listing and invoking tools, prompts, and resources.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Client talks JSON-RPC 2.0 to one capability endpoint. The request id
// sequence is owned by the client instance, not shared globally, and is
// advanced atomically so a Client is safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
	nextID     atomic.Uint64
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

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the given endpoint, which must be HTTP or
// HTTPS.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, errors.Errorf("capability endpoint must be HTTP/HTTPS, got: %s", endpoint)
	}

	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	ID      uint64      `json:"id"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC exchange and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	request := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID.Add(1),
	}
	if params != nil {
		request.Params = params
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	c.logger.Debug().Str("method", method).Str("endpoint", c.endpoint).Msg("capability call")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "capability request failed: %s", method)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.Errorf("capability endpoint returned status %d", resp.StatusCode)
	}

	// Some endpoints answer single-shot calls in SSE framing.
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		data, err = parseSSE(data)
		if err != nil {
			return nil, err
		}
	}

	var parsed rpcResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "invalid JSON in capability response")
	}
	if parsed.Error != nil {
		return nil, errors.Errorf("capability error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

// parseSSE extracts the first data frame from an SSE body, falling back to
// treating the whole body as JSON.
func parseSSE(body []byte) ([]byte, error) {
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(line, "data: ") {
			frame := []byte(strings.TrimPrefix(line, "data: "))
			if json.Valid(frame) {
				return frame, nil
			}
		}
	}
	if json.Valid(body) {
		return body, nil
	}
	return nil, errors.Errorf("could not parse event-stream response: %.200s", string(body))
}

// Tool is a tool definition advertised by the endpoint.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Prompt is a prompt definition advertised by the endpoint.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Resource is a resource definition advertised by the endpoint.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Capabilities aggregates everything an endpoint advertises.
type Capabilities struct {
	Tools     []Tool     `json:"tools"`
	Prompts   []Prompt   `json:"prompts"`
	Resources []Resource `json:"resources"`
}

// ListTools lists all available tools.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, errors.Wrap(err, "failed to decode tools")
	}
	return out.Tools, nil
}

// CallTool invokes a tool by name and returns its content.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (json.RawMessage, error) {
	params := map[string]interface{}{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}

	result, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var out struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(result, &out); err == nil && len(out.Content) > 0 {
		return out.Content, nil
	}
	return result, nil
}

// ListPrompts lists all available prompts.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	result, err := c.call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, errors.Wrap(err, "failed to decode prompts")
	}
	return out.Prompts, nil
}

// GetPrompt fetches a prompt by name.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]interface{}) (json.RawMessage, error) {
	params := map[string]interface{}{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}
	return c.call(ctx, "prompts/get", params)
}

// ListResources lists all available resources.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	result, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, errors.Wrap(err, "failed to decode resources")
	}
	return out.Resources, nil
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return c.call(ctx, "resources/read", map[string]interface{}{"uri": uri})
}

// Capabilities fetches tools, prompts, and resources in one sweep. Individual
// failures are logged and leave that section empty rather than failing the
// whole aggregate.
func (c *Client) Capabilities(ctx context.Context) Capabilities {
	caps := Capabilities{
		Tools:     []Tool{},
		Prompts:   []Prompt{},
		Resources: []Resource{},
	}

	if tools, err := c.ListTools(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("could not fetch tools")
	} else {
		caps.Tools = tools
	}

	if prompts, err := c.ListPrompts(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("could not fetch prompts")
	} else {
		caps.Prompts = prompts
	}

	if resources, err := c.ListResources(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("could not fetch resources")
	} else {
		caps.Resources = resources
	}

	return caps
}

// HealthCheck reports whether the endpoint answers a tool listing.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := c.ListTools(ctx)
	return err == nil
}
