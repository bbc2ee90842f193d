// Package agent provides the call facade for HTTP-reachable agents: it loads
// an agent card, decides per agent whether requests go through the payment
// gateway or straight to the declared endpoint, and returns plain responses.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/agent0-labs/agent0-go/gateway"
	"github.com/agent0-labs/agent0-go/retry"
)

// Negotiator is the payment client the facade delegates paid calls to.
// *gateway.Client satisfies it.
type Negotiator interface {
	Negotiate(ctx context.Context, gatewayURL, message string) (*gateway.Outcome, error)
}

// Client calls one agent, described by its card. The card is fetched once at
// construction; the payment decision is made from it, not per call.
type Client struct {
	cardURL    string
	httpClient *http.Client
	timeout    time.Duration
	retryCfg   retry.Config
	logger     zerolog.Logger
	payments   Negotiator

	card     *Card
	endpoint string
	payment  *PaymentConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout sets the per-call timeout for direct (unpaid) agent calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPayments wires in a payment negotiator. Without one, agents that
// require payment cannot be called.
func WithPayments(n Negotiator) Option {
	return func(c *Client) { c.payments = n }
}

// WithRetryConfig tunes the card-fetch retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient fetches and parses the agent card at cardURL and returns a client
// bound to that agent.
func NewClient(ctx context.Context, cardURL string, opts ...Option) (*Client, error) {
	c := &Client{
		cardURL:    cardURL,
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
		retryCfg:   retry.DefaultConfig,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	card, err := c.fetchCard(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load agent card")
	}
	if card.URL == "" {
		return nil, errors.New("agent card has no endpoint URL")
	}

	c.card = card
	c.endpoint = card.URL
	c.payment = card.paymentConfig()

	ev := c.logger.Info().Str("agent", card.Name).Str("endpoint", card.URL)
	if c.payment != nil {
		ev = ev.Str("price_usdc", c.payment.PriceUSDC)
	}
	ev.Msg("agent card loaded")

	return c, nil
}

// Card returns the loaded agent card.
func (c *Client) Card() *Card {
	return c.card
}

// Skills returns the skills the agent advertises.
func (c *Client) Skills() []Skill {
	return c.card.Skills
}

// PriceUSDC returns the advertised per-request price, or "" for free agents.
func (c *Client) PriceUSDC() string {
	if c.payment == nil {
		return ""
	}
	return c.payment.PriceUSDC
}

// CallOption adjusts a single Call.
type CallOption func(*callParams)

type callParams struct {
	skill   string
	context map[string]interface{}
}

// WithSkill names the specific skill to invoke.
func WithSkill(skill string) CallOption {
	return func(p *callParams) { p.skill = skill }
}

// WithContext merges extra parameters into the request payload.
func WithContext(context map[string]interface{}) CallOption {
	return func(p *callParams) { p.context = context }
}

// Call sends message to the agent and returns its raw JSON response. Paid
// agents are reached through the payment negotiator, which carries only the
// message text; free agents are called directly over the card's declared
// transport with the skill and context merged into the payload.
func (c *Client) Call(ctx context.Context, message string, opts ...CallOption) (json.RawMessage, error) {
	var params callParams
	for _, opt := range opts {
		opt(&params)
	}

	if c.payment != nil {
		if c.payments == nil {
			return nil, errors.New("agent requires payment but no negotiator is configured")
		}
		c.logger.Debug().Str("gateway", c.payment.GatewayURL).Msg("routing call through payment gateway")

		outcome, err := c.payments.Negotiate(ctx, c.payment.GatewayURL, message)
		if err != nil {
			return nil, err
		}
		return outcome.Raw, nil
	}

	payload := map[string]interface{}{"message": message}
	if params.skill != "" {
		payload["skill"] = params.skill
	}
	for k, v := range params.context {
		payload[k] = v
	}

	transport := c.card.PreferredTransport
	if transport == "" {
		transport = TransportHTTPJSON
	}
	switch transport {
	case TransportHTTPJSON:
		return c.callHTTPJSON(ctx, payload)
	default:
		return nil, errors.Errorf("unsupported transport: %s", transport)
	}
}

// HealthCheck reports whether the agent answers a trivial call.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := c.Call(ctx, "health check")
	return err == nil
}

// fetchCard GETs the card URL, retrying connection failures and server-side
// errors. Malformed cards are not retried.
func (c *Client) fetchCard(ctx context.Context) (*Card, error) {
	return retry.WithRetry(ctx, c.retryCfg, isTransientCardError, func() (*Card, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cardURL, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build card request")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &transientError{err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &transientError{errors.Errorf("card fetch returned status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("card fetch returned status %d", resp.StatusCode)
		}

		var card Card
		if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
			return nil, errors.Wrap(err, "failed to decode agent card")
		}
		return &card, nil
	})
}

// callHTTPJSON POSTs the payload to the agent endpoint. Non-JSON bodies are
// wrapped so callers always get JSON back.
func (c *Client) callHTTPJSON(ctx context.Context, payload map[string]interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call agent")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read agent response")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.Errorf("agent returned status %d", resp.StatusCode)
	}

	if !json.Valid(data) {
		wrapped, err := json.Marshal(map[string]string{"response": string(data)})
		if err != nil {
			return nil, errors.Wrap(err, "failed to wrap text response")
		}
		return wrapped, nil
	}
	return data, nil
}

// transientError marks a card-fetch failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransientCardError(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
