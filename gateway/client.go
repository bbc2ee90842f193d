// Package gateway implements the payment negotiation protocol against an
// agent's x402 payment gateway: an unpaid probe, challenge interpretation, a
// balance-gated signing step, and the paid resubmission.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agent0-labs/agent0-go"
	"github.com/agent0-labs/agent0-go/validation"
)

// Default per-call timeouts. The paid resubmission gets a longer window since
// the gateway verifies settlement before answering.
const (
	DefaultProbeTimeout  = 30 * time.Second
	DefaultSettleTimeout = 60 * time.Second
)

// negotiation states, in protocol order
type state string

const (
	stateInit              state = "init"
	stateAttemptSent       state = "attempt-sent"
	stateChallengeReceived state = "challenge-received"
	statePaymentSigned     state = "payment-signed"
	statePaymentSubmitted  state = "payment-submitted"
	stateCompleted         state = "completed"
	stateFailed            state = "failed"
)

// BalanceReader reports a holder's token balance in display units. It gates
// signing: a payment is never signed against a balance known to be short.
type BalanceReader interface {
	Balance(ctx context.Context, holder string) (*big.Float, error)
}

// Client drives the two-phase payment exchange with a gateway endpoint.
// Each Negotiate call is independent; the Client holds only read-only
// collaborators and is safe for concurrent use.
type Client struct {
	httpClient    *http.Client
	signer        agent0.Signer
	balance       BalanceReader
	skipBalance   bool
	probeTimeout  time.Duration
	settleTimeout time.Duration
	logger        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithBalanceReader sets the balance oracle used to gate signing.
func WithBalanceReader(reader BalanceReader) Option {
	return func(c *Client) { c.balance = reader }
}

// WithoutBalanceCheck explicitly disables the pre-signing funds check.
// Payments are then signed without knowing whether the wallet can cover them.
func WithoutBalanceCheck() Option {
	return func(c *Client) { c.skipBalance = true }
}

// WithProbeTimeout sets the timeout for the unpaid first attempt.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) { c.probeTimeout = d }
}

// WithSettleTimeout sets the timeout for the paid resubmission.
func WithSettleTimeout(d time.Duration) Option {
	return func(c *Client) { c.settleTimeout = d }
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a negotiation client around the given signer. A balance
// reader is required unless the funds check is disabled with
// WithoutBalanceCheck.
func NewClient(signer agent0.Signer, opts ...Option) (*Client, error) {
	if signer == nil {
		return nil, agent0.ErrInvalidKey
	}

	c := &Client{
		httpClient:    &http.Client{},
		signer:        signer,
		probeTimeout:  DefaultProbeTimeout,
		settleTimeout: DefaultSettleTimeout,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.balance == nil && !c.skipBalance {
		return nil, agent0.NewPaymentError(agent0.ErrCodeConfiguration,
			"no balance reader configured; use WithBalanceReader or opt out with WithoutBalanceCheck", nil)
	}
	return c, nil
}

// Negotiate sends message to the gateway, satisfies a payment challenge if
// one comes back, and returns the gateway's final response. It never retries:
// every invocation generates a fresh nonce and message id, so re-invoking
// after a failure produces an independent authorization rather than a replay.
func (c *Client) Negotiate(ctx context.Context, gatewayURL, message string) (*Outcome, error) {
	if gatewayURL == "" {
		return nil, agent0.ErrMissingGateway
	}

	st := stateInit
	log := c.logger.With().Str("gateway", gatewayURL).Logger()

	probe := Request{
		Message: Message{
			Role:  "user",
			Parts: []Part{{Kind: "text", Text: message}},
		},
	}

	st = stateAttemptSent
	log.Debug().Str("state", string(st)).Msg("sending unpaid attempt")

	statusCode, body, err := c.post(ctx, gatewayURL, probe, c.probeTimeout)
	if err != nil {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeTransport, "gateway request failed", err))
	}
	if statusCode != http.StatusOK && statusCode != http.StatusPaymentRequired {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeTransport, "unexpected gateway status", agent0.ErrTransport).
			WithDetails("status", statusCode))
	}

	var envelope struct {
		Task *Task `json:"task"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeTransport, "malformed gateway response",
			fmt.Errorf("%w: %v", agent0.ErrTransport, err)))
	}

	challenge, err := envelope.Task.PaymentChallenge()
	if err != nil {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeProtocol, "invalid payment challenge", err))
	}
	if challenge == nil {
		// No payment was required after all; the exchange is already complete.
		st = stateCompleted
		log.Debug().Str("state", string(st)).Int("status", statusCode).Msg("no challenge, returning response")
		return &Outcome{Status: StatusFree, StatusCode: statusCode, Raw: body, Task: envelope.Task}, nil
	}

	st = stateChallengeReceived
	if len(challenge.Accepts) == 0 {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeProtocol, "challenge has no accepted payment options", agent0.ErrProtocol))
	}

	// The gateway may offer several options; the first listed one is taken.
	requirement := challenge.Accepts[0]
	log.Info().
		Str("state", string(st)).
		Str("network", requirement.Network).
		Str("amount", requirement.MaxAmountRequired).
		Msg("payment required")

	if err := validation.ValidateRequirement(&requirement); err != nil {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeProtocol, "unusable payment requirement", err))
	}
	if requirement.Network != c.signer.Network() {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeProtocol, "challenge network does not match signer", agent0.ErrProtocol).
			WithDetails("challenge", requirement.Network).
			WithDetails("signer", c.signer.Network()))
	}

	if err := c.checkBalance(ctx, &requirement); err != nil {
		return nil, c.fail(log, err)
	}

	payload, err := c.signer.Sign(&requirement)
	if err != nil {
		return nil, c.fail(log, err)
	}
	st = statePaymentSigned
	log.Debug().Str("state", string(st)).Msg("transfer authorization signed")

	paid := Request{
		Message: Message{
			MessageID: uuid.NewString(),
			Role:      "user",
			Parts:     []Part{{Kind: "text", Text: message}},
			Metadata: map[string]interface{}{
				MetadataPaymentPayload: payload,
				MetadataPaymentStatus:  PaymentSubmitted,
			},
		},
	}
	if envelope.Task != nil {
		paid.TaskID = envelope.Task.ID
		paid.ContextID = envelope.Task.ContextID
	}

	st = statePaymentSubmitted
	log.Debug().Str("state", string(st)).Msg("resubmitting with signed payment")

	statusCode, body, err = c.post(ctx, gatewayURL, paid, c.settleTimeout)
	if err != nil {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeTransport, "paid resubmission failed", err))
	}
	if statusCode != http.StatusOK && statusCode != http.StatusPaymentRequired {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeTransport, "unexpected gateway status on resubmission", agent0.ErrTransport).
			WithDetails("status", statusCode))
	}

	var final struct {
		Task *Task `json:"task"`
	}
	if err := json.Unmarshal(body, &final); err != nil {
		return nil, c.fail(log, agent0.NewPaymentError(agent0.ErrCodeTransport, "malformed gateway response after payment",
			fmt.Errorf("%w: %v", agent0.ErrTransport, err)))
	}

	st = stateCompleted
	log.Info().Str("state", string(st)).Int("status", statusCode).Msg("negotiation complete")

	return &Outcome{Status: StatusPaid, StatusCode: statusCode, Raw: body, Task: final.Task}, nil
}

// checkBalance compares the holder's display-unit balance against the
// requirement's amount before anything is signed. A balance change between
// this check and on-chain settlement is still possible; that race is accepted
// and resolved by the token contract, not here.
func (c *Client) checkBalance(ctx context.Context, requirement *agent0.PaymentRequirement) error {
	if c.balance == nil {
		c.logger.Warn().Msg("funds check disabled, signing blind")
		return nil
	}

	chain, err := agent0.ChainByNetwork(requirement.Network)
	decimals := 6
	if err == nil {
		decimals = chain.Decimals
	}

	required, err := agent0.DisplayAmount(requirement.MaxAmountRequired, decimals)
	if err != nil {
		return agent0.NewPaymentError(agent0.ErrCodeProtocol, "unparseable requirement amount", err)
	}

	balance, err := c.balance.Balance(ctx, c.signer.Address())
	if err != nil {
		return agent0.NewPaymentError(agent0.ErrCodeTransport, "balance check failed", err)
	}

	if balance.Cmp(required) < 0 {
		return agent0.NewPaymentError(agent0.ErrCodeInsufficientFunds, "balance below required amount", agent0.ErrInsufficientFunds).
			WithDetails("balance", balance.Text('f', decimals)).
			WithDetails("required", required.Text('f', decimals))
	}
	return nil
}

// fail logs a terminal transition and passes the error through unchanged.
func (c *Client) fail(log zerolog.Logger, err error) error {
	log.Error().Str("state", string(stateFailed)).Err(err).Msg("negotiation failed")
	return err
}

// post sends one JSON request with its own timeout and returns the status
// code and body. Statuses are not interpreted here; both protocol-valid and
// invalid codes come back for the state machine to judge.
func (c *Client) post(ctx context.Context, url string, body interface{}, timeout time.Duration) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, data, nil
}
