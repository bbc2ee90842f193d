package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agent0-labs/agent0-go"
	"github.com/agent0-labs/agent0-go/evm"
)

const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fixedBalance struct {
	value *big.Float
	err   error
	calls int
}

func (f *fixedBalance) Balance(_ context.Context, _ string) (*big.Float, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.value, nil
}

func testSigner(t *testing.T) *evm.Signer {
	t.Helper()
	signer, err := evm.NewSigner(
		evm.WithPrivateKey(testPrivateKeyHex),
		evm.WithChainID(8453),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer
}

func challengeBody(t *testing.T, network, amount string) []byte {
	t.Helper()
	challenge := agent0.PaymentRequired{
		X402Version: 1,
		Error:       "payment required",
		Accepts: []agent0.PaymentRequirement{{
			Scheme:            "exact",
			Network:           network,
			MaxAmountRequired: amount,
			Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			PayTo:             "0x2222222222222222222222222222222222222222",
			MaxTimeoutSeconds: 600,
		}},
	}
	raw, err := json.Marshal(challenge)
	if err != nil {
		t.Fatalf("failed to marshal challenge: %v", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"task": map[string]interface{}{
			"id":        "task-123",
			"contextId": "ctx-456",
			"status": map[string]interface{}{
				"state": "input-required",
				"message": map[string]interface{}{
					"metadata": map[string]json.RawMessage{
						MetadataPaymentRequired: raw,
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return body
}

func TestNegotiateMissingGateway(t *testing.T) {
	client, err := NewClient(testSigner(t), WithoutBalanceCheck())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Negotiate(context.Background(), "", "hello"); !errors.Is(err, agent0.ErrMissingGateway) {
		t.Errorf("expected ErrMissingGateway, got %v", err)
	}
}

func TestNewClientNilSigner(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Error("expected error for nil signer")
	}
}

func TestNegotiateFreeResponse(t *testing.T) {
	responseBody := []byte(`{"task":{"id":"t1","contextId":"c1","status":{"state":"completed"}},"answer":"hello back"}`)

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write(responseBody)
	}))
	defer server.Close()

	client, err := NewClient(testSigner(t), WithoutBalanceCheck())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := client.Negotiate(context.Background(), server.URL, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected exactly 1 request, got %d", calls)
	}
	if outcome.Status != StatusFree {
		t.Errorf("expected StatusFree, got %s", outcome.Status)
	}
	if string(outcome.Raw) != string(responseBody) {
		t.Errorf("expected raw body preserved verbatim, got %s", outcome.Raw)
	}
	if outcome.Task == nil || outcome.Task.ID != "t1" {
		t.Error("expected task envelope decoded")
	}
}

func TestNegotiateHappyPath(t *testing.T) {
	var calls int
	var paidRequest Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		switch calls {
		case 1:
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(challengeBody(t, "eip155:8453", "50000"))
		case 2:
			if err := json.Unmarshal(body, &paidRequest); err != nil {
				t.Errorf("paid request is not valid JSON: %v", err)
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"task":{"id":"task-123","contextId":"ctx-456","status":{"state":"completed"}}}`))
		}
	}))
	defer server.Close()

	balance := &fixedBalance{value: big.NewFloat(10)}
	client, err := NewClient(testSigner(t), WithBalanceReader(balance))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := client.Negotiate(context.Background(), server.URL, "do the work")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", calls)
	}
	if balance.calls != 1 {
		t.Errorf("expected exactly 1 balance check, got %d", balance.calls)
	}
	if outcome.Status != StatusPaid {
		t.Errorf("expected StatusPaid, got %s", outcome.Status)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", outcome.StatusCode)
	}

	// Correlation identifiers from the challenge must be echoed back.
	if paidRequest.TaskID != "task-123" {
		t.Errorf("expected taskId echoed, got %q", paidRequest.TaskID)
	}
	if paidRequest.ContextID != "ctx-456" {
		t.Errorf("expected contextId echoed, got %q", paidRequest.ContextID)
	}
	if paidRequest.Message.MessageID == "" {
		t.Error("expected a fresh messageId on the paid resubmission")
	}
	if len(paidRequest.Message.Parts) != 1 || paidRequest.Message.Parts[0].Text != "do the work" {
		t.Error("expected the original message text resubmitted unchanged")
	}

	status, ok := paidRequest.Message.Metadata[MetadataPaymentStatus].(string)
	if !ok || status != PaymentSubmitted {
		t.Errorf("expected payment status %q, got %v", PaymentSubmitted, paidRequest.Message.Metadata[MetadataPaymentStatus])
	}

	rawPayload, err := json.Marshal(paidRequest.Message.Metadata[MetadataPaymentPayload])
	if err != nil {
		t.Fatalf("failed to remarshal payload: %v", err)
	}
	var payload struct {
		X402Version int    `json:"x402Version"`
		Network     string `json:"network"`
		Payload     struct {
			Signature     string                  `json:"signature"`
			Authorization agent0.EVMAuthorization `json:"authorization"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.X402Version != 1 {
		t.Errorf("expected x402Version 1, got %d", payload.X402Version)
	}
	if payload.Network != "eip155:8453" {
		t.Errorf("expected network eip155:8453, got %s", payload.Network)
	}
	if payload.Payload.Authorization.To != "0x2222222222222222222222222222222222222222" {
		t.Errorf("expected payTo as authorization target, got %s", payload.Payload.Authorization.To)
	}
	if payload.Payload.Authorization.Value != "50000" {
		t.Errorf("expected value 50000, got %s", payload.Payload.Authorization.Value)
	}
	if payload.Payload.Authorization.ValidAfter != "0" {
		t.Errorf("expected validAfter 0, got %s", payload.Payload.Authorization.ValidAfter)
	}
	if len(payload.Payload.Signature) != 132 {
		t.Errorf("expected 132-char signature, got %d chars", len(payload.Payload.Signature))
	}
}

func TestNegotiateSecond402Tolerated(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		if calls == 1 {
			w.Write(challengeBody(t, "eip155:8453", "50000"))
		} else {
			w.Write([]byte(`{"task":{"id":"task-123","contextId":"ctx-456","status":{"state":"working"}}}`))
		}
	}))
	defer server.Close()

	client, err := NewClient(testSigner(t), WithBalanceReader(&fixedBalance{value: big.NewFloat(10)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := client.Negotiate(context.Background(), server.URL, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusPaid {
		t.Errorf("expected StatusPaid, got %s", outcome.Status)
	}
	if outcome.StatusCode != http.StatusPaymentRequired {
		t.Errorf("expected status 402, got %d", outcome.StatusCode)
	}
}

func TestNegotiateInsufficientFunds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeBody(t, "eip155:8453", "50000"))
	}))
	defer server.Close()

	// Challenge asks for 0.05 USDC; wallet holds 0.01.
	client, err := NewClient(testSigner(t), WithBalanceReader(&fixedBalance{value: big.NewFloat(0.01)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.Negotiate(context.Background(), server.URL, "hello")
	if !errors.Is(err, agent0.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no resubmission after a failed funds check, got %d requests", calls)
	}

	var paymentErr *agent0.PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatal("expected a PaymentError")
	}
	if paymentErr.Code != agent0.ErrCodeInsufficientFunds {
		t.Errorf("expected code %s, got %s", agent0.ErrCodeInsufficientFunds, paymentErr.Code)
	}
	if paymentErr.Details["required"] == nil || paymentErr.Details["balance"] == nil {
		t.Error("expected balance and required amounts in error details")
	}
}

func TestNegotiateBalanceCheckFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeBody(t, "eip155:8453", "50000"))
	}))
	defer server.Close()

	readErr := errors.New("rpc unavailable")
	client, err := NewClient(testSigner(t), WithBalanceReader(&fixedBalance{err: readErr}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.Negotiate(context.Background(), server.URL, "hello"); !errors.Is(err, readErr) {
		t.Errorf("expected balance reader error propagated, got %v", err)
	}
}

func TestNewClientRequiresBalanceReaderOrOptOut(t *testing.T) {
	_, err := NewClient(testSigner(t))
	var paymentErr *agent0.PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != agent0.ErrCodeConfiguration {
		t.Fatalf("expected configuration-coded PaymentError without a reader, got %v", err)
	}

	if _, err := NewClient(testSigner(t), WithoutBalanceCheck()); err != nil {
		t.Errorf("unexpected error with explicit opt-out: %v", err)
	}
	if _, err := NewClient(testSigner(t), WithBalanceReader(&fixedBalance{value: big.NewFloat(1)})); err != nil {
		t.Errorf("unexpected error with a reader: %v", err)
	}
}

func TestNegotiateBalanceCheckOptOut(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(challengeBody(t, "eip155:8453", "50000"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"task":{"id":"task-123","contextId":"ctx-456","status":{"state":"completed"}}}`))
	}))
	defer server.Close()

	client, err := NewClient(testSigner(t), WithoutBalanceCheck())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := client.Negotiate(context.Background(), server.URL, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != StatusPaid {
		t.Errorf("expected StatusPaid, got %s", outcome.Status)
	}
}

func TestNegotiateTransportErrors(t *testing.T) {
	tests := []struct {
		name         string
		probeStatus  int
		settleStatus int
	}{
		{"probe 500", http.StatusInternalServerError, http.StatusOK},
		{"probe 404", http.StatusNotFound, http.StatusOK},
		{"settle 500", http.StatusPaymentRequired, http.StatusInternalServerError},
		{"settle 403", http.StatusPaymentRequired, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls == 1 {
					w.WriteHeader(tt.probeStatus)
					if tt.probeStatus == http.StatusPaymentRequired {
						w.Write(challengeBody(t, "eip155:8453", "50000"))
					}
					return
				}
				w.WriteHeader(tt.settleStatus)
			}))
			defer server.Close()

			client, err := NewClient(testSigner(t), WithBalanceReader(&fixedBalance{value: big.NewFloat(10)}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err = client.Negotiate(context.Background(), server.URL, "hello")
			if !errors.Is(err, agent0.ErrTransport) {
				t.Fatalf("expected ErrTransport, got %v", err)
			}

			var paymentErr *agent0.PaymentError
			if !errors.As(err, &paymentErr) {
				t.Fatal("expected a PaymentError")
			}
			if paymentErr.Code != agent0.ErrCodeTransport {
				t.Errorf("expected code %s, got %s", agent0.ErrCodeTransport, paymentErr.Code)
			}
		})
	}
}

func TestNegotiateEmptyAccepts(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"task": map[string]interface{}{
			"id":        "task-123",
			"contextId": "ctx-456",
			"status": map[string]interface{}{
				"message": map[string]interface{}{
					"metadata": map[string]interface{}{
						MetadataPaymentRequired: map[string]interface{}{
							"x402Version": 1,
							"accepts":     []interface{}{},
						},
					},
				},
			},
		},
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(body)
	}))
	defer server.Close()

	client, err := NewClient(testSigner(t), WithoutBalanceCheck())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.Negotiate(context.Background(), server.URL, "hello"); !errors.Is(err, agent0.ErrProtocol) {
		t.Errorf("expected ErrProtocol for empty accepts, got %v", err)
	}
}

func TestNegotiateNetworkMismatch(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeBody(t, "eip155:84532", "50000"))
	}))
	defer server.Close()

	// Signer is bound to Base mainnet; challenge asks for Base Sepolia.
	client, err := NewClient(testSigner(t), WithoutBalanceCheck())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.Negotiate(context.Background(), server.URL, "hello"); !errors.Is(err, agent0.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for network mismatch, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no resubmission on mismatch, got %d requests", calls)
	}
}

func TestNegotiateMalformedSettlementBody(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(challengeBody(t, "eip155:8453", "50000"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<<< not json >>>"))
	}))
	defer server.Close()

	client, err := NewClient(testSigner(t), WithBalanceReader(&fixedBalance{value: big.NewFloat(10)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := client.Negotiate(context.Background(), server.URL, "hello")
	if !errors.Is(err, agent0.ErrTransport) {
		t.Fatalf("expected ErrTransport for a malformed settlement body, got %v", err)
	}
	if outcome != nil {
		t.Errorf("expected no outcome, got %+v", outcome)
	}

	var paymentErr *agent0.PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatal("expected a PaymentError")
	}
	if paymentErr.Code != agent0.ErrCodeTransport {
		t.Errorf("expected code %s, got %s", agent0.ErrCodeTransport, paymentErr.Code)
	}
}

func TestNegotiateMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	client, err := NewClient(testSigner(t), WithoutBalanceCheck())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.Negotiate(context.Background(), server.URL, "hello")
	var paymentErr *agent0.PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != agent0.ErrCodeTransport {
		t.Errorf("expected transport-coded PaymentError for malformed body, got %v", err)
	}
}

func TestTaskPaymentChallenge(t *testing.T) {
	t.Run("nil task", func(t *testing.T) {
		var task *Task
		challenge, err := task.PaymentChallenge()
		if challenge != nil || err != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", challenge, err)
		}
	})

	t.Run("no metadata", func(t *testing.T) {
		task := &Task{ID: "t1"}
		challenge, err := task.PaymentChallenge()
		if challenge != nil || err != nil {
			t.Errorf("expected (nil, nil), got (%v, %v)", challenge, err)
		}
	})

	t.Run("malformed challenge", func(t *testing.T) {
		task := &Task{
			Status: TaskStatus{
				Message: &StatusMessage{
					Metadata: map[string]json.RawMessage{
						MetadataPaymentRequired: json.RawMessage(`"not an object"`),
					},
				},
			},
		}
		if _, err := task.PaymentChallenge(); !errors.Is(err, agent0.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got %v", err)
		}
	})

	t.Run("valid challenge", func(t *testing.T) {
		task := &Task{
			Status: TaskStatus{
				Message: &StatusMessage{
					Metadata: map[string]json.RawMessage{
						MetadataPaymentRequired: json.RawMessage(`{"x402Version":1,"accepts":[{"scheme":"exact","network":"eip155:8453"}]}`),
					},
				},
			},
		}
		challenge, err := task.PaymentChallenge()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(challenge.Accepts) != 1 || challenge.Accepts[0].Network != "eip155:8453" {
			t.Error("challenge fields not decoded")
		}
	})
}
