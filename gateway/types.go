package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/agent0-labs/agent0-go"
)

// Metadata keys used on gateway message envelopes.
const (
	// MetadataPaymentRequired is where a gateway embeds its payment challenge.
	MetadataPaymentRequired = "x402.payment.required"

	// MetadataPaymentPayload is where the client attaches its signed payment.
	MetadataPaymentPayload = "x402.payment.payload"

	// MetadataPaymentStatus marks the payment state of an outbound message.
	MetadataPaymentStatus = "x402.payment.status"

	// PaymentSubmitted is the MetadataPaymentStatus value for a paid resubmission.
	PaymentSubmitted = "payment-submitted"
)

// Part is one segment of a message body.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Message is the message envelope posted to a gateway endpoint.
type Message struct {
	MessageID string                 `json:"messageId,omitempty"`
	Role      string                 `json:"role"`
	Parts     []Part                 `json:"parts"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Request is the complete request body for a gateway call. TaskID and
// ContextID echo correlation identifiers from an earlier challenge, if any.
type Request struct {
	Message   Message `json:"message"`
	TaskID    string  `json:"taskId,omitempty"`
	ContextID string  `json:"contextId,omitempty"`
}

// StatusMessage is the message attached to a task's status. Its metadata may
// carry a payment challenge.
type StatusMessage struct {
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// TaskStatus is the current status of a gateway task.
type TaskStatus struct {
	State   string         `json:"state,omitempty"`
	Message *StatusMessage `json:"message,omitempty"`
}

// Task is the task envelope a gateway returns while a request is pending
// payment or execution.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
}

// PaymentChallenge extracts the embedded payment challenge, if any.
// It returns (nil, nil) when the task carries no challenge, and an error when
// a challenge is present but cannot be decoded.
func (t *Task) PaymentChallenge() (*agent0.PaymentRequired, error) {
	if t == nil || t.Status.Message == nil {
		return nil, nil
	}

	raw, ok := t.Status.Message.Metadata[MetadataPaymentRequired]
	if !ok {
		return nil, nil
	}

	var challenge agent0.PaymentRequired
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, fmt.Errorf("%w: malformed payment challenge: %v", agent0.ErrProtocol, err)
	}
	return &challenge, nil
}

// PaymentStatus is the outcome classification of a completed negotiation.
// Both values are terminal and protocol-valid; modeling them as a closed pair
// keeps callers exhaustive instead of collapsing into success/failure.
type PaymentStatus int

const (
	// StatusFree indicates the gateway answered without requiring payment.
	StatusFree PaymentStatus = iota

	// StatusPaid indicates a signed payment was submitted before the final
	// response.
	StatusPaid
)

func (s PaymentStatus) String() string {
	switch s {
	case StatusPaid:
		return "paid"
	case StatusFree:
		return "free"
	default:
		return "unknown"
	}
}

// Outcome is the final result of a negotiation, returned verbatim to the
// caller. Raw preserves the gateway's response body untouched; Task is the
// decoded task envelope, when the response carries one.
type Outcome struct {
	// Status reports whether a payment was submitted to obtain the response.
	Status PaymentStatus

	// StatusCode is the HTTP status of the final response (200 or 402).
	StatusCode int

	// Raw is the final response body, unmodified.
	Raw json.RawMessage

	// Task is the decoded task envelope from the final response, if present.
	Task *Task
}
