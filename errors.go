package agent0

import (
	"errors"
	"fmt"
)

// Standard error definitions. Negotiation failures fall into four classes:
// configuration (fails before any network call), insufficient funds, transport,
// and protocol. The originating cause is always chained, never swallowed.

var (
	// ErrUnsupportedChain indicates a chain id outside the supported set.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrMissingGateway indicates no gateway URL was provided for a paid call.
	ErrMissingGateway = errors.New("missing gateway URL")

	// ErrInsufficientFunds indicates the payer's balance is below the
	// required payment amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTransport indicates a connection failure, an unexpected HTTP status,
	// or a malformed response body.
	ErrTransport = errors.New("gateway transport error")

	// ErrProtocol indicates a payment challenge that is present but invalid,
	// e.g. one with no accepted payment options.
	ErrProtocol = errors.New("payment protocol error")

	// ErrSigningFailed indicates the transfer authorization could not be signed.
	ErrSigningFailed = errors.New("signing failed")

	// ErrInvalidKey indicates an invalid or missing private signing key.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrInvalidKeystore indicates an unreadable or undecryptable keystore file.
	ErrInvalidKeystore = errors.New("invalid keystore")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic phrase.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidAmount indicates a malformed or non-positive payment amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRequirement indicates a payment requirement with malformed fields.
	ErrInvalidRequirement = errors.New("invalid payment requirement")
)

// Error codes used by PaymentError to classify negotiation failures.
const (
	ErrCodeConfiguration     = "CONFIGURATION"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrCodeTransport         = "TRANSPORT"
	ErrCodeProtocol          = "PROTOCOL"
	ErrCodeSigningFailed     = "SIGNING_FAILED"
)

// PaymentError is a structured negotiation error carrying a classification
// code, a human-readable message, the chained cause, and optional key/value
// details (network, amount, HTTP status).
type PaymentError struct {
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

// NewPaymentError creates a PaymentError wrapping the given cause.
func NewPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails attaches a key/value detail and returns the error for chaining.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
