package agent0

import "math/big"

// PaymentRequirement represents a single payment option offered by an agent
// gateway, either advertised in its capability metadata or embedded in a
// payment-required challenge. It is immutable once received.
type PaymentRequirement struct {
	// Scheme is the transfer authorization scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the CAIP-2 network identifier (e.g., "eip155:8453").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic token units, as a
	// decimal string (e.g., "50000" = 0.05 USDC).
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the payable token contract address.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MaxTimeoutSeconds is the validity period for the transfer authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra carries scheme-specific data, notably the token's EIP-712 domain
	// "name" and "version" used when signing.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired represents the payment-required challenge a gateway embeds
// in a task's status message metadata.
type PaymentRequired struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is an optional human-readable message from the gateway.
	Error string `json:"error,omitempty"`

	// Accepts is the list of payment options the gateway will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload represents a signed payment that is resubmitted to the
// gateway as message metadata.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme echoes the scheme of the requirement that was satisfied.
	Scheme string `json:"scheme"`

	// Network echoes the network of the requirement that was satisfied.
	Network string `json:"network"`

	// Payload contains the chain-specific signed payment data.
	// For EVM chains this is an EVMPayload.
	Payload interface{} `json:"payload"`
}

// EVMPayload represents an EVM payment with an EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the 0x-prefixed hex-encoded ECDSA signature (132 chars).
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
// All numeric fields are decimal strings so large values survive JSON
// round-trips without floating point loss.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is always "0": the authorization is valid immediately.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp at which the authorization expires.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 0x-prefixed 32-byte hex string preventing replay.
	Nonce string `json:"nonce"`
}

// Signer produces signed payment payloads from observed payment requirements.
// Implementations own a private key and must be safe for concurrent use;
// signing does not mutate key material.
type Signer interface {
	// Address returns the payer address derived from the signing key.
	Address() string

	// Network returns the CAIP-2 network identifier the signer is bound to.
	Network() string

	// Sign creates a signed payment payload for the given requirement.
	// A fresh nonce is generated on every call; payloads are never reused.
	Sign(requirement *PaymentRequirement) (*PaymentPayload, error)
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value := new(big.Float)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}

	multiplier := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, multiplier)

	result, accuracy := value.Int(nil)
	if accuracy != big.Exact {
		return nil, ErrInvalidAmount
	}
	return result, nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.5".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	f := new(big.Float).SetInt(value)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, divisor)

	return f.Text('f', decimals)
}

// DisplayAmount converts an atomic-unit decimal string to a display-unit
// *big.Float (atomic value divided by 10^decimals). It is used to compare a
// requirement's amount against a human-scale balance.
func DisplayAmount(atomic string, decimals int) (*big.Float, error) {
	value, ok := new(big.Int).SetString(atomic, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}

	f := new(big.Float).SetInt(value)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return f.Quo(f, divisor), nil
}
