package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/agent0-labs/agent0-go"
)

// DefaultTimeoutSeconds is the authorization validity window applied when a
// requirement omits maxTimeoutSeconds.
const DefaultTimeoutSeconds = 600

// Authorization represents the parameters for EIP-3009 transferWithAuthorization.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// NewAuthorization creates a fresh EIP-3009 authorization for the given
// requirement. The nonce is drawn from crypto/rand on every call and is never
// reused; validAfter is always zero, so the authorization is redeemable
// immediately and expires at now + the requirement's timeout.
func NewAuthorization(from common.Address, req *agent0.PaymentRequirement) (*Authorization, error) {
	return newAuthorizationAt(from, req, time.Now())
}

func newAuthorizationAt(from common.Address, req *agent0.PaymentRequirement, now time.Time) (*Authorization, error) {
	value, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: maxAmountRequired %q", agent0.ErrInvalidAmount, req.MaxAmountRequired)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	timeout := req.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}

	return &Authorization{
		From:        from,
		To:          common.HexToAddress(req.PayTo),
		Value:       value,
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(now.Unix() + int64(timeout)),
		Nonce:       nonce,
	}, nil
}

// signAuthorization signs auth under the token's EIP-712 domain and returns a
// 0x-prefixed lowercase hex signature (65 bytes, 132 characters).
func (s *Signer) signAuthorization(req *agent0.PaymentRequirement, auth *Authorization) (string, error) {
	name, version := s.chain.DomainValues(req)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(s.chain.ChainID)),
			VerifyingContract: common.HexToAddress(req.Asset).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       auth.Nonce.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return "", fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	digest := crypto.Keccak256(rawData)

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", agent0.NewPaymentError(agent0.ErrCodeSigningFailed, "failed to sign authorization", err)
	}

	// Adjust v for Ethereum (27 or 28)
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// generateNonce generates a cryptographically secure 32-byte random nonce.
func generateNonce() (common.Hash, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}
