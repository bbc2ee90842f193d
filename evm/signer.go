// Package evm implements the signing key holder, the EIP-3009 authorization
// builder, and the USDC balance reader for EVM-compatible chains.
package evm

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agent0-labs/agent0-go"
)

// Signer holds a private signing key bound to one supported chain and
// implements agent0.Signer. It has no protocol knowledge beyond producing
// EIP-712 signatures over transfer authorizations.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chain      agent0.ChainConfig
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new EVM signer with the given options. A private key
// (hex, keystore, or mnemonic) and a supported chain id are required.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, agent0.ErrInvalidKey
	}
	if s.chain.ChainID == 0 {
		return nil, agent0.ErrUnsupportedChain
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the private key from a hex string, with or without a
// 0x prefix.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		hexKey = strings.TrimPrefix(hexKey, "0x")

		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return agent0.ErrInvalidKey
		}

		s.privateKey = privateKey
		return nil
	}
}

// WithChainID binds the signer to one of the supported chains.
func WithChainID(chainID uint64) SignerOption {
	return func(s *Signer) error {
		chain, err := agent0.ChainByID(chainID)
		if err != nil {
			return err
		}
		s.chain = chain
		return nil
	}
}

// Address implements agent0.Signer.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Network implements agent0.Signer.
func (s *Signer) Network() string {
	return s.chain.Network
}

// Chain returns the chain configuration the signer is bound to.
func (s *Signer) Chain() agent0.ChainConfig {
	return s.chain
}

// Sign implements agent0.Signer. It builds a fresh EIP-3009 authorization for
// the requirement and signs it under the token's EIP-712 domain.
func (s *Signer) Sign(requirement *agent0.PaymentRequirement) (*agent0.PaymentPayload, error) {
	auth, err := NewAuthorization(s.address, requirement)
	if err != nil {
		return nil, err
	}

	signature, err := s.signAuthorization(requirement, auth)
	if err != nil {
		return nil, err
	}

	return &agent0.PaymentPayload{
		X402Version: 1,
		Scheme:      requirement.Scheme,
		Network:     requirement.Network,
		Payload: agent0.EVMPayload{
			Signature: signature,
			Authorization: agent0.EVMAuthorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.Nonce.Hex(),
			},
		},
	}, nil
}
