// Package agent0 provides the types, chain constants, and error surface shared
// by the agent payment SDK. It covers x402-style micropayments for agent
// requests with USDC transfer authorizations on supported EVM chains.
package agent0

import (
	"fmt"
	"strings"
)

// ChainConfig contains chain-specific configuration for USDC payments.
type ChainConfig struct {
	// ChainID is the numeric EVM chain identifier.
	ChainID uint64

	// Network is the CAIP-2 network identifier (e.g., "eip155:8453").
	Network string

	// Name is the human-readable chain name.
	Name string

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals int

	// EIP3009Name is the token's EIP-712 domain parameter "name".
	EIP3009Name string

	// EIP3009Version is the token's EIP-712 domain parameter "version".
	EIP3009Version string
}

// Supported chains. The USDC domain parameters must exactly match the values
// the deployed token contract reports, or signatures it receives will verify
// cryptographically but be rejected contractually.
var (
	// Base is the configuration for Base mainnet.
	Base = ChainConfig{
		ChainID:        8453,
		Network:        "eip155:8453",
		Name:           "Base",
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// BaseSepolia is the configuration for the Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		ChainID:        84532,
		Network:        "eip155:84532",
		Name:           "Base Sepolia",
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// EthereumSepolia is the configuration for the Ethereum Sepolia testnet.
	EthereumSepolia = ChainConfig{
		ChainID:        11155111,
		Network:        "eip155:11155111",
		Name:           "Ethereum Sepolia",
		USDCAddress:    "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}
)

var supportedChains = []ChainConfig{Base, BaseSepolia, EthereumSepolia}

// ChainByID returns the configuration for the given numeric chain id.
// Unsupported chain ids are a configuration error.
func ChainByID(chainID uint64) (ChainConfig, error) {
	for _, c := range supportedChains {
		if c.ChainID == chainID {
			return c, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("%w: chain id %d (supported: 8453, 84532, 11155111)", ErrUnsupportedChain, chainID)
}

// ChainByNetwork returns the configuration for the given CAIP-2 network tag.
func ChainByNetwork(network string) (ChainConfig, error) {
	for _, c := range supportedChains {
		if c.Network == network {
			return c, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("%w: network %q", ErrUnsupportedChain, network)
}

// DomainValues resolves the EIP-712 domain name and version to sign with for a
// requirement on this chain. Values in the requirement's Extra field win;
// absent those, the chain's verified USDC parameters apply, and as a final
// fallback the canonical "USD Coin"/"2" pair.
func (c ChainConfig) DomainValues(req *PaymentRequirement) (name, version string) {
	name, version = c.EIP3009Name, c.EIP3009Version
	if name == "" {
		name = "USD Coin"
	}
	if version == "" {
		version = "2"
	}
	if req == nil || req.Extra == nil {
		return name, version
	}
	if v, ok := req.Extra["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := req.Extra["version"].(string); ok && v != "" {
		version = v
	}
	return name, version
}

// IsEVMAddress reports whether s looks like a 0x-prefixed 20-byte hex address.
func IsEVMAddress(s string) bool {
	if len(s) != 42 || (!strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X")) {
		return false
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
