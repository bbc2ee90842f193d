// Package validation checks payment requirement fields before they are used
// to build a transfer authorization. A requirement that fails here is a
// protocol-level defect in the gateway's challenge, not a transport fault.
package validation

import (
	"fmt"
	"math/big"

	"github.com/agent0-labs/agent0-go"
)

// ValidateAmount validates that an amount string is a valid positive integer
// in atomic units.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	// big.Int keeps large token amounts out of floating point
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}

	return nil
}

// ValidateAddress validates that an address has the EVM 0x-hex shape.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !agent0.IsEVMAddress(address) {
		return fmt.Errorf("invalid EVM address: %s", address)
	}
	return nil
}

// ValidateNetwork validates that a CAIP-2 network tag names a supported chain.
func ValidateNetwork(network string) error {
	if network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	if _, err := agent0.ChainByNetwork(network); err != nil {
		return err
	}
	return nil
}

// ValidateRequirement checks every field of a payment requirement that the
// authorization builder will consume. It returns the first problem found,
// wrapped so callers can classify it with errors.Is.
func ValidateRequirement(req *agent0.PaymentRequirement) error {
	if req == nil {
		return fmt.Errorf("%w: nil requirement", agent0.ErrInvalidRequirement)
	}
	if req.Scheme == "" {
		return fmt.Errorf("%w: missing scheme", agent0.ErrInvalidRequirement)
	}
	if err := ValidateNetwork(req.Network); err != nil {
		return fmt.Errorf("%w: %v", agent0.ErrInvalidRequirement, err)
	}
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("%w: %v", agent0.ErrInvalidRequirement, err)
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("%w: asset: %v", agent0.ErrInvalidRequirement, err)
	}
	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("%w: payTo: %v", agent0.ErrInvalidRequirement, err)
	}
	if req.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("%w: negative maxTimeoutSeconds", agent0.ErrInvalidRequirement)
	}
	return nil
}
