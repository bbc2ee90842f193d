package evm

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/agent0-labs/agent0-go"
)

// hardened marks a hardened BIP-32 path segment.
const hardened = bip32.FirstHardenedChild

// WithKeystore loads the signing key from a V3 encrypted keystore file, the
// format geth and most wallets export.
func WithKeystore(keystorePath, password string) SignerOption {
	return func(s *Signer) error {
		data, err := os.ReadFile(keystorePath)
		if err != nil {
			return fmt.Errorf("%w: %v", agent0.ErrInvalidKeystore, err)
		}

		var keyJSON struct {
			Crypto keystore.CryptoJSON `json:"crypto"`
		}
		if err := json.Unmarshal(data, &keyJSON); err != nil {
			return fmt.Errorf("%w: not a keystore file", agent0.ErrInvalidKeystore)
		}

		keyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
		if err != nil {
			return fmt.Errorf("%w: decryption failed", agent0.ErrInvalidKeystore)
		}

		privateKey, err := crypto.ToECDSA(keyBytes)
		if err != nil {
			return fmt.Errorf("%w: decrypted data is not a valid key", agent0.ErrInvalidKeystore)
		}

		s.privateKey = privateKey
		return nil
	}
}

// WithMnemonic derives the signing key from a BIP-39 phrase at the standard
// Ethereum path m/44'/60'/0'/0/{accountIndex}, so account 0 matches what
// MetaMask and hardhat derive from the same phrase.
func WithMnemonic(mnemonic string, accountIndex uint32) SignerOption {
	return func(s *Signer) error {
		if !bip39.IsMnemonicValid(mnemonic) {
			return agent0.ErrInvalidMnemonic
		}

		key, err := deriveAccountKey(bip39.NewSeed(mnemonic, ""), accountIndex)
		if err != nil {
			return fmt.Errorf("%w: %v", agent0.ErrInvalidMnemonic, err)
		}

		s.privateKey = key
		return nil
	}
}

func deriveAccountKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	// m/44'/60'/0'/0/{index}
	for _, segment := range []uint32{hardened + 44, hardened + 60, hardened, 0, index} {
		if key, err = key.NewChildKey(segment); err != nil {
			return nil, err
		}
	}

	return crypto.ToECDSA(key.Key)
}
