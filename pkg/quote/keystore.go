package quote

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultHDPath is the derivation path used when none is configured.
const DefaultHDPath = "m/44'/60'/0'/0/0"

var (
	// ErrInvalidMnemonic indicates a mnemonic that fails the BIP39 checksum.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	// ErrInvalidHDPath indicates a malformed derivation path.
	ErrInvalidHDPath = errors.New("invalid HD path")
)

// GenerateKey returns a fresh random key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// NewMnemonic returns a fresh 24 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// LoadKeyHex parses a hex encoded private key, with or without 0x prefix.
func LoadKeyHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// KeyHex returns the hex encoding of key without prefix.
func KeyHex(key *ecdsa.PrivateKey) string {
	return fmt.Sprintf("%x", crypto.FromECDSA(key))
}

// KeyFromMnemonic derives the key at hdPath from a BIP39 mnemonic following BIP32.
// An empty hdPath selects DefaultHDPath.
func KeyFromMnemonic(mnemonic, hdPath string) (*ecdsa.PrivateKey, error) {
	if hdPath == "" {
		hdPath = DefaultHDPath
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	if !strings.HasPrefix(hdPath, "m/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHDPath, hdPath)
	}
	path, err := accounts.ParseDerivationPath(hdPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHDPath, err)
	}

	extended, err := deriveExtendedKey(seed, path)
	if err != nil {
		return nil, err
	}
	priv, err := extended.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	return crypto.ToECDSA(priv.Serialize())
}

// deriveExtendedKey walks path from the master key of seed.
func deriveExtendedKey(seed []byte, path accounts.DerivationPath) (*hdkeychain.ExtendedKey, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, index := range path {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child %d: %w", index, err)
		}
	}
	return key, nil
}
