package hdwallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	tronaddress "github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/tyler-smith/go-bip39"
)

// BIP-44 coin types
const (
	CoinEthereum uint32 = 60
	CoinTron     uint32 = 195
)

// ErrInvalidMnemonic is returned when the master phrase fails the BIP-39 checksum
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Master is the root extended key all user and treasury keys derive from.
// Derivation is pure: the same mnemonic, coin and index always give the same key.
type Master struct {
	root *hdkeychain.ExtendedKey
}

// NewMaster builds the root key from a BIP-39 mnemonic and optional passphrase
func NewMaster(mnemonic, passphrase string) (*Master, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to build seed: %w", err)
	}

	root, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to build master key: %w", err)
	}
	return &Master{root: root}, nil
}

// DeriveKey returns the private key at m/44'/coin'/0'/0/index
func (m *Master) DeriveKey(coin, index uint32) (*ecdsa.PrivateKey, error) {
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coin,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}

	key := m.root
	for _, child := range path {
		next, err := key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("failed to derive m/44'/%d'/0'/0/%d: %w", coin, index, err)
		}
		key = next
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	return priv.ToECDSA(), nil
}

// EthereumAddress returns the checksummed hex address of a key
func EthereumAddress(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// TronAddress returns the base58check address of a key
func TronAddress(key *ecdsa.PrivateKey) string {
	return tronaddress.PubkeyToAddress(key.PublicKey).String()
}

// Address derives the key at index and formats it for coin
func (m *Master) Address(coin, index uint32) (string, error) {
	key, err := m.DeriveKey(coin, index)
	if err != nil {
		return "", err
	}
	switch coin {
	case CoinEthereum:
		return EthereumAddress(key), nil
	case CoinTron:
		return TronAddress(key), nil
	}
	return "", fmt.Errorf("unsupported coin type %d", coin)
}
