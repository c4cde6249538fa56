package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/pkg/hdwallet"
)

// KeyRing derives signing keys from the master seed on every request
type KeyRing struct {
	master *hdwallet.Master
	config Config
}

// NewKeyRing creates a key ring over master
func NewKeyRing(master *hdwallet.Master, config Config) *KeyRing {
	return &KeyRing{master: master, config: config}
}

// PrivateKey derives the key of signer and checks it controls the signer
// address
func (k *KeyRing) PrivateKey(_ context.Context, network entities.Network, signer entities.Signer) (*ecdsa.PrivateKey, error) {
	coin, err := coinFor(network)
	if err != nil {
		return nil, err
	}

	index := signer.Index
	if signer.Kind == entities.SignerTreasury {
		index = k.config.EthereumTreasuryIndex
		if network == entities.NetworkTron {
			index = k.config.TronTreasuryIndex
		}
	}

	key, err := k.master.DeriveKey(coin, index)
	if err != nil {
		return nil, err
	}

	matches := true
	if signer.Address != "" {
		if coin == hdwallet.CoinTron {
			matches = hdwallet.TronAddress(key) == signer.Address
		} else {
			matches = strings.EqualFold(hdwallet.EthereumAddress(key), signer.Address)
		}
	}
	if !matches {
		return nil, fmt.Errorf("derived key at index %d does not control %s", index, signer.Address)
	}
	return key, nil
}
