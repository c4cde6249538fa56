package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/pkg/hdwallet"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// firstUserIndex is the index the first user wallet of a network gets. It
// sits above the treasury index so the two never share a key.
func (s *Service) firstUserIndex(network entities.Network) int64 {
	if network == entities.NetworkRipple {
		return 1
	}
	return int64(s.treasuryIndex(network)) + 1
}

// Config captures the treasury layout of every network
type Config struct {
	EthereumTreasuryIndex uint32
	TronTreasuryIndex     uint32
	RippleTreasuryAddress string
}

// Service manages deterministic deposit wallets
type Service struct {
	wallets repositories.WalletRepository
	nonces  repositories.NonceRepository
	master  *hdwallet.Master
	config  Config
	logger  *logger.Logger
}

// NewService creates a new wallet service
func NewService(
	wallets repositories.WalletRepository,
	nonces repositories.NonceRepository,
	master *hdwallet.Master,
	config Config,
	log *logger.Logger,
) *Service {
	return &Service{
		wallets: wallets,
		nonces:  nonces,
		master:  master,
		config:  config,
		logger:  log,
	}
}

func coinFor(network entities.Network) (uint32, error) {
	switch network {
	case entities.NetworkEthereum:
		return hdwallet.CoinEthereum, nil
	case entities.NetworkTron:
		return hdwallet.CoinTron, nil
	}
	return 0, fmt.Errorf("%w: no derivation coin for %s", apperrors.ErrDerivationFailed, network)
}

// DeriveAddress returns the address of the wallet at index. Ripple wallets
// are the treasury address tagged with the index.
func (s *Service) DeriveAddress(network entities.Network, index uint32) (string, error) {
	if network == entities.NetworkRipple {
		if s.config.RippleTreasuryAddress == "" {
			return "", fmt.Errorf("%w: ripple treasury address is not configured", apperrors.ErrDerivationFailed)
		}
		return entities.RippleWalletAddress(s.config.RippleTreasuryAddress, index), nil
	}

	coin, err := coinFor(network)
	if err != nil {
		return "", err
	}
	addr, err := s.master.Address(coin, index)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrDerivationFailed, err)
	}
	return addr, nil
}

// GetOrCreateUserWallet returns the user's wallet on network, creating it
// from a freshly allocated index on first use
func (s *Service) GetOrCreateUserWallet(ctx context.Context, userID uuid.UUID, network entities.Network) (*entities.Wallet, error) {
	existing, err := s.wallets.GetByUserAndNetwork(ctx, userID, network)
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up wallet: %w", err)
	}

	nonce, err := s.allocateIndex(ctx, network)
	if err != nil {
		return nil, err
	}
	if nonce < 0 || nonce > int64(^uint32(0)>>1) {
		return nil, fmt.Errorf("%w: index %d out of range", apperrors.ErrDerivationFailed, nonce)
	}

	address, err := s.DeriveAddress(network, uint32(nonce))
	if err != nil {
		return nil, err
	}

	wallet := &entities.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Network:   network,
		Address:   address,
		Nonce:     nonce,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		if apperrors.IsAlreadyExists(err) {
			// A concurrent call created the wallet first; its index wins.
			s.logger.Info("Wallet created concurrently, reusing existing",
				"user_id", userID, "network", network, "discarded_nonce", nonce)
			return s.wallets.GetByUserAndNetwork(ctx, userID, network)
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	s.logger.Info("Created deposit wallet",
		"user_id", userID, "network", network, "address", address, "nonce", nonce)
	return wallet, nil
}

// allocateIndex takes the next user index of network. A counter started
// before the treasury index was moved can still reach it; that value is
// skipped.
func (s *Service) allocateIndex(ctx context.Context, network entities.Network) (int64, error) {
	nonce, err := s.nonces.Allocate(ctx, network, s.firstUserIndex(network))
	if err != nil {
		return 0, err
	}
	if network != entities.NetworkRipple && nonce == int64(s.treasuryIndex(network)) {
		s.logger.Warn("Skipping user index reserved by the treasury", "network", network, "index", nonce)
		return s.nonces.Allocate(ctx, network, s.firstUserIndex(network))
	}
	return nonce, nil
}

// TreasurySigner returns the signer of the network treasury
func (s *Service) TreasurySigner(network entities.Network) (entities.Signer, error) {
	switch network {
	case entities.NetworkEthereum, entities.NetworkTron:
		index := s.treasuryIndex(network)
		addr, err := s.DeriveAddress(network, index)
		if err != nil {
			return entities.Signer{}, err
		}
		return entities.Signer{Kind: entities.SignerTreasury, Index: index, Address: addr}, nil
	case entities.NetworkRipple:
		if s.config.RippleTreasuryAddress == "" {
			return entities.Signer{}, fmt.Errorf("ripple treasury address is not configured")
		}
		return entities.Signer{Kind: entities.SignerTreasury, Address: s.config.RippleTreasuryAddress}, nil
	}
	return entities.Signer{}, fmt.Errorf("unsupported network %s", network)
}

// UserSigner returns the signer owning a user wallet
func (s *Service) UserSigner(wallet *entities.Wallet) (entities.Signer, error) {
	if wallet.Network == entities.NetworkRipple {
		return entities.Signer{}, fmt.Errorf("ripple user wallets are treasury destination tags and cannot sign")
	}
	if wallet.Nonce < 0 {
		return entities.Signer{}, fmt.Errorf("%w: negative wallet index", apperrors.ErrDerivationFailed)
	}
	return entities.Signer{Kind: entities.SignerUser, Index: uint32(wallet.Nonce), Address: wallet.Address}, nil
}

// SignerForAddress resolves the signer of a user wallet by its address
func (s *Service) SignerForAddress(ctx context.Context, network entities.Network, address string) (entities.Signer, error) {
	wallet, err := s.wallets.GetByAddress(ctx, network, address)
	if err != nil {
		return entities.Signer{}, fmt.Errorf("failed to resolve wallet %s: %w", address, err)
	}
	return s.UserSigner(wallet)
}

func (s *Service) treasuryIndex(network entities.Network) uint32 {
	if network == entities.NetworkTron {
		return s.config.TronTreasuryIndex
	}
	return s.config.EthereumTreasuryIndex
}
