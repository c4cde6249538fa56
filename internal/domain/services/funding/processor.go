package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/metrics"
)

// Processor turns observed deposit batches into deposit records and credits
// the confirmed ones. Replaying a batch is safe.
type Processor struct {
	service  *Service
	deposits repositories.DepositRepository
	wallets  WalletRepository
	config   *FundingConfig
	validate *validator.Validate
	logger   *logger.Logger
}

// NewProcessor creates a deposit message processor
func NewProcessor(service *Service, deposits repositories.DepositRepository, wallets WalletRepository, config *FundingConfig, log *logger.Logger) *Processor {
	if config == nil {
		config = DefaultFundingConfig()
	}
	return &Processor{
		service:  service,
		deposits: deposits,
		wallets:  wallets,
		config:   config,
		validate: validator.New(),
		logger:   log,
	}
}

// ProcessDepositMessage handles every deposit of msg. Deposits to unknown
// wallets are skipped; failures of single deposits are joined and returned
// after the rest of the batch ran.
func (p *Processor) ProcessDepositMessage(ctx context.Context, msg entities.DepositMessage) error {
	if err := p.validate.Struct(msg); err != nil {
		return apperrors.ValidationError("deposit_message", err.Error())
	}

	var errs []error
	for i := range msg.Deposits {
		if err := p.processDeposit(ctx, msg.Network, &msg.Deposits[i]); err != nil {
			p.logger.Error("Failed to process deposit",
				"network", msg.Network,
				"tx_hash", msg.Deposits[i].TransactionHash,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) processDeposit(ctx context.Context, network entities.Network, observed *entities.ObservedDeposit) error {
	if observed.Token.Network() != network {
		return apperrors.ValidationError("token", fmt.Sprintf("%s is not a %s token", observed.Token, network))
	}

	address, err := p.walletAddress(network, observed)
	if err != nil {
		return err
	}
	wallet, err := p.wallets.GetByAddress(ctx, network, address)
	if err != nil {
		if apperrors.IsNotFound(err) {
			p.logger.Debug("Ignoring deposit to unknown wallet", "network", network, "address", address)
			return nil
		}
		return fmt.Errorf("failed to resolve deposit wallet: %w", err)
	}

	record, created, err := p.deposits.CreateIfAbsent(ctx, &entities.DepositTransaction{
		ID:              uuid.New(),
		UserID:          wallet.UserID,
		WalletAddress:   wallet.Address,
		Network:         network,
		Token:           observed.Token,
		TransactionHash: observed.TransactionHash,
		Amount:          observed.Amount,
		AmountUSD:       observed.AmountUSD,
		Confirmations:   observed.Confirmations,
	})
	if err != nil {
		return err
	}
	if created {
		p.logger.Info("Deposit recorded",
			"deposit_id", record.ID,
			"network", network,
			"token", observed.Token,
			"tx_hash", observed.TransactionHash,
			"confirmations", observed.Confirmations)
	}
	if record.Status != entities.DepositStatusPending {
		metrics.DepositsDuplicate.WithLabelValues(string(network)).Inc()
		return nil
	}

	if observed.Confirmations < p.config.requiredConfirmations(network) {
		return p.deposits.UpdateConfirmations(ctx, record.ID, observed.Confirmations)
	}

	_, err = p.service.CreditDeposit(ctx, CreditRequest{
		DepositID:       record.ID,
		UserID:          record.UserID,
		Wallet:          record.WalletAddress,
		AmountUSD:       record.AmountUSD,
		Amount:          record.Amount,
		Confirmations:   observed.Confirmations,
		Token:           record.Token,
		Network:         network,
		TransactionHash: record.TransactionHash,
	})
	return err
}

// walletAddress maps a Ripple deposit to the treasury:tag wallet it was
// made to. Other networks use the observed address as is.
func (p *Processor) walletAddress(network entities.Network, observed *entities.ObservedDeposit) (string, error) {
	if network != entities.NetworkRipple {
		return observed.Address, nil
	}
	if observed.DestinationTag == nil {
		return "", apperrors.ValidationError("destination_tag", "ripple deposits need a destination tag")
	}
	treasury := p.config.RippleTreasuryAddress
	if treasury == "" {
		treasury = observed.Address
	}
	return entities.RippleWalletAddress(treasury, *observed.DestinationTag), nil
}
