package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/metrics"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
)

// BalanceCreditor settles a deposit: completion gate, review and credit
// commit together or not at all
type BalanceCreditor interface {
	SettleDeposit(ctx context.Context, userID, depositID uuid.UUID, amountUSD decimal.Decimal, token entities.Token, network entities.Network, review repositories.DepositReview) (*entities.DepositSettlement, error)
}

// SweepTracker records deposited balances that must be pooled
type SweepTracker interface {
	TrackDeposit(ctx context.Context, address string, network entities.Network, token entities.Token) error
}

// WalletRepository interface for wallet operations
type WalletRepository interface {
	GetByAddress(ctx context.Context, network entities.Network, address string) (*entities.Wallet, error)
	MarkHasBalance(ctx context.Context, network entities.Network, address string) error
}

// Notifier interface for settlement notifications
type Notifier interface {
	Notify(ctx context.Context, event *entities.SettlementEvent)
}

// CreditRequest identifies one deposit to credit
type CreditRequest struct {
	DepositID       uuid.UUID
	UserID          uuid.UUID
	Wallet          string
	AmountUSD       decimal.Decimal
	Amount          entities.Amount
	Confirmations   int
	Token           entities.Token
	Network         entities.Network
	TransactionHash string
}

// CreditResult reports what CreditDeposit did
type CreditResult struct {
	// Credited is true only for the call that moved the user balance.
	Credited  bool
	Cancelled bool
	Reason    string
	Entry     *entities.LedgerEntry
}

// Service credits confirmed deposits exactly once
type Service struct {
	deposits repositories.DepositRepository
	wallets  WalletRepository
	ledger   BalanceCreditor
	sweeps   SweepTracker
	risk     RiskChecker
	notifier Notifier
	retrier  *retry.Retrier
	config   *FundingConfig
	logger   *logger.Logger
}

// NewService creates a new funding service
func NewService(
	deposits repositories.DepositRepository,
	wallets WalletRepository,
	ledger BalanceCreditor,
	sweeps SweepTracker,
	risk RiskChecker,
	notifier Notifier,
	config *FundingConfig,
	logger *logger.Logger,
) *Service {
	if config == nil {
		config = DefaultFundingConfig()
	}
	if risk == nil {
		risk = NewLimitRiskChecker(config.MaxAutoCreditUSD)
	}
	policy := config.CreditRetry
	policy.RetryableFunc = func(err error) bool {
		return !apperrors.IsInvalidInput(err) && !errors.Is(err, context.Canceled)
	}
	return &Service{
		deposits: deposits,
		wallets:  wallets,
		ledger:   ledger,
		sweeps:   sweeps,
		risk:     risk,
		notifier: notifier,
		retrier:  retry.NewRetrier(policy, logger.Zap()),
		config:   config,
		logger:   logger,
	}
}

// CreditDeposit records the depth of a deposit and settles it. The single
// caller that moves it from pending to completed runs the risk check and
// credits the user in the same transaction; every other caller gets a zero
// CreditResult. A failed settlement leaves the deposit pending so the next
// delivery settles it.
func (s *Service) CreditDeposit(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	if req.DepositID == uuid.Nil || req.UserID == uuid.Nil {
		return nil, apperrors.ValidationError("deposit_id", "deposit and user are required")
	}
	log := s.logger.With("deposit_id", req.DepositID, "network", req.Network, "token", req.Token)

	if err := s.deposits.UpdateConfirmations(ctx, req.DepositID, req.Confirmations); err != nil {
		return nil, fmt.Errorf("failed to record confirmations: %w", err)
	}

	review := func(ctx context.Context) (bool, string) {
		return s.risk.Check(ctx, req)
	}
	var settlement *entities.DepositSettlement
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		var settleErr error
		settlement, settleErr = s.ledger.SettleDeposit(ctx, req.UserID, req.DepositID, req.AmountUSD, req.Token, req.Network, review)
		return settleErr
	})
	if err != nil {
		log.Error("Deposit settlement failed, left pending", "user_id", req.UserID, "error", err)
		return nil, fmt.Errorf("failed to settle deposit: %w", err)
	}

	switch {
	case !settlement.Completed:
		metrics.DepositsDuplicate.WithLabelValues(string(req.Network)).Inc()
		log.Debug("Deposit already completed, skipping credit")
		return &CreditResult{}, nil
	case settlement.Cancelled:
		return s.cancelled(ctx, req, settlement.Reason), nil
	}

	s.afterCredit(ctx, req, log)
	log.Info("Deposit credited",
		"user_id", req.UserID,
		"amount_usd", req.AmountUSD.String(),
		"confirmations", req.Confirmations)
	return &CreditResult{Credited: true, Entry: settlement.Entry}, nil
}

func (s *Service) cancelled(ctx context.Context, req CreditRequest, reason string) *CreditResult {
	metrics.DepositsCancelled.WithLabelValues(string(req.Network), string(req.Token)).Inc()
	s.logger.Warn("Deposit cancelled by risk check",
		"deposit_id", req.DepositID,
		"user_id", req.UserID,
		"reason", reason)

	event := s.event(entities.EventDepositCancelled, req)
	event.Reason = reason
	s.notify(ctx, event)
	return &CreditResult{Cancelled: true, Reason: reason}
}

// afterCredit runs the best-effort side effects of a credit. Failures are
// logged; the credit itself already happened.
func (s *Service) afterCredit(ctx context.Context, req CreditRequest, log *logger.Logger) {
	metrics.DepositsCredited.WithLabelValues(string(req.Network), string(req.Token)).Inc()
	usd, _ := req.AmountUSD.Float64()
	metrics.DepositCreditedUSD.WithLabelValues(string(req.Network)).Add(usd)

	s.notify(ctx, s.event(entities.EventDepositCredited, req))

	if s.sweeps != nil {
		if err := s.sweeps.TrackDeposit(ctx, req.Wallet, req.Network, req.Token); err != nil {
			log.Error("Failed to track deposited balance for pooling", "wallet", req.Wallet, "error", err)
		}
	}
	if s.wallets != nil {
		if err := s.wallets.MarkHasBalance(ctx, req.Network, req.Wallet); err != nil {
			log.Warn("Failed to flag wallet balance", "wallet", req.Wallet, "error", err)
		}
	}
}

func (s *Service) event(eventType entities.SettlementEventType, req CreditRequest) *entities.SettlementEvent {
	event := entities.NewSettlementEvent(eventType, req.UserID, req.Network, req.Token)
	event.ReferenceID = req.DepositID.String()
	event.Amount = req.Amount
	event.AmountUSD = req.AmountUSD
	event.TransactionHash = req.TransactionHash
	return event
}

func (s *Service) notify(ctx context.Context, event *entities.SettlementEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, event)
	}
}
