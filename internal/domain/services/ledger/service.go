package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// Service moves user balances. Every movement is an idempotent ledger
// entry, so replaying a request never moves the balance twice.
type Service struct {
	repo   repositories.LedgerRepository
	logger *logger.Logger
}

// NewService creates a new ledger service
func NewService(repo repositories.LedgerRepository, logger *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// CreditDeposit adds amountUSD to the user's balance for deposit depositID.
// applied is false when the deposit was already credited.
func (s *Service) CreditDeposit(ctx context.Context, userID, depositID uuid.UUID, amountUSD decimal.Decimal, token entities.Token, network entities.Network) (entry *entities.LedgerEntry, applied bool, err error) {
	if !amountUSD.IsPositive() {
		return nil, false, apperrors.ValidationError("amount_usd", "deposit credit must be positive")
	}

	entry, applied, err = s.repo.ApplyEntry(ctx, DepositEntry(userID, depositID, amountUSD, token, network))
	if err != nil {
		return nil, false, fmt.Errorf("credit deposit: %w", err)
	}

	if !applied {
		s.logger.Info("Deposit already credited (idempotent)",
			"deposit_id", depositID,
			"entry_id", entry.ID)
		return entry, false, nil
	}

	s.logger.Info("Deposit credited",
		"deposit_id", depositID,
		"user_id", userID,
		"amount_usd", amountUSD.String(),
		"balance_after", entry.BalanceAfter.String())
	return entry, true, nil
}

// SettleDeposit completes deposit depositID and credits amountUSD to the
// user in one transaction, unless review rejects it, in which case the
// deposit is cancelled instead. Only the call that completed the deposit
// gets Completed set.
func (s *Service) SettleDeposit(ctx context.Context, userID, depositID uuid.UUID, amountUSD decimal.Decimal, token entities.Token, network entities.Network, review repositories.DepositReview) (*entities.DepositSettlement, error) {
	if review == nil {
		review = positiveCredit(amountUSD)
	}

	settlement, err := s.repo.SettleDeposit(ctx, depositID, DepositEntry(userID, depositID, amountUSD, token, network), review)
	if err != nil {
		return nil, fmt.Errorf("settle deposit: %w", err)
	}

	switch {
	case !settlement.Completed:
		s.logger.Debug("Deposit already settled", "deposit_id", depositID)
	case settlement.Cancelled:
		s.logger.Info("Deposit cancelled",
			"deposit_id", depositID,
			"user_id", userID,
			"reason", settlement.Reason)
	default:
		s.logger.Info("Deposit credited",
			"deposit_id", depositID,
			"user_id", userID,
			"amount_usd", amountUSD.String(),
			"balance_after", settlement.Entry.BalanceAfter.String())
	}
	return settlement, nil
}

func positiveCredit(amountUSD decimal.Decimal) repositories.DepositReview {
	return func(context.Context) (bool, string) {
		if !amountUSD.IsPositive() {
			return false, "deposit value is not positive"
		}
		return true, ""
	}
}

// GetBalance returns the user's current balance
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}
