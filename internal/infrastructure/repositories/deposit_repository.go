package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

const depositColumns = `id, user_id, wallet_address, network, token, transaction_hash, amount, amount_usd,
	confirmations, status, cancel_reason, created_at, updated_at, completed_at`

// DepositRepository persists inbound deposits
type DepositRepository struct {
	db *sqlx.DB
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// CreateIfAbsent inserts the deposit unless the (network, hash, wallet) triple
// is already recorded, in which case the stored row is returned. The bool is
// true when this call created the row.
func (r *DepositRepository) CreateIfAbsent(ctx context.Context, deposit *entities.DepositTransaction) (*entities.DepositTransaction, bool, error) {
	query := `
		INSERT INTO deposit_transactions (
			id, user_id, wallet_address, network, token, transaction_hash,
			amount, amount_usd, confirmations, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (network, transaction_hash, wallet_address) DO NOTHING
		RETURNING ` + depositColumns

	var created entities.DepositTransaction
	err := r.db.GetContext(ctx, &created, query,
		deposit.ID,
		deposit.UserID,
		deposit.WalletAddress,
		deposit.Network,
		deposit.Token,
		deposit.TransactionHash,
		deposit.Amount,
		deposit.AmountUSD,
		deposit.Confirmations,
		entities.DepositStatusPending,
	)
	if err == nil {
		return &created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create deposit: %w", err)
	}

	existing, err := r.GetByTransaction(ctx, deposit.Network, deposit.TransactionHash, deposit.WalletAddress)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves a deposit by ID
func (r *DepositRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.DepositTransaction, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_transactions WHERE id = $1`

	var deposit entities.DepositTransaction
	if err := r.db.GetContext(ctx, &deposit, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deposit not found: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return &deposit, nil
}

// GetByTransaction retrieves a deposit by its on-chain identity
func (r *DepositRepository) GetByTransaction(ctx context.Context, network entities.Network, hash, walletAddress string) (*entities.DepositTransaction, error) {
	query := `SELECT ` + depositColumns + `
		FROM deposit_transactions
		WHERE network = $1 AND transaction_hash = $2 AND wallet_address = $3`

	var deposit entities.DepositTransaction
	if err := r.db.GetContext(ctx, &deposit, query, network, hash, walletAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deposit not found: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get deposit by transaction: %w", err)
	}
	return &deposit, nil
}

// UpdateConfirmations records the observed depth. Depth never decreases.
func (r *DepositRepository) UpdateConfirmations(ctx context.Context, id uuid.UUID, confirmations int) error {
	query := `
		UPDATE deposit_transactions
		SET confirmations = GREATEST(confirmations, $2), updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, confirmations); err != nil {
		return fmt.Errorf("failed to update deposit confirmations: %w", err)
	}
	return nil
}
