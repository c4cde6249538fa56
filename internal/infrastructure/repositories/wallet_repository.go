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
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/database"
)

// WalletRepository persists user deposit wallets
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `id, user_id, network, address, nonce, has_balance, created_at`

// Create inserts a wallet. A unique violation on any of the wallet keys is
// returned as ErrAlreadyExists.
func (r *WalletRepository) Create(ctx context.Context, wallet *entities.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, network, address, nonce, has_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Network,
		wallet.Address,
		wallet.Nonce,
		wallet.HasBalance,
		wallet.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExistsError("WALLET")
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetByUserAndNetwork retrieves the wallet of a user on a network
func (r *WalletRepository) GetByUserAndNetwork(ctx context.Context, userID uuid.UUID, network entities.Network) (*entities.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND network = $2`

	var wallet entities.Wallet
	if err := r.db.GetContext(ctx, &wallet, query, userID, network); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet not found: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &wallet, nil
}

// GetByAddress retrieves a wallet by its network address
func (r *WalletRepository) GetByAddress(ctx context.Context, network entities.Network, address string) (*entities.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE network = $1 AND address = $2`

	var wallet entities.Wallet
	if err := r.db.GetContext(ctx, &wallet, query, network, address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet not found: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get wallet by address: %w", err)
	}

	return &wallet, nil
}

// MarkHasBalance flags the wallet as having received funds
func (r *WalletRepository) MarkHasBalance(ctx context.Context, network entities.Network, address string) error {
	query := `UPDATE wallets SET has_balance = TRUE WHERE network = $1 AND address = $2 AND has_balance = FALSE`

	if _, err := r.db.ExecContext(ctx, query, network, address); err != nil {
		return fmt.Errorf("failed to flag wallet balance: %w", err)
	}
	return nil
}
