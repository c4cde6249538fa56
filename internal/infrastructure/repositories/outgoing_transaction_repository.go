package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

const outgoingColumns = `id, network, transaction_hash, status, process, token, value, from_address, to_address,
	withdrawal_id, block_sent, block_confirmed, block_hash, fee_user_paid, fee_total_paid,
	fee_user_paid_usd, fee_total_paid_usd, created_at, updated_at`

// OutgoingTransactionRepository keeps the audit trail of broadcasts
type OutgoingTransactionRepository struct {
	db *sqlx.DB
}

// NewOutgoingTransactionRepository creates a new outgoing transaction repository
func NewOutgoingTransactionRepository(db *sqlx.DB) *OutgoingTransactionRepository {
	return &OutgoingTransactionRepository{db: db}
}

// Create records a broadcast. Re-recording the same hash is a no-op.
func (r *OutgoingTransactionRepository) Create(ctx context.Context, tx *entities.OutgoingTransaction) error {
	query := `
		INSERT INTO outgoing_transactions (
			id, network, transaction_hash, status, process, token, value, from_address, to_address,
			withdrawal_id, block_sent, fee_user_paid, fee_total_paid, fee_user_paid_usd, fee_total_paid_usd,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		ON CONFLICT (network, transaction_hash) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.Network,
		tx.TransactionHash,
		tx.Status,
		tx.Process,
		tx.Token,
		tx.Value,
		tx.FromAddress,
		tx.ToAddress,
		tx.WithdrawalID,
		tx.BlockSent,
		tx.UserPaid,
		tx.TotalPaid,
		tx.UserPaidUSD,
		tx.TotalPaidUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to create outgoing transaction: %w", err)
	}
	return nil
}

// GetByHash retrieves a broadcast by hash
func (r *OutgoingTransactionRepository) GetByHash(ctx context.Context, network entities.Network, hash string) (*entities.OutgoingTransaction, error) {
	query := `SELECT ` + outgoingColumns + ` FROM outgoing_transactions WHERE network = $1 AND transaction_hash = $2`

	var tx entities.OutgoingTransaction
	if err := r.db.GetContext(ctx, &tx, query, network, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("outgoing transaction not found: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get outgoing transaction: %w", err)
	}
	return &tx, nil
}

// UpdateReceipt finalizes a pending broadcast. Already finalized rows are
// left untouched so a replayed receipt cannot rewrite history.
func (r *OutgoingTransactionRepository) UpdateReceipt(ctx context.Context, network entities.Network, hash string, update entities.ReceiptUpdate) (bool, error) {
	query := `
		UPDATE outgoing_transactions
		SET status = $3, block_confirmed = $4, block_hash = $5,
			fee_user_paid = $6, fee_total_paid = $7, fee_user_paid_usd = $8, fee_total_paid_usd = $9,
			updated_at = NOW()
		WHERE network = $1 AND transaction_hash = $2 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query,
		network,
		hash,
		update.Status,
		update.BlockConfirmed,
		update.BlockHash,
		update.Fees.UserPaid,
		update.Fees.TotalPaid,
		update.Fees.UserPaidUSD,
		update.Fees.TotalPaidUSD,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update outgoing transaction receipt: %w", err)
	}
	return affected(res)
}
