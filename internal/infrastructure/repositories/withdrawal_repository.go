package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

const withdrawalColumns = `id, user_id, network, token, to_address, destination_tag, amount, amount_usd, fee_usd,
	status, reason, transaction_hash, attempts, created_at, updated_at`

// WithdrawalRepository handles withdrawal data persistence
type WithdrawalRepository struct {
	db *sqlx.DB
}

// NewWithdrawalRepository creates a new withdrawal repository
func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create inserts a new withdrawal request
func (r *WithdrawalRepository) Create(ctx context.Context, w *entities.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (
			id, user_id, network, token, to_address, destination_tag, amount, amount_usd, fee_usd,
			status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, NOW(), NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		w.ID,
		w.UserID,
		w.Network,
		w.Token,
		w.ToAddress,
		w.DestinationTag,
		w.Amount,
		w.AmountUSD,
		w.FeeUSD,
		w.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

// GetByID retrieves a withdrawal by ID
func (r *WithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`

	var w entities.Withdrawal
	if err := r.db.GetContext(ctx, &w, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("withdrawal not found: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return &w, nil
}

// TransitionStatus moves a withdrawal to `to` only if its current status is
// one of `from`. A nil reason keeps the stored reason. Returns true when the
// row changed.
func (r *WithdrawalRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []entities.WithdrawalStatus, to entities.WithdrawalStatus, reason *string) (bool, error) {
	for _, s := range from {
		if err := s.ValidateTransition(to); err != nil {
			return false, apperrors.ValidationError("status", err.Error())
		}
	}

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	query := `
		UPDATE withdrawals
		SET status = $2, reason = COALESCE($3, reason), updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`

	res, err := r.db.ExecContext(ctx, query, id, to, reason, pq.Array(statuses))
	if err != nil {
		return false, fmt.Errorf("failed to transition withdrawal status: %w", err)
	}
	return affected(res)
}

// SetTransactionHash records the broadcast hash
func (r *WithdrawalRepository) SetTransactionHash(ctx context.Context, id uuid.UUID, hash string) error {
	query := `UPDATE withdrawals SET transaction_hash = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, hash); err != nil {
		return fmt.Errorf("failed to set withdrawal transaction hash: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the send attempt counter
func (r *WithdrawalRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE withdrawals SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment withdrawal attempts: %w", err)
	}
	return nil
}

// ListStuck returns withdrawals that have sat in status for longer than
// olderThanSeconds, oldest first
func (r *WithdrawalRepository) ListStuck(ctx context.Context, status entities.WithdrawalStatus, olderThanSeconds int, limit int) ([]*entities.Withdrawal, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawals
		WHERE status = $1 AND updated_at < NOW() - make_interval(secs => $2)
		ORDER BY updated_at
		LIMIT $3
	`

	var rows []*entities.Withdrawal
	if err := r.db.SelectContext(ctx, &rows, query, status, olderThanSeconds, limit); err != nil {
		return nil, fmt.Errorf("failed to list stuck withdrawals: %w", err)
	}
	return rows, nil
}
