package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	domainrepos "github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/database"
)

// LedgerRepository handles user balance persistence
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ApplyEntry records a ledger entry and moves the user balance in one
// transaction. An entry whose idempotency key already exists is returned
// unchanged with applied=false and the balance is not touched.
func (r *LedgerRepository) ApplyEntry(ctx context.Context, req *entities.CreateEntryRequest) (entry *entities.LedgerEntry, applied bool, err error) {
	if err := req.Validate(); err != nil {
		return nil, false, fmt.Errorf("validate entry: %w", err)
	}

	err = database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		entry, applied, err = r.applyEntryTx(ctx, tx, req)
		return err
	})
	if errors.Is(err, errDuplicateEntry) {
		existing, getErr := r.getEntryByKey(ctx, r.db, req.IdempotencyKey)
		if getErr != nil {
			return nil, false, fmt.Errorf("failed to load duplicate ledger entry: %w", getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry, applied, nil
}

// SettleDeposit moves a pending deposit to completed and, in the same
// transaction, either credits the user with entry or cancels the deposit,
// as review decides. Any failure rolls the completion back, leaving the
// deposit pending for the next delivery. Callers that lost the gate get a
// zero settlement.
func (r *LedgerRepository) SettleDeposit(ctx context.Context, depositID uuid.UUID, entry *entities.CreateEntryRequest, review domainrepos.DepositReview) (*entities.DepositSettlement, error) {
	var settlement entities.DepositSettlement
	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		settlement = entities.DepositSettlement{}

		complete := `
			UPDATE deposit_transactions
			SET status = $2, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = $3
		`
		res, err := tx.ExecContext(ctx, complete, depositID, entities.DepositStatusCompleted, entities.DepositStatusPending)
		if err != nil {
			return fmt.Errorf("failed to complete deposit: %w", err)
		}
		won, err := affected(res)
		if err != nil || !won {
			return err
		}
		settlement.Completed = true

		if review != nil {
			if approved, reason := review(ctx); !approved {
				cancel := `
					UPDATE deposit_transactions
					SET status = $2, cancel_reason = $3, updated_at = NOW()
					WHERE id = $1 AND status = $4
				`
				if _, err := tx.ExecContext(ctx, cancel, depositID, entities.DepositStatusCancelled, reason, entities.DepositStatusCompleted); err != nil {
					return fmt.Errorf("failed to cancel deposit: %w", err)
				}
				settlement.Cancelled = true
				settlement.Reason = reason
				return nil
			}
		}

		if err := entry.Validate(); err != nil {
			return apperrors.ValidationError("entry", err.Error())
		}
		credited, _, err := r.applyEntryTx(ctx, tx, entry)
		if err != nil {
			return err
		}
		settlement.Entry = credited
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *LedgerRepository) applyEntryTx(ctx context.Context, tx *sqlx.Tx, req *entities.CreateEntryRequest) (*entities.LedgerEntry, bool, error) {
	existing, err := r.getEntryByKey(ctx, tx, req.IdempotencyKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	var balance decimal.Decimal
	upsert := `
		INSERT INTO user_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`
	if err := tx.GetContext(ctx, &balance, upsert, req.UserID, req.Amount); err != nil {
		return nil, false, fmt.Errorf("failed to update user balance: %w", err)
	}

	var description *string
	if req.Description != "" {
		description = &req.Description
	}

	insert := `
		INSERT INTO balance_ledger_entries (
			id, user_id, entry_type, amount, balance_after, reference_id, idempotency_key, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, user_id, entry_type, amount, balance_after, reference_id, idempotency_key, description, created_at
	`
	var created entities.LedgerEntry
	if err := tx.GetContext(ctx, &created, insert,
		uuid.New(),
		req.UserID,
		req.EntryType,
		req.Amount,
		balance,
		req.ReferenceID,
		req.IdempotencyKey,
		description,
	); err != nil {
		if database.IsUniqueViolation(err) {
			// A concurrent writer won the key; roll back our balance move.
			return nil, false, errDuplicateEntry
		}
		return nil, false, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return &created, true, nil
}

var errDuplicateEntry = errors.New("duplicate ledger entry")

// GetBalance returns a user's balance, zero when no row exists yet
func (r *LedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, `SELECT balance FROM user_balances WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get user balance: %w", err)
	}
	return balance, nil
}

// GetEntryByIdempotencyKey looks up a prior entry
func (r *LedgerRepository) GetEntryByIdempotencyKey(ctx context.Context, key string) (*entities.LedgerEntry, error) {
	entry, err := r.getEntryByKey(ctx, r.db, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

func (r *LedgerRepository) getEntryByKey(ctx context.Context, q sqlx.QueryerContext, key string) (*entities.LedgerEntry, error) {
	query := `
		SELECT id, user_id, entry_type, amount, balance_after, reference_id, idempotency_key, description, created_at
		FROM balance_ledger_entries
		WHERE idempotency_key = $1
	`

	var entry entities.LedgerEntry
	if err := sqlx.GetContext(ctx, q, &entry, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}
