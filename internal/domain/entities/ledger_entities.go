package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType represents the reason of a user balance movement
type EntryType string

const (
	EntryTypeDeposit          EntryType = "deposit"
	EntryTypeDepositReversal  EntryType = "deposit_reversal"
	EntryTypeWithdrawal       EntryType = "withdrawal"
	EntryTypeWithdrawalRefund EntryType = "withdrawal_refund"
)

// Validate checks if the entry type is valid
func (e EntryType) Validate() error {
	switch e {
	case EntryTypeDeposit, EntryTypeDepositReversal, EntryTypeWithdrawal, EntryTypeWithdrawalRefund:
		return nil
	default:
		return fmt.Errorf("invalid entry type: %s", e)
	}
}

// UserBalance is a user's platform balance in USD
type UserBalance struct {
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an append-only record of a balance movement. The
// idempotency key is unique, so replaying a movement is a no-op.
type LedgerEntry struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         uuid.UUID       `json:"user_id" db:"user_id"`
	EntryType      EntryType       `json:"entry_type" db:"entry_type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after" db:"balance_after"`
	ReferenceID    string          `json:"reference_id" db:"reference_id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Description    *string         `json:"description,omitempty" db:"description"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// CreateEntryRequest is the input of a ledger mutation
type CreateEntryRequest struct {
	UserID         uuid.UUID
	EntryType      EntryType
	Amount         decimal.Decimal
	ReferenceID    string
	IdempotencyKey string
	Description    string
}

// Validate checks the request before it reaches the database
func (r *CreateEntryRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if err := r.EntryType.Validate(); err != nil {
		return err
	}
	if r.Amount.IsZero() {
		return fmt.Errorf("amount must be non-zero")
	}
	if r.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required")
	}
	return nil
}

// DepositSettlement is the outcome of settling a confirmed deposit
type DepositSettlement struct {
	// Completed is true only for the call that moved the deposit out of pending.
	Completed bool
	Cancelled bool
	Reason    string
	Entry     *LedgerEntry
}
