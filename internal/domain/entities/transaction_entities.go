package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeBreakdown records what the user was charged against what the network took
type FeeBreakdown struct {
	UserPaid     Amount          `json:"user_paid" db:"fee_user_paid"`
	TotalPaid    Amount          `json:"total_paid" db:"fee_total_paid"`
	UserPaidUSD  decimal.Decimal `json:"user_paid_usd" db:"fee_user_paid_usd"`
	TotalPaidUSD decimal.Decimal `json:"total_paid_usd" db:"fee_total_paid_usd"`
}

// OutgoingTransaction is the audit record of one broadcast. Never deleted.
type OutgoingTransaction struct {
	ID              uuid.UUID                 `json:"id" db:"id"`
	Network         Network                   `json:"network" db:"network"`
	TransactionHash string                    `json:"transaction_hash" db:"transaction_hash"`
	Status          OutgoingTransactionStatus `json:"status" db:"status"`
	Process         Process                   `json:"process" db:"process"`
	Token           Token                     `json:"token" db:"token"`
	Value           Amount                    `json:"value" db:"value"`
	FromAddress     string                    `json:"from_address" db:"from_address"`
	ToAddress       string                    `json:"to_address" db:"to_address"`
	WithdrawalID    *uuid.UUID                `json:"withdrawal_id,omitempty" db:"withdrawal_id"`
	BlockSent       *int64                    `json:"block_sent,omitempty" db:"block_sent"`
	BlockConfirmed  *int64                    `json:"block_confirmed,omitempty" db:"block_confirmed"`
	BlockHash       *string                   `json:"block_hash,omitempty" db:"block_hash"`
	FeeBreakdown
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReceiptUpdate carries the finalized on-chain outcome of a broadcast
type ReceiptUpdate struct {
	Status         OutgoingTransactionStatus
	BlockConfirmed *int64
	BlockHash      *string
	Fees           FeeBreakdown
}

// DepositTransaction is one inbound transfer matched to a user wallet
type DepositTransaction struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	WalletAddress   string          `json:"wallet_address" db:"wallet_address"`
	Network         Network         `json:"network" db:"network"`
	Token           Token           `json:"token" db:"token"`
	TransactionHash string          `json:"transaction_hash" db:"transaction_hash"`
	Amount          Amount          `json:"amount" db:"amount"`
	AmountUSD       decimal.Decimal `json:"amount_usd" db:"amount_usd"`
	Confirmations   int             `json:"confirmations" db:"confirmations"`
	Status          DepositStatus   `json:"status" db:"status"`
	CancelReason    *string         `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Withdrawal is a user's request to move funds off the platform
type Withdrawal struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	UserID          uuid.UUID        `json:"user_id" db:"user_id"`
	Network         Network          `json:"network" db:"network"`
	Token           Token            `json:"token" db:"token"`
	ToAddress       string           `json:"to_address" db:"to_address"`
	DestinationTag  *int64           `json:"destination_tag,omitempty" db:"destination_tag"`
	Amount          Amount           `json:"amount" db:"amount"`
	AmountUSD       decimal.Decimal  `json:"amount_usd" db:"amount_usd"`
	FeeUSD          decimal.Decimal  `json:"fee_usd" db:"fee_usd"`
	Status          WithdrawalStatus `json:"status" db:"status"`
	Reason          *string          `json:"reason,omitempty" db:"reason"`
	TransactionHash *string          `json:"transaction_hash,omitempty" db:"transaction_hash"`
	Attempts        int              `json:"attempts" db:"attempts"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}
