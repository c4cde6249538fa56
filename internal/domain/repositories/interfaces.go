package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

// WalletRepository defines the interface for user deposit wallet persistence
type WalletRepository interface {
	Create(ctx context.Context, wallet *entities.Wallet) error
	GetByUserAndNetwork(ctx context.Context, userID uuid.UUID, network entities.Network) (*entities.Wallet, error)
	GetByAddress(ctx context.Context, network entities.Network, address string) (*entities.Wallet, error)
	MarkHasBalance(ctx context.Context, network entities.Network, address string) error
}

// NonceRepository allocates per-network derivation indexes
type NonceRepository interface {
	Allocate(ctx context.Context, network entities.Network, defaultValue int64) (int64, error)
}

// WalletBalanceRepository defines the sweep ledger operations. All mutations
// are conditional and report whether they took effect.
type WalletBalanceRepository interface {
	TouchOrCreate(ctx context.Context, address string, network entities.Network, token entities.Token, action entities.SweepAction) (bool, error)
	Get(ctx context.Context, address string, token entities.Token) (*entities.WalletBalance, error)
	ListByAddress(ctx context.Context, address string) ([]*entities.WalletBalance, error)
	ListIdle(ctx context.Context, network entities.Network, limit int) ([]*entities.WalletBalance, error)
	TryAcquire(ctx context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID) (bool, error)
	Advance(ctx context.Context, address string, token entities.Token, owner uuid.UUID, action entities.SweepAction, next uuid.UUID) (bool, error)
	Admit(ctx context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID, seq int) (bool, error)
	Touch(ctx context.Context, address string, token entities.Token, owner uuid.UUID) (bool, error)
	Release(ctx context.Context, address string, token entities.Token, owner uuid.UUID) (bool, error)
	ReleaseStale(ctx context.Context, cutoff time.Time, limit int) ([]*entities.WalletBalance, error)
	Delete(ctx context.Context, address string, token entities.Token, owner uuid.UUID) error
}

// OutgoingTransactionRepository keeps the broadcast audit trail
type OutgoingTransactionRepository interface {
	Create(ctx context.Context, tx *entities.OutgoingTransaction) error
	GetByHash(ctx context.Context, network entities.Network, hash string) (*entities.OutgoingTransaction, error)
	UpdateReceipt(ctx context.Context, network entities.Network, hash string, update entities.ReceiptUpdate) (bool, error)
}

// DepositRepository defines inbound deposit persistence
type DepositRepository interface {
	CreateIfAbsent(ctx context.Context, deposit *entities.DepositTransaction) (*entities.DepositTransaction, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entities.DepositTransaction, error)
	UpdateConfirmations(ctx context.Context, id uuid.UUID, confirmations int) error
}

// WithdrawalRepository defines the withdrawal record operations the
// pipeline needs
type WithdrawalRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []entities.WithdrawalStatus, to entities.WithdrawalStatus, reason *string) (bool, error)
	SetTransactionHash(ctx context.Context, id uuid.UUID, hash string) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	ListStuck(ctx context.Context, status entities.WithdrawalStatus, olderThanSeconds int, limit int) ([]*entities.Withdrawal, error)
}

// DepositReview runs inside the settlement transaction once a deposit has
// passed the completion gate. A rejection cancels the deposit with reason.
type DepositReview func(ctx context.Context) (approved bool, reason string)

// LedgerRepository defines user balance ledger persistence
type LedgerRepository interface {
	ApplyEntry(ctx context.Context, req *entities.CreateEntryRequest) (*entities.LedgerEntry, bool, error)
	SettleDeposit(ctx context.Context, depositID uuid.UUID, entry *entities.CreateEntryRequest, review DepositReview) (*entities.DepositSettlement, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}
