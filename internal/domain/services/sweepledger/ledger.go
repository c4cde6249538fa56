// Package sweepledger tracks which token balances still have to be swept out
// of user deposit wallets and which pipeline cycle currently owns each one.
package sweepledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// Ledger is the only entry point hooks and the orchestrator use to mutate
// wallet balance rows
type Ledger struct {
	repo   repositories.WalletBalanceRepository
	logger *logger.Logger
}

// New creates a sweep ledger
func New(repo repositories.WalletBalanceRepository, log *logger.Logger) *Ledger {
	return &Ledger{repo: repo, logger: log}
}

// Track records that address owes a sweep of token. An existing row is left
// untouched.
func (l *Ledger) Track(ctx context.Context, address string, network entities.Network, token entities.Token, action entities.SweepAction) error {
	if !network.SupportsSweeping() {
		return nil
	}
	if !action.IsValid() {
		return fmt.Errorf("invalid sweep action %q", action)
	}
	created, err := l.repo.TouchOrCreate(ctx, address, network, token, action)
	if err != nil {
		return err
	}
	if created {
		l.logger.Debug("Tracking wallet balance", "address", address, "token", token, "action", action)
	}
	return nil
}

// TrackDeposit records a freshly credited deposit with the first action its
// token needs
func (l *Ledger) TrackDeposit(ctx context.Context, address string, network entities.Network, token entities.Token) error {
	return l.Track(ctx, address, network, token, entities.InitialSweepAction(token))
}

// Acquire claims the row for the cycle of message owner, moving it to
// action. False means another cycle holds the row or the move would go
// backwards.
func (l *Ledger) Acquire(ctx context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID) (bool, error) {
	if !action.IsValid() {
		return false, fmt.Errorf("invalid sweep action %q", action)
	}
	ok, err := l.repo.TryAcquire(ctx, address, token, action, owner)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Debug("Wallet balance not acquired", "address", address, "token", token, "action", action)
	}
	return ok, nil
}

// Advance hands an owned row from message owner to message next at the next
// action
func (l *Ledger) Advance(ctx context.Context, address string, token entities.Token, owner uuid.UUID, action entities.SweepAction, next uuid.UUID) (bool, error) {
	if !action.IsValid() {
		return false, fmt.Errorf("invalid sweep action %q", action)
	}
	ok, err := l.repo.Advance(ctx, address, token, owner, action, next)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Warn("Wallet balance not advanced",
			"address", address, "token", token, "action", action, "owner", owner)
	}
	return ok, nil
}

// Admit records that send seq of message owner is about to be broadcast.
// A redelivered or superseded send is refused.
func (l *Ledger) Admit(ctx context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID, seq int) (bool, error) {
	ok, err := l.repo.Admit(ctx, address, token, action, owner, seq)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Warn("Wallet balance send not admitted",
			"address", address, "token", token, "action", action, "owner", owner, "send_seq", seq)
	}
	return ok, nil
}

// Touch refreshes the lease of an owned row while its transaction is still
// being confirmed
func (l *Ledger) Touch(ctx context.Context, address string, token entities.Token, owner uuid.UUID) (bool, error) {
	ok, err := l.repo.Touch(ctx, address, token, owner)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Debug("Wallet balance lease not refreshed", "address", address, "token", token, "owner", owner)
	}
	return ok, nil
}

// Release gives up ownership so a later cycle can retry the row. Releasing a
// row owner no longer holds is a no-op.
func (l *Ledger) Release(ctx context.Context, address string, token entities.Token, owner uuid.UUID) error {
	ok, err := l.repo.Release(ctx, address, token, owner)
	if err != nil {
		return err
	}
	if !ok {
		l.logger.Debug("Wallet balance already released", "address", address, "token", token, "owner", owner)
		return nil
	}
	l.logger.Debug("Released wallet balance", "address", address, "token", token)
	return nil
}

// Complete removes a fully swept row. uuid.Nil removes the row only while no
// cycle holds it.
func (l *Ledger) Complete(ctx context.Context, address string, token entities.Token, owner uuid.UUID) error {
	if err := l.repo.Delete(ctx, address, token, owner); err != nil {
		return err
	}
	l.logger.Info("Wallet balance swept", "address", address, "token", token)
	return nil
}

// Get returns one row
func (l *Ledger) Get(ctx context.Context, address string, token entities.Token) (*entities.WalletBalance, error) {
	return l.repo.Get(ctx, address, token)
}

// Idle lists rows of network no cycle currently owns
func (l *Ledger) Idle(ctx context.Context, network entities.Network, limit int) ([]*entities.WalletBalance, error) {
	return l.repo.ListIdle(ctx, network, limit)
}

// ForWallet lists every row of a wallet
func (l *Ledger) ForWallet(ctx context.Context, address string) ([]*entities.WalletBalance, error) {
	return l.repo.ListByAddress(ctx, address)
}

// ReleaseStale frees rows whose lease has not been refreshed for lease and
// returns how many were released
func (l *Ledger) ReleaseStale(ctx context.Context, lease time.Duration, limit int) (int, error) {
	rows, err := l.repo.ReleaseStale(ctx, time.Now().Add(-lease), limit)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		l.logger.Warn("Released stale wallet balance",
			"address", row.Address, "token", row.Token, "action", row.ActionRequired, "held_since", row.UpdatedAt)
	}
	return len(rows), nil
}
