package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

type memoryLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	entries  map[string]*entities.LedgerEntry
	pending  map[uuid.UUID]bool
	err      error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		balances: make(map[uuid.UUID]decimal.Decimal),
		entries:  make(map[string]*entities.LedgerEntry),
		pending:  make(map[uuid.UUID]bool),
	}
}

func (m *memoryLedger) ApplyEntry(_ context.Context, req *entities.CreateEntryRequest) (*entities.LedgerEntry, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	if e, ok := m.entries[req.IdempotencyKey]; ok {
		return e, false, nil
	}
	balance := m.balances[req.UserID].Add(req.Amount)
	m.balances[req.UserID] = balance
	e := &entities.LedgerEntry{
		ID:             uuid.New(),
		UserID:         req.UserID,
		EntryType:      req.EntryType,
		Amount:         req.Amount,
		BalanceAfter:   balance,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
	}
	m.entries[req.IdempotencyKey] = e
	return e, true, nil
}

// SettleDeposit only writes when the whole settlement succeeds
func (m *memoryLedger) SettleDeposit(ctx context.Context, depositID uuid.UUID, req *entities.CreateEntryRequest, review repositories.DepositReview) (*entities.DepositSettlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending[depositID] {
		return &entities.DepositSettlement{}, nil
	}
	if approved, reason := review(ctx); !approved {
		delete(m.pending, depositID)
		return &entities.DepositSettlement{Completed: true, Cancelled: true, Reason: reason}, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	balance := m.balances[req.UserID].Add(req.Amount)
	m.balances[req.UserID] = balance
	e := &entities.LedgerEntry{ID: uuid.New(), UserID: req.UserID, Amount: req.Amount, BalanceAfter: balance, IdempotencyKey: req.IdempotencyKey}
	m.entries[req.IdempotencyKey] = e
	delete(m.pending, depositID)
	return &entities.DepositSettlement{Completed: true, Entry: e}, nil
}

func (m *memoryLedger) GetBalance(_ context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func TestCreditDeposit(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc := NewService(repo, logger.NewNop())
	userID, depositID := uuid.New(), uuid.New()

	entry, applied, err := svc.CreditDeposit(ctx, userID, depositID, decimal.NewFromInt(25), entities.TokenUSDT, entities.NetworkEthereum)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "deposit:"+depositID.String(), entry.IdempotencyKey)
	assert.Equal(t, depositID.String(), entry.ReferenceID)
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(25)))

	again, applied, err := svc.CreditDeposit(ctx, userID, depositID, decimal.NewFromInt(25), entities.TokenUSDT, entities.NetworkEthereum)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, entry.ID, again.ID)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(25)))
}

func TestCreditDeposit_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc := NewService(repo, logger.NewNop())
	userID, depositID := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := svc.CreditDeposit(ctx, userID, depositID, decimal.NewFromInt(10), entities.TokenETH, entities.NetworkEthereum)
			assert.NoError(t, err)
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, appliedCount)
	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)))
}

func TestCreditDeposit_Errors(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc := NewService(repo, logger.NewNop())

	_, _, err := svc.CreditDeposit(ctx, uuid.New(), uuid.New(), decimal.Zero, entities.TokenETH, entities.NetworkEthereum)
	assert.True(t, apperrors.IsInvalidInput(err))

	repo.err = errors.New("connection reset")
	_, _, err = svc.CreditDeposit(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1), entities.TokenETH, entities.NetworkEthereum)
	assert.ErrorContains(t, err, "connection reset")
}

func TestSettleDeposit(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("credits once", func(t *testing.T) {
		repo := newMemoryLedger()
		svc := NewService(repo, logger.NewNop())
		depositID := uuid.New()
		repo.pending[depositID] = true

		settlement, err := svc.SettleDeposit(ctx, userID, depositID, decimal.NewFromInt(40), entities.TokenUSDT, entities.NetworkEthereum, nil)
		require.NoError(t, err)
		assert.True(t, settlement.Completed)
		require.NotNil(t, settlement.Entry)
		assert.Equal(t, DepositKey(depositID), settlement.Entry.IdempotencyKey)

		again, err := svc.SettleDeposit(ctx, userID, depositID, decimal.NewFromInt(40), entities.TokenUSDT, entities.NetworkEthereum, nil)
		require.NoError(t, err)
		assert.False(t, again.Completed)

		balance, err := svc.GetBalance(ctx, userID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromInt(40)))
	})

	t.Run("non-positive value cancels by default", func(t *testing.T) {
		repo := newMemoryLedger()
		svc := NewService(repo, logger.NewNop())
		depositID := uuid.New()
		repo.pending[depositID] = true

		settlement, err := svc.SettleDeposit(ctx, userID, depositID, decimal.Zero, entities.TokenUSDT, entities.NetworkEthereum, nil)
		require.NoError(t, err)
		assert.True(t, settlement.Cancelled)
		assert.NotEmpty(t, settlement.Reason)
	})

	t.Run("failure leaves deposit pending", func(t *testing.T) {
		repo := newMemoryLedger()
		svc := NewService(repo, logger.NewNop())
		depositID := uuid.New()
		repo.pending[depositID] = true
		repo.err = errors.New("connection reset")

		_, err := svc.SettleDeposit(ctx, userID, depositID, decimal.NewFromInt(5), entities.TokenUSDT, entities.NetworkEthereum, nil)
		assert.ErrorContains(t, err, "connection reset")
		assert.True(t, repo.pending[depositID])

		repo.err = nil
		settlement, err := svc.SettleDeposit(ctx, userID, depositID, decimal.NewFromInt(5), entities.TokenUSDT, entities.NetworkEthereum, nil)
		require.NoError(t, err)
		assert.True(t, settlement.Completed)
		assert.NotNil(t, settlement.Entry)
	})
}
