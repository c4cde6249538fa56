package chainhooks

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
)

func TestWithdrawalBeforeEach_ClaimsAndDrafts(t *testing.T) {
	ctx := context.Background()
	w := newWithdrawal(entities.TokenUSDT, 1_000_000)
	h := newHarness(t, w)
	h.chain.treasury[entities.TokenUSDT] = big.NewInt(5_000_000)
	hooks := NewWithdrawalHooks(h.chain, h.deps())

	msg := NewWithdrawalMessage(w, treasurySigner)
	ok, err := hooks.BeforeEach(ctx, msg)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, entities.WithdrawalStatusProcessing, h.withdrawals.status(w.ID))
	assert.Equal(t, 1, h.withdrawals.attempts[w.ID])
	assert.Equal(t, "0xcontract", msg.Tx.Contract)
	assert.Equal(t, userAddr, msg.Tx.To)
	assert.Equal(t, "1000000", msg.Tx.Value.String())
	require.NotNil(t, msg.Fees)
	assert.Equal(t, "21000", msg.Fees.TotalPaid.String())
	assert.True(t, msg.Fees.UserPaidUSD.Equal(w.FeeUSD))
	// 2 USD at 2000 USD/ETH
	assert.Equal(t, "1000000000000000", msg.Fees.UserPaid.String())

	again, err := hooks.BeforeEach(ctx, NewWithdrawalMessage(w, treasurySigner))
	require.NoError(t, err)
	assert.False(t, again, "a second send must not claim a processing withdrawal")
}

func TestWithdrawalBeforeEach_RetryNeedsProcessing(t *testing.T) {
	ctx := context.Background()
	w := newWithdrawal(entities.TokenETH, 1_000)
	w.Status = entities.WithdrawalStatusSent
	h := newHarness(t, w)
	h.chain.treasury[entities.TokenETH] = big.NewInt(1_000_000)

	msg := NewWithdrawalMessage(w, treasurySigner)
	msg.Attempt = 1
	ok, err := NewWithdrawalHooks(h.chain, h.deps()).BeforeEach(ctx, msg)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithdrawalBeforeEach_ReplacementSkipsChecks(t *testing.T) {
	w := newWithdrawal(entities.TokenETH, 1_000)
	w.Status = entities.WithdrawalStatusSent
	h := newHarness(t, w)

	msg := NewWithdrawalMessage(w, treasurySigner)
	msg.ReplacesTransaction = "0xold"
	ok, err := NewWithdrawalHooks(h.chain, h.deps()).BeforeEach(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entities.WithdrawalStatusSent, h.withdrawals.status(w.ID))
}

func TestWithdrawalBeforeEach_ShortTreasuryDefers(t *testing.T) {
	tests := []struct {
		name     string
		token    entities.Token
		treasury int64
		pooled   []entities.Token
	}{
		{"native amount plus fee", entities.TokenETH, 1_000, []entities.Token{entities.TokenETH}},
		{"token amount", entities.TokenUSDT, 999, []entities.Token{entities.TokenUSDT, entities.TokenETH}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWithdrawal(tt.token, 1_000)
			h := newHarness(t, w)
			h.chain.treasury[tt.token] = big.NewInt(tt.treasury)

			ok, err := NewWithdrawalHooks(h.chain, h.deps()).BeforeEach(context.Background(), NewWithdrawalMessage(w, treasurySigner))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, entities.WithdrawalStatusReprocessing, h.withdrawals.status(w.ID))
			assert.ElementsMatch(t, tt.pooled, h.pending(t))
		})
	}
}

func TestWithdrawalBeforeEach_InvalidRequestFails(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *entities.Withdrawal, c *fakeChain)
	}{
		{"bad address", func(_ *entities.Withdrawal, c *fakeChain) { c.validateErr = apperrors.ErrInvalidAddress }},
		{"zero amount", func(w *entities.Withdrawal, _ *fakeChain) { w.Amount = entities.AmountFromInt64(0) }},
		{"tag out of range", func(w *entities.Withdrawal, _ *fakeChain) {
			tag := int64(1) << 40
			w.DestinationTag = &tag
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWithdrawal(entities.TokenETH, 1_000)
			h := newHarness(t, w)
			h.chain.treasury[entities.TokenETH] = big.NewInt(1_000_000)
			tt.mutate(w, h.chain)

			ok, err := NewWithdrawalHooks(h.chain, h.deps()).BeforeEach(context.Background(), NewWithdrawalMessage(w, treasurySigner))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, entities.WithdrawalStatusFailed, h.withdrawals.status(w.ID))
			assert.Equal(t, []entities.SettlementEventType{entities.EventWithdrawalFailed}, h.notifier.types())
		})
	}
}

func TestWithdrawalBeforeEach_DestinationTag(t *testing.T) {
	w := newWithdrawal(entities.TokenETH, 1_000)
	tag := int64(4242)
	w.DestinationTag = &tag
	h := newHarness(t, w)
	h.chain.treasury[entities.TokenETH] = big.NewInt(1_000_000)

	msg := NewWithdrawalMessage(w, treasurySigner)
	ok, err := NewWithdrawalHooks(h.chain, h.deps()).BeforeEach(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, msg.Tx.DestinationTag)
	assert.Equal(t, uint32(4242), *msg.Tx.DestinationTag)
}

func TestWithdrawalLifecycle(t *testing.T) {
	ctx := context.Background()
	w := newWithdrawal(entities.TokenETH, 1_000)
	h := newHarness(t, w)
	h.chain.treasury[entities.TokenETH] = big.NewInt(1_000_000)
	hooks := NewWithdrawalHooks(h.chain, h.deps())

	msg := NewWithdrawalMessage(w, treasurySigner)
	ok, err := hooks.BeforeEach(ctx, msg)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, hooks.OnSend(ctx, msg, &pipeline.SignedTransaction{ID: "0xsent"}))
	assert.Equal(t, entities.WithdrawalStatusSent, h.withdrawals.status(w.ID))
	stored, err := h.withdrawals.GetByID(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TransactionHash)
	assert.Equal(t, "0xsent", *stored.TransactionHash)
	require.Len(t, h.outgoing.created, 1)
	assert.Equal(t, &w.ID, h.outgoing.created[0].WithdrawalID)

	require.NoError(t, hooks.OnReceipt(ctx, confirmation(msg, "0xsent"), receipt(true)))
	assert.Equal(t, entities.WithdrawalStatusCompleted, h.withdrawals.status(w.ID))

	update := h.outgoing.receipts["0xsent"]
	assert.Equal(t, entities.OutgoingStatusCompleted, update.Status)
	assert.True(t, update.Fees.UserPaidUSD.Equal(w.FeeUSD))

	assert.Equal(t, []entities.SettlementEventType{entities.EventWithdrawalSent, entities.EventWithdrawalCompleted}, h.notifier.types())
	assert.Equal(t, w.ID.String(), h.notifier.events[1].ReferenceID)
}

func TestWithdrawalOnReceipt_CompletesWhenSendWasNotRecorded(t *testing.T) {
	w := newWithdrawal(entities.TokenETH, 1_000)
	w.Status = entities.WithdrawalStatusProcessing
	h := newHarness(t, w)

	msg := NewWithdrawalMessage(w, treasurySigner)
	require.NoError(t, NewWithdrawalHooks(h.chain, h.deps()).OnReceipt(context.Background(), confirmation(msg, "0xsent"), receipt(true)))
	assert.Equal(t, entities.WithdrawalStatusCompleted, h.withdrawals.status(w.ID))
}

func TestWithdrawalOnReceipt_RevertFails(t *testing.T) {
	w := newWithdrawal(entities.TokenETH, 1_000)
	w.Status = entities.WithdrawalStatusSent
	h := newHarness(t, w)
	h.chain.treasury[entities.TokenETH] = big.NewInt(10)

	msg := NewWithdrawalMessage(w, treasurySigner)
	require.NoError(t, NewWithdrawalHooks(h.chain, h.deps()).OnReceipt(context.Background(), confirmation(msg, "0xsent"), receipt(false)))

	assert.Equal(t, entities.WithdrawalStatusFailed, h.withdrawals.status(w.ID))
	assert.Equal(t, entities.OutgoingStatusReverted, h.outgoing.receipts["0xsent"].Status)
	assert.Equal(t, []entities.SettlementEventType{entities.EventWithdrawalFailed}, h.notifier.types())
	assert.Contains(t, h.pending(t), entities.TokenETH)
}

func TestWithdrawalOnError(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		failure *pipeline.Failure
		attempt int
		want    pipeline.Outcome
		status  entities.WithdrawalStatus
		pooled  bool
	}{
		{
			name:    "insufficient funds retried",
			failure: &pipeline.Failure{Stage: pipeline.StageBroadcast, Kind: apperrors.KindInsufficientFunds, Err: errors.New("insufficient funds")},
			want:    pipeline.OutcomeRetry,
			status:  entities.WithdrawalStatusProcessing,
			pooled:  true,
		},
		{
			name:    "insufficient funds exhausted defers",
			failure: &pipeline.Failure{Stage: pipeline.StageBroadcast, Kind: apperrors.KindInsufficientFunds, Err: errors.New("insufficient funds")},
			attempt: 5,
			want:    pipeline.OutcomeAbandon,
			status:  entities.WithdrawalStatusReprocessing,
			pooled:  true,
		},
		{
			name:    "validation fails",
			failure: &pipeline.Failure{Stage: pipeline.StageSign, Kind: apperrors.KindValidation, Err: apperrors.ErrInvalidAddress},
			want:    pipeline.OutcomeAbandon,
			status:  entities.WithdrawalStatusFailed,
		},
		{
			name:    "transient broadcast ignored",
			failure: &pipeline.Failure{Stage: pipeline.StageBroadcast, Kind: apperrors.KindTransient, Err: errors.New("timeout")},
			want:    pipeline.OutcomeIgnore,
			status:  entities.WithdrawalStatusProcessing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWithdrawal(entities.TokenETH, 1_000)
			w.Status = entities.WithdrawalStatusProcessing
			h := newHarness(t, w)

			msg := NewWithdrawalMessage(w, treasurySigner)
			msg.Attempt = tt.attempt
			outcome := NewWithdrawalHooks(h.chain, h.deps()).OnError(ctx, msg, tt.failure)

			assert.Equal(t, tt.want, outcome)
			assert.Equal(t, tt.status, h.withdrawals.status(w.ID))
			if tt.pooled {
				assert.Contains(t, h.pending(t), entities.TokenETH)
			} else {
				assert.Empty(t, h.pending(t))
			}
		})
	}
}
