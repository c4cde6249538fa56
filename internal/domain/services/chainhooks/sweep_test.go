package chainhooks

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
)

func fundMessage() *entities.OutboundMessage {
	draft := entities.TxDraft{From: treasuryAddr, To: walletAddr, Value: entities.AmountFromInt64(5_000)}
	return NewSweepMessage(entities.NetworkEthereum, entities.ProcessFund, entities.TokenUSDT, treasurySigner, walletAddr, draft)
}

func approveMessage() *entities.OutboundMessage {
	return NewSweepMessage(entities.NetworkEthereum, entities.ProcessApprove, entities.TokenUSDT, walletSigner, walletAddr, entities.TxDraft{To: treasuryAddr})
}

func TestSweepBeforeEach(t *testing.T) {
	ctx := context.Background()

	t.Run("row held by the message", func(t *testing.T) {
		h := newHarness(t)
		msg := fundMessage()
		h.holdRow(t, msg, entities.SweepActionFund)

		ok, err := NewFundHooks(h.chain, h.deps()).BeforeEach(ctx, msg)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("row held for another action", func(t *testing.T) {
		h := newHarness(t)
		msg := fundMessage()
		h.holdRow(t, msg, entities.SweepActionApprove)

		ok, err := NewFundHooks(h.chain, h.deps()).BeforeEach(ctx, msg)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("row held by another message", func(t *testing.T) {
		h := newHarness(t)
		h.holdRow(t, fundMessage(), entities.SweepActionFund)

		ok, err := NewFundHooks(h.chain, h.deps()).BeforeEach(ctx, fundMessage())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("row not held", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.ledger.TrackDeposit(ctx, walletAddr, entities.NetworkEthereum, entities.TokenUSDT))

		ok, err := NewFundHooks(h.chain, h.deps()).BeforeEach(ctx, fundMessage())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("row gone", func(t *testing.T) {
		h := newHarness(t)

		ok, err := NewFundHooks(h.chain, h.deps()).BeforeEach(ctx, fundMessage())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("message without wallet", func(t *testing.T) {
		h := newHarness(t)
		msg := fundMessage()
		msg.WalletAddress = ""

		ok, err := NewFundHooks(h.chain, h.deps()).BeforeEach(ctx, msg)
		assert.False(t, ok)
		assert.True(t, apperrors.IsInvalidInput(err))
	})

	t.Run("top-up of a row held at approve", func(t *testing.T) {
		h := newHarness(t)
		msg := fundMessage()
		msg.RowAction = entities.SweepActionApprove
		h.holdRow(t, msg, entities.SweepActionApprove)

		ok, err := NewFundHooks(h.chain, h.deps()).BeforeEach(ctx, msg)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSweepBeforeEach_RedeliveredSendIsVetoed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	hooks := NewFundHooks(h.chain, h.deps())
	msg := fundMessage()
	h.holdRow(t, msg, entities.SweepActionFund)

	ok, err := hooks.BeforeEach(ctx, msg)
	require.NoError(t, err)
	require.True(t, ok)

	// the broker hands the same send out again after a crash
	ok, err = hooks.BeforeEach(ctx, msg.Clone())
	require.NoError(t, err)
	assert.False(t, ok)

	retry := msg.Clone()
	retry.Attempt++
	ok, err = hooks.BeforeEach(ctx, retry)
	require.NoError(t, err)
	assert.True(t, ok)

	bumped := retry.Replace("0xstuck", retry.Tx)
	ok, err = hooks.BeforeEach(ctx, bumped)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hooks.BeforeEach(ctx, retry)
	require.NoError(t, err)
	assert.False(t, ok, "a send older than the bump is refused")
}

func TestSweepKeepAlive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := fundMessage()
	h.holdRow(t, msg, entities.SweepActionFund)
	before, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, NewFundHooks(h.chain, h.deps()).KeepAlive(ctx, confirmation(msg, "0xfund")))

	after, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestFundHooks_OnSendRecordsOutgoing(t *testing.T) {
	h := newHarness(t)
	msg := fundMessage()

	err := NewFundHooks(h.chain, h.deps()).OnSend(context.Background(), msg, &pipeline.SignedTransaction{
		ID:  "0xfund",
		Fee: entities.AmountFromInt64(21_000),
	})
	require.NoError(t, err)

	require.Len(t, h.outgoing.created, 1)
	out := h.outgoing.created[0]
	assert.Equal(t, "0xfund", out.TransactionHash)
	assert.Equal(t, entities.ProcessFund, out.Process)
	assert.Equal(t, entities.OutgoingStatusPending, out.Status)
	assert.Equal(t, walletAddr, out.ToAddress)
	assert.Equal(t, "5000", out.Value.String())
	assert.Equal(t, "21000", out.TotalPaid.String())
	require.NotNil(t, out.BlockSent)
	assert.Equal(t, int64(100), *out.BlockSent)
}

func TestFundHooks_ReceiptQueuesApprove(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := fundMessage()
	h.holdRow(t, msg, entities.SweepActionFund)

	err := NewFundHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xfund"), receipt(true))
	require.NoError(t, err)

	require.Len(t, h.publisher.msgs, 1)
	next := h.publisher.msgs[0]
	row, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	require.NoError(t, err)
	assert.Equal(t, entities.SweepActionApprove, row.ActionRequired)
	assert.True(t, row.OwnedBy(next.msg.ID), "the approve message takes over the row")

	assert.Equal(t, entities.ProcessApprove, next.msg.Process)
	assert.Equal(t, entities.TokenUSDT, next.msg.Token)
	assert.Equal(t, walletSigner, next.msg.Signer)
	assert.Equal(t, walletAddr, next.msg.WalletAddress)
	assert.Equal(t, 2, next.opts.Priority)

	update := h.outgoing.receipts["0xfund"]
	assert.Equal(t, entities.OutgoingStatusCompleted, update.Status)
	assert.Equal(t, "21000", update.Fees.TotalPaid.String())
	assert.True(t, update.Fees.TotalPaidUSD.IsPositive())
}

func TestFundHooks_RevertReleasesRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := fundMessage()
	h.holdRow(t, msg, entities.SweepActionFund)

	err := NewFundHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xfund"), receipt(false))
	require.NoError(t, err)

	row, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	require.NoError(t, err)
	assert.False(t, row.Processing)
	assert.Equal(t, entities.SweepActionFund, row.ActionRequired)
	assert.Empty(t, h.publisher.msgs)
	assert.Equal(t, entities.OutgoingStatusReverted, h.outgoing.receipts["0xfund"].Status)
}

func TestApproveHooks_ReceiptQueuesPool(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := approveMessage()
	h.holdRow(t, msg, entities.SweepActionApprove)
	h.chain.balances[walletAddr+"/USDT"] = big.NewInt(750_000)

	err := NewApproveHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xapprove"), receipt(true))
	require.NoError(t, err)

	require.Len(t, h.publisher.msgs, 1)
	next := h.publisher.msgs[0].msg
	row, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	require.NoError(t, err)
	assert.Equal(t, entities.SweepActionPool, row.ActionRequired)
	assert.True(t, row.OwnedBy(next.ID))

	assert.Equal(t, entities.ProcessPool, next.Process)
	assert.Equal(t, treasurySigner, next.Signer)
	assert.Equal(t, "750000", next.Tx.Value.String())
}

func TestApproveHooks_EmptyWalletCompletesRow(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		poolErr error
	}{
		{"zero balance", 0, nil},
		{"balance below fee", 10, ErrNothingToSweep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			msg := approveMessage()
			h.holdRow(t, msg, entities.SweepActionApprove)
			h.chain.balances[walletAddr+"/USDT"] = big.NewInt(tt.balance)
			h.chain.poolErr = tt.poolErr

			require.NoError(t, NewApproveHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xapprove"), receipt(true)))

			_, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
			assert.True(t, apperrors.IsNotFound(err))
			assert.Empty(t, h.publisher.msgs)
		})
	}
}

func TestPoolHooks_TokenPoolTracksLeftoverNative(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := NewSweepMessage(entities.NetworkEthereum, entities.ProcessPool, entities.TokenUSDT, treasurySigner, walletAddr, entities.TxDraft{To: treasuryAddr})
	h.holdRow(t, msg, entities.SweepActionPool)

	require.NoError(t, NewPoolHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xpool"), receipt(true)))

	_, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	assert.True(t, apperrors.IsNotFound(err))

	native, err := h.ledger.Get(ctx, walletAddr, entities.TokenETH)
	require.NoError(t, err)
	assert.Equal(t, entities.SweepActionPool, native.ActionRequired)
	assert.False(t, native.Processing)
}

func TestPoolHooks_NativePoolLeavesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := NewSweepMessage(entities.NetworkEthereum, entities.ProcessPool, entities.TokenETH, walletSigner, walletAddr, entities.TxDraft{To: treasuryAddr})
	h.holdRow(t, msg, entities.SweepActionPool)

	require.NoError(t, NewPoolHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xpool"), receipt(true)))

	rows, err := h.ledger.ForWallet(ctx, walletAddr)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSweepOnError(t *testing.T) {
	ctx := context.Background()

	t.Run("abandon releases the row", func(t *testing.T) {
		h := newHarness(t)
		msg := fundMessage()
		h.holdRow(t, msg, entities.SweepActionFund)

		failure := &pipeline.Failure{Stage: pipeline.StageSign, Kind: apperrors.KindValidation, Err: errors.New("bad draft")}
		outcome := NewFundHooks(h.chain, h.deps()).OnError(ctx, msg, failure)
		assert.Equal(t, pipeline.OutcomeAbandon, outcome)

		row, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
		require.NoError(t, err)
		assert.False(t, row.Processing)
	})

	t.Run("retry keeps the row", func(t *testing.T) {
		h := newHarness(t)
		msg := fundMessage()
		h.holdRow(t, msg, entities.SweepActionFund)

		failure := &pipeline.Failure{Stage: pipeline.StageSign, Kind: apperrors.KindTransient, Err: errors.New("connection refused")}
		outcome := NewFundHooks(h.chain, h.deps()).OnError(ctx, msg, failure)
		assert.Equal(t, pipeline.OutcomeRetry, outcome)

		row, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
		require.NoError(t, err)
		assert.True(t, row.Processing)
	})
}

func TestFundHooks_ReceiptOfReleasedRowQueuesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := fundMessage()
	h.holdRow(t, msg, entities.SweepActionFund)
	// the lease ran out and another cycle owns the row now
	require.NoError(t, h.ledger.Release(ctx, walletAddr, entities.TokenUSDT, msg.ID))
	other := uuid.New()
	ok, err := h.ledger.Acquire(ctx, walletAddr, entities.TokenUSDT, entities.SweepActionFund, other)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, NewFundHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xfund"), receipt(true)))

	assert.Empty(t, h.publisher.msgs)
	row, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	require.NoError(t, err)
	assert.True(t, row.OwnedBy(other))
	assert.Equal(t, entities.SweepActionFund, row.ActionRequired)
}

func TestFundHooks_TopUpReceiptQueuesApprove(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	msg := fundMessage()
	msg.RowAction = entities.SweepActionApprove
	h.holdRow(t, msg, entities.SweepActionApprove)

	require.NoError(t, NewFundHooks(h.chain, h.deps()).OnReceipt(ctx, confirmation(msg, "0xfund"), receipt(true)))

	require.Len(t, h.publisher.msgs, 1)
	next := h.publisher.msgs[0].msg
	assert.Equal(t, entities.ProcessApprove, next.Process)
	row, err := h.ledger.Get(ctx, walletAddr, entities.TokenUSDT)
	require.NoError(t, err)
	assert.Equal(t, entities.SweepActionApprove, row.ActionRequired)
	assert.True(t, row.OwnedBy(next.ID))
}

func TestRegister(t *testing.T) {
	t.Run("sweeping chain", func(t *testing.T) {
		h := newHarness(t)
		registry := pipeline.NewRegistry()
		Register(registry, h.chain, h.deps())

		for _, process := range []entities.Process{entities.ProcessFund, entities.ProcessApprove, entities.ProcessPool, entities.ProcessWithdrawal} {
			_, err := registry.Lookup(entities.NetworkEthereum, process)
			assert.NoError(t, err, process)
		}
	})

	t.Run("withdrawal only chain", func(t *testing.T) {
		h := newHarness(t)
		h.chain.network = entities.NetworkRipple
		registry := pipeline.NewRegistry()
		Register(registry, withdrawalOnly{h.chain}, h.deps())

		_, err := registry.Lookup(entities.NetworkRipple, entities.ProcessWithdrawal)
		assert.NoError(t, err)
		_, err = registry.Lookup(entities.NetworkRipple, entities.ProcessPool)
		assert.Error(t, err)
	})
}
