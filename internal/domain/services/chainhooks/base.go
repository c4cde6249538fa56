package chainhooks

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/cache"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// base carries the behaviour every process shares: confirmation lookups,
// bump decisions and the outgoing transaction audit trail.
type base struct {
	chain   Chain
	deps    Deps
	process entities.Process
	logger  *logger.Logger
}

func newBase(chain Chain, deps Deps, process entities.Process) base {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 5
	}
	return base{
		chain:   chain,
		deps:    deps,
		process: process,
		logger:  log.With("network", chain.Network(), "process", process),
	}
}

func (b *base) IsTransactionConfirmed(ctx context.Context, cmsg *entities.ConfirmationMessage) (*pipeline.Confirmation, error) {
	return b.chain.Status(ctx, cmsg.TransactionID)
}

// KeepAlive has nothing to refresh for messages that own no ledger row
func (b *base) KeepAlive(context.Context, *entities.ConfirmationMessage) error {
	return nil
}

func (b *base) ShouldBump(ctx context.Context, cmsg *entities.ConfirmationMessage) (*entities.TxDraft, bool, error) {
	return b.chain.ShouldBump(ctx, cmsg)
}

// recordSend writes the audit row of a broadcast. Re-recording the same hash
// is a no-op.
func (b *base) recordSend(ctx context.Context, msg *entities.OutboundMessage, tx *pipeline.SignedTransaction) error {
	out := &entities.OutgoingTransaction{
		ID:              uuid.New(),
		Network:         msg.Network,
		TransactionHash: tx.ID,
		Status:          entities.OutgoingStatusPending,
		Process:         msg.Process,
		Token:           msg.Token,
		Value:           entities.NewAmount(msg.Tx.Value.BigInt()),
		FromAddress:     msg.Signer.Address,
		ToAddress:       msg.Tx.To,
		WithdrawalID:    msg.WithdrawalID,
	}
	if msg.Fees != nil {
		out.FeeBreakdown = *msg.Fees
	} else {
		out.TotalPaid = tx.Fee
	}

	if block, err := b.chain.BlockNumber(ctx); err == nil {
		out.BlockSent = &block
	} else {
		b.logger.Debug("Block height unavailable for outgoing record", "error", err)
	}

	if err := b.deps.Outgoing.Create(ctx, out); err != nil {
		return fmt.Errorf("failed to record outgoing transaction %s: %w", tx.ID, err)
	}
	return nil
}

// recordReceipt finalizes the audit row and returns the settled fees
func (b *base) recordReceipt(ctx context.Context, cmsg *entities.ConfirmationMessage, receipt *pipeline.Receipt) (entities.FeeBreakdown, error) {
	fees := b.settledFees(ctx, &cmsg.Outbound, receipt.FeePaid)

	status := entities.OutgoingStatusCompleted
	if !receipt.Success {
		status = entities.OutgoingStatusReverted
	}
	_, err := b.deps.Outgoing.UpdateReceipt(ctx, cmsg.Outbound.Network, cmsg.TransactionID, entities.ReceiptUpdate{
		Status:         status,
		BlockConfirmed: receipt.BlockNumber,
		BlockHash:      receipt.BlockHash,
		Fees:           fees,
	})
	if err != nil {
		return fees, fmt.Errorf("failed to record receipt of %s: %w", cmsg.TransactionID, err)
	}
	return fees, nil
}

func (b *base) settledFees(ctx context.Context, msg *entities.OutboundMessage, paid entities.Amount) entities.FeeBreakdown {
	fees := entities.FeeBreakdown{TotalPaid: paid}
	if msg.Fees != nil {
		fees.UserPaid = msg.Fees.UserPaid
		fees.UserPaidUSD = msg.Fees.UserPaidUSD
	}
	if b.deps.Rates == nil {
		return fees
	}
	usd, err := cache.USDValue(ctx, b.deps.Rates, b.chain.Network().NativeToken(), paid)
	if err != nil {
		b.logger.Warn("Fee valuation failed", "error", err)
		return fees
	}
	fees.TotalPaidUSD = usd
	return fees
}

// nativeAmountForUSD converts a USD figure into base units of the network's
// native token, zero when no rate is known.
func (b *base) nativeAmountForUSD(ctx context.Context, usd decimal.Decimal) entities.Amount {
	native := b.chain.Network().NativeToken()
	info, _ := native.Info()
	if b.deps.Rates == nil || !usd.IsPositive() {
		return entities.AmountFromInt64(0)
	}
	price, err := b.deps.Rates.USDPrice(ctx, native)
	if err != nil || !price.IsPositive() {
		return entities.AmountFromInt64(0)
	}
	return entities.NewAmount(usd.Div(price).Shift(info.Decimals).Floor().BigInt())
}

func (b *base) publish(ctx context.Context, msg *entities.OutboundMessage) error {
	return b.deps.Publisher.PublishOutboundTransaction(ctx, msg, queue.PublishOptions{Priority: b.deps.PoolingPriority})
}

func (b *base) notify(ctx context.Context, event *entities.SettlementEvent) {
	if b.deps.Notifier != nil {
		b.deps.Notifier.Notify(ctx, event)
	}
}

func (b *base) requestPooling(ctx context.Context, token entities.Token) {
	if b.deps.Pooling == nil {
		return
	}
	tokens := []entities.Token{token}
	if native := b.chain.Network().NativeToken(); native != token {
		tokens = append(tokens, native)
	}
	if err := b.deps.Pooling.Request(ctx, b.chain.Network(), tokens...); err != nil {
		b.logger.Warn("Failed to request pooling", "token", token, "error", err)
	}
}

// NewSweepMessage builds a fund, approve or pool message owning the ledger
// row of (wallet, token)
func NewSweepMessage(network entities.Network, process entities.Process, token entities.Token, signer entities.Signer, wallet string, draft entities.TxDraft) *entities.OutboundMessage {
	msg := entities.NewOutboundMessage(network, process, token, signer)
	msg.Tx = draft
	msg.WalletAddress = wallet
	return msg
}

// NewWithdrawalMessage builds the message that starts sending w from the
// treasury
func NewWithdrawalMessage(w *entities.Withdrawal, treasury entities.Signer) *entities.OutboundMessage {
	msg := entities.NewOutboundMessage(w.Network, entities.ProcessWithdrawal, w.Token, treasury)
	id := w.ID
	msg.WithdrawalID = &id
	msg.Tx = entities.TxDraft{
		From:  treasury.Address,
		To:    w.ToAddress,
		Value: entities.NewAmount(w.Amount.BigInt()),
	}
	return msg
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() <= 0
}
