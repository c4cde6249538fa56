package chainhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
)

// sweepHooks is shared by the fund, approve and pool processes. A message
// owns the ledger row of (WalletAddress, Token) from the moment the row was
// acquired until the row is released or completed.
type sweepHooks struct {
	base
	sweep  SweepChain
	action entities.SweepAction
}

func newSweepHooks(sweep SweepChain, deps Deps, process entities.Process, action entities.SweepAction) sweepHooks {
	return sweepHooks{
		base:   newBase(sweep, deps, process),
		sweep:  sweep,
		action: action,
	}
}

// BeforeEach only lets a message through while it owns its row at the
// action it was sent for, and only once per send. Anything else means another
// path already moved the row on or the queue redelivered a send.
func (h *sweepHooks) BeforeEach(ctx context.Context, msg *entities.OutboundMessage) (bool, error) {
	if msg.WalletAddress == "" {
		return false, apperrors.ValidationError("wallet_address", "sweep messages must name the wallet whose row they own")
	}
	row, err := h.deps.Ledger.Get(ctx, msg.WalletAddress, msg.Token)
	if err != nil {
		if apperrors.IsNotFound(err) {
			h.logger.Info("Sweep row no longer exists", "wallet", msg.WalletAddress, "token", msg.Token)
			return false, nil
		}
		return false, err
	}
	action := h.heldAction(msg)
	if !row.OwnedBy(msg.ID) || row.ActionRequired != action {
		h.logger.Info("Sweep row not held by this message",
			"wallet", msg.WalletAddress,
			"token", msg.Token,
			"action_required", row.ActionRequired,
			"processing", row.Processing,
			"message_id", msg.ID,
		)
		return false, nil
	}
	return h.deps.Ledger.Admit(ctx, msg.WalletAddress, msg.Token, action, msg.ID, msg.SendSequence())
}

// heldAction is the action the row of msg is held at
func (h *sweepHooks) heldAction(msg *entities.OutboundMessage) entities.SweepAction {
	if msg.RowAction != "" {
		return msg.RowAction
	}
	return h.action
}

// KeepAlive refreshes the row lease while the transaction is confirming
func (h *sweepHooks) KeepAlive(ctx context.Context, cmsg *entities.ConfirmationMessage) error {
	_, err := h.deps.Ledger.Touch(ctx, cmsg.Outbound.WalletAddress, cmsg.Outbound.Token, cmsg.Outbound.ID)
	return err
}

func (h *sweepHooks) OnSend(ctx context.Context, msg *entities.OutboundMessage, tx *pipeline.SignedTransaction) error {
	return h.recordSend(ctx, msg, tx)
}

func (h *sweepHooks) OnError(ctx context.Context, msg *entities.OutboundMessage, failure *pipeline.Failure) pipeline.Outcome {
	outcome := pipeline.DefaultOutcome(failure, msg, h.deps.MaxAttempts)
	if outcome == pipeline.OutcomeAbandon && msg.WalletAddress != "" {
		h.release(ctx, msg)
	}
	return outcome
}

func (h *sweepHooks) release(ctx context.Context, msg *entities.OutboundMessage) {
	if err := h.deps.Ledger.Release(ctx, msg.WalletAddress, msg.Token, msg.ID); err != nil {
		h.logger.Error("Failed to release sweep row", "wallet", msg.WalletAddress, "token", msg.Token, "error", err)
	}
}

// finish records the receipt and reports whether the step succeeded. A
// reverted step hands the row back to the next pooling cycle.
func (h *sweepHooks) finish(ctx context.Context, cmsg *entities.ConfirmationMessage, receipt *pipeline.Receipt) (bool, error) {
	if _, err := h.recordReceipt(ctx, cmsg, receipt); err != nil {
		return false, err
	}
	if !receipt.Success {
		h.logger.Warn("Sweep transaction reverted",
			"wallet", cmsg.Outbound.WalletAddress,
			"token", cmsg.Outbound.Token,
			"transaction_id", cmsg.TransactionID,
		)
		h.release(ctx, &cmsg.Outbound)
		return false, nil
	}
	return true, nil
}

// handOver moves the row from msg to next at action and publishes next. A
// row msg no longer owns is left alone and next is dropped.
func (h *sweepHooks) handOver(ctx context.Context, msg, next *entities.OutboundMessage, action entities.SweepAction) (bool, error) {
	advanced, err := h.deps.Ledger.Advance(ctx, msg.WalletAddress, msg.Token, msg.ID, action, next.ID)
	if err != nil {
		return false, err
	}
	if !advanced {
		return false, nil
	}
	if err := h.publish(ctx, next); err != nil {
		h.release(ctx, next)
		return false, fmt.Errorf("failed to publish %s message: %w", next.Process, err)
	}
	return true, nil
}

// FundHooks sends native currency to a user wallet so it can pay for its
// approve transaction
type FundHooks struct {
	sweepHooks
}

// NewFundHooks creates the fund process hooks
func NewFundHooks(sweep SweepChain, deps Deps) *FundHooks {
	return &FundHooks{sweepHooks: newSweepHooks(sweep, deps, entities.ProcessFund, entities.SweepActionFund)}
}

// OnReceipt advances the row to approve and emits the approve message signed
// by the wallet itself
func (h *FundHooks) OnReceipt(ctx context.Context, cmsg *entities.ConfirmationMessage, receipt *pipeline.Receipt) error {
	ok, err := h.finish(ctx, cmsg, receipt)
	if err != nil || !ok {
		return err
	}
	msg := &cmsg.Outbound

	signer, err := h.deps.Signers.SignerForAddress(ctx, msg.Network, msg.WalletAddress)
	if err != nil {
		h.release(ctx, msg)
		return fmt.Errorf("failed to resolve signer of %s: %w", msg.WalletAddress, err)
	}
	draft, err := h.sweep.ApproveDraft(msg.Token, msg.WalletAddress)
	if err != nil {
		h.release(ctx, msg)
		return err
	}
	next := NewSweepMessage(msg.Network, entities.ProcessApprove, msg.Token, signer, msg.WalletAddress, draft)
	queued, err := h.handOver(ctx, msg, next, entities.SweepActionApprove)
	if err != nil || !queued {
		return err
	}
	h.logger.Info("Wallet funded, approve queued", "wallet", msg.WalletAddress, "token", msg.Token)
	return nil
}

// ApproveHooks grants the treasury an allowance over a user wallet's token
type ApproveHooks struct {
	sweepHooks
}

// NewApproveHooks creates the approve process hooks
func NewApproveHooks(sweep SweepChain, deps Deps) *ApproveHooks {
	return &ApproveHooks{sweepHooks: newSweepHooks(sweep, deps, entities.ProcessApprove, entities.SweepActionApprove)}
}

// OnReceipt advances the row to pool and emits a treasury-signed pull of the
// wallet's current balance
func (h *ApproveHooks) OnReceipt(ctx context.Context, cmsg *entities.ConfirmationMessage, receipt *pipeline.Receipt) error {
	ok, err := h.finish(ctx, cmsg, receipt)
	if err != nil || !ok {
		return err
	}
	msg := &cmsg.Outbound

	balance, err := h.sweep.Balance(ctx, msg.Token, msg.WalletAddress)
	if err != nil {
		h.release(ctx, msg)
		return err
	}
	if isZero(balance) {
		h.logger.Info("Approved wallet holds nothing, closing row", "wallet", msg.WalletAddress, "token", msg.Token)
		return h.deps.Ledger.Complete(ctx, msg.WalletAddress, msg.Token, msg.ID)
	}
	draft, err := h.sweep.PoolDraft(ctx, msg.Token, msg.WalletAddress, balance)
	if errors.Is(err, ErrNothingToSweep) {
		return h.deps.Ledger.Complete(ctx, msg.WalletAddress, msg.Token, msg.ID)
	}
	if err != nil {
		h.release(ctx, msg)
		return err
	}
	signer, err := h.deps.Signers.TreasurySigner(msg.Network)
	if err != nil {
		h.release(ctx, msg)
		return err
	}
	next := NewSweepMessage(msg.Network, entities.ProcessPool, msg.Token, signer, msg.WalletAddress, draft)
	queued, err := h.handOver(ctx, msg, next, entities.SweepActionPool)
	if err != nil || !queued {
		return err
	}
	h.logger.Info("Allowance granted, pool queued", "wallet", msg.WalletAddress, "token", msg.Token, "balance", balance)
	return nil
}

// PoolHooks moves a user wallet's balance into the treasury
type PoolHooks struct {
	sweepHooks
}

// NewPoolHooks creates the pool process hooks
func NewPoolHooks(sweep SweepChain, deps Deps) *PoolHooks {
	return &PoolHooks{sweepHooks: newSweepHooks(sweep, deps, entities.ProcessPool, entities.SweepActionPool)}
}

// OnReceipt closes the row. A token pool leaves native dust from funding
// behind, which becomes its own pool row.
func (h *PoolHooks) OnReceipt(ctx context.Context, cmsg *entities.ConfirmationMessage, receipt *pipeline.Receipt) error {
	ok, err := h.finish(ctx, cmsg, receipt)
	if err != nil || !ok {
		return err
	}
	msg := &cmsg.Outbound

	if err := h.deps.Ledger.Complete(ctx, msg.WalletAddress, msg.Token, msg.ID); err != nil {
		return err
	}
	if native := msg.Network.NativeToken(); msg.Token != native {
		if err := h.deps.Ledger.Track(ctx, msg.WalletAddress, msg.Network, native, entities.SweepActionPool); err != nil {
			h.logger.Warn("Failed to track leftover native balance", "wallet", msg.WalletAddress, "error", err)
		}
	}
	h.logger.Info("Wallet pooled", "wallet", msg.WalletAddress, "token", msg.Token)
	return nil
}
