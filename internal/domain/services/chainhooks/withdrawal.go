package chainhooks

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/google/uuid"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
)

var (
	sendable        = entities.SendableWithdrawalStatuses
	processing      = []entities.WithdrawalStatus{entities.WithdrawalStatusProcessing}
	sent            = []entities.WithdrawalStatus{entities.WithdrawalStatusSent}
	notYetFinalized = []entities.WithdrawalStatus{
		entities.WithdrawalStatusPending,
		entities.WithdrawalStatusReprocessing,
		entities.WithdrawalStatusProcessing,
		entities.WithdrawalStatusSent,
	}
)

// WithdrawalHooks sends user withdrawals from the treasury
type WithdrawalHooks struct {
	base
}

// NewWithdrawalHooks creates the withdrawal process hooks of chain
func NewWithdrawalHooks(chain Chain, deps Deps) *WithdrawalHooks {
	return &WithdrawalHooks{base: newBase(chain, deps, entities.ProcessWithdrawal)}
}

// BeforeEach claims the withdrawal, checks the destination and treasury
// coverage, then fills in the transfer draft and the fee quote
func (h *WithdrawalHooks) BeforeEach(ctx context.Context, msg *entities.OutboundMessage) (bool, error) {
	if msg.WithdrawalID == nil {
		return false, apperrors.ValidationError("withdrawal_id", "withdrawal messages must reference a withdrawal")
	}
	if msg.IsReplacement() {
		// a fee replacement reuses the draft and claim of the original
		return true, nil
	}
	id := *msg.WithdrawalID
	log := h.logger.With("withdrawal_id", id, "attempt", msg.Attempt)

	w, err := h.deps.Withdrawals.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	if msg.Attempt == 0 {
		claimed, err := h.deps.Withdrawals.TransitionStatus(ctx, id, sendable, entities.WithdrawalStatusProcessing, nil)
		if err != nil {
			return false, err
		}
		if !claimed {
			log.Info("Withdrawal not in a sendable state", "status", w.Status)
			return false, nil
		}
	} else if w.Status != entities.WithdrawalStatusProcessing {
		log.Info("Withdrawal no longer processing", "status", w.Status)
		return false, nil
	}

	if err := h.chain.ValidateAddress(w.ToAddress); err != nil {
		h.fail(ctx, w, fmt.Sprintf("invalid destination address: %v", err))
		return false, nil
	}
	if !w.Amount.IsPositive() {
		h.fail(ctx, w, "withdrawal amount must be positive")
		return false, nil
	}
	tag, err := destinationTag(w)
	if err != nil {
		h.fail(ctx, w, err.Error())
		return false, nil
	}

	fee, err := h.chain.EstimateFee(ctx, entities.ProcessWithdrawal, w.Token)
	if err != nil {
		return false, err
	}
	required := w.Amount.BigInt()
	if w.Token.IsNative() {
		required.Add(required, fee)
	}
	balance, err := h.chain.TreasuryBalance(ctx, w.Token)
	if err != nil {
		return false, err
	}
	if balance.Cmp(required) < 0 {
		log.Warn("Treasury cannot cover withdrawal, deferring", "balance", balance, "required", required)
		h.requestPooling(ctx, w.Token)
		h.park(ctx, id, "insufficient treasury balance")
		return false, nil
	}

	signer, err := h.deps.Signers.TreasurySigner(w.Network)
	if err != nil {
		return false, err
	}
	draft, err := h.chain.TransferDraft(w.Token, signer.Address, w.ToAddress, w.Amount.BigInt(), tag)
	if err != nil {
		return false, err
	}
	msg.Signer = signer
	msg.Token = w.Token
	msg.Tx = draft
	msg.Fees = h.quote(ctx, w, fee)

	if err := h.deps.Withdrawals.IncrementAttempts(ctx, id); err != nil {
		log.Warn("Failed to count withdrawal attempt", "error", err)
	}
	return true, nil
}

func (h *WithdrawalHooks) quote(ctx context.Context, w *entities.Withdrawal, fee *big.Int) *entities.FeeBreakdown {
	estimate := entities.NewAmount(fee)
	return &entities.FeeBreakdown{
		UserPaid:     h.nativeAmountForUSD(ctx, w.FeeUSD),
		UserPaidUSD:  w.FeeUSD,
		TotalPaid:    estimate,
		TotalPaidUSD: h.settledFees(ctx, &entities.OutboundMessage{}, estimate).TotalPaidUSD,
	}
}

// OnSend records the broadcast and marks the withdrawal sent. Replacements
// only move the stored hash.
func (h *WithdrawalHooks) OnSend(ctx context.Context, msg *entities.OutboundMessage, tx *pipeline.SignedTransaction) error {
	if err := h.recordSend(ctx, msg, tx); err != nil {
		return err
	}
	id := *msg.WithdrawalID
	if err := h.deps.Withdrawals.SetTransactionHash(ctx, id, tx.ID); err != nil {
		return err
	}
	moved, err := h.deps.Withdrawals.TransitionStatus(ctx, id, processing, entities.WithdrawalStatusSent, nil)
	if err != nil {
		return err
	}
	if moved {
		h.notifyWithdrawal(ctx, id, entities.EventWithdrawalSent, tx.ID, "")
	}
	return nil
}

// OnReceipt completes or fails the withdrawal from its on-chain outcome
func (h *WithdrawalHooks) OnReceipt(ctx context.Context, cmsg *entities.ConfirmationMessage, receipt *pipeline.Receipt) error {
	if _, err := h.recordReceipt(ctx, cmsg, receipt); err != nil {
		return err
	}
	msg := &cmsg.Outbound
	id := *msg.WithdrawalID

	if !receipt.Success {
		reason := "transaction reverted"
		failed, err := h.deps.Withdrawals.TransitionStatus(ctx, id, notYetFinalized, entities.WithdrawalStatusFailed, &reason)
		if err != nil {
			return err
		}
		if failed {
			h.notifyWithdrawal(ctx, id, entities.EventWithdrawalFailed, cmsg.TransactionID, reason)
		}
		h.checkCoverage(ctx, msg)
		return nil
	}

	// OnSend may have failed to mark the withdrawal sent
	if _, err := h.deps.Withdrawals.TransitionStatus(ctx, id, processing, entities.WithdrawalStatusSent, nil); err != nil {
		return err
	}
	completed, err := h.deps.Withdrawals.TransitionStatus(ctx, id, sent, entities.WithdrawalStatusCompleted, nil)
	if err != nil {
		return err
	}
	if completed {
		h.notifyWithdrawal(ctx, id, entities.EventWithdrawalCompleted, cmsg.TransactionID, "")
	}
	return nil
}

// checkCoverage requests pooling when a revert left the treasury unable to
// cover the amount again
func (h *WithdrawalHooks) checkCoverage(ctx context.Context, msg *entities.OutboundMessage) {
	balance, err := h.chain.TreasuryBalance(ctx, msg.Token)
	if err != nil {
		h.logger.Debug("Treasury balance unavailable after revert", "error", err)
		return
	}
	if balance.Cmp(msg.Tx.Value.BigInt()) < 0 {
		h.requestPooling(ctx, msg.Token)
	}
}

// OnError requests pooling on funding failures and fails the withdrawal once
// the pipeline gives up on it. A withdrawal that only ran out of treasury
// funds is deferred instead of failed.
func (h *WithdrawalHooks) OnError(ctx context.Context, msg *entities.OutboundMessage, failure *pipeline.Failure) pipeline.Outcome {
	outcome := pipeline.DefaultOutcome(failure, msg, h.deps.MaxAttempts)
	if msg.WithdrawalID == nil {
		return outcome
	}
	id := *msg.WithdrawalID

	insufficient := failure != nil && failure.Kind == apperrors.KindInsufficientFunds
	if insufficient {
		h.requestPooling(ctx, msg.Token)
	}
	if outcome != pipeline.OutcomeAbandon {
		return outcome
	}
	if insufficient && failure.Stage != pipeline.StageConfirmation {
		h.park(ctx, id, "insufficient treasury balance")
		return outcome
	}

	w, err := h.deps.Withdrawals.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("Failed to load abandoned withdrawal", "withdrawal_id", id, "error", err)
		return outcome
	}
	h.fail(ctx, w, failure.Error())
	return outcome
}

func (h *WithdrawalHooks) fail(ctx context.Context, w *entities.Withdrawal, reason string) {
	failed, err := h.deps.Withdrawals.TransitionStatus(ctx, w.ID, notYetFinalized, entities.WithdrawalStatusFailed, &reason)
	if err != nil {
		h.logger.Error("Failed to mark withdrawal failed", "withdrawal_id", w.ID, "error", err)
		return
	}
	if !failed {
		return
	}
	h.logger.Warn("Withdrawal failed", "withdrawal_id", w.ID, "reason", reason)
	h.notify(ctx, withdrawalEvent(w, entities.EventWithdrawalFailed, "", reason))
}

// park moves a claimed withdrawal to reprocessing for the requeue worker
func (h *WithdrawalHooks) park(ctx context.Context, id uuid.UUID, reason string) {
	if _, err := h.deps.Withdrawals.TransitionStatus(ctx, id, processing, entities.WithdrawalStatusReprocessing, &reason); err != nil {
		h.logger.Error("Failed to defer withdrawal", "withdrawal_id", id, "error", err)
	}
}

func (h *WithdrawalHooks) notifyWithdrawal(ctx context.Context, id uuid.UUID, eventType entities.SettlementEventType, hash, reason string) {
	if h.deps.Notifier == nil {
		return
	}
	w, err := h.deps.Withdrawals.GetByID(ctx, id)
	if err != nil {
		h.logger.Warn("Withdrawal event dropped", "withdrawal_id", id, "event", eventType, "error", err)
		return
	}
	h.notify(ctx, withdrawalEvent(w, eventType, hash, reason))
}

func withdrawalEvent(w *entities.Withdrawal, eventType entities.SettlementEventType, hash, reason string) *entities.SettlementEvent {
	event := entities.NewSettlementEvent(eventType, w.UserID, w.Network, w.Token)
	event.Amount = entities.NewAmount(w.Amount.BigInt())
	event.AmountUSD = w.AmountUSD
	event.TransactionHash = hash
	event.ReferenceID = w.ID.String()
	event.Reason = reason
	return event
}

func destinationTag(w *entities.Withdrawal) (*uint32, error) {
	if w.DestinationTag == nil {
		return nil, nil
	}
	v := *w.DestinationTag
	if v < 0 || v > math.MaxUint32 {
		return nil, fmt.Errorf("destination tag %d out of range", v)
	}
	tag := uint32(v)
	return &tag, nil
}
