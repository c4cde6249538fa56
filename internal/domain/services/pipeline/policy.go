package pipeline

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

// DefaultOutcome maps a failure to the generic pipeline reaction. Hooks call it
// and add their own record marking on top.
func DefaultOutcome(f *Failure, msg *entities.OutboundMessage, maxAttempts int) Outcome {
	if f == nil {
		return OutcomeIgnore
	}
	canRetry := msg.Attempt+1 < maxAttempts

	if f.Stage == StageConfirmation {
		if msg.IsReplacement() && IsNotFound(f) {
			// the replacement never landed, the original may still
			return OutcomeResumeReplaced
		}
		return OutcomeAbandon
	}

	switch f.Kind {
	case apperrors.KindTransient:
		if f.Stage == StageBroadcast {
			return OutcomeIgnore
		}
		if canRetry {
			return OutcomeRetry
		}
		return OutcomeAbandon
	case apperrors.KindStaleTransaction, apperrors.KindInsufficientFunds:
		if msg.IsReplacement() && f.Kind == apperrors.KindStaleTransaction {
			// the replaced transaction most likely got mined first
			return OutcomeResumeReplaced
		}
		if !msg.Tx.HasExplicitSequence() && canRetry {
			return OutcomeRetry
		}
		return OutcomeAbandon
	}
	return OutcomeAbandon
}

// IsNotFound reports whether a confirmation failure means the network never
// saw the transaction
func IsNotFound(f *Failure) bool {
	return f != nil && (f.Kind == apperrors.KindNotFound || errors.Is(f.Err, apperrors.ErrTransactionNotFound))
}

// BumpFee decides whether a pending transaction paying old should be replaced
// given the latest network estimate. The new fee is
// ceil(max(old, latest) * (1+increase)).
func BumpFee(old, latest *big.Int, increase decimal.Decimal) (*big.Int, bool) {
	if old == nil || latest == nil || !increase.IsPositive() {
		return nil, false
	}
	factor := decimal.NewFromInt(1).Add(increase)

	oldDec := decimal.NewFromBigInt(old, 0)
	latestDec := decimal.NewFromBigInt(latest, 0)
	if !oldDec.LessThan(latestDec.Div(factor)) {
		return nil, false
	}

	base := oldDec
	if latestDec.GreaterThan(base) {
		base = latestDec
	}
	return base.Mul(factor).Ceil().BigInt(), true
}
