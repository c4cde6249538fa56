package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
)

// FundingConfig holds funding service configuration
type FundingConfig struct {
	// MaxAutoCreditUSD is the largest deposit credited without review. Zero
	// disables the ceiling.
	MaxAutoCreditUSD decimal.Decimal
	// RequiredConfirmations is the depth at which a deposit of a network is
	// credited.
	RequiredConfirmations map[entities.Network]int
	// RippleTreasuryAddress resolves destination-tagged Ripple deposits.
	RippleTreasuryAddress string
	// CreditRetry is applied to the balance credit once a deposit is gated.
	CreditRetry retry.Policy
}

// DefaultFundingConfig returns default configuration
func DefaultFundingConfig() *FundingConfig {
	return &FundingConfig{
		MaxAutoCreditUSD: decimal.NewFromInt(50_000),
		RequiredConfirmations: map[entities.Network]int{
			entities.NetworkEthereum: 12,
			entities.NetworkTron:     19,
			entities.NetworkRipple:   1,
		},
		CreditRetry: retry.Policy{
			MaxRetries:     5,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2,
			Jitter:         0.1,
		},
	}
}

func (c *FundingConfig) requiredConfirmations(network entities.Network) int {
	if n, ok := c.RequiredConfirmations[network]; ok && n > 0 {
		return n
	}
	return 1
}

// RiskChecker decides whether a gated deposit may be credited. A rejection
// carries the reason recorded on the cancelled deposit.
type RiskChecker interface {
	Check(ctx context.Context, req CreditRequest) (approved bool, reason string)
}

// LimitRiskChecker rejects non-positive amounts and amounts above a ceiling
type LimitRiskChecker struct {
	MaxUSD decimal.Decimal
}

// NewLimitRiskChecker creates a limit checker; a non-positive max disables
// the ceiling
func NewLimitRiskChecker(maxUSD decimal.Decimal) *LimitRiskChecker {
	return &LimitRiskChecker{MaxUSD: maxUSD}
}

// Check validates the USD amount of req
func (c *LimitRiskChecker) Check(_ context.Context, req CreditRequest) (bool, string) {
	if !req.AmountUSD.IsPositive() {
		return false, fmt.Sprintf("deposit value %s USD is not positive", req.AmountUSD.String())
	}
	if c.MaxUSD.IsPositive() && req.AmountUSD.GreaterThan(c.MaxUSD) {
		return false, fmt.Sprintf("deposit value %s USD exceeds auto-credit limit %s USD",
			req.AmountUSD.StringFixed(2), c.MaxUSD.StringFixed(2))
	}
	return true, ""
}
