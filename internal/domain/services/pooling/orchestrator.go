// Package pooling decides, once per cycle and network, which user wallet
// balances are worth sweeping into the treasury and starts their
// fund, approve and pool steps.
package pooling

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/sweepledger"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/cache"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/metrics"
	"github.com/baymax-09/roobet-casino-sub000/pkg/tracing"
)

const tracerName = "settlement/pooling"

// Decision is what a cycle did with one ledger row
type Decision string

const (
	DecisionFund    Decision = "fund"
	DecisionApprove Decision = "approve"
	DecisionPool    Decision = "pool"
	// DecisionDelete closes a row whose balance cannot pay for its own sweep.
	DecisionDelete Decision = "delete"
	// DecisionBelowThreshold leaves a row whose balance is not yet worth the fees.
	DecisionBelowThreshold Decision = "below_threshold"
	// DecisionWait leaves a native row while a token of the same wallet
	// still needs its gas.
	DecisionWait Decision = "wait"
	// DecisionBlocked leaves a row whose recorded step is already past what
	// the chain state calls for.
	DecisionBlocked Decision = "blocked"
	// DecisionSkipped means another cycle acquired the row first.
	DecisionSkipped Decision = "skipped"
	DecisionError   Decision = "error"
)

// WalletReader resolves the wallet owning a ledger row
type WalletReader interface {
	GetByAddress(ctx context.Context, network entities.Network, address string) (*entities.Wallet, error)
}

// Config tunes the orchestrator
type Config struct {
	BatchSize          int
	ActiveMultiplier   decimal.Decimal
	InactiveMultiplier decimal.Decimal
	// ActiveWindow is how long after creation a wallet counts as active.
	ActiveWindow time.Duration
	// FundMargin scales the estimated approve fee when funding a wallet so a
	// fee rise between estimate and approve does not strand the wallet.
	FundMargin decimal.Decimal
	Priority   int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		BatchSize:          500,
		ActiveMultiplier:   decimal.NewFromFloat(2.0),
		InactiveMultiplier: decimal.NewFromFloat(1.5),
		ActiveWindow:       7 * 24 * time.Hour,
		FundMargin:         decimal.NewFromFloat(1.5),
	}
}

// CycleResult summarizes one RunCycle
type CycleResult struct {
	Network   entities.Network
	Rows      int
	Decisions map[Decision]int
}

// Orchestrator runs pooling cycles
type Orchestrator struct {
	chains    map[entities.Network]chainhooks.SweepChain
	ledger    *sweepledger.Ledger
	wallets   WalletReader
	pooling   cache.PoolingRequests
	rates     cache.RateSource
	publisher chainhooks.Publisher
	signers   chainhooks.Signers
	config    Config
	logger    *logger.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator without chains
func NewOrchestrator(
	ledger *sweepledger.Ledger,
	wallets WalletReader,
	pooling cache.PoolingRequests,
	rates cache.RateSource,
	publisher chainhooks.Publisher,
	signers chainhooks.Signers,
	config Config,
	log *logger.Logger,
) *Orchestrator {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if !config.ActiveMultiplier.IsPositive() {
		config.ActiveMultiplier = defaults.ActiveMultiplier
	}
	if !config.InactiveMultiplier.IsPositive() {
		config.InactiveMultiplier = defaults.InactiveMultiplier
	}
	if config.ActiveWindow <= 0 {
		config.ActiveWindow = defaults.ActiveWindow
	}
	if config.FundMargin.LessThan(decimal.NewFromInt(1)) {
		config.FundMargin = defaults.FundMargin
	}
	return &Orchestrator{
		chains:    make(map[entities.Network]chainhooks.SweepChain),
		ledger:    ledger,
		wallets:   wallets,
		pooling:   pooling,
		rates:     rates,
		publisher: publisher,
		signers:   signers,
		config:    config,
		logger:    log,
		now:       time.Now,
	}
}

// RegisterChain enables cycles for the chain's network
func (o *Orchestrator) RegisterChain(chain chainhooks.SweepChain) {
	o.chains[chain.Network()] = chain
}

// Networks lists the networks with a registered chain
func (o *Orchestrator) Networks() []entities.Network {
	out := make([]entities.Network, 0, len(o.chains))
	for _, n := range entities.AllNetworks {
		if _, ok := o.chains[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// RunCycle evaluates every idle ledger row of network. Row level failures
// are logged and counted, they do not stop the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context, network entities.Network) (*CycleResult, error) {
	chain, ok := o.chains[network]
	if !ok {
		return nil, fmt.Errorf("no sweep chain registered for %s", network)
	}
	ctx, span := tracing.StartSettlementSpan(ctx, tracerName, "pooling.cycle", string(network), string(entities.ProcessPool))
	defer span.End()
	start := o.now()
	defer func() {
		metrics.PoolingCycleDuration.WithLabelValues(string(network)).Observe(time.Since(start).Seconds())
	}()

	flagged, err := o.pooling.Pending(ctx, network)
	if err != nil {
		o.logger.Warn("Pooling requests unavailable, using thresholds only", "network", network, "error", err)
		flagged = nil
	}
	forced := make(map[entities.Token]bool, len(flagged))
	for _, t := range flagged {
		forced[t] = true
	}

	rows, err := o.ledger.Idle(ctx, network, o.config.BatchSize)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to list idle wallet balances: %w", err)
	}
	// Token rows go first so native rows see the steps started this cycle.
	sort.SliceStable(rows, func(i, j int) bool {
		return !rows[i].Token.IsNative() && rows[j].Token.IsNative()
	})

	result := &CycleResult{Network: network, Rows: len(rows), Decisions: make(map[Decision]int)}
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		decision, err := o.evaluate(ctx, chain, row, forced[row.Token])
		if err != nil {
			o.logger.Error("Pooling decision failed",
				"network", network, "wallet", row.Address, "token", row.Token, "error", err)
			decision = DecisionError
		}
		result.Decisions[decision]++
		metrics.PoolingDecisions.WithLabelValues(string(network), string(decision)).Inc()
	}

	if len(flagged) > 0 {
		if err := o.pooling.Clear(ctx, network, flagged...); err != nil {
			o.logger.Warn("Failed to clear pooling requests", "network", network, "error", err)
		}
	}
	o.logger.Info("Pooling cycle finished", "network", network, "rows", result.Rows, "decisions", result.Decisions)
	return result, ctx.Err()
}

func (o *Orchestrator) evaluate(ctx context.Context, chain chainhooks.SweepChain, row *entities.WalletBalance, forced bool) (Decision, error) {
	balance, err := chain.Balance(ctx, row.Token, row.Address)
	if err != nil {
		return "", err
	}
	if balance.Sign() <= 0 {
		return o.close(ctx, row)
	}
	if row.Token.IsNative() {
		return o.evaluateNative(ctx, chain, row, balance, forced)
	}
	return o.evaluateToken(ctx, chain, row, balance, forced)
}

func (o *Orchestrator) evaluateNative(ctx context.Context, chain chainhooks.SweepChain, row *entities.WalletBalance, balance *big.Int, forced bool) (Decision, error) {
	busy, err := o.tokenStepPending(ctx, row)
	if err != nil {
		return "", err
	}
	if busy {
		return DecisionWait, nil
	}

	fee, err := chain.EstimateFee(ctx, entities.ProcessPool, row.Token)
	if err != nil {
		return "", err
	}
	if balance.Cmp(fee) <= 0 {
		return o.close(ctx, row)
	}
	if !forced {
		worth, err := o.worthSweeping(ctx, chain, row, balance, fee)
		if err != nil || !worth {
			return DecisionBelowThreshold, err
		}
	}

	draft, err := chain.PoolDraft(ctx, row.Token, row.Address, balance)
	if errors.Is(err, chainhooks.ErrNothingToSweep) {
		return o.close(ctx, row)
	}
	if err != nil {
		return "", err
	}
	signer, err := o.signers.SignerForAddress(ctx, row.Network, row.Address)
	if err != nil {
		return "", err
	}
	return o.emit(ctx, row, entities.SweepActionPool, signer, draft)
}

// tokenStepPending reports whether another row of the wallet is held or
// still has to fund or approve, both of which need the wallet's gas
func (o *Orchestrator) tokenStepPending(ctx context.Context, row *entities.WalletBalance) (bool, error) {
	siblings, err := o.ledger.ForWallet(ctx, row.Address)
	if err != nil {
		return false, err
	}
	for _, s := range siblings {
		if s.Token == row.Token {
			continue
		}
		if s.Processing || s.ActionRequired == entities.SweepActionFund || s.ActionRequired == entities.SweepActionApprove {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) evaluateToken(ctx context.Context, chain chainhooks.SweepChain, row *entities.WalletBalance, balance *big.Int, forced bool) (Decision, error) {
	allowance, err := chain.Allowance(ctx, row.Token, row.Address)
	if err != nil {
		return "", err
	}
	allowed := allowance.Cmp(balance) >= 0

	cost, err := chain.EstimateFee(ctx, entities.ProcessPool, row.Token)
	if err != nil {
		return "", err
	}
	var approveCost *big.Int
	if !allowed {
		approveCost, err = chain.EstimateFee(ctx, entities.ProcessApprove, row.Token)
		if err != nil {
			return "", err
		}
		fundCost, err := chain.EstimateFee(ctx, entities.ProcessFund, row.Token)
		if err != nil {
			return "", err
		}
		cost = new(big.Int).Add(cost, new(big.Int).Add(approveCost, fundCost))
	}
	if !forced {
		worth, err := o.worthSweeping(ctx, chain, row, balance, cost)
		if err != nil || !worth {
			return DecisionBelowThreshold, err
		}
	}

	if allowed {
		draft, err := chain.PoolDraft(ctx, row.Token, row.Address, balance)
		if err != nil {
			return "", err
		}
		signer, err := o.signers.TreasurySigner(row.Network)
		if err != nil {
			return "", err
		}
		return o.emit(ctx, row, entities.SweepActionPool, signer, draft)
	}

	gas, err := chain.Balance(ctx, row.Network.NativeToken(), row.Address)
	if err != nil {
		return "", err
	}
	if gas.Cmp(approveCost) < 0 {
		draft, err := chain.FundDraft(row.Address, o.fundAmount(approveCost, gas))
		if err != nil {
			return "", err
		}
		signer, err := o.signers.TreasurySigner(row.Network)
		if err != nil {
			return "", err
		}
		// A row released at approve keeps that action while it is topped up.
		held := entities.SweepActionFund
		if row.ActionRequired == entities.SweepActionApprove {
			held = entities.SweepActionApprove
		}
		return o.emitHeld(ctx, row, entities.ProcessFund, held, signer, draft)
	}

	draft, err := chain.ApproveDraft(row.Token, row.Address)
	if err != nil {
		return "", err
	}
	signer, err := o.signers.SignerForAddress(ctx, row.Network, row.Address)
	if err != nil {
		return "", err
	}
	return o.emit(ctx, row, entities.SweepActionApprove, signer, draft)
}

// fundAmount tops gas up to the approve fee times the fund margin
func (o *Orchestrator) fundAmount(approveCost, gas *big.Int) *big.Int {
	target := decimal.NewFromBigInt(approveCost, 0).Mul(o.config.FundMargin).Ceil().BigInt()
	if target.Cmp(approveCost) < 0 {
		target = new(big.Int).Set(approveCost)
	}
	return target.Sub(target, gas)
}

// worthSweeping compares the USD value of balance with the activity
// multiplier times the USD cost of the native fee
func (o *Orchestrator) worthSweeping(ctx context.Context, chain chainhooks.SweepChain, row *entities.WalletBalance, balance, fee *big.Int) (bool, error) {
	value, err := cache.USDValue(ctx, o.rates, row.Token, entities.NewAmount(balance))
	if err != nil {
		return false, err
	}
	cost, err := cache.USDValue(ctx, o.rates, chain.Network().NativeToken(), entities.NewAmount(fee))
	if err != nil {
		return false, err
	}
	threshold := cost.Mul(o.multiplier(ctx, row))
	return value.GreaterThanOrEqual(threshold), nil
}

func (o *Orchestrator) multiplier(ctx context.Context, row *entities.WalletBalance) decimal.Decimal {
	if o.wallets == nil {
		return o.config.InactiveMultiplier
	}
	wallet, err := o.wallets.GetByAddress(ctx, row.Network, row.Address)
	if err != nil {
		o.logger.Debug("Wallet lookup failed, treating as inactive", "wallet", row.Address, "error", err)
		return o.config.InactiveMultiplier
	}
	if o.now().Sub(wallet.CreatedAt) < o.config.ActiveWindow {
		return o.config.ActiveMultiplier
	}
	return o.config.InactiveMultiplier
}

// emit acquires the row for action and publishes its first message. The row
// is handed back when the publish fails.
func (o *Orchestrator) emit(ctx context.Context, row *entities.WalletBalance, action entities.SweepAction, signer entities.Signer, draft entities.TxDraft) (Decision, error) {
	return o.emitHeld(ctx, row, entities.Process(action), action, signer, draft)
}

// emitHeld publishes a process message that holds the row at action
func (o *Orchestrator) emitHeld(ctx context.Context, row *entities.WalletBalance, process entities.Process, action entities.SweepAction, signer entities.Signer, draft entities.TxDraft) (Decision, error) {
	if !row.ActionRequired.CanAdvanceTo(action) {
		o.logger.Warn("Ledger row is past the step the chain state calls for",
			"wallet", row.Address, "token", row.Token, "recorded", row.ActionRequired, "wanted", action)
		return DecisionBlocked, nil
	}
	msg := chainhooks.NewSweepMessage(row.Network, process, row.Token, signer, row.Address, draft)
	if entities.SweepAction(process) != action {
		msg.RowAction = action
	}
	acquired, err := o.ledger.Acquire(ctx, row.Address, row.Token, action, msg.ID)
	if err != nil {
		return "", err
	}
	if !acquired {
		return DecisionSkipped, nil
	}

	if err := o.publisher.PublishOutboundTransaction(ctx, msg, queue.PublishOptions{Priority: o.config.Priority}); err != nil {
		if relErr := o.ledger.Release(ctx, row.Address, row.Token, msg.ID); relErr != nil {
			o.logger.Error("Failed to release row after publish failure", "wallet", row.Address, "error", relErr)
		}
		return "", fmt.Errorf("failed to publish %s message: %w", process, err)
	}
	o.logger.Info("Sweep step queued",
		"wallet", row.Address, "token", row.Token, "process", process, "row_action", action)
	return Decision(process), nil
}

func (o *Orchestrator) close(ctx context.Context, row *entities.WalletBalance) (Decision, error) {
	if err := o.ledger.Complete(ctx, row.Address, row.Token, uuid.Nil); err != nil {
		return "", err
	}
	return DecisionDelete, nil
}
