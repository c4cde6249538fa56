// Package chainhooks implements the per-process pipeline hooks. Network
// specifics (fee model, sequence field, draft encoding, bumping) come from a
// Chain adapter provided by the chain subpackages.
package chainhooks

import (
	"context"
	"errors"
	"math/big"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/repositories"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/sweepledger"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/cache"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// ErrNothingToSweep means the balance does not cover the cost of moving it
var ErrNothingToSweep = errors.New("balance does not cover the sweep fee")

// Chain is what every hook set needs from a network
type Chain interface {
	Network() entities.Network
	TreasuryAddress() string
	ValidateAddress(addr string) error
	Status(ctx context.Context, id string) (*pipeline.Confirmation, error)
	BlockNumber(ctx context.Context) (int64, error)
	// Balance returns what owner holds of token in base units.
	Balance(ctx context.Context, token entities.Token, owner string) (*big.Int, error)
	// TreasuryBalance returns what the treasury can spend of token.
	TreasuryBalance(ctx context.Context, token entities.Token) (*big.Int, error)
	// EstimateFee returns the native-unit cost of running process for token.
	EstimateFee(ctx context.Context, process entities.Process, token entities.Token) (*big.Int, error)
	TransferDraft(token entities.Token, from, to string, amount *big.Int, tag *uint32) (entities.TxDraft, error)
	ShouldBump(ctx context.Context, cmsg *entities.ConfirmationMessage) (*entities.TxDraft, bool, error)
}

// SweepChain is a network whose user wallets hold keys and must be swept
type SweepChain interface {
	Chain
	// Allowance returns what owner allows the treasury to pull of token.
	Allowance(ctx context.Context, token entities.Token, owner string) (*big.Int, error)
	// FundDraft sends amount of native currency from the treasury to wallet.
	FundDraft(wallet string, amount *big.Int) (entities.TxDraft, error)
	// ApproveDraft grants the treasury an allowance over owner's token.
	ApproveDraft(token entities.Token, owner string) (entities.TxDraft, error)
	// PoolDraft moves balance of token from owner to the treasury. Native
	// drafts deduct their own fee and return ErrNothingToSweep when nothing
	// is left.
	PoolDraft(ctx context.Context, token entities.Token, owner string, balance *big.Int) (entities.TxDraft, error)
}

// Publisher enqueues follow-up outbound messages
type Publisher interface {
	PublishOutboundTransaction(ctx context.Context, msg *entities.OutboundMessage, opts queue.PublishOptions) error
}

// Signers resolves the keys messages are signed with
type Signers interface {
	TreasurySigner(network entities.Network) (entities.Signer, error)
	SignerForAddress(ctx context.Context, network entities.Network, address string) (entities.Signer, error)
}

// Notifier delivers settlement events, best effort
type Notifier interface {
	Notify(ctx context.Context, event *entities.SettlementEvent)
}

// Deps are the collaborators shared by every hook set
type Deps struct {
	Ledger          *sweepledger.Ledger
	Outgoing        repositories.OutgoingTransactionRepository
	Withdrawals     repositories.WithdrawalRepository
	Pooling         cache.PoolingRequests
	Publisher       Publisher
	Signers         Signers
	Rates           cache.RateSource
	Notifier        Notifier
	Logger          *logger.Logger
	MaxAttempts     int
	PoolingPriority int
}

// Register installs the hook sets of chain into registry. Sweep processes
// are only registered for chains that support sweeping.
func Register(registry *pipeline.Registry, chain Chain, deps Deps) {
	network := chain.Network()
	registry.Register(network, entities.ProcessWithdrawal, NewWithdrawalHooks(chain, deps))

	sweep, ok := chain.(SweepChain)
	if !ok || !network.SupportsSweeping() {
		return
	}
	registry.Register(network, entities.ProcessFund, NewFundHooks(sweep, deps))
	registry.Register(network, entities.ProcessApprove, NewApproveHooks(sweep, deps))
	registry.Register(network, entities.ProcessPool, NewPoolHooks(sweep, deps))
}

// NoBump is embedded by chains without a fee auction
type NoBump struct{}

func (NoBump) ShouldBump(context.Context, *entities.ConfirmationMessage) (*entities.TxDraft, bool, error) {
	return nil, false, nil
}
