// Package ethereum adapts the Ethereum client to the chainhooks Chain
// contract: gas price fees, nonce replacement and ERC20 allowance sweeps.
package ethereum

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	ethclient "github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains/ethereum"
)

// Client is the part of the Ethereum client the adapter reads from
type Client interface {
	Contract(token entities.Token) (string, error)
	GasLimit(token entities.Token) uint64
	GasPrice(ctx context.Context) (*big.Int, error)
	AssetBalance(ctx context.Context, token entities.Token, owner string) (*big.Int, error)
	Allowance(ctx context.Context, token entities.Token, owner, spender string) (*big.Int, error)
	Status(ctx context.Context, hash string) (*pipeline.Confirmation, error)
	BlockNumber(ctx context.Context) (int64, error)
}

// Chain is the Ethereum SweepChain
type Chain struct {
	client       Client
	treasury     string
	bumpIncrease decimal.Decimal
}

var _ chainhooks.SweepChain = (*Chain)(nil)

// New creates the adapter. bumpIncrease is the fractional gas price raise
// of a replacement, 0.1 for ten percent.
func New(client Client, treasury string, bumpIncrease decimal.Decimal) *Chain {
	return &Chain{client: client, treasury: treasury, bumpIncrease: bumpIncrease}
}

func (c *Chain) Network() entities.Network { return entities.NetworkEthereum }

func (c *Chain) TreasuryAddress() string { return c.treasury }

func (c *Chain) ValidateAddress(addr string) error {
	return ethclient.ValidateAddress(addr)
}

func (c *Chain) Status(ctx context.Context, id string) (*pipeline.Confirmation, error) {
	return c.client.Status(ctx, id)
}

func (c *Chain) BlockNumber(ctx context.Context) (int64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *Chain) Balance(ctx context.Context, token entities.Token, owner string) (*big.Int, error) {
	return c.client.AssetBalance(ctx, token, owner)
}

func (c *Chain) TreasuryBalance(ctx context.Context, token entities.Token) (*big.Int, error) {
	return c.client.AssetBalance(ctx, token, c.treasury)
}

func (c *Chain) Allowance(ctx context.Context, token entities.Token, owner string) (*big.Int, error) {
	return c.client.Allowance(ctx, token, owner, c.treasury)
}

// EstimateFee prices the gas of process at the current gas price. Funding
// is a plain transfer, everything else moves token.
func (c *Chain) EstimateFee(ctx context.Context, process entities.Process, token entities.Token) (*big.Int, error) {
	price, err := c.client.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gas := c.client.GasLimit(token)
	if process == entities.ProcessFund {
		gas = c.client.GasLimit(entities.TokenETH)
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(gas)), nil
}

func (c *Chain) TransferDraft(token entities.Token, from, to string, amount *big.Int, _ *uint32) (entities.TxDraft, error) {
	draft := entities.TxDraft{From: from, To: to, Value: entities.NewAmount(amount)}
	if token.IsNative() {
		return draft, nil
	}
	contract, err := c.client.Contract(token)
	if err != nil {
		return entities.TxDraft{}, err
	}
	data, err := ethclient.PackTransfer(to, amount)
	if err != nil {
		return entities.TxDraft{}, err
	}
	draft.Contract = contract
	draft.Data = data
	return draft, nil
}

// FundDraft pins the plain transfer gas limit since the message token of a
// fund step is the token being swept
func (c *Chain) FundDraft(wallet string, amount *big.Int) (entities.TxDraft, error) {
	return entities.TxDraft{
		From:     c.treasury,
		To:       wallet,
		Value:    entities.NewAmount(amount),
		GasLimit: c.client.GasLimit(entities.TokenETH),
	}, nil
}

func (c *Chain) ApproveDraft(token entities.Token, owner string) (entities.TxDraft, error) {
	contract, err := c.client.Contract(token)
	if err != nil {
		return entities.TxDraft{}, err
	}
	data, err := ethclient.PackApprove(c.treasury, ethclient.MaxAllowance)
	if err != nil {
		return entities.TxDraft{}, err
	}
	return entities.TxDraft{
		From:     owner,
		To:       c.treasury,
		Contract: contract,
		Data:     data,
	}, nil
}

// PoolDraft sweeps token to the treasury. ERC20 balances are pulled by the
// treasury with transferFrom. Native balances are sent by the wallet minus
// the gas it pays, with the price pinned so the fee cannot grow at signing.
func (c *Chain) PoolDraft(ctx context.Context, token entities.Token, owner string, balance *big.Int) (entities.TxDraft, error) {
	if !token.IsNative() {
		contract, err := c.client.Contract(token)
		if err != nil {
			return entities.TxDraft{}, err
		}
		data, err := ethclient.PackTransferFrom(owner, c.treasury, balance)
		if err != nil {
			return entities.TxDraft{}, err
		}
		return entities.TxDraft{
			From:     c.treasury,
			To:       c.treasury,
			Contract: contract,
			Data:     data,
			Value:    entities.NewAmount(balance),
		}, nil
	}

	price, err := c.client.GasPrice(ctx)
	if err != nil {
		return entities.TxDraft{}, err
	}
	gas := c.client.GasLimit(token)
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(gas))
	value := new(big.Int).Sub(balance, fee)
	if value.Sign() <= 0 {
		return entities.TxDraft{}, fmt.Errorf("%w: balance %s, fee %s", chainhooks.ErrNothingToSweep, balance, fee)
	}
	pinned := entities.NewAmount(price)
	return entities.TxDraft{
		From:     owner,
		To:       c.treasury,
		Value:    entities.NewAmount(value),
		GasPrice: &pinned,
		GasLimit: gas,
	}, nil
}

// ShouldBump replaces a pending transaction whose gas price has fallen
// behind the network by more than the bump increase. The nonce is kept. A
// native pool gives the extra gas back out of the value it moves.
func (c *Chain) ShouldBump(ctx context.Context, cmsg *entities.ConfirmationMessage) (*entities.TxDraft, bool, error) {
	pending := cmsg.Outbound.Clone().Tx
	if pending.GasPrice == nil || pending.Nonce == nil {
		return nil, false, nil
	}
	latest, err := c.client.GasPrice(ctx)
	if err != nil {
		return nil, false, err
	}
	old := pending.GasPrice.BigInt()
	bumped, ok := pipeline.BumpFee(old, latest, c.bumpIncrease)
	if !ok {
		return nil, false, nil
	}

	if cmsg.Outbound.Process == entities.ProcessPool && cmsg.Outbound.Token.IsNative() {
		extra := new(big.Int).Mul(new(big.Int).Sub(bumped, old), new(big.Int).SetUint64(pending.GasLimit))
		value := new(big.Int).Sub(pending.Value.BigInt(), extra)
		if value.Sign() <= 0 {
			return nil, false, nil
		}
		pending.Value = entities.NewAmount(value)
	}

	price := entities.NewAmount(bumped)
	pending.GasPrice = &price
	return &pending, true, nil
}
