// Package tron adapts the Tron client to the chainhooks Chain contract.
// Fees are flat bandwidth and energy ceilings, so nothing is ever bumped.
package tron

import (
	"context"
	"fmt"
	"math/big"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	tronclient "github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains/tron"
)

// Client is the part of the Tron client the adapter reads from
type Client interface {
	Contract(token entities.Token) (string, error)
	FeeLimit() int64
	TransferFee() int64
	AssetBalance(ctx context.Context, token entities.Token, owner string) (*big.Int, error)
	Allowance(ctx context.Context, token entities.Token, owner, spender string) (*big.Int, error)
	Status(ctx context.Context, id string) (*pipeline.Confirmation, error)
	BlockNumber(ctx context.Context) (int64, error)
}

// Chain is the Tron SweepChain
type Chain struct {
	chainhooks.NoBump
	client   Client
	treasury string
}

var _ chainhooks.SweepChain = (*Chain)(nil)

// New creates the adapter
func New(client Client, treasury string) *Chain {
	return &Chain{client: client, treasury: treasury}
}

func (c *Chain) Network() entities.Network { return entities.NetworkTron }

func (c *Chain) TreasuryAddress() string { return c.treasury }

func (c *Chain) ValidateAddress(addr string) error {
	return tronclient.ValidateAddress(addr)
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

// EstimateFee is the transfer fee for native moves and the energy fee limit
// for contract calls
func (c *Chain) EstimateFee(_ context.Context, process entities.Process, token entities.Token) (*big.Int, error) {
	if token.IsNative() || process == entities.ProcessFund {
		return big.NewInt(c.client.TransferFee()), nil
	}
	return big.NewInt(c.client.FeeLimit()), nil
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
	data, err := tronclient.PackTransfer(to, amount)
	if err != nil {
		return entities.TxDraft{}, err
	}
	draft.Contract = contract
	draft.Data = data
	draft.FeeLimit = c.client.FeeLimit()
	return draft, nil
}

func (c *Chain) FundDraft(wallet string, amount *big.Int) (entities.TxDraft, error) {
	return entities.TxDraft{From: c.treasury, To: wallet, Value: entities.NewAmount(amount)}, nil
}

func (c *Chain) ApproveDraft(token entities.Token, owner string) (entities.TxDraft, error) {
	contract, err := c.client.Contract(token)
	if err != nil {
		return entities.TxDraft{}, err
	}
	data, err := tronclient.PackApprove(c.treasury, tronclient.MaxAllowance)
	if err != nil {
		return entities.TxDraft{}, err
	}
	return entities.TxDraft{
		From:     owner,
		To:       c.treasury,
		Contract: contract,
		Data:     data,
		FeeLimit: c.client.FeeLimit(),
	}, nil
}

// PoolDraft pulls TRC20 balances with transferFrom signed by the treasury
// and sends native balances from the wallet less the transfer fee
func (c *Chain) PoolDraft(_ context.Context, token entities.Token, owner string, balance *big.Int) (entities.TxDraft, error) {
	if token.IsNative() {
		fee := big.NewInt(c.client.TransferFee())
		value := new(big.Int).Sub(balance, fee)
		if value.Sign() <= 0 {
			return entities.TxDraft{}, fmt.Errorf("%w: balance %s, fee %s", chainhooks.ErrNothingToSweep, balance, fee)
		}
		return entities.TxDraft{From: owner, To: c.treasury, Value: entities.NewAmount(value)}, nil
	}

	contract, err := c.client.Contract(token)
	if err != nil {
		return entities.TxDraft{}, err
	}
	data, err := tronclient.PackTransferFrom(owner, c.treasury, balance)
	if err != nil {
		return entities.TxDraft{}, err
	}
	return entities.TxDraft{
		From:     c.treasury,
		To:       c.treasury,
		Contract: contract,
		Data:     data,
		Value:    entities.NewAmount(balance),
		FeeLimit: c.client.FeeLimit(),
	}, nil
}
