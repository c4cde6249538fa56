// Package ripple adapts the rippled client to the chainhooks Chain contract.
// Ripple deposits land on the treasury itself, so only withdrawals run here.
package ripple

import (
	"context"
	"fmt"
	"math/big"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	rippleclient "github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains/ripple"
)

// Client is the part of the rippled client the adapter reads from
type Client interface {
	TreasuryAddress() string
	Balance(ctx context.Context, account string) (*big.Int, error)
	SpendableBalance(ctx context.Context) (*big.Int, error)
	Fee(ctx context.Context) (*big.Int, error)
	Status(ctx context.Context, hash string) (*pipeline.Confirmation, error)
	BlockNumber(ctx context.Context) (int64, error)
}

// Chain is the Ripple withdrawal-only Chain
type Chain struct {
	chainhooks.NoBump
	client Client
}

var _ chainhooks.Chain = (*Chain)(nil)

// New creates the adapter
func New(client Client) *Chain {
	return &Chain{client: client}
}

func (c *Chain) Network() entities.Network { return entities.NetworkRipple }

func (c *Chain) TreasuryAddress() string { return c.client.TreasuryAddress() }

func (c *Chain) ValidateAddress(addr string) error {
	return rippleclient.ValidateAddress(addr)
}

func (c *Chain) Status(ctx context.Context, id string) (*pipeline.Confirmation, error) {
	return c.client.Status(ctx, id)
}

func (c *Chain) BlockNumber(ctx context.Context) (int64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *Chain) Balance(ctx context.Context, token entities.Token, owner string) (*big.Int, error) {
	if err := xrpOnly(token); err != nil {
		return nil, err
	}
	return c.client.Balance(ctx, owner)
}

// TreasuryBalance excludes the account reserve, which can never be sent
func (c *Chain) TreasuryBalance(ctx context.Context, token entities.Token) (*big.Int, error) {
	if err := xrpOnly(token); err != nil {
		return nil, err
	}
	return c.client.SpendableBalance(ctx)
}

func (c *Chain) EstimateFee(ctx context.Context, _ entities.Process, _ entities.Token) (*big.Int, error) {
	return c.client.Fee(ctx)
}

func (c *Chain) TransferDraft(token entities.Token, from, to string, amount *big.Int, tag *uint32) (entities.TxDraft, error) {
	if err := xrpOnly(token); err != nil {
		return entities.TxDraft{}, err
	}
	draft := entities.TxDraft{From: from, To: to, Value: entities.NewAmount(amount)}
	if tag != nil {
		t := *tag
		draft.DestinationTag = &t
	}
	return draft, nil
}

func xrpOnly(token entities.Token) error {
	if token != entities.TokenXRP {
		return fmt.Errorf("%w: %s on ripple", apperrors.ErrUnsupportedToken, token)
	}
	return nil
}
