package tron

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
)

const contract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

func addressOf(hexKey string) string {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		panic(err)
	}
	return address.PubkeyToAddress(key.PublicKey).String()
}

var (
	treasury = addressOf("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	wallet   = addressOf("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
)

type fakeClient struct{}

func (fakeClient) Contract(token entities.Token) (string, error) {
	if token == entities.TokenUSDTTRC20 {
		return contract, nil
	}
	return "", apperrors.ErrUnsupportedToken
}

func (fakeClient) FeeLimit() int64    { return 30_000_000 }
func (fakeClient) TransferFee() int64 { return 1_100_000 }

func (fakeClient) AssetBalance(context.Context, entities.Token, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (fakeClient) Allowance(context.Context, entities.Token, string, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (fakeClient) Status(context.Context, string) (*pipeline.Confirmation, error) {
	return &pipeline.Confirmation{}, nil
}

func (fakeClient) BlockNumber(context.Context) (int64, error) { return 1, nil }

func TestEstimateFee(t *testing.T) {
	chain := New(fakeClient{}, treasury)
	ctx := context.Background()

	tests := []struct {
		process entities.Process
		token   entities.Token
		want    int64
	}{
		{entities.ProcessWithdrawal, entities.TokenTRX, 1_100_000},
		{entities.ProcessFund, entities.TokenUSDTTRC20, 1_100_000},
		{entities.ProcessApprove, entities.TokenUSDTTRC20, 30_000_000},
		{entities.ProcessWithdrawal, entities.TokenUSDTTRC20, 30_000_000},
	}
	for _, tt := range tests {
		fee, err := chain.EstimateFee(ctx, tt.process, tt.token)
		require.NoError(t, err)
		assert.Equal(t, tt.want, fee.Int64(), "%s %s", tt.process, tt.token)
	}
}

func TestDrafts(t *testing.T) {
	chain := New(fakeClient{}, treasury)
	ctx := context.Background()

	transfer, err := chain.TransferDraft(entities.TokenUSDTTRC20, treasury, wallet, big.NewInt(9), nil)
	require.NoError(t, err)
	assert.Equal(t, contract, transfer.Contract)
	assert.Equal(t, "a9059cbb", transfer.Data[:8])
	assert.Equal(t, int64(30_000_000), transfer.FeeLimit)

	approve, err := chain.ApproveDraft(entities.TokenUSDTTRC20, wallet)
	require.NoError(t, err)
	assert.Equal(t, wallet, approve.From)
	assert.Equal(t, "095ea7b3", approve.Data[:8])

	pool, err := chain.PoolDraft(ctx, entities.TokenUSDTTRC20, wallet, big.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, treasury, pool.From)
	assert.Equal(t, "23b872dd", pool.Data[:8])

	native, err := chain.PoolDraft(ctx, entities.TokenTRX, wallet, big.NewInt(2_000_000))
	require.NoError(t, err)
	assert.Equal(t, wallet, native.From)
	assert.Equal(t, "900000", native.Value.String())

	_, err = chain.PoolDraft(ctx, entities.TokenTRX, wallet, big.NewInt(1_000_000))
	assert.True(t, errors.Is(err, chainhooks.ErrNothingToSweep))
}

func TestNeverBumps(t *testing.T) {
	chain := New(fakeClient{}, treasury)
	_, bump, err := chain.ShouldBump(context.Background(), &entities.ConfirmationMessage{})
	require.NoError(t, err)
	assert.False(t, bump)
}
