package tron

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

const (
	testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	otherKey   = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	usdtTRC20  = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

var destination = func() string {
	key, err := crypto.HexToECDSA(otherKey)
	if err != nil {
		panic(err)
	}
	return address.PubkeyToAddress(key.PublicKey).String()
}()

type staticKeys struct {
	key *ecdsa.PrivateKey
}

func (k staticKeys) PrivateKey(context.Context, entities.Network, entities.Signer) (*ecdsa.PrivateKey, error) {
	return k.key, nil
}

type fakeRPC struct {
	transfers    int
	calls        []string
	constant     []byte
	broadcast    *api.Return
	info         *core.TransactionInfo
	infoErr      error
	txErr        error
	account      *core.Account
	accountErr   error
	lastFeeLimit int64
}

func rawTx(ts int64) *api.TransactionExtention {
	return &api.TransactionExtention{
		Transaction: &core.Transaction{RawData: &core.TransactionRaw{Timestamp: ts, Expiration: ts + 60000}},
		Result:      &api.Return{Result: true},
	}
}

func (f *fakeRPC) Transfer(string, string, int64) (*api.TransactionExtention, error) {
	f.transfers++
	return rawTx(1700000000000), nil
}

func (f *fakeRPC) TRC20Call(_, _, data string, constant bool, feeLimit int64) (*api.TransactionExtention, error) {
	f.calls = append(f.calls, data)
	if constant {
		return &api.TransactionExtention{ConstantResult: [][]byte{f.constant}}, nil
	}
	f.lastFeeLimit = feeLimit
	return rawTx(1700000000001), nil
}

func (f *fakeRPC) Broadcast(*core.Transaction) (*api.Return, error) {
	if f.broadcast != nil {
		return f.broadcast, nil
	}
	return &api.Return{Result: true}, nil
}

func (f *fakeRPC) GetTransactionInfoByID(string) (*core.TransactionInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeRPC) GetTransactionByID(string) (*core.Transaction, error) {
	if f.txErr != nil {
		return nil, f.txErr
	}
	return &core.Transaction{}, nil
}

func (f *fakeRPC) GetAccount(string) (*core.Account, error) { return f.account, f.accountErr }

func (f *fakeRPC) GetNowBlock() (*api.BlockExtention, error) {
	return &api.BlockExtention{BlockHeader: &core.BlockHeader{RawData: &core.BlockHeaderRaw{Number: 77}}}, nil
}

func newTestClient(t *testing.T, rpc *fakeRPC) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	c := NewClient(rpc, staticKeys{key: key}, Config{
		Tokens: map[entities.Token]string{entities.TokenUSDTTRC20: usdtTRC20},
	}, nil)
	return c, key
}

func signer(key *ecdsa.PrivateKey) entities.Signer {
	return entities.Signer{Kind: entities.SignerUser, Address: address.PubkeyToAddress(key.PublicKey).String()}
}

func TestSign_NativeTransfer(t *testing.T) {
	rpc := &fakeRPC{}
	c, key := newTestClient(t, rpc)

	msg := entities.NewOutboundMessage(entities.NetworkTron, entities.ProcessPool, entities.TokenTRX, signer(key))
	msg.Tx.To = destination
	msg.Tx.Value = entities.AmountFromInt64(5_000_000)

	signed, err := c.Sign(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, rpc.transfers)

	tx := signed.Payload.(*core.Transaction)
	raw, err := proto.Marshal(tx.GetRawData())
	require.NoError(t, err)
	hash := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(hash[:]), signed.ID)

	pub, err := crypto.SigToPub(hash[:], tx.Signature[0])
	require.NoError(t, err)
	assert.Equal(t, msg.Signer.Address, address.PubkeyToAddress(*pub).String())
	assert.Equal(t, "1100000", signed.Fee.String())

	require.NoError(t, c.Broadcast(context.Background(), signed))
}

func TestSign_TokenCallUsesFeeLimit(t *testing.T) {
	rpc := &fakeRPC{}
	c, key := newTestClient(t, rpc)

	data, err := PackTransfer(destination, big.NewInt(10))
	require.NoError(t, err)
	msg := entities.NewOutboundMessage(entities.NetworkTron, entities.ProcessWithdrawal, entities.TokenUSDTTRC20, signer(key))
	msg.Tx.To = destination
	msg.Tx.Contract = usdtTRC20
	msg.Tx.Data = data

	signed, err := c.Sign(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, int64(30_000_000), rpc.lastFeeLimit)
	assert.Equal(t, int64(30_000_000), msg.Tx.FeeLimit)
	assert.Equal(t, "30000000", signed.Fee.String())
}

func TestBroadcast_MapsReturnCodes(t *testing.T) {
	rpc := &fakeRPC{broadcast: &api.Return{Result: false, Code: api.Return_TRANSACTION_EXPIRATION_ERROR, Message: []byte("expired")}}
	c, key := newTestClient(t, rpc)
	msg := entities.NewOutboundMessage(entities.NetworkTron, entities.ProcessFund, entities.TokenTRX, signer(key))
	msg.Tx.To = destination
	msg.Tx.Value = entities.AmountFromInt64(1)

	signed, err := c.Sign(context.Background(), msg)
	require.NoError(t, err)
	err = c.Broadcast(context.Background(), signed)
	assert.Equal(t, apperrors.KindStaleTransaction, apperrors.KindOf(err))
}

func TestClassifyTronResult(t *testing.T) {
	tests := []struct {
		code    string
		message string
		want    apperrors.ErrorKind
	}{
		{"SERVER_BUSY", "", apperrors.KindTransient},
		{"DUP_TRANSACTION_ERROR", "dup", apperrors.KindTransient},
		{"BANDWITH_ERROR", "account resource insufficient", apperrors.KindInsufficientFunds},
		{"CONTRACT_VALIDATE_ERROR", "Validate TransferContract error, balance is not sufficient.", apperrors.KindInsufficientFunds},
		{"CONTRACT_VALIDATE_ERROR", "contract validate error : account does not exist", apperrors.KindValidation},
		{"SIGERROR", "bad sig", apperrors.KindValidation},
		{"OTHER_ERROR", "?", apperrors.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.KindOf(ClassifyTronResult(tt.code, tt.message)))
		})
	}
}

func TestStatus(t *testing.T) {
	t.Run("unknown transaction", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeRPC{
			infoErr: errors.New("transaction info not found"),
			txErr:   errors.New("transaction info not found"),
		})
		_, err := c.Status(context.Background(), "ab")
		assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
	})

	t.Run("pending", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeRPC{infoErr: errors.New("transaction info not found")})
		conf, err := c.Status(context.Background(), "ab")
		require.NoError(t, err)
		assert.False(t, conf.Confirmed)
	})

	t.Run("reverted contract call", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeRPC{info: &core.TransactionInfo{
			BlockNumber: 10,
			Fee:         345,
			Result:      core.TransactionInfo_FAILED,
			Receipt:     &core.ResourceReceipt{Result: core.Transaction_Result_REVERT},
		}})
		conf, err := c.Status(context.Background(), "ab")
		require.NoError(t, err)
		require.True(t, conf.Confirmed)
		assert.False(t, conf.Receipt.Success)
		assert.Equal(t, "345", conf.Receipt.FeePaid.String())
	})

	t.Run("native success", func(t *testing.T) {
		c, _ := newTestClient(t, &fakeRPC{info: &core.TransactionInfo{BlockNumber: 10, Fee: 0}})
		conf, err := c.Status(context.Background(), "ab")
		require.NoError(t, err)
		assert.True(t, conf.Receipt.Success)
	})
}

func TestBalance_UnactivatedAccountIsZero(t *testing.T) {
	c, _ := newTestClient(t, &fakeRPC{accountErr: errors.New("account not found")})
	bal, err := c.Balance(context.Background(), destination)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Int64())
}

func TestTokenBalance(t *testing.T) {
	rpc := &fakeRPC{constant: big.NewInt(2500).FillBytes(make([]byte, 32))}
	c, _ := newTestClient(t, rpc)

	bal, err := c.TokenBalance(context.Background(), entities.TokenUSDTTRC20, destination)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), bal.Int64())
	require.Len(t, rpc.calls, 1)
	assert.Equal(t, selectorBalanceOf, rpc.calls[0][:8])
	assert.Len(t, rpc.calls[0], 8+64)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(usdtTRC20))
	assert.ErrorIs(t, ValidateAddress("0x000000000000000000000000000000000000dEaD"), apperrors.ErrInvalidAddress)
	assert.ErrorIs(t, ValidateAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6x"), apperrors.ErrInvalidAddress)
}

func TestBlockNumber(t *testing.T) {
	c, _ := newTestClient(t, &fakeRPC{})
	head, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(77), head)
}
