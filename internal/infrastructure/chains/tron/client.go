package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
)

const network = string(entities.NetworkTron)

// RPC is the subset of the gotron gRPC client used here
type RPC interface {
	Transfer(from, toAddress string, amount int64) (*api.TransactionExtention, error)
	TRC20Call(from, contractAddress, data string, constant bool, feeLimit int64) (*api.TransactionExtention, error)
	Broadcast(tx *core.Transaction) (*api.Return, error)
	GetTransactionInfoByID(id string) (*core.TransactionInfo, error)
	GetTransactionByID(id string) (*core.Transaction, error)
	GetAccount(addr string) (*core.Account, error)
	GetNowBlock() (*api.BlockExtention, error)
}

// Config describes the Tron network the client talks to
type Config struct {
	// Tokens maps TRC20 symbols to contract addresses
	Tokens   map[entities.Token]string
	FeeLimit int64
	// TransferFee is the bandwidth cost of a native transfer in sun
	TransferFee int64
}

// Client signs, broadcasts and inspects Tron transactions
type Client struct {
	rpc    RPC
	keys   chains.KeySource
	config Config
	guard  *chains.Guard
	logger *zap.Logger
	stop   func()
}

// Dial opens the gRPC connection to a full node
func Dial(url, apiKey string, keys chains.KeySource, config Config, logger *zap.Logger) (*Client, error) {
	grpcClient := client.NewGrpcClient(url)
	if apiKey != "" {
		if err := grpcClient.SetAPIKey(apiKey); err != nil {
			return nil, fmt.Errorf("failed to set tron api key: %w", err)
		}
	}
	if err := grpcClient.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return nil, fmt.Errorf("failed to connect to tron node: %w", err)
	}
	c := NewClient(grpcClient, keys, config, logger)
	c.stop = grpcClient.Stop
	return c, nil
}

// NewClient wraps an RPC connection
func NewClient(rpc RPC, keys chains.KeySource, config Config, logger *zap.Logger) *Client {
	if config.FeeLimit == 0 {
		config.FeeLimit = 30_000_000
	}
	if config.TransferFee == 0 {
		config.TransferFee = 1_100_000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		rpc:    rpc,
		keys:   keys,
		config: config,
		guard:  chains.NewGuard(entities.NetworkTron, retry.DefaultPolicy(), logger),
		logger: logger,
	}
}

// Close stops the gRPC connection
func (c *Client) Close() {
	if c.stop != nil {
		c.stop()
	}
}

// Contract returns the TRC20 contract of token
func (c *Client) Contract(token entities.Token) (string, error) {
	addr, ok := c.config.Tokens[token]
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: %s on tron", apperrors.ErrUnsupportedToken, token)
	}
	return addr, nil
}

// FeeLimit is the energy spend ceiling attached to contract calls, in sun
func (c *Client) FeeLimit() int64 {
	return c.config.FeeLimit
}

// TransferFee is the expected cost of a native transfer, in sun
func (c *Client) TransferFee() int64 {
	return c.config.TransferFee
}

// Balance returns the TRX balance in sun. Unactivated accounts hold zero.
func (c *Client) Balance(ctx context.Context, addr string) (*big.Int, error) {
	var balance int64
	err := c.guard.Read(ctx, "balance", func(ctx context.Context) error {
		acc, err := c.rpc.GetAccount(addr)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "not found") {
				balance = 0
				return nil
			}
			return err
		}
		balance = acc.Balance
		return nil
	})
	return big.NewInt(balance), err
}

// TokenBalance returns the TRC20 balance of owner
func (c *Client) TokenBalance(ctx context.Context, token entities.Token, owner string) (*big.Int, error) {
	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	return c.constantUint(ctx, token, owner, data, "balanceOf")
}

// Allowance returns how much spender may move out of owner
func (c *Client) Allowance(ctx context.Context, token entities.Token, owner, spender string) (*big.Int, error) {
	data, err := packAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return c.constantUint(ctx, token, owner, data, "allowance")
}

// AssetBalance returns the balance of token, native or TRC20
func (c *Client) AssetBalance(ctx context.Context, token entities.Token, owner string) (*big.Int, error) {
	if token.IsNative() {
		return c.Balance(ctx, owner)
	}
	return c.TokenBalance(ctx, token, owner)
}

func (c *Client) constantUint(ctx context.Context, token entities.Token, from, data, op string) (*big.Int, error) {
	contract, err := c.Contract(token)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = c.guard.Read(ctx, op, func(ctx context.Context) error {
		res, err := c.rpc.TRC20Call(from, contract, data, true, 0)
		if err != nil {
			return err
		}
		if len(res.GetConstantResult()) == 0 {
			return fmt.Errorf("empty %s result", op)
		}
		out = res.GetConstantResult()[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// Sign asks the node to build the transaction of msg and signs it locally.
// Tron has no sequence field; the id is the sha256 of the raw data.
func (c *Client) Sign(ctx context.Context, msg *entities.OutboundMessage) (*pipeline.SignedTransaction, error) {
	key, err := c.keys.PrivateKey(ctx, entities.NetworkTron, msg.Signer)
	if err != nil {
		return nil, err
	}
	from := address.PubkeyToAddress(key.PublicKey).String()
	if from != msg.Signer.Address {
		return nil, apperrors.NewChainError(apperrors.KindValidation, network, "sign",
			fmt.Errorf("signer key %s does not match %s", from, msg.Signer.Address))
	}

	draft := &msg.Tx
	var ext *api.TransactionExtention
	fee := c.config.TransferFee

	err = c.guard.Write(ctx, "build", func(ctx context.Context) error {
		var err error
		if draft.Contract == "" {
			if !draft.Value.IsInt64() {
				return apperrors.NewChainError(apperrors.KindValidation, network, "build", apperrors.ErrInvalidAmount)
			}
			ext, err = c.rpc.Transfer(from, draft.To, draft.Value.Int64())
		} else {
			limit := draft.FeeLimit
			if limit == 0 {
				limit = c.config.FeeLimit
				draft.FeeLimit = limit
			}
			fee = limit
			ext, err = c.rpc.TRC20Call(from, draft.Contract, draft.Data, false, limit)
		}
		if err != nil {
			return err
		}
		return resultError(ext.GetResult())
	})
	if err != nil {
		return nil, err
	}
	if ext.GetTransaction() == nil || ext.GetTransaction().GetRawData() == nil {
		return nil, apperrors.NewChainError(apperrors.KindUnknown, network, "build", errors.New("node returned an empty transaction"))
	}

	tx := ext.GetTransaction()
	raw, err := proto.Marshal(tx.GetRawData())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw data: %w", err)
	}
	hash := sha256.Sum256(raw)
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	tx.Signature = [][]byte{sig}

	return &pipeline.SignedTransaction{
		ID:      hex.EncodeToString(hash[:]),
		Network: entities.NetworkTron,
		Raw:     raw,
		Payload: tx,
		Fee:     entities.AmountFromInt64(fee),
	}, nil
}

// Broadcast submits a signed transaction
func (c *Client) Broadcast(ctx context.Context, signed *pipeline.SignedTransaction) error {
	tx, ok := signed.Payload.(*core.Transaction)
	if !ok {
		return fmt.Errorf("tron broadcast needs a *core.Transaction payload, got %T", signed.Payload)
	}
	return c.guard.Write(ctx, "broadcast", func(ctx context.Context) error {
		ret, err := c.rpc.Broadcast(tx)
		if err != nil {
			return err
		}
		return resultError(ret)
	})
}

// Status reports whether a transaction is unknown, pending or final
func (c *Client) Status(ctx context.Context, id string) (*pipeline.Confirmation, error) {
	var info *core.TransactionInfo
	err := c.guard.Read(ctx, "transaction_info", func(ctx context.Context) error {
		var err error
		info, err = c.rpc.GetTransactionInfoByID(id)
		if err != nil && isNotFound(err) {
			info = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if info == nil || info.GetBlockNumber() == 0 {
		var known bool
		err := c.guard.Read(ctx, "transaction", func(ctx context.Context) error {
			_, err := c.rpc.GetTransactionByID(id)
			if err != nil && isNotFound(err) {
				return nil
			}
			known = err == nil
			return err
		})
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, apperrors.ErrTransactionNotFound
		}
		return &pipeline.Confirmation{}, nil
	}

	block := info.GetBlockNumber()
	return &pipeline.Confirmation{
		Confirmed: true,
		Receipt: &pipeline.Receipt{
			TransactionID: id,
			Success:       executionSucceeded(info),
			BlockNumber:   &block,
			FeePaid:       entities.AmountFromInt64(info.GetFee()),
		},
	}, nil
}

// BlockNumber returns the current head
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var head int64
	err := c.guard.Read(ctx, "now_block", func(ctx context.Context) error {
		b, err := c.rpc.GetNowBlock()
		if err != nil {
			return err
		}
		head = b.GetBlockHeader().GetRawData().GetNumber()
		return nil
	})
	return head, err
}

func executionSucceeded(info *core.TransactionInfo) bool {
	if info.GetResult() != core.TransactionInfo_SUCESS {
		return false
	}
	switch info.GetReceipt().GetResult() {
	case core.Transaction_Result_DEFAULT, core.Transaction_Result_SUCCESS:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// resultError maps a node Return into the chain error taxonomy
func resultError(ret *api.Return) error {
	if ret == nil || ret.GetResult() || ret.GetCode() == api.Return_SUCCESS {
		return nil
	}
	return ClassifyTronResult(ret.GetCode().String(), string(ret.GetMessage()))
}

// ClassifyTronResult maps a broadcast return code and message
func ClassifyTronResult(code, message string) error {
	err := fmt.Errorf("%s: %s", code, message)
	kind := apperrors.KindUnknown
	switch code {
	case "SERVER_BUSY", "NO_CONNECTION", "NOT_ENOUGH_EFFECTIVE_CONNECTION", "DUP_TRANSACTION_ERROR":
		kind = apperrors.KindTransient
	case "TRANSACTION_EXPIRATION_ERROR", "TAPOS_ERROR":
		kind = apperrors.KindStaleTransaction
	case "BANDWITH_ERROR":
		kind = apperrors.KindInsufficientFunds
	case "SIGERROR", "TOO_BIG_TRANSACTION_ERROR":
		kind = apperrors.KindValidation
	case "CONTRACT_VALIDATE_ERROR", "CONTRACT_EXE_ERROR":
		kind = apperrors.Classify(network, "broadcast", errors.New(message)).Kind
		if kind == apperrors.KindUnknown {
			kind = apperrors.KindValidation
		}
	}
	return apperrors.NewChainError(kind, network, "broadcast", err)
}
