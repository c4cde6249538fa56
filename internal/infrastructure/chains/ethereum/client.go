package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
)

// RPC is the subset of ethclient.Client the settlement client uses
type RPC interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config describes the Ethereum network the client talks to
type Config struct {
	ChainID          int64
	TransferGasLimit uint64
	TokenGasLimit    uint64
	// Tokens maps ERC20 symbols to contract addresses
	Tokens map[entities.Token]string
	// ReceiptConfirmations is the block depth after which an outbound
	// receipt is treated as final.
	ReceiptConfirmations uint64
}

// Client signs, broadcasts and inspects Ethereum transactions
type Client struct {
	rpc     RPC
	keys    chains.KeySource
	config  Config
	chainID *big.Int
	guard   *chains.Guard
	logger  *zap.Logger
}

// Dial connects to an Ethereum JSON-RPC endpoint
func Dial(ctx context.Context, url string, keys chains.KeySource, config Config, logger *zap.Logger) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum node: %w", err)
	}
	return NewClient(rpc, keys, config, logger), nil
}

// Close releases the underlying connection
func (c *Client) Close() {
	if closer, ok := c.rpc.(interface{ Close() }); ok {
		closer.Close()
	}
}

// NewClient wraps an RPC connection
func NewClient(rpc RPC, keys chains.KeySource, config Config, logger *zap.Logger) *Client {
	if config.TransferGasLimit == 0 {
		config.TransferGasLimit = 21000
	}
	if config.TokenGasLimit == 0 {
		config.TokenGasLimit = 100000
	}
	if config.ReceiptConfirmations == 0 {
		config.ReceiptConfirmations = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		rpc:     rpc,
		keys:    keys,
		config:  config,
		chainID: big.NewInt(config.ChainID),
		guard:   chains.NewGuard(entities.NetworkEthereum, retry.DefaultPolicy(), logger),
		logger:  logger,
	}
}

// Contract returns the ERC20 contract of token
func (c *Client) Contract(token entities.Token) (string, error) {
	addr, ok := c.config.Tokens[token]
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: %s on ethereum", apperrors.ErrUnsupportedToken, token)
	}
	return addr, nil
}

// GasLimit returns the configured gas limit for moving token
func (c *Client) GasLimit(token entities.Token) uint64 {
	if token.IsNative() {
		return c.config.TransferGasLimit
	}
	return c.config.TokenGasLimit
}

// ValidateAddress checks a hex account address
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidAddress, address)
	}
	return nil
}

// GasPrice returns the node's current gas price suggestion
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.guard.Read(ctx, "gas_price", func(ctx context.Context) error {
		var err error
		price, err = c.rpc.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// Balance returns the account's native balance in wei
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := c.guard.Read(ctx, "balance", func(ctx context.Context) error {
		var err error
		balance, err = c.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	return balance, err
}

// TokenBalance returns the ERC20 balance of owner
func (c *Client) TokenBalance(ctx context.Context, token entities.Token, owner string) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	return c.callUint(ctx, token, "balanceOf", data)
}

// Allowance returns how much spender may move out of owner
func (c *Client) Allowance(ctx context.Context, token entities.Token, owner, spender string) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance: %w", err)
	}
	return c.callUint(ctx, token, "allowance", data)
}

// AssetBalance returns the balance of token, native or ERC20
func (c *Client) AssetBalance(ctx context.Context, token entities.Token, owner string) (*big.Int, error) {
	if token.IsNative() {
		return c.Balance(ctx, owner)
	}
	return c.TokenBalance(ctx, token, owner)
}

func (c *Client) callUint(ctx context.Context, token entities.Token, method string, data []byte) (*big.Int, error) {
	contract, err := c.Contract(token)
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(contract)

	var out []byte
	err = c.guard.Read(ctx, method, func(ctx context.Context) error {
		var err error
		out, err = c.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return unpackUint(method, out)
}

// Sign builds and signs the message's transaction. Nonce and gas price are
// resolved when absent and written back into the draft so a replacement can
// reuse them.
func (c *Client) Sign(ctx context.Context, msg *entities.OutboundMessage) (*pipeline.SignedTransaction, error) {
	key, err := c.keys.PrivateKey(ctx, entities.NetworkEthereum, msg.Signer)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if !sameAddress(from.Hex(), msg.Signer.Address) {
		return nil, apperrors.NewChainError(apperrors.KindValidation, string(entities.NetworkEthereum), "sign",
			fmt.Errorf("signer key %s does not match %s", from.Hex(), msg.Signer.Address))
	}

	draft := &msg.Tx
	if draft.Nonce == nil {
		var nonce uint64
		err := c.guard.Read(ctx, "nonce", func(ctx context.Context) error {
			var err error
			nonce, err = c.rpc.PendingNonceAt(ctx, from)
			return err
		})
		if err != nil {
			return nil, err
		}
		draft.Nonce = &nonce
	}
	if draft.GasPrice == nil {
		price, err := c.GasPrice(ctx)
		if err != nil {
			return nil, err
		}
		p := entities.NewAmount(price)
		draft.GasPrice = &p
	}
	if draft.GasLimit == 0 {
		draft.GasLimit = c.GasLimit(msg.Token)
	}

	tx, err := c.buildTransaction(draft)
	if err != nil {
		return nil, err
	}
	signed, err := signTransaction(tx, key, c.chainID)
	if err != nil {
		return nil, err
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	fee := new(big.Int).Mul(draft.GasPrice.BigInt(), new(big.Int).SetUint64(draft.GasLimit))
	return &pipeline.SignedTransaction{
		ID:      signed.Hash().Hex(),
		Network: entities.NetworkEthereum,
		Raw:     raw,
		Payload: signed,
		Fee:     entities.NewAmount(fee),
	}, nil
}

func (c *Client) buildTransaction(draft *entities.TxDraft) (*types.Transaction, error) {
	to := draft.To
	if draft.Contract != "" {
		to = draft.Contract
	}
	if err := ValidateAddress(to); err != nil {
		return nil, apperrors.NewChainError(apperrors.KindValidation, string(entities.NetworkEthereum), "sign", err)
	}

	var data []byte
	if draft.Data != "" {
		decoded, err := hexutil.Decode(draft.Data)
		if err != nil {
			return nil, apperrors.NewChainError(apperrors.KindValidation, string(entities.NetworkEthereum), "sign",
				fmt.Errorf("invalid calldata: %w", err))
		}
		data = decoded
	}

	// Token amounts travel in the calldata of contract calls.
	value := draft.Value.BigInt()
	if draft.Contract != "" {
		value = new(big.Int)
	}

	toAddr := common.HexToAddress(to)
	return types.NewTx(&types.LegacyTx{
		Nonce:    *draft.Nonce,
		To:       &toAddr,
		Value:    value,
		Gas:      draft.GasLimit,
		GasPrice: draft.GasPrice.BigInt(),
		Data:     data,
	}), nil
}

func signTransaction(tx *types.Transaction, key *ecdsa.PrivateKey, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Broadcast submits a signed transaction
func (c *Client) Broadcast(ctx context.Context, tx *pipeline.SignedTransaction) error {
	signed, ok := tx.Payload.(*types.Transaction)
	if !ok {
		signed = new(types.Transaction)
		if err := signed.UnmarshalBinary(tx.Raw); err != nil {
			return fmt.Errorf("failed to decode signed transaction: %w", err)
		}
	}
	return c.guard.Write(ctx, "broadcast", func(ctx context.Context) error {
		return c.rpc.SendTransaction(ctx, signed)
	})
}

// Status reports whether a transaction is unknown, pending or final
func (c *Client) Status(ctx context.Context, hash string) (*pipeline.Confirmation, error) {
	h := common.HexToHash(hash)

	var pending bool
	err := c.guard.Read(ctx, "transaction", func(ctx context.Context) error {
		_, isPending, err := c.rpc.TransactionByHash(ctx, h)
		if errors.Is(err, ethereum.NotFound) {
			return apperrors.ErrTransactionNotFound
		}
		pending = isPending
		return err
	})
	if err != nil {
		return nil, err
	}
	if pending {
		return &pipeline.Confirmation{}, nil
	}

	var receipt *types.Receipt
	err = c.guard.Read(ctx, "receipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.rpc.TransactionReceipt(ctx, h)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return &pipeline.Confirmation{}, nil
	}
	if err != nil {
		return nil, err
	}

	var head uint64
	err = c.guard.Read(ctx, "block_number", func(ctx context.Context) error {
		var err error
		head, err = c.rpc.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined || head-mined+1 < c.config.ReceiptConfirmations {
		return &pipeline.Confirmation{}, nil
	}

	block := receipt.BlockNumber.Int64()
	blockHash := receipt.BlockHash.Hex()
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = big.NewInt(0)
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(receipt.GasUsed))

	return &pipeline.Confirmation{
		Confirmed: true,
		Receipt: &pipeline.Receipt{
			TransactionID: hash,
			Success:       receipt.Status == types.ReceiptStatusSuccessful,
			BlockNumber:   &block,
			BlockHash:     &blockHash,
			FeePaid:       entities.NewAmount(fee),
		},
	}, nil
}

// BlockNumber returns the current head
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var head uint64
	err := c.guard.Read(ctx, "block_number", func(ctx context.Context) error {
		var err error
		head, err = c.rpc.BlockNumber(ctx)
		return err
	})
	return int64(head), err
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
