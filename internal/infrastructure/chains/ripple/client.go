package ripple

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/Peersyst/xrpl-go/xrpl/wallet"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
)

const network = string(entities.NetworkRipple)

// ledgerWindow bounds how many ledgers a signed payment stays valid for
const ledgerWindow = 20

var classicAddress = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)

// SecretSource loads the treasury signing secret
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

// SecretFunc adapts a function to SecretSource
type SecretFunc func(ctx context.Context) (string, error)

func (f SecretFunc) Secret(ctx context.Context) (string, error) { return f(ctx) }

// Config describes the Ripple network the client talks to
type Config struct {
	URL             string
	TreasuryAddress string
	// ReserveDrops is the account reserve that can never be spent
	ReserveDrops int64
	Timeout      time.Duration
}

// Client signs XRP payments with the treasury key and submits them through a
// rippled node
type Client struct {
	rpc     *jsonRPC
	secrets SecretSource
	config  Config
	guard   *chains.Guard
	logger  *zap.Logger
}

// NewClient creates a rippled JSON-RPC client
func NewClient(config Config, secrets SecretSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		rpc:     newJSONRPC(config.URL, config.Timeout),
		secrets: secrets,
		config:  config,
		guard:   chains.NewGuard(entities.NetworkRipple, retry.DefaultPolicy(), logger),
		logger:  logger,
	}
}

// TreasuryAddress is the classic address deposits and withdrawals use
func (c *Client) TreasuryAddress() string {
	return c.config.TreasuryAddress
}

// ReserveDrops is the unspendable account reserve
func (c *Client) ReserveDrops() int64 {
	return c.config.ReserveDrops
}

// ValidateAddress checks a classic r-address
func ValidateAddress(addr string) error {
	if !classicAddress.MatchString(addr) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidAddress, addr)
	}
	return nil
}

type accountInfoResult struct {
	AccountData struct {
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
}

// AccountInfo returns the balance in drops and next sequence of an account
func (c *Client) AccountInfo(ctx context.Context, account string) (*big.Int, uint32, error) {
	var res accountInfoResult
	err := c.guard.Read(ctx, "account_info", func(ctx context.Context) error {
		return c.rpc.call(ctx, "account_info", map[string]interface{}{
			"account":      account,
			"ledger_index": "current",
		}, &res)
	})
	if err != nil {
		return nil, 0, err
	}
	balance, ok := new(big.Int).SetString(res.AccountData.Balance, 10)
	if !ok {
		return nil, 0, fmt.Errorf("invalid balance %q for %s", res.AccountData.Balance, account)
	}
	return balance, res.AccountData.Sequence, nil
}

// Balance returns the account balance in drops. Unfunded accounts hold zero.
func (c *Client) Balance(ctx context.Context, account string) (*big.Int, error) {
	balance, _, err := c.AccountInfo(ctx, account)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == "actNotFound" {
		return big.NewInt(0), nil
	}
	return balance, err
}

// SpendableBalance is the treasury balance above the account reserve
func (c *Client) SpendableBalance(ctx context.Context) (*big.Int, error) {
	balance, err := c.Balance(ctx, c.config.TreasuryAddress)
	if err != nil {
		return nil, err
	}
	spendable := new(big.Int).Sub(balance, big.NewInt(c.config.ReserveDrops))
	if spendable.Sign() < 0 {
		spendable.SetInt64(0)
	}
	return spendable, nil
}

type feeResult struct {
	Drops struct {
		BaseFee       string `json:"base_fee"`
		OpenLedgerFee string `json:"open_ledger_fee"`
	} `json:"drops"`
}

// Fee returns the network suggested fee in drops
func (c *Client) Fee(ctx context.Context) (*big.Int, error) {
	var res feeResult
	err := c.guard.Read(ctx, "fee", func(ctx context.Context) error {
		return c.rpc.call(ctx, "fee", map[string]interface{}{}, &res)
	})
	if err != nil {
		return nil, err
	}
	fee := res.Drops.OpenLedgerFee
	if fee == "" {
		fee = res.Drops.BaseFee
	}
	v, ok := new(big.Int).SetString(fee, 10)
	if !ok {
		return nil, fmt.Errorf("invalid fee %q", fee)
	}
	return v, nil
}

type ledgerCurrentResult struct {
	LedgerCurrentIndex int64 `json:"ledger_current_index"`
}

// BlockNumber returns the current open ledger index
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var res ledgerCurrentResult
	err := c.guard.Read(ctx, "ledger_current", func(ctx context.Context) error {
		return c.rpc.call(ctx, "ledger_current", map[string]interface{}{}, &res)
	})
	return res.LedgerCurrentIndex, err
}

// Sign builds a Payment from the treasury and signs it locally with the
// treasury secret. Sequence and fee are resolved when absent and written back
// into the draft. The secret never leaves the process.
func (c *Client) Sign(ctx context.Context, msg *entities.OutboundMessage) (*pipeline.SignedTransaction, error) {
	if msg.Signer.Kind != entities.SignerTreasury || msg.Signer.Address != c.config.TreasuryAddress {
		return nil, apperrors.NewChainError(apperrors.KindValidation, network, "sign",
			fmt.Errorf("ripple payments are signed by the treasury only, got %s", msg.Signer.Address))
	}
	if err := ValidateAddress(msg.Tx.To); err != nil {
		return nil, apperrors.NewChainError(apperrors.KindValidation, network, "sign", err)
	}
	if !msg.Tx.Value.IsPositive() {
		return nil, apperrors.NewChainError(apperrors.KindValidation, network, "sign", apperrors.ErrInvalidAmount)
	}

	draft := &msg.Tx
	if draft.Sequence == nil {
		_, seq, err := c.AccountInfo(ctx, c.config.TreasuryAddress)
		if err != nil {
			return nil, err
		}
		draft.Sequence = &seq
	}
	if draft.Fee == nil {
		fee, err := c.Fee(ctx)
		if err != nil {
			return nil, err
		}
		f := entities.NewAmount(fee)
		draft.Fee = &f
	}
	current, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	tx := map[string]interface{}{
		"TransactionType":    "Payment",
		"Account":            c.config.TreasuryAddress,
		"Destination":        draft.To,
		"Amount":             draft.Value.String(),
		"Fee":                draft.Fee.String(),
		"Sequence":           *draft.Sequence,
		"LastLedgerSequence": uint32(current + ledgerWindow),
	}
	if draft.DestinationTag != nil {
		tx["DestinationTag"] = *draft.DestinationTag
	}

	secret, err := c.secrets.Secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ripple treasury secret: %w", err)
	}
	treasury, err := wallet.FromSeed(secret, c.config.TreasuryAddress)
	if err != nil {
		return nil, apperrors.NewChainError(apperrors.KindValidation, network, "sign",
			fmt.Errorf("invalid ripple treasury secret: %w", err))
	}
	blob, hash, err := treasury.Sign(tx)
	if err != nil {
		return nil, apperrors.NewChainError(apperrors.KindValidation, network, "sign", err)
	}

	return &pipeline.SignedTransaction{
		ID:      hash,
		Network: entities.NetworkRipple,
		Raw:     []byte(blob),
		Payload: blob,
		Fee:     entities.NewAmount(draft.Fee.BigInt()),
	}, nil
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
}

// Broadcast submits a signed blob
func (c *Client) Broadcast(ctx context.Context, signed *pipeline.SignedTransaction) error {
	blob, ok := signed.Payload.(string)
	if !ok {
		blob = string(signed.Raw)
	}
	return c.guard.Write(ctx, "submit", func(ctx context.Context) error {
		var res submitResult
		if err := c.rpc.call(ctx, "submit", map[string]interface{}{"tx_blob": blob}, &res); err != nil {
			return err
		}
		return ClassifyRippleResult(res.EngineResult, res.EngineResultMessage)
	})
}

type txResult struct {
	Validated   bool   `json:"validated"`
	LedgerIndex int64  `json:"ledger_index"`
	Fee         string `json:"Fee"`
	Meta        struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}

// Status reports whether a transaction is unknown, pending or validated
func (c *Client) Status(ctx context.Context, hash string) (*pipeline.Confirmation, error) {
	var res txResult
	err := c.guard.Read(ctx, "tx", func(ctx context.Context) error {
		err := c.rpc.call(ctx, "tx", map[string]interface{}{"transaction": hash}, &res)
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == "txnNotFound" {
			return apperrors.ErrTransactionNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.Validated {
		return &pipeline.Confirmation{}, nil
	}

	fee, ok := new(big.Int).SetString(res.Fee, 10)
	if !ok {
		fee = big.NewInt(0)
	}
	ledger := res.LedgerIndex
	return &pipeline.Confirmation{
		Confirmed: true,
		Receipt: &pipeline.Receipt{
			TransactionID: hash,
			Success:       res.Meta.TransactionResult == "tesSUCCESS",
			BlockNumber:   &ledger,
			FeePaid:       entities.NewAmount(fee),
		},
	}, nil
}

// ClassifyRippleResult maps a preliminary engine result to the chain error
// taxonomy. Successful and queued submissions return nil.
func ClassifyRippleResult(code, message string) error {
	if code == "tesSUCCESS" || code == "terQUEUED" {
		return nil
	}
	err := fmt.Errorf("%s: %s", code, message)
	kind := apperrors.KindUnknown
	switch {
	case code == "tefPAST_SEQ", code == "tefMAX_LEDGER", code == "terPRE_SEQ":
		kind = apperrors.KindStaleTransaction
	case code == "tecUNFUNDED_PAYMENT", code == "tecUNFUNDED", code == "terINSUF_FEE_B", code == "tecINSUFFICIENT_RESERVE", code == "tecPATH_DRY":
		kind = apperrors.KindInsufficientFunds
	case strings.HasPrefix(code, "tem"), code == "tecNO_DST", code == "tecNO_DST_INSUF_XRP", code == "tecDST_TAG_NEEDED", code == "tefBAD_AUTH":
		kind = apperrors.KindValidation
	case strings.HasPrefix(code, "tel"), code == "tefALREADY", strings.HasPrefix(code, "tec"):
		// Local rejections are retried by the node; tec results are already
		// in a ledger and get resolved by the confirmation check.
		kind = apperrors.KindTransient
	}
	return apperrors.NewChainError(kind, network, "submit", err)
}
