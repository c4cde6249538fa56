package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignerKind selects which key signs an outbound transaction
type SignerKind string

const (
	SignerTreasury SignerKind = "treasury"
	SignerUser     SignerKind = "user"
)

// Signer names the key that signs a message. User keys are derived from the
// master seed at Index; treasury keys come from configuration.
type Signer struct {
	Kind    SignerKind `json:"kind" validate:"required,oneof=treasury user"`
	Index   uint32     `json:"index"`
	Address string     `json:"address" validate:"required"`
}

// TxDraft is the chain-native description of a transaction before signing.
// Fields that do not apply to a network stay zero.
type TxDraft struct {
	From     string `json:"from"`
	To       string `json:"to" validate:"required"`
	Contract string `json:"contract,omitempty"`
	// Value is the amount moved in base units of the message token. Contract
	// calls carry it in Data, not as native value.
	Value Amount `json:"value"`
	Data  string `json:"data,omitempty"`

	// Ethereum
	Nonce    *uint64 `json:"nonce,omitempty"`
	GasPrice *Amount `json:"gas_price,omitempty"`
	GasLimit uint64  `json:"gas_limit,omitempty"`

	// Tron
	FeeLimit int64 `json:"fee_limit,omitempty"`

	// Ripple
	Sequence       *uint32 `json:"sequence,omitempty"`
	Fee            *Amount `json:"fee,omitempty"`
	DestinationTag *uint32 `json:"destination_tag,omitempty"`
}

// HasExplicitSequence reports whether the draft pins its nonce or sequence,
// which is true for replacement transactions.
func (d *TxDraft) HasExplicitSequence() bool {
	return d.Nonce != nil || d.Sequence != nil
}

// OutboundMessage is the queue payload driving one outbound transaction
type OutboundMessage struct {
	ID      uuid.UUID `json:"id" validate:"required"`
	Process Process   `json:"process" validate:"required,oneof=fund approve pool withdrawal"`
	Network Network   `json:"network" validate:"required,oneof=ethereum tron ripple"`
	Token   Token     `json:"token" validate:"required"`
	Signer  Signer    `json:"signer"`
	Tx      TxDraft   `json:"tx"`

	// Attempt counts fresh re-sends after stale or funding errors.
	Attempt int `json:"attempt"`
	// Bumps counts fee replacements of the same logical intent.
	Bumps               int    `json:"bumps"`
	ReplacesTransaction string `json:"replaces_transaction,omitempty"`
	// ReplacedTransactions lists every earlier transaction of the intent,
	// oldest first. Its last element equals ReplacesTransaction.
	ReplacedTransactions []string `json:"replaced_transactions,omitempty"`

	// WalletAddress is the user wallet whose sweep ledger row this message owns.
	WalletAddress string `json:"wallet_address,omitempty"`
	// RowAction is the action the owned row is held at when it differs from
	// the process, as for a gas top-up of a wallet that still has to approve.
	RowAction    SweepAction   `json:"row_action,omitempty"`
	WithdrawalID *uuid.UUID    `json:"withdrawal_id,omitempty"`
	Fees         *FeeBreakdown `json:"fees,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewOutboundMessage starts a message for a process
func NewOutboundMessage(network Network, process Process, token Token, signer Signer) *OutboundMessage {
	return &OutboundMessage{
		ID:        uuid.New(),
		Process:   process,
		Network:   network,
		Token:     token,
		Signer:    signer,
		CreatedAt: time.Now().UTC(),
	}
}

// IsReplacement reports whether the message replaces a stuck transaction
func (m *OutboundMessage) IsReplacement() bool {
	return m.ReplacesTransaction != ""
}

// sendSequenceStride bounds Attempt so that SendSequence grows with every
// retry and every bump
const sendSequenceStride = 1000

// MaxSendAttempts is the largest Attempt SendSequence keeps ordered
const MaxSendAttempts = sendSequenceStride - 1

// SendSequence orders the sends of one message. A retry or a fee bump always
// gets a higher value than the send before it.
func (m *OutboundMessage) SendSequence() int {
	return m.Bumps*sendSequenceStride + m.Attempt
}

// Replace turns a copy of m into the replacement of transaction id
func (m *OutboundMessage) Replace(id string, draft TxDraft) *OutboundMessage {
	c := m.Clone()
	c.Tx = draft.clone()
	c.Bumps++
	c.Attempt = 0
	c.ReplacesTransaction = id
	c.ReplacedTransactions = append(c.ReplacedTransactions, id)
	return c
}

// Rewind returns a copy of a replacement that points one step back down its
// chain, together with the id of the transaction it replaced.
func (m *OutboundMessage) Rewind() (*OutboundMessage, string) {
	c := m.Clone()
	n := len(c.ReplacedTransactions)
	if n == 0 {
		id := c.ReplacesTransaction
		c.ReplacesTransaction = ""
		return c, id
	}
	id := c.ReplacedTransactions[n-1]
	c.ReplacedTransactions = c.ReplacedTransactions[:n-1]
	c.ReplacesTransaction = ""
	if n > 1 {
		c.ReplacesTransaction = c.ReplacedTransactions[n-2]
	}
	return c, id
}

// Clone returns a deep copy suitable for re-publishing
func (m *OutboundMessage) Clone() *OutboundMessage {
	c := *m
	c.Tx = m.Tx.clone()
	if m.ReplacedTransactions != nil {
		c.ReplacedTransactions = append([]string(nil), m.ReplacedTransactions...)
	}
	if m.WithdrawalID != nil {
		id := *m.WithdrawalID
		c.WithdrawalID = &id
	}
	if m.Fees != nil {
		f := FeeBreakdown{
			UserPaid:     NewAmount(&m.Fees.UserPaid.Int),
			TotalPaid:    NewAmount(&m.Fees.TotalPaid.Int),
			UserPaidUSD:  m.Fees.UserPaidUSD,
			TotalPaidUSD: m.Fees.TotalPaidUSD,
		}
		c.Fees = &f
	}
	return &c
}

func (d TxDraft) clone() TxDraft {
	c := d
	c.Value = NewAmount(&d.Value.Int)
	if d.Nonce != nil {
		n := *d.Nonce
		c.Nonce = &n
	}
	if d.GasPrice != nil {
		g := NewAmount(&d.GasPrice.Int)
		c.GasPrice = &g
	}
	if d.Sequence != nil {
		s := *d.Sequence
		c.Sequence = &s
	}
	if d.Fee != nil {
		f := NewAmount(&d.Fee.Int)
		c.Fee = &f
	}
	if d.DestinationTag != nil {
		t := *d.DestinationTag
		c.DestinationTag = &t
	}
	return c
}

// ConfirmationMessage schedules a confirmation check of a broadcast
type ConfirmationMessage struct {
	Outbound      OutboundMessage `json:"outbound"`
	TransactionID string          `json:"transaction_id" validate:"required"`
	Checks        int             `json:"checks"`
	BlockSent     *int64          `json:"block_sent,omitempty"`
	SentAt        time.Time       `json:"sent_at"`
}

// ObservedDeposit is one inbound transfer reported by the ingestion layer
type ObservedDeposit struct {
	TransactionHash string          `json:"transaction_hash" validate:"required"`
	Address         string          `json:"address" validate:"required"`
	DestinationTag  *uint32         `json:"destination_tag,omitempty"`
	Token           Token           `json:"token" validate:"required"`
	Amount          Amount          `json:"amount"`
	AmountUSD       decimal.Decimal `json:"amount_usd"`
	Confirmations   int             `json:"confirmations" validate:"gte=0"`
}

// DepositMessage batches observed deposits of one network
type DepositMessage struct {
	Network  Network           `json:"network" validate:"required,oneof=ethereum tron ripple"`
	Deposits []ObservedDeposit `json:"deposits" validate:"required,dive"`
}
