package chainhooks

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/sweepledger"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/cache"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

const (
	treasuryAddr = "0x1111111111111111111111111111111111111111"
	walletAddr   = "0x2222222222222222222222222222222222222222"
	userAddr     = "0x3333333333333333333333333333333333333333"
)

type fakeChain struct {
	NoBump
	network     entities.Network
	balances    map[string]*big.Int
	treasury    map[entities.Token]*big.Int
	fee         *big.Int
	validateErr error
	poolErr     error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		network:  entities.NetworkEthereum,
		balances: make(map[string]*big.Int),
		treasury: make(map[entities.Token]*big.Int),
		fee:      big.NewInt(21_000),
	}
}

func (c *fakeChain) Network() entities.Network { return c.network }
func (c *fakeChain) TreasuryAddress() string   { return treasuryAddr }
func (c *fakeChain) ValidateAddress(string) error {
	return c.validateErr
}

func (c *fakeChain) Status(context.Context, string) (*pipeline.Confirmation, error) {
	return &pipeline.Confirmation{}, nil
}

func (c *fakeChain) BlockNumber(context.Context) (int64, error) { return 100, nil }

func (c *fakeChain) Balance(_ context.Context, token entities.Token, owner string) (*big.Int, error) {
	if b, ok := c.balances[owner+"/"+string(token)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) TreasuryBalance(_ context.Context, token entities.Token) (*big.Int, error) {
	if b, ok := c.treasury[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) EstimateFee(context.Context, entities.Process, entities.Token) (*big.Int, error) {
	return new(big.Int).Set(c.fee), nil
}

func (c *fakeChain) TransferDraft(token entities.Token, from, to string, amount *big.Int, tag *uint32) (entities.TxDraft, error) {
	draft := entities.TxDraft{From: from, To: to, Value: entities.NewAmount(amount), DestinationTag: tag}
	if !token.IsNative() {
		draft.Contract = "0xcontract"
		draft.Data = "0xa9059cbb"
	}
	return draft, nil
}

func (c *fakeChain) Allowance(context.Context, entities.Token, string) (*big.Int, error) {
	return new(big.Int), nil
}

func (c *fakeChain) FundDraft(wallet string, amount *big.Int) (entities.TxDraft, error) {
	return entities.TxDraft{From: treasuryAddr, To: wallet, Value: entities.NewAmount(amount)}, nil
}

func (c *fakeChain) ApproveDraft(_ entities.Token, owner string) (entities.TxDraft, error) {
	return entities.TxDraft{From: owner, To: treasuryAddr, Contract: "0xcontract", Data: "0x095ea7b3"}, nil
}

func (c *fakeChain) PoolDraft(_ context.Context, token entities.Token, owner string, balance *big.Int) (entities.TxDraft, error) {
	if c.poolErr != nil {
		return entities.TxDraft{}, c.poolErr
	}
	return entities.TxDraft{From: treasuryAddr, To: treasuryAddr, Contract: "0xcontract", Data: "0x23b872dd", Value: entities.NewAmount(balance)}, nil
}

// withdrawalOnly hides the sweep methods so Register sees a plain Chain
type withdrawalOnly struct {
	Chain
}

type fakeOutgoing struct {
	mu       sync.Mutex
	created  []*entities.OutgoingTransaction
	receipts map[string]entities.ReceiptUpdate
}

func newFakeOutgoing() *fakeOutgoing {
	return &fakeOutgoing{receipts: make(map[string]entities.ReceiptUpdate)}
}

func (f *fakeOutgoing) Create(_ context.Context, tx *entities.OutgoingTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, tx)
	return nil
}

func (f *fakeOutgoing) GetByHash(_ context.Context, _ entities.Network, hash string) (*entities.OutgoingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.created {
		if tx.TransactionHash == hash {
			return tx, nil
		}
	}
	return nil, apperrors.NotFoundError("outgoing transaction")
}

func (f *fakeOutgoing) UpdateReceipt(_ context.Context, _ entities.Network, hash string, update entities.ReceiptUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = update
	return true, nil
}

type fakeWithdrawals struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*entities.Withdrawal
	attempts map[uuid.UUID]int
}

func newFakeWithdrawals(rows ...*entities.Withdrawal) *fakeWithdrawals {
	f := &fakeWithdrawals{rows: make(map[uuid.UUID]*entities.Withdrawal), attempts: make(map[uuid.UUID]int)}
	for _, w := range rows {
		f.rows[w.ID] = w
	}
	return f
}

func (f *fakeWithdrawals) GetByID(_ context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.rows[id]
	if !ok {
		return nil, apperrors.NotFoundError("withdrawal")
	}
	c := *w
	return &c, nil
}

func (f *fakeWithdrawals) TransitionStatus(_ context.Context, id uuid.UUID, from []entities.WithdrawalStatus, to entities.WithdrawalStatus, reason *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if err := s.ValidateTransition(to); err != nil {
			return false, apperrors.ValidationError("status", err.Error())
		}
	}
	for _, s := range from {
		if w.Status == s {
			w.Status = to
			if reason != nil {
				r := *reason
				w.Reason = &r
			}
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWithdrawals) SetTransactionHash(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.rows[id]; ok {
		h := hash
		w.TransactionHash = &h
	}
	return nil
}

func (f *fakeWithdrawals) IncrementAttempts(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	return nil
}

func (f *fakeWithdrawals) ListStuck(context.Context, entities.WithdrawalStatus, int, int) ([]*entities.Withdrawal, error) {
	return nil, nil
}

func (f *fakeWithdrawals) status(id uuid.UUID) entities.WithdrawalStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

type publishedMessage struct {
	msg  *entities.OutboundMessage
	opts queue.PublishOptions
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
}

func (p *recordingPublisher) PublishOutboundTransaction(_ context.Context, msg *entities.OutboundMessage, opts queue.PublishOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	// round trip like the broker would
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var decoded entities.OutboundMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		return err
	}
	p.msgs = append(p.msgs, publishedMessage{msg: &decoded, opts: opts})
	return nil
}

// MockSigners is a mock implementation of Signers
type MockSigners struct {
	mock.Mock
}

func (m *MockSigners) TreasurySigner(network entities.Network) (entities.Signer, error) {
	args := m.Called(network)
	return args.Get(0).(entities.Signer), args.Error(1)
}

func (m *MockSigners) SignerForAddress(ctx context.Context, network entities.Network, address string) (entities.Signer, error) {
	args := m.Called(ctx, network, address)
	return args.Get(0).(entities.Signer), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*entities.SettlementEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event *entities.SettlementEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []entities.SettlementEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]entities.SettlementEventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

var (
	treasurySigner = entities.Signer{Kind: entities.SignerTreasury, Address: treasuryAddr}
	walletSigner   = entities.Signer{Kind: entities.SignerUser, Index: 7, Address: walletAddr}
)

type harness struct {
	chain       *fakeChain
	ledger      *sweepledger.Ledger
	outgoing    *fakeOutgoing
	withdrawals *fakeWithdrawals
	pooling     *cache.MemoryPoolingRequests
	publisher   *recordingPublisher
	signers     *MockSigners
	notifier    *recordingNotifier
}

func newHarness(t *testing.T, withdrawals ...*entities.Withdrawal) *harness {
	t.Helper()
	signers := new(MockSigners)
	signers.On("TreasurySigner", mock.Anything).Return(treasurySigner, nil).Maybe()
	signers.On("SignerForAddress", mock.Anything, mock.Anything, walletAddr).Return(walletSigner, nil).Maybe()

	return &harness{
		chain:       newFakeChain(),
		ledger:      sweepledger.New(sweepledger.NewMemoryRepository(), logger.NewNop()),
		outgoing:    newFakeOutgoing(),
		withdrawals: newFakeWithdrawals(withdrawals...),
		pooling:     cache.NewMemoryPoolingRequests(),
		publisher:   &recordingPublisher{},
		signers:     signers,
		notifier:    &recordingNotifier{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Ledger:          h.ledger,
		Outgoing:        h.outgoing,
		Withdrawals:     h.withdrawals,
		Pooling:         h.pooling,
		Publisher:       h.publisher,
		Signers:         h.signers,
		Rates:           cache.NewStaticRates(map[string]float64{"ETH": 2000, "USDT": 1}),
		Notifier:        h.notifier,
		Logger:          logger.NewNop(),
		MaxAttempts:     3,
		PoolingPriority: 2,
	}
}

// holdRow tracks a deposit of msg's token and acquires its row for action on
// behalf of msg
func (h *harness) holdRow(t *testing.T, msg *entities.OutboundMessage, action entities.SweepAction) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.ledger.TrackDeposit(ctx, walletAddr, entities.NetworkEthereum, msg.Token))
	ok, err := h.ledger.Acquire(ctx, walletAddr, msg.Token, action, msg.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func (h *harness) pending(t *testing.T) []entities.Token {
	t.Helper()
	tokens, err := h.pooling.Pending(context.Background(), entities.NetworkEthereum)
	require.NoError(t, err)
	return tokens
}

func newWithdrawal(token entities.Token, amount int64) *entities.Withdrawal {
	return &entities.Withdrawal{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Network:   entities.NetworkEthereum,
		Token:     token,
		ToAddress: userAddr,
		Amount:    entities.AmountFromInt64(amount),
		AmountUSD: decimal.NewFromInt(10),
		FeeUSD:    decimal.NewFromInt(2),
		Status:    entities.WithdrawalStatusPending,
		CreatedAt: time.Now(),
	}
}

func confirmation(msg *entities.OutboundMessage, hash string) *entities.ConfirmationMessage {
	return &entities.ConfirmationMessage{Outbound: *msg, TransactionID: hash, SentAt: time.Now()}
}

func receipt(success bool) *pipeline.Receipt {
	block := int64(120)
	return &pipeline.Receipt{Success: success, BlockNumber: &block, FeePaid: entities.AmountFromInt64(21_000)}
}
