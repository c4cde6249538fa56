package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

// SignedTransaction is a transaction ready for broadcast. ID is the hash the
// network will know it by, available before broadcast.
type SignedTransaction struct {
	ID      string
	Network entities.Network
	Raw     []byte
	// Payload carries the chain client's native representation.
	Payload interface{}
	// Fee is the maximum native-unit fee the transaction can consume.
	Fee entities.Amount
}

// Chain signs and broadcasts transactions for one network
type Chain interface {
	Sign(ctx context.Context, msg *entities.OutboundMessage) (*SignedTransaction, error)
	Broadcast(ctx context.Context, tx *SignedTransaction) error
}

// Receipt is the on-chain outcome of a confirmed transaction
type Receipt struct {
	TransactionID string
	Success       bool
	BlockNumber   *int64
	BlockHash     *string
	// FeePaid is the native-unit fee the network charged.
	FeePaid entities.Amount
}

// Confirmation is the result of a confirmation lookup. Receipt is set only
// when Confirmed is true.
type Confirmation struct {
	Confirmed bool
	Receipt   *Receipt
}

// Stage identifies where in the pipeline a failure happened
type Stage string

const (
	StageAdmission    Stage = "admission"
	StageSign         Stage = "sign"
	StageBroadcast    Stage = "broadcast"
	StageConfirmation Stage = "confirmation"
)

// Failure is handed to Hooks.OnError
type Failure struct {
	Stage Stage
	Kind  apperrors.ErrorKind
	Err   error
	// Checks is the number of confirmation polls already spent on the
	// intent when a confirmation failure happened.
	Checks int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", f.Stage, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(stage Stage, network entities.Network, err error) *Failure {
	classified := apperrors.Classify(string(network), string(stage), err)
	return &Failure{Stage: stage, Kind: classified.Kind, Err: classified}
}

// Outcome is what the pipeline does after OnError
type Outcome string

const (
	// OutcomeIgnore stops handling. A broadcast that failed this way still gets
	// its confirmation check since the transaction id is known.
	OutcomeIgnore Outcome = "ignore"
	// OutcomeRetry re-publishes the original message with Attempt+1.
	OutcomeRetry Outcome = "retry"
	// OutcomeAbandon stops handling; the hook has already released or failed
	// the process record.
	OutcomeAbandon Outcome = "abandon"
	// OutcomeResumeReplaced goes back to polling the transaction a failed
	// replacement was meant to replace, one step back down the chain of
	// replacements each time.
	OutcomeResumeReplaced Outcome = "resume_replaced"
)

// Hooks is the chain and process specific strategy driven by the pipeline
type Hooks interface {
	// BeforeEach validates and completes msg in place. Returning false vetoes
	// the send without an error. Must be idempotent.
	BeforeEach(ctx context.Context, msg *entities.OutboundMessage) (bool, error)
	// OnSend records the broadcast. Errors are logged and ignored.
	OnSend(ctx context.Context, msg *entities.OutboundMessage, tx *SignedTransaction) error
	// IsTransactionConfirmed returns ErrTransactionNotFound when the network
	// has never seen the transaction.
	IsTransactionConfirmed(ctx context.Context, cmsg *entities.ConfirmationMessage) (*Confirmation, error)
	// ShouldBump returns the replacement draft when the pending transaction
	// is underpriced.
	ShouldBump(ctx context.Context, cmsg *entities.ConfirmationMessage) (*entities.TxDraft, bool, error)
	// KeepAlive runs on every re-poll and bump of a pending transaction so
	// records held for it are not taken back while it is still in flight.
	// Errors are logged and ignored.
	KeepAlive(ctx context.Context, cmsg *entities.ConfirmationMessage) error
	// OnReceipt finalizes a confirmed transaction. An error re-polls.
	OnReceipt(ctx context.Context, cmsg *entities.ConfirmationMessage, receipt *Receipt) error
	// OnError classifies a failure and marks process records accordingly.
	OnError(ctx context.Context, msg *entities.OutboundMessage, failure *Failure) Outcome
}

type registryKey struct {
	network entities.Network
	process entities.Process
}

// Registry maps (network, process) to its hook set
type Registry struct {
	mu    sync.RWMutex
	hooks map[registryKey]Hooks
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[registryKey]Hooks)}
}

// Register installs hooks for a pair, replacing any previous set
func (r *Registry) Register(network entities.Network, process entities.Process, hooks Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[registryKey{network, process}] = hooks
}

// Lookup returns the hooks of a pair
func (r *Registry) Lookup(network entities.Network, process entities.Process) (Hooks, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[registryKey{network, process}]
	if !ok {
		return nil, fmt.Errorf("%w for %s/%s", apperrors.ErrNoHooks, network, process)
	}
	return h, nil
}
