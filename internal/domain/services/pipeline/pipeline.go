package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/metrics"
	"github.com/baymax-09/roobet-casino-sub000/pkg/tracing"
)

const tracerName = "settlement/pipeline"

// Config tunes the state machine
type Config struct {
	SendDelay             time.Duration
	BroadcastsPerSecond   float64
	ConfirmationDelay     time.Duration
	MaxConfirmationChecks int
	MaxAttempts           int
	MaxBumps              int
	RetryDelay            time.Duration
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		SendDelay:             time.Second,
		BroadcastsPerSecond:   5,
		ConfirmationDelay:     15 * time.Second,
		MaxConfirmationChecks: 240,
		MaxAttempts:           5,
		MaxBumps:              10,
		RetryDelay:            5 * time.Second,
	}
}

// Pipeline drives outbound transactions from admission to receipt
type Pipeline struct {
	registry *Registry
	broker   queue.Broker
	config   Config
	logger   *logger.Logger
	validate *validator.Validate

	mu       sync.Mutex
	chains   map[entities.Network]Chain
	limiters map[entities.Network]*rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a pipeline publishing through broker
func NewPipeline(registry *Registry, broker queue.Broker, config Config, log *logger.Logger) *Pipeline {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.MaxConfirmationChecks <= 0 {
		config.MaxConfirmationChecks = DefaultConfig().MaxConfirmationChecks
	}
	return &Pipeline{
		registry: registry,
		broker:   broker,
		config:   config,
		logger:   log,
		validate: validator.New(),
		chains:   make(map[entities.Network]Chain),
		limiters: make(map[entities.Network]*rate.Limiter),
		sleep:    sleepCtx,
	}
}

// RegisterChain installs the signer/broadcaster of a network
func (p *Pipeline) RegisterChain(network entities.Network, chain Chain) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains[network] = chain
	if p.config.BroadcastsPerSecond > 0 {
		p.limiters[network] = rate.NewLimiter(rate.Limit(p.config.BroadcastsPerSecond), 1)
	}
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() Config {
	return p.config
}

func (p *Pipeline) chain(network entities.Network) (Chain, *rate.Limiter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chains[network]
	if !ok {
		return nil, nil, fmt.Errorf("no chain client registered for %s", network)
	}
	return c, p.limiters[network], nil
}

// PublishOutboundTransaction enqueues msg on its network's outbound queue
func (p *Pipeline) PublishOutboundTransaction(ctx context.Context, msg *entities.OutboundMessage, opts queue.PublishOptions) error {
	if err := p.validate.Struct(msg); err != nil {
		return apperrors.ValidationError("outbound_message", err.Error())
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode outbound message: %w", err)
	}
	if err := p.broker.Publish(ctx, queue.OutboundQueue(msg.Network), body, opts); err != nil {
		return fmt.Errorf("failed to publish outbound message: %w", err)
	}
	return nil
}

func (p *Pipeline) publishConfirmation(ctx context.Context, cmsg *entities.ConfirmationMessage) error {
	body, err := json.Marshal(cmsg)
	if err != nil {
		return fmt.Errorf("failed to encode confirmation message: %w", err)
	}
	opts := queue.PublishOptions{Delay: p.config.ConfirmationDelay}
	if err := p.broker.Publish(ctx, queue.ConfirmationQueue(cmsg.Outbound.Network), body, opts); err != nil {
		return fmt.Errorf("failed to publish confirmation message: %w", err)
	}
	return nil
}

// OutboundHandler decodes queue deliveries for HandleOutbound
func (p *Pipeline) OutboundHandler() queue.Handler {
	return func(ctx context.Context, body []byte) error {
		var msg entities.OutboundMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("failed to decode outbound message: %w", err)
		}
		p.HandleOutbound(ctx, &msg)
		return nil
	}
}

// ConfirmationHandler decodes queue deliveries for HandleConfirmation
func (p *Pipeline) ConfirmationHandler() queue.Handler {
	return func(ctx context.Context, body []byte) error {
		var cmsg entities.ConfirmationMessage
		if err := json.Unmarshal(body, &cmsg); err != nil {
			return fmt.Errorf("failed to decode confirmation message: %w", err)
		}
		p.HandleConfirmation(ctx, &cmsg)
		return nil
	}
}

// HandleOutbound runs admission, signing and broadcast for one message.
// Failures are routed to the hooks and never returned to the consumer.
func (p *Pipeline) HandleOutbound(ctx context.Context, msg *entities.OutboundMessage) {
	ctx, span := tracing.StartSettlementSpan(ctx, tracerName, "pipeline.outbound", string(msg.Network), string(msg.Process))
	defer span.End()

	log := p.logger.With("message_id", msg.ID, "network", msg.Network, "process", msg.Process, "attempt", msg.Attempt)

	hooks, err := p.registry.Lookup(msg.Network, msg.Process)
	if err != nil {
		log.Error("Dropping outbound message", "error", err)
		return
	}
	chain, limiter, err := p.chain(msg.Network)
	if err != nil {
		log.Error("Dropping outbound message", "error", err)
		return
	}

	original := msg.Clone()

	// Throttle before admission: an admitted send is never re-queued as is.
	if err := p.throttle(ctx, limiter); err != nil {
		log.Warn("Throttle interrupted, re-queueing", "error", err)
		p.republish(ctx, original, log)
		return
	}

	proceed, err := hooks.BeforeEach(ctx, msg)
	if err != nil {
		p.fail(ctx, hooks, original, nil, newFailure(StageAdmission, msg.Network, err), log)
		return
	}
	if !proceed {
		metrics.OutboundVetoed.WithLabelValues(string(msg.Network), string(msg.Process)).Inc()
		log.Info("Outbound message vetoed by admission checks")
		return
	}

	signed, err := chain.Sign(ctx, msg)
	if err != nil {
		tracing.RecordError(span, err)
		p.fail(ctx, hooks, original, nil, newFailure(StageSign, msg.Network, err), log)
		return
	}
	log = log.With("transaction_id", signed.ID)

	if err := chain.Broadcast(ctx, signed); err != nil {
		tracing.RecordError(span, err)
		p.fail(ctx, hooks, original, &sent{msg: msg, tx: signed}, newFailure(StageBroadcast, msg.Network, err), log)
		return
	}
	metrics.OutboundSent.WithLabelValues(string(msg.Network), string(msg.Process)).Inc()
	log.Info("Transaction broadcast")

	if err := hooks.OnSend(ctx, msg, signed); err != nil {
		log.Error("Send side effects failed", "error", err)
	}

	p.scheduleConfirmation(ctx, msg, signed, log)
}

type sent struct {
	msg *entities.OutboundMessage
	tx  *SignedTransaction
}

func (p *Pipeline) scheduleConfirmation(ctx context.Context, msg *entities.OutboundMessage, tx *SignedTransaction, log *logger.Logger) {
	cmsg := &entities.ConfirmationMessage{
		Outbound:      *msg,
		TransactionID: tx.ID,
		SentAt:        time.Now().UTC(),
	}
	if err := p.publishConfirmation(context.WithoutCancel(ctx), cmsg); err != nil {
		log.Error("Failed to schedule confirmation check", "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, hooks Hooks, original *entities.OutboundMessage, s *sent, failure *Failure, log *logger.Logger) {
	outcome := hooks.OnError(ctx, original, failure)
	metrics.OutboundErrors.WithLabelValues(string(original.Network), string(original.Process), string(failure.Kind), string(outcome)).Inc()
	log.Warn("Outbound pipeline failure",
		"stage", failure.Stage,
		"kind", failure.Kind,
		"outcome", outcome,
		"error", failure.Err,
	)

	switch outcome {
	case OutcomeIgnore:
		if s != nil {
			// The signed id is known; a later check resolves whether it landed.
			if err := hooks.OnSend(ctx, s.msg, s.tx); err != nil {
				log.Error("Send side effects failed", "error", err)
			}
			p.scheduleConfirmation(ctx, s.msg, s.tx, log)
		}
	case OutcomeRetry:
		next := original.Clone()
		next.Attempt++
		p.republishDelayed(ctx, next, p.config.RetryDelay, log)
	case OutcomeResumeReplaced:
		previous, id := original.Rewind()
		cmsg := &entities.ConfirmationMessage{
			Outbound:      *previous,
			TransactionID: id,
			Checks:        failure.Checks,
			SentAt:        time.Now().UTC(),
		}
		log.Info("Resuming polling of replaced transaction", "replaced_transaction", id, "remaining", len(previous.ReplacedTransactions))
		if err := p.publishConfirmation(context.WithoutCancel(ctx), cmsg); err != nil {
			log.Error("Failed to resume replaced transaction polling", "error", err)
		}
	case OutcomeAbandon:
	}
}

func (p *Pipeline) republish(ctx context.Context, msg *entities.OutboundMessage, log *logger.Logger) {
	p.republishDelayed(ctx, msg, 0, log)
}

func (p *Pipeline) republishDelayed(ctx context.Context, msg *entities.OutboundMessage, delay time.Duration, log *logger.Logger) {
	body, err := json.Marshal(msg)
	if err != nil {
		log.Error("Failed to encode outbound message", "error", err)
		return
	}
	err = p.broker.Publish(context.WithoutCancel(ctx), queue.OutboundQueue(msg.Network), body, queue.PublishOptions{Delay: delay})
	if err != nil {
		log.Error("Failed to re-publish outbound message", "error", err)
	}
}

func (p *Pipeline) throttle(ctx context.Context, limiter *rate.Limiter) error {
	if p.config.SendDelay > 0 {
		if err := p.sleep(ctx, p.config.SendDelay); err != nil {
			return err
		}
	}
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	return nil
}

// HandleConfirmation polls one broadcast and moves it to receipt, bump,
// re-poll or failure.
func (p *Pipeline) HandleConfirmation(ctx context.Context, cmsg *entities.ConfirmationMessage) {
	msg := &cmsg.Outbound
	ctx, span := tracing.StartSettlementSpan(ctx, tracerName, "pipeline.confirmation", string(msg.Network), string(msg.Process))
	defer span.End()

	log := p.logger.With("message_id", msg.ID, "network", msg.Network, "process", msg.Process,
		"transaction_id", cmsg.TransactionID, "checks", cmsg.Checks)

	hooks, err := p.registry.Lookup(msg.Network, msg.Process)
	if err != nil {
		log.Error("Dropping confirmation message", "error", err)
		return
	}

	conf, err := hooks.IsTransactionConfirmed(ctx, cmsg)
	switch {
	case errors.Is(err, apperrors.ErrTransactionNotFound):
		metrics.ConfirmationChecks.WithLabelValues(string(msg.Network), "not_found").Inc()
		failure := newFailure(StageConfirmation, msg.Network, err)
		failure.Checks = cmsg.Checks + 1
		p.fail(ctx, hooks, msg, nil, failure, log)
		return
	case err != nil:
		metrics.ConfirmationChecks.WithLabelValues(string(msg.Network), "error").Inc()
		log.Warn("Confirmation lookup failed", "error", err)
		p.repoll(ctx, hooks, cmsg, log)
		return
	}

	if !conf.Confirmed {
		metrics.ConfirmationChecks.WithLabelValues(string(msg.Network), "pending").Inc()
		if msg.Bumps < p.config.MaxBumps {
			draft, bump, err := hooks.ShouldBump(ctx, cmsg)
			if err != nil {
				log.Warn("Bump evaluation failed", "error", err)
			} else if bump {
				p.bump(ctx, hooks, cmsg, draft, log)
				return
			}
		}
		p.repoll(ctx, hooks, cmsg, log)
		return
	}

	metrics.ConfirmationChecks.WithLabelValues(string(msg.Network), "confirmed").Inc()
	if err := hooks.OnReceipt(ctx, cmsg, conf.Receipt); err != nil {
		tracing.RecordError(span, err)
		log.Error("Receipt processing failed", "error", err)
		p.repoll(ctx, hooks, cmsg, log)
		return
	}
	if !cmsg.SentAt.IsZero() {
		metrics.ConfirmationLatency.WithLabelValues(string(msg.Network), string(msg.Process)).
			Observe(time.Since(cmsg.SentAt).Seconds())
	}
	log.Info("Transaction finalized", "success", conf.Receipt.Success)
}

// bump re-sends the intent of cmsg with draft. The replacement keeps the
// message id and carries every earlier transaction id, so any of them can
// still be resolved if it lands first.
func (p *Pipeline) bump(ctx context.Context, hooks Hooks, cmsg *entities.ConfirmationMessage, draft *entities.TxDraft, log *logger.Logger) {
	p.keepAlive(ctx, hooks, cmsg, log)
	next := cmsg.Outbound.Replace(cmsg.TransactionID, *draft)

	metrics.FeeBumps.WithLabelValues(string(next.Network), string(next.Process)).Inc()
	log.Info("Replacing underpriced transaction", "bumps", next.Bumps)
	p.republish(ctx, next, log)
}

func (p *Pipeline) repoll(ctx context.Context, hooks Hooks, cmsg *entities.ConfirmationMessage, log *logger.Logger) {
	if cmsg.Checks+1 >= p.config.MaxConfirmationChecks {
		metrics.ConfirmationChecks.WithLabelValues(string(cmsg.Outbound.Network), "timeout").Inc()
		failure := newFailure(StageConfirmation, cmsg.Outbound.Network, apperrors.ErrConfirmationTimeout)
		failure.Checks = cmsg.Checks + 1
		p.fail(ctx, hooks, &cmsg.Outbound, nil, failure, log)
		return
	}
	p.keepAlive(ctx, hooks, cmsg, log)
	next := *cmsg
	next.Checks++
	if err := p.publishConfirmation(context.WithoutCancel(ctx), &next); err != nil {
		log.Error("Failed to re-schedule confirmation check", "error", err)
	}
}

func (p *Pipeline) keepAlive(ctx context.Context, hooks Hooks, cmsg *entities.ConfirmationMessage, log *logger.Logger) {
	if err := hooks.KeepAlive(ctx, cmsg); err != nil {
		log.Warn("Keep-alive failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
