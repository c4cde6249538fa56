package settlement_janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/metrics"
)

// StaleReleaser frees sweep ledger rows whose owning cycle never finished
type StaleReleaser interface {
	ReleaseStale(ctx context.Context, lease time.Duration, limit int) (int, error)
}

// WithdrawalRepository interface for deferred withdrawals
type WithdrawalRepository interface {
	ListStuck(ctx context.Context, status entities.WithdrawalStatus, olderThanSeconds int, limit int) ([]*entities.Withdrawal, error)
}

// Worker releases abandoned sweep ledger rows and offers withdrawals deferred
// for lack of treasury funds to the pipeline again
type Worker struct {
	ledger      StaleReleaser
	withdrawals WithdrawalRepository
	publisher   chainhooks.Publisher
	signers     chainhooks.Signers
	networks    []entities.Network
	config      *Config
	cron        *cron.Cron
	logger      *logger.Logger
}

// Config holds worker configuration
type Config struct {
	Schedule           string
	Lease              time.Duration
	BatchSize          int
	RequeueAfter       time.Duration
	WithdrawalPriority int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		Schedule:           "@every 10m",
		Lease:              time.Hour,
		BatchSize:          500,
		RequeueAfter:       5 * time.Minute,
		WithdrawalPriority: 8,
	}
}

// NewWorker creates a new janitor
func NewWorker(
	ledger StaleReleaser,
	withdrawals WithdrawalRepository,
	publisher chainhooks.Publisher,
	signers chainhooks.Signers,
	networks []entities.Network,
	config *Config,
	logger *logger.Logger,
) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Worker{
		ledger:      ledger,
		withdrawals: withdrawals,
		publisher:   publisher,
		signers:     signers,
		networks:    networks,
		config:      config,
		cron:        cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:      logger,
	}
}

// Start schedules the janitor runs
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		w.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", w.config.Schedule, err)
	}

	w.cron.Start()
	w.logger.Info("Settlement janitor started",
		"schedule", w.config.Schedule,
		"lease", w.config.Lease.String(),
		"requeue_after", w.config.RequeueAfter.String())
	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Settlement janitor stopped")
}

// RunOnce runs both janitor tasks once (for testing or manual trigger)
func (w *Worker) RunOnce(ctx context.Context) {
	w.releaseStale(ctx)
	w.requeueDeferred(ctx)
}

func (w *Worker) releaseStale(ctx context.Context) {
	released, err := w.ledger.ReleaseStale(ctx, w.config.Lease, w.config.BatchSize)
	if err != nil {
		w.logger.Error("Failed to release stale wallet balances", "error", err)
		return
	}
	if released > 0 {
		metrics.JanitorReleased.Add(float64(released))
		w.logger.Info("Released stale wallet balances", "count", released)
	}
}

func (w *Worker) requeueDeferred(ctx context.Context) {
	if w.withdrawals == nil {
		return
	}
	deferred, err := w.withdrawals.ListStuck(ctx, entities.WithdrawalStatusReprocessing,
		int(w.config.RequeueAfter.Seconds()), w.config.BatchSize)
	if err != nil {
		w.logger.Error("Failed to list deferred withdrawals", "error", err)
		return
	}
	if len(deferred) == 0 {
		w.logger.Debug("No deferred withdrawals found")
		return
	}

	requeued := 0
	for _, withdrawal := range deferred {
		if !w.enabled(withdrawal.Network) {
			continue
		}
		treasury, err := w.signers.TreasurySigner(withdrawal.Network)
		if err != nil {
			w.logger.Error("No treasury signer for deferred withdrawal",
				"withdrawal_id", withdrawal.ID,
				"network", withdrawal.Network,
				"error", err)
			continue
		}

		msg := chainhooks.NewWithdrawalMessage(withdrawal, treasury)
		if err := w.publisher.PublishOutboundTransaction(ctx, msg, queue.PublishOptions{Priority: w.config.WithdrawalPriority}); err != nil {
			w.logger.Error("Failed to requeue withdrawal",
				"withdrawal_id", withdrawal.ID,
				"error", err)
			continue
		}
		requeued++
	}

	w.logger.Info("Deferred withdrawals requeued",
		"found", len(deferred),
		"requeued", requeued)
}

func (w *Worker) enabled(network entities.Network) bool {
	for _, n := range w.networks {
		if n == network {
			return true
		}
	}
	return false
}
