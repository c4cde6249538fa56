package pooling_scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pooling"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// Orchestrator runs one pooling cycle of a network
type Orchestrator interface {
	RunCycle(ctx context.Context, network entities.Network) (*pooling.CycleResult, error)
	Networks() []entities.Network
}

// Worker schedules pooling cycles. A network's cycle is skipped while its
// previous one is still running.
type Worker struct {
	orchestrator Orchestrator
	schedule     string
	timeout      time.Duration
	cron         *cron.Cron
	logger       *logger.Logger
}

func NewWorker(orchestrator Orchestrator, schedule string, timeout time.Duration, logger *logger.Logger) *Worker {
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	return &Worker{
		orchestrator: orchestrator,
		schedule:     schedule,
		timeout:      timeout,
		cron:         cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		logger:       logger,
	}
}

func (w *Worker) Start() error {
	for _, network := range w.orchestrator.Networks() {
		job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(w.cycleFunc(network)))
		if _, err := w.cron.AddJob(w.schedule, job); err != nil {
			return fmt.Errorf("invalid pooling schedule %q: %w", w.schedule, err)
		}
	}

	w.cron.Start()
	w.logger.Info("Pooling scheduler started", "schedule", w.schedule, "networks", w.orchestrator.Networks())
	return nil
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Pooling scheduler stopped")
}

// RunOnce runs one cycle of every network (for testing or manual trigger)
func (w *Worker) RunOnce() {
	for _, network := range w.orchestrator.Networks() {
		w.cycleFunc(network)()
	}
}

func (w *Worker) cycleFunc(network entities.Network) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		if _, err := w.orchestrator.RunCycle(ctx, network); err != nil {
			w.logger.Error("Pooling cycle failed", "network", network, "error", err)
		}
	}
}
