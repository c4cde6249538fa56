package deposit_consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/stream"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// Subscriber delivers decoded deposit batches until ctx is cancelled
type Subscriber interface {
	Run(ctx context.Context, handle stream.DepositHandler) error
	Close() error
}

// DepositProcessor records and credits one deposit batch
type DepositProcessor interface {
	ProcessDepositMessage(ctx context.Context, msg entities.DepositMessage) error
}

// Worker feeds the deposit stream into the crediting processor
type Worker struct {
	subscriber Subscriber
	processor  DepositProcessor
	logger     *logger.Logger

	batches  metric.Int64Counter
	duration metric.Float64Histogram

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a deposit consumer
func NewWorker(subscriber Subscriber, processor DepositProcessor, logger *logger.Logger) (*Worker, error) {
	meter := otel.Meter("deposit-consumer")

	batches, err := meter.Int64Counter(
		"deposit.batches.total",
		metric.WithDescription("Total number of deposit batches processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batches counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"deposit.batch.duration.seconds",
		metric.WithDescription("Deposit batch processing duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Worker{
		subscriber: subscriber,
		processor:  processor,
		logger:     logger,
		batches:    batches,
		duration:   duration,
	}, nil
}

// Start consumes in the background until Stop or ctx cancellation
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.logger.Info("Deposit consumer started")
		if err := w.subscriber.Run(ctx, w.handle); err != nil {
			w.logger.Error("Deposit consumer stopped with error", "error", err)
			return
		}
		w.logger.Info("Deposit consumer stopped")
	}()
}

// Stop cancels consumption, waits for the current batch and closes the reader
func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.subscriber.Close()
}

func (w *Worker) handle(ctx context.Context, msg entities.DepositMessage) error {
	start := time.Now()
	err := w.processor.ProcessDepositMessage(ctx, msg)

	attrs := metric.WithAttributes(
		attribute.String("network", string(msg.Network)),
		attribute.Bool("success", err == nil),
	)
	w.batches.Add(ctx, 1, attrs)
	w.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	return err
}
