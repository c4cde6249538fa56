package settlement_worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// Handlers supplies the queue handlers of the outbound pipeline
type Handlers interface {
	OutboundHandler() queue.Handler
	ConfirmationHandler() queue.Handler
}

// Worker consumes the outbound and confirmation queues of every enabled
// network
type Worker struct {
	broker   queue.Broker
	handlers Handlers
	networks []entities.Network
	logger   *logger.Logger

	handledCounter    metric.Int64Counter
	failedCounter     metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// NewWorker creates a settlement worker
func NewWorker(broker queue.Broker, handlers Handlers, networks []entities.Network, logger *logger.Logger) (*Worker, error) {
	meter := otel.Meter("settlement-worker")

	handledCounter, err := meter.Int64Counter(
		"settlement.messages.handled.total",
		metric.WithDescription("Total number of queue messages handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handled counter: %w", err)
	}

	failedCounter, err := meter.Int64Counter(
		"settlement.messages.failed.total",
		metric.WithDescription("Total number of queue messages whose handler failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}

	durationHistogram, err := meter.Float64Histogram(
		"settlement.message.duration.seconds",
		metric.WithDescription("Queue message handling duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Worker{
		broker:            broker,
		handlers:          handlers,
		networks:          networks,
		logger:            logger,
		handledCounter:    handledCounter,
		failedCounter:     failedCounter,
		durationHistogram: durationHistogram,
	}, nil
}

// Start subscribes to every queue. Consumption runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	for _, network := range w.networks {
		outbound := queue.OutboundQueue(network)
		if err := w.broker.Consume(ctx, outbound, w.instrument(outbound, w.handlers.OutboundHandler())); err != nil {
			return fmt.Errorf("failed to consume %s: %w", outbound, err)
		}
		confirmations := queue.ConfirmationQueue(network)
		if err := w.broker.Consume(ctx, confirmations, w.instrument(confirmations, w.handlers.ConfirmationHandler())); err != nil {
			return fmt.Errorf("failed to consume %s: %w", confirmations, err)
		}
	}
	w.logger.Info("Settlement worker started", "networks", w.networks)
	return nil
}

// Stop waits for in-flight messages to finish
func (w *Worker) Stop() error {
	err := w.broker.Close()
	w.logger.Info("Settlement worker stopped")
	return err
}

func (w *Worker) instrument(name string, next queue.Handler) queue.Handler {
	attrs := metric.WithAttributes(attribute.String("queue", name))
	return func(ctx context.Context, body []byte) error {
		start := time.Now()
		err := next(ctx, body)
		w.durationHistogram.Record(ctx, time.Since(start).Seconds(), attrs)
		w.handledCounter.Add(ctx, 1, attrs)
		if err != nil {
			w.failedCounter.Add(ctx, 1, attrs)
		}
		return err
	}
}
