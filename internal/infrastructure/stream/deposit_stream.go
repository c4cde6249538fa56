package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
)

// MessageWriter is the subset of kafka.Writer used for publishing
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of kafka.Reader used for consuming
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DepositPublisher hands observed deposits to the crediting consumer
type DepositPublisher struct {
	writer MessageWriter
}

// NewDepositPublisher creates a deposit publisher
func NewDepositPublisher(writer MessageWriter) *DepositPublisher {
	return &DepositPublisher{writer: writer}
}

// PublishDepositMessage writes one batch of deposits of a network
func (p *DepositPublisher) PublishDepositMessage(ctx context.Context, msg entities.DepositMessage) error {
	if len(msg.Deposits) == 0 {
		return nil
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal deposit message: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Network),
		Value: value,
	}); err != nil {
		return fmt.Errorf("failed to write deposit message to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *DepositPublisher) Close() error {
	return p.writer.Close()
}

// DepositHandler processes one decoded deposit batch
type DepositHandler func(ctx context.Context, msg entities.DepositMessage) error

// DepositSubscriber reads deposit batches in offset order. A failing batch is
// retried with backoff before its offset is committed, since committing a
// later offset would skip it anyway. Handling is idempotent per deposit.
type DepositSubscriber struct {
	reader  MessageReader
	retrier *retry.Retrier
	logger  *logger.Logger
}

// NewDepositSubscriber creates a deposit subscriber
func NewDepositSubscriber(reader MessageReader, policy retry.Policy, log *logger.Logger) *DepositSubscriber {
	policy.RetryableFunc = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	return &DepositSubscriber{
		reader:  reader,
		retrier: retry.NewRetrier(policy, log.Zap()),
		logger:  log,
	}
}

// Run blocks until ctx is cancelled or the reader fails
func (s *DepositSubscriber) Run(ctx context.Context, handle DepositHandler) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to fetch deposit message: %w", err)
		}

		var msg entities.DepositMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			s.logger.Error("Dropping undecodable deposit message",
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err)
			if err := s.reader.CommitMessages(ctx, m); err != nil {
				return fmt.Errorf("failed to commit deposit message: %w", err)
			}
			continue
		}

		err = s.retrier.Do(ctx, func(ctx context.Context) error {
			return handle(ctx, msg)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Error("Deposit message handler failed, skipping batch",
				"network", msg.Network,
				"partition", m.Partition,
				"offset", m.Offset,
				"deposits", len(msg.Deposits),
				"error", err)
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("failed to commit deposit message: %w", err)
		}
	}
}

// Close closes the reader
func (s *DepositSubscriber) Close() error {
	return s.reader.Close()
}
