package stream

import (
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/config"
)

// NewDepositWriter builds the writer for the deposit topic. Messages are keyed
// by network so deposits of one network keep their order.
func NewDepositWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DepositTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		MaxAttempts:  10,
	}
}

// NewDepositReader builds a consumer-group reader for the deposit topic
func NewDepositReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.DepositTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 10,
		MaxBytes: 10e6,
		MaxWait:  100 * time.Millisecond,
	})
}
