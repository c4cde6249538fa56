package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

const (
	// MinPriority and MaxPriority bound PublishOptions.Priority. Higher runs first.
	MinPriority = 0
	MaxPriority = 9
)

// PublishOptions controls delivery of a single message
type PublishOptions struct {
	Priority int
	Delay    time.Duration
}

func (o PublishOptions) normalized() PublishOptions {
	if o.Priority < MinPriority {
		o.Priority = MinPriority
	}
	if o.Priority > MaxPriority {
		o.Priority = MaxPriority
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Handler processes one delivered message. A returned error is logged by the
// broker and the message is acknowledged anyway; handlers that want a retry
// re-publish explicitly.
type Handler func(ctx context.Context, body []byte) error

// Broker is an at-least-once, priority-aware message queue with delayed
// delivery.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte, opts PublishOptions) error
	Consume(ctx context.Context, queue string, handler Handler) error
	Close() error
}

// OutboundQueue names the queue carrying outbound transactions of a network
func OutboundQueue(network entities.Network) string {
	return fmt.Sprintf("outbound.%s", network)
}

// ConfirmationQueue names the queue carrying confirmation checks of a network
func ConfirmationQueue(network entities.Network) string {
	return fmt.Sprintf("confirmations.%s", network)
}
