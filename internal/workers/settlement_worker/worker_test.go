package settlement_worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

type recordingHandlers struct {
	mu            sync.Mutex
	outbound      []string
	confirmations []string
}

func (h *recordingHandlers) OutboundHandler() queue.Handler {
	return func(_ context.Context, body []byte) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.outbound = append(h.outbound, string(body))
		return nil
	}
}

func (h *recordingHandlers) ConfirmationHandler() queue.Handler {
	return func(_ context.Context, body []byte) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.confirmations = append(h.confirmations, string(body))
		return errors.New("not yet confirmed")
	}
}

func (h *recordingHandlers) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.outbound), len(h.confirmations)
}

func TestWorker_RoutesQueuesPerNetwork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := queue.NewMemoryBroker(1, zap.NewNop())
	handlers := &recordingHandlers{}
	networks := []entities.Network{entities.NetworkEthereum, entities.NetworkTron}

	w, err := NewWorker(broker, handlers, networks, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	require.NoError(t, broker.Publish(ctx, queue.OutboundQueue(entities.NetworkEthereum), []byte(`"eth-out"`), queue.PublishOptions{}))
	require.NoError(t, broker.Publish(ctx, queue.OutboundQueue(entities.NetworkTron), []byte(`"tron-out"`), queue.PublishOptions{}))
	require.NoError(t, broker.Publish(ctx, queue.ConfirmationQueue(entities.NetworkTron), []byte(`"tron-conf"`), queue.PublishOptions{}))
	require.NoError(t, broker.Publish(ctx, queue.OutboundQueue(entities.NetworkRipple), []byte(`"xrp-out"`), queue.PublishOptions{}))

	assert.Eventually(t, func() bool {
		out, conf := handlers.counts()
		return out == 2 && conf == 1
	}, 2*time.Second, 10*time.Millisecond)

	handlers.mu.Lock()
	assert.ElementsMatch(t, []string{`"eth-out"`, `"tron-out"`}, handlers.outbound)
	handlers.mu.Unlock()
	assert.Equal(t, 1, broker.Len(queue.OutboundQueue(entities.NetworkRipple)))

	cancel()
	require.NoError(t, w.Stop())
}
