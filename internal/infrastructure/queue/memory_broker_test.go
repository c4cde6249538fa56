package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

func TestMemoryBroker_PriorityOrder(t *testing.T) {
	b := NewMemoryBroker(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, "q", []byte(`"low"`), PublishOptions{Priority: 1}))
	require.NoError(t, b.Publish(ctx, "q", []byte(`"high"`), PublishOptions{Priority: 8}))
	require.NoError(t, b.Publish(ctx, "q", []byte(`"mid"`), PublishOptions{Priority: 5}))
	require.NoError(t, b.Publish(ctx, "q", []byte(`"mid2"`), PublishOptions{Priority: 5}))

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	require.NoError(t, b.Consume(ctx, "q", func(_ context.Context, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(body))
		if len(got) == 4 {
			close(done)
		}
		return nil
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}
	assert.Equal(t, []string{`"high"`, `"mid"`, `"mid2"`, `"low"`}, got)

	cancel()
	require.NoError(t, b.Close())
}

func TestMemoryBroker_DelayedDelivery(t *testing.T) {
	b := NewMemoryBroker(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, "q", []byte(`{}`), PublishOptions{Delay: 50 * time.Millisecond}))
	assert.Equal(t, 0, b.Len("q"))

	assert.Eventually(t, func() bool { return b.Len("q") == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, b.Close())
}

func TestMemoryBroker_HandlerPanicDoesNotStopWorker(t *testing.T) {
	b := NewMemoryBroker(1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := make(chan string, 2)
	require.NoError(t, b.Consume(ctx, "q", func(_ context.Context, body []byte) error {
		delivered <- string(body)
		if string(body) == `"boom"` {
			panic("boom")
		}
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "q", []byte(`"boom"`), PublishOptions{}))
	require.NoError(t, b.Publish(ctx, "q", []byte(`"ok"`), PublishOptions{}))

	for _, want := range []string{`"boom"`, `"ok"`} {
		select {
		case got := <-delivered:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %s", want)
		}
	}

	cancel()
	require.NoError(t, b.Close())
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "outbound.ethereum", OutboundQueue(entities.NetworkEthereum))
	assert.Equal(t, "confirmations.tron", ConfirmationQueue(entities.NetworkTron))
}

func TestPublishOptionsNormalized(t *testing.T) {
	o := PublishOptions{Priority: 42, Delay: -time.Second}.normalized()
	assert.Equal(t, MaxPriority, o.Priority)
	assert.Equal(t, time.Duration(0), o.Delay)
}
