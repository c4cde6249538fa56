package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisBroker(t *testing.T, mr *miniredis.Miniredis, consumer string) *RedisBroker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBroker(client, RedisBrokerConfig{
		Prefix:       "test",
		PollInterval: 10 * time.Millisecond,
		ConsumerID:   consumer,
		ConsumerTTL:  time.Minute,
	}, zap.NewNop())
}

func listLen(t *testing.T, mr *miniredis.Miniredis, key string) int {
	t.Helper()
	if !mr.Exists(key) {
		return 0
	}
	items, err := mr.List(key)
	require.NoError(t, err)
	return len(items)
}

func TestRedisBroker_OnlyDeadConsumersAreRecovered(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	alive := newTestRedisBroker(t, mr, "alive")
	dead := newTestRedisBroker(t, mr, "dead")
	peer := newTestRedisBroker(t, mr, "peer")

	require.NoError(t, alive.Publish(ctx, "q", []byte(`"one"`), PublishOptions{Priority: 3}))
	require.NoError(t, alive.Publish(ctx, "q", []byte(`"two"`), PublishOptions{Priority: 3}))

	for _, b := range []*RedisBroker{alive, dead} {
		require.NoError(t, b.beat(ctx))
		require.NoError(t, b.client.SAdd(ctx, b.consumersKey("q"), b.cfg.ConsumerID).Err())
		_, ok, err := b.next(ctx, "q")
		require.NoError(t, err)
		require.True(t, ok)
	}
	mr.Del(dead.heartbeatKey("dead"))

	peer.recoverDeadConsumers(ctx, "q")

	assert.Equal(t, 1, listLen(t, mr, alive.processingKey("q", "alive")), "a live consumer keeps its in-flight message")
	assert.Equal(t, 0, listLen(t, mr, dead.processingKey("q", "dead")))
	assert.Equal(t, 1, listLen(t, mr, peer.listKey("q", 3)))

	members, err := mr.SMembers(peer.consumersKey("q"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, members)
}

func TestRedisBroker_RequeueKeepsPriority(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	b := newTestRedisBroker(t, mr, "c1")

	raw, err := json.Marshal(envelope{ID: "m1", Priority: 7, Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	processing := b.processingKey("q", "c1")
	_, err = mr.Lpush(processing, string(raw))
	require.NoError(t, err)
	_, err = mr.Lpush(processing, "not json")
	require.NoError(t, err)

	n, err := b.requeueInFlight(ctx, "q", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, listLen(t, mr, b.listKey("q", 7)))
	assert.Equal(t, 1, listLen(t, mr, b.listKey("q", MinPriority)))
	assert.Equal(t, 0, listLen(t, mr, processing))
}

func TestRedisBroker_RestartReclaimsOwnInFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	first := newTestRedisBroker(t, mr, "worker-1")
	bg := context.Background()

	require.NoError(t, first.Publish(bg, "q", []byte(`"left behind"`), PublishOptions{}))
	_, ok, err := first.next(bg, "q")
	require.NoError(t, err)
	require.True(t, ok)

	restarted := newTestRedisBroker(t, mr, "worker-1")
	ctx, cancel := context.WithCancel(bg)
	got := make(chan string, 1)
	require.NoError(t, restarted.Consume(ctx, "q", func(_ context.Context, body []byte) error {
		got <- string(body)
		return nil
	}))

	select {
	case body := <-got:
		assert.Equal(t, `"left behind"`, body)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight message was not redelivered")
	}
	cancel()
	require.NoError(t, restarted.Close())
	assert.Equal(t, 0, listLen(t, mr, restarted.processingKey("q", "worker-1")))
}
