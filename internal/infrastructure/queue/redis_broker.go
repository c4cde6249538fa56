package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// promoteScript moves due members of the delayed set onto their priority
// list. Members are "<priority>:<envelope>".
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
	local p = string.match(m, '^(%d+):')
	if p and redis.call('ZREM', KEYS[1], m) == 1 then
		redis.call('LPUSH', KEYS[2] .. p, string.sub(m, string.len(p) + 2))
	end
end
return #due
`)

// requeueScript moves every message of a processing list back to the front
// of its priority list in one step, so a crash halfway loses nothing.
var requeueScript = redis.NewScript(`
local n = 0
while true do
	local m = redis.call('RPOP', KEYS[1])
	if not m then
		return n
	end
	local ok, env = pcall(cjson.decode, m)
	local p = ARGV[1]
	if ok and type(env) == 'table' and tonumber(env.priority) then
		p = tostring(tonumber(env.priority))
	end
	redis.call('RPUSH', KEYS[2] .. p, m)
	n = n + 1
end
`)

type envelope struct {
	ID       string          `json:"id"`
	Priority int             `json:"priority"`
	Body     json.RawMessage `json:"body"`
}

// RedisBrokerConfig tunes the Redis broker
type RedisBrokerConfig struct {
	Prefix       string
	Concurrency  int
	PollInterval time.Duration
	// ConsumerID names the processing lists of this process. A stable id
	// lets a restarted process reclaim its own in-flight messages at once.
	ConsumerID string
	// ConsumerTTL is how long a consumer may miss heartbeats before its
	// in-flight messages are handed back to the queue.
	ConsumerTTL time.Duration
}

// RedisBroker implements Broker on Redis lists. Each queue has one list per
// priority, a sorted set for delayed messages scored by delivery time, and
// one processing list per consumer holding its in-flight messages until they
// are acknowledged. A consumer whose heartbeat expired has its processing
// list re-queued by whichever live consumer notices first.
type RedisBroker struct {
	client    *redis.Client
	cfg       RedisBrokerConfig
	logger    *zap.Logger
	wg        sync.WaitGroup
	heartbeat sync.Once
}

// NewRedisBroker creates a Redis-backed broker
func NewRedisBroker(client *redis.Client, cfg RedisBrokerConfig, logger *zap.Logger) *RedisBroker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "settlement"
	}
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = uuid.NewString()
	}
	if cfg.ConsumerTTL <= 0 {
		cfg.ConsumerTTL = 30 * time.Second
	}
	return &RedisBroker{client: client, cfg: cfg, logger: logger.With(zap.String("consumer_id", cfg.ConsumerID))}
}

func (b *RedisBroker) listPrefix(queue string) string {
	return fmt.Sprintf("%s:q:%s:p", b.cfg.Prefix, queue)
}

func (b *RedisBroker) listKey(queue string, priority int) string {
	return b.listPrefix(queue) + strconv.Itoa(priority)
}

func (b *RedisBroker) delayedKey(queue string) string {
	return fmt.Sprintf("%s:q:%s:delayed", b.cfg.Prefix, queue)
}

func (b *RedisBroker) processingKey(queue, consumer string) string {
	return fmt.Sprintf("%s:q:%s:processing:%s", b.cfg.Prefix, queue, consumer)
}

func (b *RedisBroker) consumersKey(queue string) string {
	return fmt.Sprintf("%s:q:%s:consumers", b.cfg.Prefix, queue)
}

func (b *RedisBroker) heartbeatKey(consumer string) string {
	return fmt.Sprintf("%s:consumer:%s", b.cfg.Prefix, consumer)
}

// Publish enqueues body, or schedules it when opts.Delay is set. Body must
// be a JSON document.
func (b *RedisBroker) Publish(ctx context.Context, queue string, body []byte, opts PublishOptions) error {
	opts = opts.normalized()
	raw, err := json.Marshal(envelope{ID: uuid.NewString(), Priority: opts.Priority, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if opts.Delay > 0 {
		deliverAt := time.Now().Add(opts.Delay).UnixMilli()
		member := fmt.Sprintf("%d:%s", opts.Priority, raw)
		if err := b.client.ZAdd(ctx, b.delayedKey(queue), &redis.Z{Score: float64(deliverAt), Member: member}).Err(); err != nil {
			return fmt.Errorf("failed to schedule message on %s: %w", queue, err)
		}
		return nil
	}

	if err := b.client.LPush(ctx, b.listKey(queue, opts.Priority), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish message on %s: %w", queue, err)
	}
	return nil
}

// Consume runs Concurrency workers that deliver messages of queue to handler
// until ctx is cancelled. Messages left in flight by a previous run of this
// consumer, or by consumers that stopped heartbeating, are re-queued first.
func (b *RedisBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	if err := b.beat(ctx); err != nil {
		return err
	}
	if err := b.client.SAdd(ctx, b.consumersKey(queue), b.cfg.ConsumerID).Err(); err != nil {
		return fmt.Errorf("failed to register consumer of %s: %w", queue, err)
	}
	if _, err := b.requeueInFlight(ctx, queue, b.cfg.ConsumerID); err != nil {
		return err
	}
	b.recoverDeadConsumers(ctx, queue)

	b.heartbeat.Do(func() {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.heartbeatLoop(ctx)
		}()
	})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.promoteLoop(ctx, queue)
	}()

	for i := 0; i < b.cfg.Concurrency; i++ {
		b.wg.Add(1)
		go func(worker int) {
			defer b.wg.Done()
			b.workLoop(ctx, queue, worker, handler)
		}(i)
	}

	b.logger.Info("Consuming queue", zap.String("queue", queue), zap.Int("concurrency", b.cfg.Concurrency))
	return nil
}

// Close waits for running workers to finish
func (b *RedisBroker) Close() error {
	b.wg.Wait()
	return nil
}

func (b *RedisBroker) beat(ctx context.Context) error {
	if err := b.client.Set(ctx, b.heartbeatKey(b.cfg.ConsumerID), time.Now().UnixMilli(), b.cfg.ConsumerTTL).Err(); err != nil {
		return fmt.Errorf("failed to write consumer heartbeat: %w", err)
	}
	return nil
}

func (b *RedisBroker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.ConsumerTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.beat(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Warn("Consumer heartbeat failed", zap.Error(err))
			}
		}
	}
}

// recoverDeadConsumers re-queues the in-flight messages of every registered
// consumer of queue whose heartbeat has expired. Live consumers keep theirs.
func (b *RedisBroker) recoverDeadConsumers(ctx context.Context, queue string) {
	consumers, err := b.client.SMembers(ctx, b.consumersKey(queue)).Result()
	if err != nil {
		b.logger.Warn("Failed to list consumers", zap.String("queue", queue), zap.Error(err))
		return
	}
	for _, consumer := range consumers {
		if consumer == b.cfg.ConsumerID {
			continue
		}
		alive, err := b.client.Exists(ctx, b.heartbeatKey(consumer)).Result()
		if err != nil {
			b.logger.Warn("Failed to read consumer heartbeat", zap.String("consumer", consumer), zap.Error(err))
			continue
		}
		if alive > 0 {
			continue
		}
		n, err := b.requeueInFlight(ctx, queue, consumer)
		if err != nil {
			b.logger.Warn("Failed to recover dead consumer", zap.String("queue", queue), zap.String("consumer", consumer), zap.Error(err))
			continue
		}
		if err := b.client.SRem(ctx, b.consumersKey(queue), consumer).Err(); err != nil {
			b.logger.Warn("Failed to deregister dead consumer", zap.String("consumer", consumer), zap.Error(err))
		}
		b.logger.Warn("Recovered in-flight messages of dead consumer",
			zap.String("queue", queue), zap.String("consumer", consumer), zap.Int("messages", n))
	}
}

func (b *RedisBroker) requeueInFlight(ctx context.Context, queue, consumer string) (int, error) {
	keys := []string{b.processingKey(queue, consumer), b.listPrefix(queue)}
	n, err := requeueScript.Run(ctx, b.client, keys, MinPriority).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight messages of %s: %w", queue, err)
	}
	if n > 0 {
		b.logger.Info("Re-queued in-flight messages",
			zap.String("queue", queue), zap.String("consumer", consumer), zap.Int("messages", n))
	}
	return n, nil
}

func (b *RedisBroker) promoteLoop(ctx context.Context, queue string) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	recovery := time.NewTicker(b.cfg.ConsumerTTL)
	defer recovery.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-recovery.C:
			b.recoverDeadConsumers(ctx, queue)
		case <-ticker.C:
			now := strconv.FormatInt(time.Now().UnixMilli(), 10)
			keys := []string{b.delayedKey(queue), b.listPrefix(queue)}
			if err := promoteScript.Run(ctx, b.client, keys, now, 100).Err(); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Warn("Failed to promote delayed messages", zap.String("queue", queue), zap.Error(err))
			}
		}
	}
}

func (b *RedisBroker) workLoop(ctx context.Context, queue string, worker int, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		raw, ok, err := b.next(ctx, queue)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				b.logger.Error("Failed to fetch message", zap.String("queue", queue), zap.Error(err))
			}
			sleep(ctx, b.cfg.PollInterval)
			continue
		}
		if !ok {
			sleep(ctx, b.cfg.PollInterval)
			continue
		}

		b.deliver(ctx, queue, worker, raw, handler)
	}
}

// next pops the oldest message of the highest non-empty priority
func (b *RedisBroker) next(ctx context.Context, queue string) ([]byte, bool, error) {
	for p := MaxPriority; p >= MinPriority; p-- {
		raw, err := b.client.RPopLPush(ctx, b.listKey(queue, p), b.processingKey(queue, b.cfg.ConsumerID)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return raw, true, nil
	}
	return nil, false, nil
}

func (b *RedisBroker) deliver(ctx context.Context, queue string, worker int, raw []byte, handler Handler) {
	defer func() {
		// The ack must survive shutdown of the consume context.
		ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.client.LRem(ackCtx, b.processingKey(queue, b.cfg.ConsumerID), 1, raw).Err(); err != nil {
			b.logger.Error("Failed to acknowledge message", zap.String("queue", queue), zap.Error(err))
		}
	}()

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Error("Dropping undecodable message", zap.String("queue", queue), zap.Error(err))
		return
	}

	if err := safeHandle(ctx, handler, env.Body); err != nil {
		b.logger.Error("Message handler failed",
			zap.String("queue", queue),
			zap.Int("worker", worker),
			zap.String("message_id", env.ID),
			zap.Error(err))
	}
}

func safeHandle(ctx context.Context, handler Handler, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, body)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
