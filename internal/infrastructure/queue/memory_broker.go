package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryBroker is an in-process Broker for local runs and tests. Messages are
// lost on restart.
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string]*memoryQueue
	timers      map[*time.Timer]struct{}
	concurrency int
	logger      *zap.Logger
	wg          sync.WaitGroup
	closed      bool
}

// NewMemoryBroker creates an in-memory broker
func NewMemoryBroker(concurrency int, logger *zap.Logger) *MemoryBroker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MemoryBroker{
		queues:      make(map[string]*memoryQueue),
		timers:      make(map[*time.Timer]struct{}),
		concurrency: concurrency,
		logger:      logger,
	}
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = newMemoryQueue()
		b.queues[name] = q
	}
	return q
}

// Publish enqueues a copy of body
func (b *MemoryBroker) Publish(_ context.Context, queue string, body []byte, opts PublishOptions) error {
	opts = opts.normalized()
	msg := append([]byte(nil), body...)
	q := b.queue(queue)

	if opts.Delay == 0 {
		q.push(msg, opts.Priority)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	var t *time.Timer
	t = time.AfterFunc(opts.Delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		q.push(msg, opts.Priority)
	})
	b.timers[t] = struct{}{}
	return nil
}

// Consume starts workers delivering messages of queue until ctx is done
func (b *MemoryBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	q := b.queue(queue)
	for i := 0; i < b.concurrency; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				body, ok := q.pop(ctx)
				if !ok {
					return
				}
				if err := safeHandle(ctx, handler, body); err != nil {
					b.logger.Error("Message handler failed", zap.String("queue", queue), zap.Error(err))
				}
			}
		}()
	}
	return nil
}

// Len reports queued messages, excluding delayed ones
func (b *MemoryBroker) Len(queue string) int {
	return b.queue(queue).len()
}

// Close stops pending delayed deliveries and waits for workers
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = make(map[*time.Timer]struct{})
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

type memoryItem struct {
	body     []byte
	priority int
	seq      uint64
}

type itemHeap []*memoryItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*memoryItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type memoryQueue struct {
	mu     sync.Mutex
	items  itemHeap
	seq    uint64
	notify chan struct{}
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{notify: make(chan struct{}, 1)}
}

func (q *memoryQueue) push(body []byte, priority int) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &memoryItem{body: body, priority: priority, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*memoryItem)
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return item.body, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *memoryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
