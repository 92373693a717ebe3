package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const defaultMemoryQueueSize = 1024

var (
	_ Publisher  = (*MemoryBroker)(nil)
	_ Subscriber = (*MemoryBroker)(nil)
)

// MemoryBroker is an in-process broker for tests and local runs. Queues are bounded channels;
// requeued messages go back to the tail of their queue.
type MemoryBroker struct {
	mu        sync.Mutex
	size      int
	queues    map[string]chan *memoryDelivery
	published map[string][][]byte
	closed    bool

	acked    atomic.Int64
	rejected atomic.Int64
	requeued atomic.Int64
}

// NewMemoryBroker creates a broker whose queues hold up to size messages (default 1024)
func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryBroker{
		size:      size,
		queues:    make(map[string]chan *memoryDelivery),
		published: make(map[string][][]byte),
	}
}

// Publish enqueues body on queue. A full queue counts as an unavailable broker.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	q := b.queueLocked(queue)
	msg := append([]byte(nil), body...)
	b.mu.Unlock()

	d := &memoryDelivery{broker: b, queue: queue, body: msg}
	select {
	case q <- d:
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("publish to %s: queue full: %w", queue, ErrUnavailable)
	}

	b.mu.Lock()
	b.published[queue] = append(b.published[queue], msg)
	b.mu.Unlock()
	return nil
}

// Subscribe streams deliveries from queue until ctx is cancelled
func (b *MemoryBroker) Subscribe(ctx context.Context, queue string) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	q := b.queueLocked(queue)
	b.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-q:
				select {
				case out <- d:
				case <-ctx.Done():
					// not handed out yet, keep it for the next subscriber
					q <- d
					return
				}
			}
		}
	}()
	return out, nil
}

// Published returns every body published to queue, in order
func (b *MemoryBroker) Published(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[queue]...)
}

// Pending reports how many messages wait on queue
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queueLocked(queue))
}

// Acked, Rejected and Requeued count settled deliveries across all queues
func (b *MemoryBroker) Acked() int64    { return b.acked.Load() }
func (b *MemoryBroker) Rejected() int64 { return b.rejected.Load() }
func (b *MemoryBroker) Requeued() int64 { return b.requeued.Load() }

// Close stops accepting publishes and subscriptions
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBroker) queueLocked(name string) chan *memoryDelivery {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan *memoryDelivery, b.size)
		b.queues[name] = q
	}
	return q
}

type memoryDelivery struct {
	broker  *MemoryBroker
	queue   string
	body    []byte
	settled atomic.Bool
}

func (d *memoryDelivery) Body() []byte { return d.body }

func (d *memoryDelivery) Ack(context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return fmt.Errorf("delivery on %s already settled", d.queue)
	}
	d.broker.acked.Add(1)
	return nil
}

func (d *memoryDelivery) Reject(context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return fmt.Errorf("delivery on %s already settled", d.queue)
	}
	d.broker.rejected.Add(1)
	return nil
}

func (d *memoryDelivery) Requeue(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return fmt.Errorf("delivery on %s already settled", d.queue)
	}
	d.broker.mu.Lock()
	q := d.broker.queueLocked(d.queue)
	d.broker.mu.Unlock()

	redelivery := &memoryDelivery{broker: d.broker, queue: d.queue, body: d.body}
	select {
	case q <- redelivery:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.broker.requeued.Add(1)
	return nil
}
