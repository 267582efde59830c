package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the queue length of each subscription. A subscriber
// that falls further behind loses events, which are counted as dropped.
const DefaultBufferSize = 64

// Broker delivers events of one payload type to every current subscriber.
// Publish never blocks because the session store publishes while holding a
// session lock.
type Broker[T any] struct { //nolint:govet // fieldalignment: preserving logical field order
	name string
	size int

	mu     sync.RWMutex
	subs   map[uint64]chan Event[T]
	nextID uint64
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
	peak      atomic.Int32
}

// NewBroker creates a broker whose subscriptions buffer size events. A
// non-positive size selects DefaultBufferSize.
func NewBroker[T any](name string, size int) *Broker[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Broker[T]{
		name: name,
		size: size,
		subs: make(map[uint64]chan Event[T]),
	}
}

// Subscribe returns a channel of events published from now on. The channel
// is closed when ctx is done or the broker shuts down; after shutdown it is
// returned already closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], b.size)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if n := int32(len(b.subs)); n > b.peak.Load() { //nolint:gosec // subscriber counts stay far below MaxInt32
		b.peak.Store(n)
	}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { b.unsubscribe(id) })
	return ch
}

func (b *Broker[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish hands the event to every subscriber with room in its queue.
// Sends happen under the read lock so no channel is closed mid-send.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || len(b.subs) == 0 {
		return
	}

	ev := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	b.published.Add(1)

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Listen subscribes and calls fn for every event until ctx is done or the
// broker shuts down. It blocks, so callers usually run it in a goroutine.
func (b *Broker[T]) Listen(ctx context.Context, fn func(Event[T])) {
	for ev := range b.Subscribe(ctx) {
		fn(ev)
	}
}

// Shutdown closes every subscription. Later publishes are ignored and later
// subscriptions come back closed. Calling it again is a no-op.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Metrics returns delivery counters, reported by /healthz.
func (b *Broker[T]) Metrics() BrokerMetrics {
	b.mu.RLock()
	subs := len(b.subs)
	b.mu.RUnlock()

	return BrokerMetrics{
		Name:            b.name,
		PublishCount:    b.published.Load(),
		DropCount:       b.dropped.Load(),
		SubscriberCount: subs,
		SubscriberPeak:  int(b.peak.Load()),
	}
}

// BrokerMetrics is a snapshot of a broker's counters.
type BrokerMetrics struct {
	Name            string `json:"name"`
	PublishCount    int64  `json:"published"`
	DropCount       int64  `json:"dropped"`
	SubscriberCount int    `json:"subscribers"`
	SubscriberPeak  int    `json:"subscriber_peak"`
}
