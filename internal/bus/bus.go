// Package bus implements the in-process pub/sub fan-out between the TCP
// decode loop and the analytic consumers. Every subscriber gets its own
// bounded queue; a slow subscriber never blocks the producer — the oldest
// queued event is dropped to make room for the new one.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// DefaultQueueCapacity is used when Subscribe is called with capacity 0.
const DefaultQueueCapacity = 1000

// Subscription is a logical channel from the Bus to one consumer. Its queue
// is a fixed-capacity ring guarded by a mutex, not a Go channel, because a Go
// channel can only express block-or-drop-newest; this needs drop-oldest.
type Subscription struct {
	name     string
	capacity int

	mu     sync.Mutex
	buf    []ticker.Ticker
	head   int // index of the oldest queued element
	count  int // number of queued elements
	notify chan struct{}

	dropped int64 // atomic
	closed  int32 // atomic
}

// Name returns the subscriber-supplied label, useful for per-subscriber
// metrics (queue_depth{sub=...}).
func (s *Subscription) Name() string { return s.name }

// Dropped returns the exact number of events dropped for this subscription
// due to backpressure.
func (s *Subscription) Dropped() int64 { return atomic.LoadInt64(&s.dropped) }

// Depth returns the number of events currently queued.
func (s *Subscription) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// push enqueues e, evicting the oldest element first if the queue is full.
// Called with the Bus's per-subscription lock held implicitly by being the
// only caller (publish), but takes its own lock so Depth/Dropped readers
// never race with it.
func (s *Subscription) push(e ticker.Ticker) {
	s.mu.Lock()
	if s.count == s.capacity {
		s.head = (s.head + 1) % s.capacity
		s.count--
		atomic.AddInt64(&s.dropped, 1)
	}
	idx := (s.head + s.count) % s.capacity
	s.buf[idx] = e
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest queued element, if any.
func (s *Subscription) pop() (ticker.Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return ticker.Ticker{}, false
	}
	e := s.buf[s.head]
	s.head = (s.head + 1) % s.capacity
	s.count--
	return e, true
}

// Receive blocks until an event is available, ctx is cancelled, or the
// subscription is unsubscribed. Delivered events are a monotone (order
// preserving) subsequence of what was published — drops remove elements,
// they never reorder them.
func (s *Subscription) Receive(ctx context.Context) (ticker.Ticker, error) {
	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return ticker.Ticker{}, ErrUnsubscribed
		}
		if e, ok := s.pop(); ok {
			return e, nil
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return ticker.Ticker{}, ctx.Err()
		}
	}
}

func (s *Subscription) close() {
	atomic.StoreInt32(&s.closed, 1)
	s.mu.Lock()
	s.head = 0
	s.count = 0
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Bus fans out published events to every active Subscription.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}

	dropsTotal int64 // atomic, sum across all subscriptions ever
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new receiver with a fresh bounded queue of the given
// capacity (DefaultQueueCapacity if capacity <= 0).
func (b *Bus) Subscribe(name string, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	s := &Subscription{
		name:     name,
		capacity: capacity,
		buf:      make([]ticker.Ticker, capacity),
		notify:   make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Unsubscribe removes s; any events still queued for it are discarded.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.close()
}

// Publish delivers e to every currently active subscription. Never blocks:
// a full queue drops its oldest element instead. O(N) in the number of
// active subscriptions, O(1) per subscription.
func (b *Bus) Publish(e ticker.Ticker) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		before := s.Dropped()
		s.push(e)
		if s.Dropped() > before {
			atomic.AddInt64(&b.dropsTotal, 1)
		}
	}
}

// DropsTotal returns the cumulative number of drop-oldest evictions across
// every subscription this Bus has ever had.
func (b *Bus) DropsTotal() int64 {
	return atomic.LoadInt64(&b.dropsTotal)
}

// Subscriptions returns a snapshot of currently active subscriptions, used
// by the Health consumer to report per-subscriber queue depths.
func (b *Bus) Subscriptions() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		out = append(out, s)
	}
	return out
}
