// Package events delivers engine events to subscribers without ever blocking
// the caller: publication is an enqueue onto a bounded channel, and a full
// queue drops the event rather than stalling an apply pass.
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Nareshj7/userdiscounts/internal/domain/discount"
)

// Subscriber consumes one event at a time from the bus worker goroutine.
type Subscriber interface {
	Handle(ctx context.Context, ev discount.Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, ev discount.Event)

func (f SubscriberFunc) Handle(ctx context.Context, ev discount.Event) { f(ctx, ev) }

// Bus fans engine events out to subscribers. Each subscriber gets its own
// bounded queue drained by one goroutine, so a slow subscriber delays or
// drops only its own deliveries.
type Bus struct {
	lg      *zap.Logger
	queues  []chan discount.Event
	subs    []Subscriber
	dropped atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ discount.Publisher = (*Bus)(nil)

// NewBus creates a Bus with the given per-subscriber queue capacity.
func NewBus(lg *zap.Logger, capacity int, subs ...Subscriber) *Bus {
	b := &Bus{lg: lg, subs: subs}
	for range subs {
		b.queues = append(b.queues, make(chan discount.Event, capacity))
	}
	return b
}

// Start launches one drain goroutine per subscriber. Deliveries stop when
// ctx is cancelled or Close is called.
func (b *Bus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	for i, sub := range b.subs {
		b.wg.Add(1)
		go func(q <-chan discount.Event, sub Subscriber) {
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-q:
					sub.Handle(ctx, ev)
				}
			}
		}(b.queues[i], sub)
	}
}

// Publish enqueues the event for every subscriber. It never blocks: when a
// subscriber's queue is full the event is dropped and counted.
func (b *Bus) Publish(_ context.Context, ev discount.Event) {
	for i, q := range b.queues {
		select {
		case q <- ev:
		default:
			n := b.dropped.Add(1)
			b.lg.Warn("event dropped, subscriber queue full",
				zap.Int("subscriber", i),
				zap.String("action", string(ev.Action)),
				zap.Int64("total_dropped", n))
		}
	}
}

// Dropped returns how many events have been dropped since the bus started.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops the drain goroutines and waits for them to exit. Events still
// queued are discarded.
func (b *Bus) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}
