package tracing

import (
	"sync"

	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/domain/trace"
)

const busBuffer = 1000

// Subscriber receives lifecycle events on the bus goroutine.
type Subscriber func(trace.Event)

// Bus fans lifecycle events out to subscribers.
type Bus struct {
	logger *zap.Logger
	events chan trace.Event

	mu     sync.RWMutex
	subs   map[uint64]Subscriber
	nextID uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewBus creates a bus and starts its drain goroutine.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		logger: logger.Named("bus"),
		events: make(chan trace.Event, busBuffer),
		subs:   make(map[uint64]Subscriber),
		done:   make(chan struct{}),
	}

	go b.collect()

	return b
}

// Submit queues ev without blocking.
func (b *Bus) Submit(ev trace.Event) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("event buffer full, dropping event",
			zap.String("correlation_id", ev.CorrelationID),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Subscriber) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Subscribers reports how many subscribers are registered.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops accepting events. Queued events are still delivered.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bus) collect() {
	for {
		select {
		case ev := <-b.events:
			b.deliver(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.events:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev trace.Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.safely(fn, ev)
	}
}

func (b *Bus) safely(fn Subscriber, ev trace.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(ev)
}
