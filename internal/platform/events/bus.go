// Package events fans committed order events out to in-process subscribers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/pawmart/api/internal/domain"
)

// Topic is the single bus topic order events travel on.
const Topic = "orders"

const (
	defaultQueueSize      = 256
	defaultHandlerTimeout = 10 * time.Second
)

// Handler consumes one order event. Errors are logged; they never reach the publisher.
type Handler func(ctx context.Context, event domain.OrderEvent) error

// Option customises a Bus.
type Option func(*Bus)

// WithQueueSize bounds the number of events buffered per subscriber.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithHandlerTimeout bounds a single delivery. Zero leaves deliveries unbounded.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d >= 0 {
			b.timeout = d
		}
	}
}

// Bus is an asynchronous in-process publisher. Every subscriber owns a bounded queue and a
// single worker, so it sees events in publish order. Publish only enqueues: when a
// subscriber's queue is full the event is dropped for that subscriber and logged.
type Bus struct {
	bus       evbus.Bus
	logger    *zap.Logger
	queueSize int
	timeout   time.Duration

	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool
	workers     sync.WaitGroup
}

type subscriber struct {
	name    string
	handler Handler
	queue   chan delivery
	enqueue func(context.Context, domain.OrderEvent)
}

type delivery struct {
	ctx   context.Context
	event domain.OrderEvent
}

// NewBus constructs an empty bus.
func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		bus:       evbus.New(),
		logger:    logger,
		queueSize: defaultQueueSize,
		timeout:   defaultHandlerTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe registers handler under name. Names appear in failure logs.
func (b *Bus) Subscribe(name string, handler Handler) error {
	if handler == nil {
		return errors.New("events: handler is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("events: bus closed")
	}

	sub := &subscriber{
		name:    name,
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
	}
	sub.enqueue = func(ctx context.Context, event domain.OrderEvent) {
		select {
		case sub.queue <- delivery{ctx: ctx, event: event}:
		default:
			b.logger.Warn("order event dropped",
				zap.String("subscriber", sub.name),
				zap.String("event", string(event.Type)),
				zap.String("order_id", event.OrderID),
				zap.String("reason", "overload"))
		}
	}
	if err := b.bus.Subscribe(Topic, sub.enqueue); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", name, err)
	}
	b.subscribers = append(b.subscribers, sub)
	b.workers.Add(1)
	go b.run(sub)
	return nil
}

// Publish hands the event to every subscriber queue and returns without waiting for
// delivery. Delivery outlives the caller's cancellation.
func (b *Bus) Publish(ctx context.Context, event domain.OrderEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.bus.Publish(Topic, context.WithoutCancel(ctx), event)
}

// Close stops accepting events and waits for queued deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subscribers := b.subscribers
	b.subscribers = nil
	for _, sub := range subscribers {
		_ = b.bus.Unsubscribe(Topic, sub.enqueue)
		close(sub.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
}

func (b *Bus) run(sub *subscriber) {
	defer b.workers.Done()
	for d := range sub.queue {
		b.deliver(sub, d)
	}
}

func (b *Bus) deliver(sub *subscriber, d delivery) {
	ctx := d.ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("order event subscriber panicked",
				zap.String("subscriber", sub.name),
				zap.String("event", string(d.event.Type)),
				zap.Any("panic", rec))
		}
	}()
	if err := sub.handler(ctx, d.event); err != nil {
		b.logger.Warn("order event subscriber failed",
			zap.String("subscriber", sub.name),
			zap.String("event", string(d.event.Type)),
			zap.String("order_id", d.event.OrderID),
			zap.Error(err))
	}
}
