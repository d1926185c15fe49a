// Package notifications delivers user and admin notifications off the request path.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/pawmart/api/internal/domain"
)

const (
	meterName = "github.com/pawmart/api/internal/notifications"

	defaultPoolSize        = 8
	defaultQueueSize       = 1024
	defaultAttempts        = 3
	defaultDeliveryTimeout = 30 * time.Second
)

var plainText = bluemonday.StrictPolicy()

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithPoolSize bounds the number of concurrent deliveries.
func WithPoolSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.poolSize = size
		}
	}
}

// WithQueueSize bounds the notifications waiting for a free worker. Dispatch drops
// notifications once the queue is full.
func WithQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithRetry sets the per-sink attempt budget and the pause between attempts.
func WithRetry(attempts int, backoff gax.Backoff) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		d.backoff = backoff
	}
}

// WithDeliveryTimeout caps the time spent delivering one notification to all sinks.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLocales sets the rendering locale for customers and for the admin audience.
func WithLocales(userLocale, adminLocale string) Option {
	return func(d *Dispatcher) {
		d.userLocale = strings.TrimSpace(userLocale)
		d.adminLocale = strings.TrimSpace(adminLocale)
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMeter overrides the meter used for delivery counters.
func WithMeter(meter metric.Meter) Option {
	return func(d *Dispatcher) {
		d.meter = meter
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator injects the notification id source.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		if newID != nil {
			d.newID = newID
		}
	}
}

type queued struct {
	ctx          context.Context
	notification domain.Notification
}

// Dispatcher renders notifications and hands them to a bounded worker pool. Dispatch never
// blocks on delivery and never reports delivery errors to the caller.
type Dispatcher struct {
	sinks   []Sink
	catalog *Catalog

	poolSize    int
	queueSize   int
	attempts    int
	backoff     gax.Backoff
	timeout     time.Duration
	userLocale  string
	adminLocale string
	logger      *zap.Logger
	meter       metric.Meter
	now         func() time.Time
	newID       func() string

	pool     *ants.Pool
	queue    chan queued
	inflight sync.WaitGroup
	mu       sync.RWMutex
	closed   bool

	deliveries metric.Int64Counter
	dropped    metric.Int64Counter
}

// NewDispatcher builds a dispatcher over the given sinks. At least one sink is required.
func NewDispatcher(sinks []Sink, opts ...Option) (*Dispatcher, error) {
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	if len(active) == 0 {
		return nil, errors.New("notifications: at least one sink is required")
	}

	d := &Dispatcher{
		sinks:     active,
		poolSize:  defaultPoolSize,
		queueSize: defaultQueueSize,
		attempts:  defaultAttempts,
		backoff: gax.Backoff{
			Initial:    200 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2,
		},
		timeout: defaultDeliveryTimeout,
		logger:  zap.NewNop(),
		now:     time.Now,
		newID: func() string {
			return ulid.Make().String()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.adminLocale == "" {
		d.adminLocale = d.userLocale
	}

	cat, err := NewCatalog()
	if err != nil {
		return nil, err
	}
	d.catalog = cat

	meter := d.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	if d.deliveries, err = meter.Int64Counter("notifications.deliveries",
		metric.WithDescription("Notification sink deliveries by sink and outcome")); err != nil {
		return nil, fmt.Errorf("notifications: register metric: %w", err)
	}
	if d.dropped, err = meter.Int64Counter("notifications.dropped",
		metric.WithDescription("Notifications rejected by a full queue or a closed dispatcher")); err != nil {
		return nil, fmt.Errorf("notifications: register metric: %w", err)
	}

	pool, err := ants.NewPool(d.poolSize, ants.WithPanicHandler(func(p any) {
		d.logger.Error("notification worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("notifications: create pool: %w", err)
	}
	d.pool = pool
	d.queue = make(chan queued, d.queueSize)
	go d.feed()
	return d, nil
}

// feed moves queued notifications onto the pool, waiting for free workers.
func (d *Dispatcher) feed() {
	for item := range d.queue {
		err := d.pool.Submit(func() {
			defer d.inflight.Done()
			d.deliver(item.ctx, item.notification)
		})
		if err != nil {
			d.inflight.Done()
			d.drop(item.ctx, item.notification, "closed")
		}
	}
}

// Dispatch renders notification and queues it for delivery. The request context only
// contributes its values; cancellation does not abort delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, notification domain.Notification) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rendered := d.render(notification)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, rendered, "closed")
		return
	}
	d.inflight.Add(1)
	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), notification: rendered}:
	default:
		d.inflight.Done()
		d.drop(ctx, rendered, "overload")
	}
}

// Close stops accepting notifications and waits for queued deliveries or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.pool.Release()
		return nil
	case <-ctx.Done():
		d.pool.Release()
		return ctx.Err()
	}
}

func (d *Dispatcher) render(notification domain.Notification) domain.Notification {
	out := notification
	out.UserID = strings.TrimSpace(out.UserID)
	if out.ID == "" {
		out.ID = d.newID()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = d.now()
	}
	out.CreatedAt = out.CreatedAt.UTC()
	if out.Type == "" {
		out.Type = domain.NotificationTypeOrder
	}
	if out.Level == "" {
		out.Level = domain.NotificationLevelInfo
	}

	locale := strings.TrimSpace(out.Locale)
	if locale == "" {
		locale = d.userLocale
		if out.UserID == "" {
			locale = d.adminLocale
		}
	}
	tag := d.catalog.Resolve(locale)
	out.Locale = tag.String()
	out.Title = d.catalog.Render(out.Locale, sanitize(out.Title))
	out.Message = d.catalog.Render(out.Locale, sanitize(out.Message))
	if out.Metadata != nil {
		out.Metadata = maps.Clone(out.Metadata)
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, notification domain.Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	for _, sink := range d.sinks {
		err := d.deliverTo(ctx, sink, notification)
		outcome := "delivered"
		if err != nil {
			outcome = "failed"
			d.logger.Warn("notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("notificationId", notification.ID),
				zap.String("userId", notification.UserID),
				zap.Int("attempts", d.attempts),
				zap.Error(err),
			)
		}
		d.deliveries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("sink", sink.Name()),
			attribute.String("outcome", outcome),
		))
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, sink Sink, notification domain.Notification) error {
	backoff := d.backoff
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = sink.Deliver(ctx, notification); err == nil {
			return nil
		}
		if attempt == d.attempts {
			break
		}
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	return err
}

func (d *Dispatcher) drop(ctx context.Context, notification domain.Notification, reason string) {
	d.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	d.logger.Warn("notification dropped",
		zap.String("reason", reason),
		zap.String("notificationId", notification.ID),
		zap.String("userId", notification.UserID),
	)
}

func sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(plainText.Sanitize(text)))
}
