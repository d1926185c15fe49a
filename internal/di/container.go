package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/pawmart/api/internal/platform/config"
	"github.com/pawmart/api/internal/platform/jobs"
	"github.com/pawmart/api/internal/repositories"
	"github.com/pawmart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Stock  services.StockService
	Cart   services.CartService
	Orders services.OrderService
	System services.SystemService
}

// Options carries the runtime collaborators the container does not own the construction of.
type Options struct {
	Notifications services.NotificationDispatcher
	Events        services.OrderEventPublisher
	Build         services.BuildInfo
	Clock         func() time.Time
	IDGenerator   func() string
	Meter         metric.Meter
	Logger        func(ctx context.Context, event string, fields map[string]any)

	// OptionalHealthChecks are probes readiness reports without failing on.
	OptionalHealthChecks []string
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	closers []func(context.Context) error
}

// ExpiredRecordCleaner removes stale idempotency reservations.
type ExpiredRecordCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// JobRegistrar is the subset of the scheduler used to register maintenance jobs.
type JobRegistrar interface {
	Register(name, spec string, task jobs.Task) error
}

// NewContainer constructs the runtime dependencies. Tests can supply stub registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts Options) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, opts)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// OnClose registers fn to run during Close, before the registry is closed. Closers run in
// reverse registration order.
func (c *Container) OnClose(fn func(context.Context) error) {
	if c == nil || fn == nil {
		return
	}
	c.closers = append(c.closers, fn)
}

// Close releases background workers and then repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterJobs schedules the retention purge of soft-deleted orders and, when cleaner is set,
// the idempotency record sweep. An empty purge schedule disables the purge.
func (c *Container) RegisterJobs(scheduler JobRegistrar, cleaner ExpiredRecordCleaner, clock func() time.Time) error {
	if c == nil || scheduler == nil {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}

	retention := c.Config.Retention
	if retention.PurgeSchedule != "" && c.Services.Orders != nil {
		orders := c.Services.Orders
		err := scheduler.Register("orders.purge", retention.PurgeSchedule, func(ctx context.Context) error {
			_, err := orders.PurgeDeleted(ctx, retention.SoftDeletedAge, retention.PurgeBatchSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("register purge job: %w", err)
		}
	}

	idem := c.Config.Idempotency
	if cleaner != nil && idem.CleanupInterval > 0 {
		spec := "@every " + idem.CleanupInterval.String()
		err := scheduler.Register("idempotency.cleanup", spec, func(ctx context.Context) error {
			_, err := cleaner.CleanupExpired(ctx, clock(), idem.CleanupBatchSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("register idempotency cleanup job: %w", err)
		}
	}
	return nil
}

func buildServices(_ context.Context, reg repositories.Registry, opts Options) (Services, error) {
	var svc Services
	cartLocks := services.NewKeyedLocker()

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Products: reg.Products(),
		Meter:    opts.Meter,
		Logger:   opts.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	if cartsRepo := reg.Carts(); cartsRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Carts:  cartsRepo,
			Stock:  svc.Stock,
			Clock:  opts.Clock,
			Logger: opts.Logger,
			Locks:  cartLocks,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Products:      reg.Products(),
		Categories:    reg.Categories(),
		Carts:         reg.Carts(),
		UnitOfWork:    reg,
		Notifications: opts.Notifications,
		Events:        opts.Events,
		Clock:         opts.Clock,
		IDGenerator:   opts.IDGenerator,
		Meter:         opts.Meter,
		Logger:        opts.Logger,
		CartLocks:     cartLocks,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            opts.Clock,
			Build:            opts.Build,
			OptionalChecks:   opts.OptionalHealthChecks,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
