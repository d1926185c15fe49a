package repositories

import (
	"context"

	domain "github.com/pawmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Categories() CategoryRepository
	Orders() OrderRepository
	Carts() CartRepository
	Notifications() NotificationRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactionReporter is implemented by units of work that know whether RunInTx rolls back
// every write on failure. Units of work without it are treated as non-transactional.
type TransactionReporter interface {
	Transactional() bool
}

// ProductRepository is the stock ledger over the consumable and durable collections.
// Every write is a single atomic storage operation.
type ProductRepository interface {
	FindByID(ctx context.Context, kind domain.ProductKind, productID string) (domain.Product, error)
	// Adjust atomically adds the deltas to quantity and sold_count.
	Adjust(ctx context.Context, kind domain.ProductKind, productID string, quantityDelta, soldDelta int) error
	// CommitSale increments sold_count by qty only while quantity - sold_count >= qty.
	CommitSale(ctx context.Context, kind domain.ProductKind, productID string, qty int) (domain.Product, error)
}

// CategoryRepository resolves product categories.
type CategoryRepository interface {
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// Update replaces the order when the stored version equals expectedVersion and
	// stores order.Version (expected + 1). A mismatch is reported as a conflict.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, filter domain.OrderListFilter) (domain.OrderPage, error)
	CountByStatus(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderStatusCount, error)
	CountByShipping(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderShippingCount, error)
}

// CartRepository persists one cart document per user.
type CartRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

// NotificationRepository stores delivered notifications for in-app inboxes.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
}

// HealthRepository gathers dependency status for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
