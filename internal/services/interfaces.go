package services

import (
	"context"
	"time"

	domain "github.com/pawmart/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	ProductKind        = domain.ProductKind
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	OrderSummary       = domain.OrderSummary
	OrderListFilter    = domain.OrderListFilter
	OrderListResult    = domain.OrderListResult
	OrderEvent         = domain.OrderEvent
	Notification       = domain.Notification
	SystemHealthReport = domain.SystemHealthReport
)

// StockService exposes read-only availability checks over the product ledger.
type StockService interface {
	// Lookup finds a product in the consumable collection, then the durable one.
	Lookup(ctx context.Context, productID string) (Product, error)
	// CheckReserve verifies that qty units are available right now. It never mutates stock.
	CheckReserve(ctx context.Context, productID string, qty int) (StockCheck, error)
	// ReleaseStock is a no-op: cart lines never hold stock.
	ReleaseStock(ctx context.Context, productID string, qty int) error
}

// StockCheck is an accepted reservation check.
type StockCheck struct {
	ProductID string
	Kind      ProductKind
	Requested int
	Available int
	Product   Product
}

// OrderService coordinates checkout, the status state machine, deletion and listings.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (OrderListResult, error)

	SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error)
	BulkSetStatus(ctx context.Context, cmd BulkSetOrderStatusCommand) (BulkResult, error)

	SoftDelete(ctx context.Context, cmd OrderDeletionCommand) (Order, error)
	Restore(ctx context.Context, cmd OrderDeletionCommand) (Order, error)
	PermanentDelete(ctx context.Context, cmd OrderDeletionCommand) error
	BulkSoftDelete(ctx context.Context, cmd BulkOrderCommand) (BulkResult, error)
	BulkRestore(ctx context.Context, cmd BulkOrderCommand) (BulkResult, error)
	BulkPermanentDelete(ctx context.Context, cmd BulkOrderCommand) (BulkResult, error)

	// PurgeDeleted permanently deletes up to limit orders soft-deleted before now - olderThan.
	PurgeDeleted(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// PlaceOrderCommand checks out the selected lines of the user's cart.
type PlaceOrderCommand struct {
	UserID       string
	CustomerInfo string
	ShippingID   string
	PaymentID    string
	ShippingFee  int64
}

// OrderReadOptions scopes GetOrder. A non-empty UserID restricts the lookup to that owner.
type OrderReadOptions struct {
	UserID         string
	IncludeDeleted bool
}

// SetOrderStatusCommand moves one order to Status.
type SetOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
	Reason  string
}

// BulkSetOrderStatusCommand applies one status to many orders independently.
type BulkSetOrderStatusCommand struct {
	OrderIDs []string
	Status   OrderStatus
	ActorID  string
}

// OrderDeletionCommand targets one order for soft delete, restore or purge.
type OrderDeletionCommand struct {
	OrderID string
	ActorID string
}

// BulkOrderCommand targets many orders for a deletion lifecycle operation.
type BulkOrderCommand struct {
	OrderIDs []string
	ActorID  string
}

// BulkResult reports how many items of a best-effort batch succeeded.
type BulkResult struct {
	Requested int
	Updated   int
	Failures  []BulkFailure
}

// BulkFailure records why one item of a batch was not applied.
type BulkFailure struct {
	OrderID string
	Err     error
}

// CartService manages per-user carts. It checks availability but never holds stock.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddToCart(ctx context.Context, cmd AddToCartCommand) (Cart, error)
	UpdateCartQuantity(ctx context.Context, cmd UpdateCartQuantityCommand) (Cart, error)
	RemoveCartItem(ctx context.Context, userID, productID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// AddToCartCommand adds Quantity units of a product, merging with an existing line.
type AddToCartCommand struct {
	UserID          string
	ProductID       string
	Quantity        int
	DiscountPercent float64
	Selected        *bool
}

// UpdateCartQuantityCommand sets the absolute quantity of an existing line.
type UpdateCartQuantityCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// NotificationDispatcher delivers notifications asynchronously. Dispatch must not block on
// delivery and never reports failure to the caller.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification Notification)
}

// OrderEventPublisher broadcasts committed order changes.
type OrderEventPublisher interface {
	Publish(ctx context.Context, event OrderEvent)
}
