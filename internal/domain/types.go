package domain

import (
	"slices"
	"time"
)

// Pagination captures the page/limit request pair used by offset listings.
type Pagination struct {
	Page  int
	Limit int
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// IsZero reports whether neither bound is set.
func (r RangeQuery[T]) IsZero() bool {
	return r.From == nil && r.To == nil
}

// ProductKind distinguishes the two product collections backing the stock ledger.
type ProductKind string

const (
	// ProductKindConsumable identifies food, treats, litter and other consumable goods.
	ProductKindConsumable ProductKind = "consumable"
	// ProductKindDurable identifies toys, cages, bowls and other durable goods.
	ProductKindDurable ProductKind = "durable"
)

// ProductKinds lists the ledger collections in lookup order.
var ProductKinds = []ProductKind{ProductKindConsumable, ProductKindDurable}

// Valid reports whether the kind names a known collection.
func (k ProductKind) Valid() bool {
	return slices.Contains(ProductKinds, k)
}

// Product is a stock ledger entry. Available stock is derived, never stored.
type Product struct {
	ID         string
	Kind       ProductKind
	Name       string
	CategoryID string
	Quantity   int
	SoldCount  int
	Price      int64
	UpdatedAt  time.Time
}

// Available returns max(0, quantity - sold_count).
func (p Product) Available() int {
	if remaining := p.Quantity - p.SoldCount; remaining > 0 {
		return remaining
	}
	return 0
}

// Category groups products and records which ledger collection they belong to.
type Category struct {
	ID   string
	Name string
	Kind ProductKind
}

// CartLine is one product entry in a user's cart.
type CartLine struct {
	ProductID          string
	CategoryID         string
	Name               string
	Quantity           int
	PriceOriginal      int64
	DiscountPercent    float64
	PriceAfterDiscount int64
	Selected           bool
	AddedAt            time.Time
}

// Cart holds the lines a user intends to purchase. It never owns stock.
type Cart struct {
	ID        string
	UserID    string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipping   OrderStatus = "shipping"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// OrderStatuses lists every accepted status. Any status may follow any other.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipping,
	OrderStatusShipped,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// Valid reports whether the status belongs to the allowed set.
func (s OrderStatus) Valid() bool {
	return slices.Contains(OrderStatuses, s)
}

var orderStatusMessages = map[OrderStatus]string{
	OrderStatusPending:    "order pending confirmation",
	OrderStatusProcessing: "being processed",
	OrderStatusShipping:   "handed to carrier",
	OrderStatusShipped:    "left warehouse",
	OrderStatusCompleted:  "delivered successfully",
	OrderStatusCancelled:  "order cancelled",
	OrderStatusReturned:   "return processed",
}

// Message returns the fixed customer-facing text announcing the status.
func (s OrderStatus) Message() string {
	return orderStatusMessages[s]
}

// OrderLifecycle is the deletion state of an order document.
type OrderLifecycle string

const (
	OrderLifecycleActive      OrderLifecycle = "active"
	OrderLifecycleSoftDeleted OrderLifecycle = "soft_deleted"
	OrderLifecyclePurged      OrderLifecycle = "purged"
)

// ReturnRequestApproved is the return status recorded when an order enters returned.
const ReturnRequestApproved = "approved"

// ReturnRequest records return processing for an order.
type ReturnRequest struct {
	IsReturned  bool
	Status      string
	Reason      string
	ProcessedAt *time.Time
	ProcessedBy string
}

// ActorStamp is one entry of the append-only updatedBy log.
type ActorStamp struct {
	Actor     string
	Timestamp time.Time
}

// OrderLine is a price/quantity snapshot taken at checkout.
type OrderLine struct {
	ProductID          string
	CategoryID         string
	Name               string
	Quantity           int
	PriceOriginal      int64
	DiscountPercent    float64
	PriceAfterDiscount int64
}

// OrderSummary holds order totals in minor currency units.
type OrderSummary struct {
	Subtotal    int64
	Discount    int64
	ShippingFee int64
	Total       int64
}

// Order is the order aggregate mutated by the status state machine.
type Order struct {
	ID            string
	UserID        string
	CustomerInfo  string
	ShippingID    string
	PaymentID     string
	CartID        string
	Products      []OrderLine
	Status        OrderStatus
	ReturnRequest ReturnRequest
	Summary       OrderSummary
	Deleted       bool
	DeletedAt     *time.Time
	DeletedBy     string
	UpdatedBy     []ActorStamp
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Lifecycle derives the deletion state of a loaded order.
func (o Order) Lifecycle() OrderLifecycle {
	if o.Deleted {
		return OrderLifecycleSoftDeleted
	}
	return OrderLifecycleActive
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status         []OrderStatus
	UserID         string
	DateRange      RangeQuery[time.Time]
	ShippingID     string
	Keyword        string
	IncludeDeleted bool
	OnlyDeleted    bool
	// DeletedBefore keeps orders soft-deleted strictly before the instant.
	DeletedBefore  *time.Time
	Pagination     Pagination
}

// OrderStatusCount is one bucket of the status summary.
type OrderStatusCount struct {
	Status OrderStatus
	Count  int64
}

// OrderShippingCount is one bucket of the shipping summary.
type OrderShippingCount struct {
	ShippingID string
	Count      int64
}

// OrderPage is one page of orders together with the total match count.
type OrderPage struct {
	Orders     []Order
	TotalCount int64
}

// OrderListResult is the listOrders response shape.
type OrderListResult struct {
	Orders          []Order
	TotalCount      int64
	StatusSummary   []OrderStatusCount
	ShippingSummary []OrderShippingCount
	Page            int
	Limit           int
}

// NotificationType tags the origin of a notification.
type NotificationType string

const (
	NotificationTypeOrder        NotificationType = "order"
	NotificationTypeServiceOrder NotificationType = "service_order"
)

// NotificationLevel is the severity shown to the recipient.
type NotificationLevel string

const (
	NotificationLevelInfo    NotificationLevel = "info"
	NotificationLevelSuccess NotificationLevel = "success"
	NotificationLevelWarning NotificationLevel = "warning"
	NotificationLevelDanger  NotificationLevel = "danger"
)

// Notification is a user or admin facing message. An empty UserID addresses admins.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      NotificationType
	Level     NotificationLevel
	Locale    string
	Metadata  map[string]any
	Read      bool
	CreatedAt time.Time
}

// HealthStatus enumerates dependency health states.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck captures one dependency probe result.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probe results.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
