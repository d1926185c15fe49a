package services

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

type stubRepoError struct {
	op          string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string { return e.op + ": repository error" }

func (e stubRepoError) IsNotFound() bool { return e.notFound }

func (e stubRepoError) IsConflict() bool { return e.conflict }

func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type adjustCall struct {
	Kind          domain.ProductKind
	ProductID     string
	QuantityDelta int
	SoldDelta     int
}

type memoryProducts struct {
	mu          sync.Mutex
	items       map[domain.ProductKind]map[string]domain.Product
	adjustments []adjustCall
	finds       int
	adjustErr   error
	failAdjust  map[string]error
}

func newMemoryProducts(products ...domain.Product) *memoryProducts {
	m := &memoryProducts{items: map[domain.ProductKind]map[string]domain.Product{
		domain.ProductKindConsumable: {},
		domain.ProductKindDurable:    {},
	}}
	for _, product := range products {
		m.items[product.Kind][product.ID] = product
	}
	return m
}

func (m *memoryProducts) get(kind domain.ProductKind, id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[kind][id]
}

func (m *memoryProducts) FindByID(_ context.Context, kind domain.ProductKind, productID string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	product, ok := m.items[kind][productID]
	if !ok {
		return domain.Product{}, stubRepoError{op: "products.find", notFound: true}
	}
	return product, nil
}

func (m *memoryProducts) Adjust(_ context.Context, kind domain.ProductKind, productID string, quantityDelta, soldDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adjustErr != nil {
		return m.adjustErr
	}
	if err := m.failAdjust[productID]; err != nil {
		return err
	}
	product, ok := m.items[kind][productID]
	if !ok {
		return repositories.NewStockError("products.adjust", repositories.StockErrorProductNotFound, productID, 0, nil)
	}
	if product.Quantity+quantityDelta < 0 {
		return repositories.NewStockError("products.adjust", repositories.StockErrorInsufficient, productID, product.Available(), nil)
	}
	product.Quantity += quantityDelta
	product.SoldCount += soldDelta
	m.items[kind][productID] = product
	m.adjustments = append(m.adjustments, adjustCall{Kind: kind, ProductID: productID, QuantityDelta: quantityDelta, SoldDelta: soldDelta})
	return nil
}

func (m *memoryProducts) CommitSale(_ context.Context, kind domain.ProductKind, productID string, qty int) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.items[kind][productID]
	if !ok {
		return domain.Product{}, repositories.NewStockError("products.commit", repositories.StockErrorProductNotFound, productID, 0, nil)
	}
	if product.Quantity-product.SoldCount < qty {
		return domain.Product{}, repositories.NewStockError("products.commit", repositories.StockErrorInsufficient, productID, product.Available(), nil)
	}
	product.SoldCount += qty
	m.items[kind][productID] = product
	return product, nil
}

type memoryCategories map[string]domain.Category

func (m memoryCategories) FindByID(_ context.Context, categoryID string) (domain.Category, error) {
	category, ok := m[categoryID]
	if !ok {
		return domain.Category{}, stubRepoError{op: "categories.find", notFound: true}
	}
	return category, nil
}

type memoryOrders struct {
	mu      sync.Mutex
	items   map[string]domain.Order
	updates int
	deletes []string
	filters []domain.OrderListFilter

	updateFn        func(context.Context, domain.Order, int64) error
	listFn          func(context.Context, domain.OrderListFilter) (domain.OrderPage, error)
	countStatusFn   func(context.Context, domain.OrderListFilter) ([]domain.OrderStatusCount, error)
	countShippingFn func(context.Context, domain.OrderListFilter) ([]domain.OrderShippingCount, error)
}

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{items: map[string]domain.Order{}}
	for _, order := range orders {
		m.items[order.ID] = cloneOrder(order)
	}
	return m
}

func (m *memoryOrders) get(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.items[id]
	return cloneOrder(order), ok
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[order.ID]; exists {
		return stubRepoError{op: "orders.insert", conflict: true}
	}
	m.items[order.ID] = cloneOrder(order)
	return nil
}

func (m *memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.items[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{op: "orders.find", notFound: true}
	}
	return cloneOrder(order), nil
}

func (m *memoryOrders) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if m.updateFn != nil {
		if err := m.updateFn(ctx, order, expectedVersion); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[order.ID]
	if !ok {
		return stubRepoError{op: "orders.update", notFound: true}
	}
	if stored.Version != expectedVersion {
		return stubRepoError{op: "orders.update", conflict: true}
	}
	m.items[order.ID] = cloneOrder(order)
	m.updates++
	return nil
}

func (m *memoryOrders) Delete(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[orderID]; !ok {
		return stubRepoError{op: "orders.delete", notFound: true}
	}
	delete(m.items, orderID)
	m.deletes = append(m.deletes, orderID)
	return nil
}

func (m *memoryOrders) List(ctx context.Context, filter domain.OrderListFilter) (domain.OrderPage, error) {
	m.mu.Lock()
	m.filters = append(m.filters, filter)
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []domain.Order
	for _, order := range m.items {
		switch {
		case filter.OnlyDeleted && !order.Deleted:
			continue
		case !filter.IncludeDeleted && order.Deleted:
			continue
		case filter.DeletedBefore != nil && (order.DeletedAt == nil || !order.DeletedAt.Before(*filter.DeletedBefore)):
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	total := int64(len(orders))
	if limit := filter.Pagination.Limit; limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return domain.OrderPage{Orders: orders, TotalCount: total}, nil
}

func (m *memoryOrders) CountByStatus(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderStatusCount, error) {
	if m.countStatusFn != nil {
		return m.countStatusFn(ctx, filter)
	}
	return nil, nil
}

func (m *memoryOrders) CountByShipping(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderShippingCount, error) {
	if m.countShippingFn != nil {
		return m.countShippingFn(ctx, filter)
	}
	return nil, nil
}

type memoryCarts struct {
	mu      sync.Mutex
	items   map[string]domain.Cart
	saves   int
	deletes int
	saveErr error
}

func newMemoryCarts(carts ...domain.Cart) *memoryCarts {
	m := &memoryCarts{items: map[string]domain.Cart{}}
	for _, cart := range carts {
		m.items[cart.UserID] = cart
	}
	return m
}

func (m *memoryCarts) FindByUser(_ context.Context, userID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.items[userID]
	if !ok {
		return domain.Cart{}, stubRepoError{op: "carts.find", notFound: true}
	}
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return cart, nil
}

func (m *memoryCarts) Save(_ context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	m.items[cart.UserID] = cart
	m.saves++
	return nil
}

func (m *memoryCarts) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, userID)
	m.deletes++
	return nil
}

type captureDispatcher struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (c *captureDispatcher) Dispatch(_ context.Context, notification domain.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, notification)
}

func (c *captureDispatcher) all() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Notification(nil), c.notifications...)
}

type captureEvents struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (c *captureEvents) Publish(_ context.Context, event domain.OrderEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEvents) types() []domain.OrderEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]domain.OrderEventType, 0, len(c.events))
	for _, event := range c.events {
		types = append(types, event.Type)
	}
	return types
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (r *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.fields = append(r.fields, fields)
}

func (r *recordingLogger) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// transactionalUnit runs fn inline but reports itself as rolling back on failure.
type transactionalUnit struct{}

func (transactionalUnit) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (transactionalUnit) Transactional() bool { return true }
