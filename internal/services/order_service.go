package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"
	systemActor   = "system"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100

	titleOrderUpdate        = "Order update"
	titleOrderStatusChanged = "Order status changed"
	titleNewOrder           = "New order"
	messageNewOrder         = "new order received"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is soft-deleted.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderMissingShipping rejects orders whose shipping reference is gone. It is reported as not found.
	ErrOrderMissingShipping = fmt.Errorf("%w: shipping reference missing", ErrOrderNotFound)
	// ErrOrderConflict indicates a concurrent update won the optimistic version check.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidState indicates a deletion lifecycle step out of order.
	ErrOrderInvalidState = errors.New("order: invalid lifecycle state")
)

var plainText = bluemonday.StrictPolicy()

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	Categories    repositories.CategoryRepository
	Carts         repositories.CartRepository
	UnitOfWork    repositories.UnitOfWork
	Notifications NotificationDispatcher
	Events        OrderEventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Meter         metric.Meter
	Logger        func(ctx context.Context, event string, fields map[string]any)
	CartLocks     *KeyedLocker
}

type orderService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	categories    repositories.CategoryRepository
	carts         repositories.CartRepository
	unitOfWork    repositories.UnitOfWork
	notifications NotificationDispatcher
	events        OrderEventPublisher
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
	locks         *KeyedLocker
	cartLocks     *KeyedLocker
	atomicTx      bool

	skippedLines metric.Int64Counter
	restocked    metric.Int64Counter
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	atomicTx := false
	if reporter, ok := unit.(repositories.TransactionReporter); ok {
		atomicTx = reporter.Transactional()
	}
	cartLocks := deps.CartLocks
	if cartLocks == nil {
		cartLocks = NewKeyedLocker()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}
	skipped, err := meter.Int64Counter("order.restock.lines.skipped",
		metric.WithDescription("Returned order lines that could not be restocked"))
	if err != nil {
		return nil, fmt.Errorf("order service: register metric: %w", err)
	}
	restocked, err := meter.Int64Counter("order.restock.units",
		metric.WithDescription("Units returned to stock by order returns"))
	if err != nil {
		return nil, fmt.Errorf("order service: register metric: %w", err)
	}

	return &orderService{
		orders:        deps.Orders,
		products:      deps.Products,
		categories:    deps.Categories,
		carts:         deps.Carts,
		unitOfWork:    unit,
		notifications: deps.Notifications,
		events:        deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		logger:       logger,
		locks:        NewKeyedLocker(),
		cartLocks:    cartLocks,
		atomicTx:     atomicTx,
		skippedLines: skipped,
		restocked:    restocked,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if owner := strings.TrimSpace(opts.UserID); owner != "" && order.UserID != owner {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Deleted && !opts.IncludeDeleted {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (OrderListResult, error) {
	filter, err := normalizeOrderFilter(filter)
	if err != nil {
		return OrderListResult{}, err
	}

	statusFilter := filter
	statusFilter.Status = nil
	shippingFilter := filter
	shippingFilter.ShippingID = ""

	var (
		page     domain.OrderPage
		statuses []domain.OrderStatusCount
		shipping []domain.OrderShippingCount
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		page, err = s.orders.List(groupCtx, filter)
		return err
	})
	group.Go(func() error {
		var err error
		statuses, err = s.orders.CountByStatus(groupCtx, statusFilter)
		return err
	})
	group.Go(func() error {
		var err error
		shipping, err = s.orders.CountByShipping(groupCtx, shippingFilter)
		return err
	})
	if err := group.Wait(); err != nil {
		return OrderListResult{}, s.mapRepositoryError(err)
	}

	if page.Orders == nil {
		page.Orders = []Order{}
	}
	return OrderListResult{
		Orders:          page.Orders,
		TotalCount:      page.TotalCount,
		StatusSummary:   statuses,
		ShippingSummary: shipping,
		Page:            filter.Pagination.Page,
		Limit:           filter.Pagination.Limit,
	}, nil
}

func (s *orderService) SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	status, err := parseOrderStatus(cmd.Status)
	if err != nil {
		return Order{}, err
	}
	return s.setStatus(ctx, orderID, status, actorOrSystem(cmd.ActorID), cmd.Reason)
}

func (s *orderService) BulkSetStatus(ctx context.Context, cmd BulkSetOrderStatusCommand) (BulkResult, error) {
	status, err := parseOrderStatus(cmd.Status)
	if err != nil {
		return BulkResult{}, err
	}
	actor := actorOrSystem(cmd.ActorID)
	return s.bulk(ctx, cmd.OrderIDs, func(ctx context.Context, orderID string) error {
		_, err := s.setStatus(ctx, orderID, status, actor, "")
		return err
	})
}

func (s *orderService) setStatus(ctx context.Context, orderID string, status OrderStatus, actor, reason string) (Order, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	var (
		updated   Order
		previous  OrderStatus
		restocked int
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.loadActive(txCtx, orderID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(current.ShippingID) == "" {
			return fmt.Errorf("%w: order %s", ErrOrderMissingShipping, orderID)
		}

		next, entering := applyStatus(current, status, actor, sanitizeReason(reason), s.now())

		var plan []restockLine
		if entering {
			plan = s.planRestock(txCtx, next)
		}
		if err := s.orders.Update(txCtx, next, current.Version); err != nil {
			return s.mapRepositoryError(err)
		}
		units, err := s.applyRestock(txCtx, next.ID, plan)
		if err != nil {
			if !s.atomicTx {
				s.revertStatus(txCtx, current, next)
			}
			return err
		}

		updated, previous, restocked = next, current.Status, units
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if restocked > 0 {
		s.restocked.Add(ctx, int64(restocked))
	}
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":   updated.ID,
		"from":      string(previous),
		"to":        string(updated.Status),
		"actor":     actor,
		"restocked": restocked,
	})
	s.publish(ctx, OrderEvent{
		Type:           domain.OrderEventStatusChanged,
		OrderID:        updated.ID,
		UserID:         updated.UserID,
		Status:         updated.Status,
		PreviousStatus: previous,
		ActorID:        actor,
		Restocked:      restocked,
		OccurredAt:     s.now(),
	})
	s.notifyStatusChange(ctx, updated, previous)
	return updated, nil
}

// applyStatus returns the next order state and whether the order is entering returned.
func applyStatus(current Order, status OrderStatus, actor, reason string, now time.Time) (Order, bool) {
	next := cloneOrder(current)
	entering := status == domain.OrderStatusReturned && current.Status != domain.OrderStatusReturned

	switch {
	case entering:
		processedAt := now
		if reason == "" {
			reason = current.ReturnRequest.Reason
		}
		next.ReturnRequest = domain.ReturnRequest{
			IsReturned:  true,
			Status:      domain.ReturnRequestApproved,
			Reason:      reason,
			ProcessedAt: &processedAt,
			ProcessedBy: actor,
		}
	case status != domain.OrderStatusReturned && current.ReturnRequest.IsReturned:
		next.ReturnRequest.IsReturned = false
	}

	next.Status = status
	next.UpdatedBy = append(next.UpdatedBy, domain.ActorStamp{Actor: actor, Timestamp: now})
	next.UpdatedAt = now
	next.Version = current.Version + 1
	preserveReferences(&next, current)
	return next, entering
}

// preserveReferences restores identifying references a partial update left blank.
func preserveReferences(next *Order, previous Order) {
	restore := func(field *string, prior string) {
		if strings.TrimSpace(*field) == "" && prior != "" {
			*field = prior
		}
	}
	restore(&next.ShippingID, previous.ShippingID)
	restore(&next.CustomerInfo, previous.CustomerInfo)
	restore(&next.UserID, previous.UserID)
	restore(&next.PaymentID, previous.PaymentID)
	restore(&next.CartID, previous.CartID)
}

type restockLine struct {
	kind      domain.ProductKind
	productID string
	quantity  int
}

// planRestock resolves the ledger collection of every returned line. It only reads, so it
// runs before the order write inside the transaction.
func (s *orderService) planRestock(ctx context.Context, order Order) []restockLine {
	plan := make([]restockLine, 0, len(order.Products))
	for idx, line := range order.Products {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Quantity <= 0 {
			s.skipLine(ctx, order.ID, idx, productID, "invalid line")
			continue
		}
		kind, ok := s.resolveKind(ctx, productID, line.CategoryID)
		if !ok {
			s.skipLine(ctx, order.ID, idx, productID, "product not resolved")
			continue
		}
		plan = append(plan, restockLine{kind: kind, productID: productID, quantity: line.Quantity})
	}
	return plan
}

// resolveKind picks the collection from the category, falling back to probing both.
func (s *orderService) resolveKind(ctx context.Context, productID, categoryID string) (domain.ProductKind, bool) {
	if s.categories != nil && strings.TrimSpace(categoryID) != "" {
		category, err := s.categories.FindByID(ctx, categoryID)
		if err == nil && category.Kind.Valid() {
			if _, err := s.products.FindByID(ctx, category.Kind, productID); err == nil {
				return category.Kind, true
			}
		}
	}
	product, err := lookupProduct(ctx, s.products, productID)
	if err != nil {
		return "", false
	}
	return product.Kind, true
}

// applyRestock adds every planned line back to the ledger. When a line fails the lines
// already applied are reverted before the error is returned, unless the unit of work rolls
// them back itself.
func (s *orderService) applyRestock(ctx context.Context, orderID string, plan []restockLine) (int, error) {
	applied := make([]restockLine, 0, len(plan))
	units := 0
	for _, line := range plan {
		err := s.products.Adjust(ctx, line.kind, line.productID, line.quantity, -line.quantity)
		switch {
		case err == nil:
			applied = append(applied, line)
			units += line.quantity
		case isRepoNotFound(err):
			s.skipLine(ctx, orderID, -1, line.productID, "product disappeared")
		default:
			if !s.atomicTx {
				s.revertRestock(ctx, orderID, applied)
			}
			return 0, fmt.Errorf("order: restock %s: %w", line.productID, err)
		}
	}
	return units, nil
}

func (s *orderService) revertRestock(ctx context.Context, orderID string, applied []restockLine) {
	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		if err := s.products.Adjust(ctx, line.kind, line.productID, -line.quantity, line.quantity); err != nil {
			s.logger(ctx, "order.restock.revert_failed", map[string]any{
				"orderId":   orderID,
				"productId": line.productID,
				"quantity":  line.quantity,
				"error":     err.Error(),
			})
		}
	}
}

// revertStatus puts back the order state written before a failed restock so a retry enters
// returned again.
func (s *orderService) revertStatus(ctx context.Context, previous, written Order) {
	rollback := cloneOrder(previous)
	rollback.Version = written.Version + 1
	if err := s.orders.Update(ctx, rollback, written.Version); err != nil {
		s.logger(ctx, "order.status.revert_failed", map[string]any{
			"orderId": previous.ID,
			"status":  string(written.Status),
			"error":   err.Error(),
		})
	}
}

func (s *orderService) skipLine(ctx context.Context, orderID string, index int, productID, reason string) {
	s.skippedLines.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	s.logger(ctx, "order.restock.line.skipped", map[string]any{
		"orderId":   orderID,
		"line":      index,
		"productId": productID,
		"reason":    reason,
	})
}

func (s *orderService) SoftDelete(ctx context.Context, cmd OrderDeletionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	return s.softDelete(ctx, orderID, actorOrSystem(cmd.ActorID))
}

func (s *orderService) BulkSoftDelete(ctx context.Context, cmd BulkOrderCommand) (BulkResult, error) {
	actor := actorOrSystem(cmd.ActorID)
	return s.bulk(ctx, cmd.OrderIDs, func(ctx context.Context, orderID string) error {
		_, err := s.softDelete(ctx, orderID, actor)
		return err
	})
}

func (s *orderService) softDelete(ctx context.Context, orderID, actor string) (Order, error) {
	order, err := s.mutateLifecycle(ctx, orderID, func(current Order, now time.Time) (Order, error) {
		if current.Deleted {
			return Order{}, fmt.Errorf("%w: order %s is already deleted", ErrOrderInvalidState, orderID)
		}
		next := cloneOrder(current)
		deletedAt := now
		next.Deleted = true
		next.DeletedAt = &deletedAt
		next.DeletedBy = actor
		return stampOrder(next, current, actor, now), nil
	})
	if err != nil {
		return Order{}, err
	}
	s.publish(ctx, OrderEvent{Type: domain.OrderEventDeleted, OrderID: order.ID, UserID: order.UserID, Status: order.Status, ActorID: actor, OccurredAt: s.now()})
	return order, nil
}

func (s *orderService) Restore(ctx context.Context, cmd OrderDeletionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	return s.restore(ctx, orderID, actorOrSystem(cmd.ActorID))
}

func (s *orderService) BulkRestore(ctx context.Context, cmd BulkOrderCommand) (BulkResult, error) {
	actor := actorOrSystem(cmd.ActorID)
	return s.bulk(ctx, cmd.OrderIDs, func(ctx context.Context, orderID string) error {
		_, err := s.restore(ctx, orderID, actor)
		return err
	})
}

func (s *orderService) restore(ctx context.Context, orderID, actor string) (Order, error) {
	order, err := s.mutateLifecycle(ctx, orderID, func(current Order, now time.Time) (Order, error) {
		if !current.Deleted {
			return Order{}, fmt.Errorf("%w: order %s is not deleted", ErrOrderInvalidState, orderID)
		}
		next := cloneOrder(current)
		next.Deleted = false
		next.DeletedAt = nil
		next.DeletedBy = ""
		return stampOrder(next, current, actor, now), nil
	})
	if err != nil {
		return Order{}, err
	}
	s.publish(ctx, OrderEvent{Type: domain.OrderEventRestored, OrderID: order.ID, UserID: order.UserID, Status: order.Status, ActorID: actor, OccurredAt: s.now()})
	return order, nil
}

func (s *orderService) PermanentDelete(ctx context.Context, cmd OrderDeletionCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	return s.permanentDelete(ctx, orderID, actorOrSystem(cmd.ActorID))
}

func (s *orderService) BulkPermanentDelete(ctx context.Context, cmd BulkOrderCommand) (BulkResult, error) {
	actor := actorOrSystem(cmd.ActorID)
	return s.bulk(ctx, cmd.OrderIDs, func(ctx context.Context, orderID string) error {
		return s.permanentDelete(ctx, orderID, actor)
	})
}

func (s *orderService) permanentDelete(ctx context.Context, orderID, actor string) error {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	var purged Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !current.Deleted {
			return fmt.Errorf("%w: order %s must be soft-deleted before purge", ErrOrderInvalidState, orderID)
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		purged = current
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, OrderEvent{Type: domain.OrderEventPurged, OrderID: purged.ID, UserID: purged.UserID, Status: purged.Status, ActorID: actor, OccurredAt: s.now()})
	return nil
}

func (s *orderService) PurgeDeleted(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: retention age must not be negative", ErrOrderInvalidInput)
	}
	if limit <= 0 || limit > maxOrderPageSize {
		limit = maxOrderPageSize
	}
	cutoff := s.now().Add(-olderThan)
	page, err := s.orders.List(ctx, domain.OrderListFilter{
		OnlyDeleted:   true,
		DeletedBefore: &cutoff,
		Pagination:    Pagination{Page: 1, Limit: limit},
	})
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	purged := 0
	var errs []error
	for _, order := range page.Orders {
		if err := s.permanentDelete(ctx, order.ID, systemActor); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", order.ID, err))
			continue
		}
		purged++
	}
	s.logger(ctx, "order.purge.completed", map[string]any{
		"purged":  purged,
		"failed":  len(errs),
		"cutoff":  cutoff,
		"matched": len(page.Orders),
	})
	return purged, errors.Join(errs...)
}

// mutateLifecycle loads the order under its lock, applies fn and persists the result.
func (s *orderService) mutateLifecycle(ctx context.Context, orderID string, fn func(current Order, now time.Time) (Order, error)) (Order, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		next, err := fn(current, s.now())
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, next, current.Version); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = next
		return nil
	})
	return updated, err
}

func (s *orderService) bulk(ctx context.Context, orderIDs []string, apply func(context.Context, string) error) (BulkResult, error) {
	ids := uniqueIDs(orderIDs)
	if len(ids) == 0 {
		return BulkResult{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}

	result := BulkResult{Requested: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, BulkFailure{OrderID: id, Err: err})
			continue
		}
		if err := apply(ctx, id); err != nil {
			result.Failures = append(result.Failures, BulkFailure{OrderID: id, Err: err})
			s.logger(ctx, "order.bulk.item.failed", map[string]any{"orderId": id, "error": err.Error()})
			continue
		}
		result.Updated++
	}
	return result, nil
}

func (s *orderService) loadActive(ctx context.Context, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Deleted {
		return Order{}, fmt.Errorf("%w: order %s is deleted", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) notifyStatusChange(ctx context.Context, order Order, previous OrderStatus) {
	if s.notifications == nil {
		return
	}
	metadata := func() map[string]any {
		return map[string]any{
			"status":         string(order.Status),
			"previousStatus": string(previous),
			"orderId":        order.ID,
		}
	}
	if order.UserID != "" {
		s.notifications.Dispatch(ctx, Notification{
			UserID:   order.UserID,
			Title:    titleOrderUpdate,
			Message:  order.Status.Message(),
			Type:     domain.NotificationTypeOrder,
			Level:    statusNotificationLevel(order.Status),
			Metadata: metadata(),
		})
	}
	s.notifications.Dispatch(ctx, Notification{
		Title:    titleOrderStatusChanged,
		Message:  order.Status.Message(),
		Type:     domain.NotificationTypeOrder,
		Level:    statusNotificationLevel(order.Status),
		Metadata: metadata(),
	})
}

// statusNotificationLevel maps the new status onto the severity shown to the customer.
func statusNotificationLevel(status OrderStatus) domain.NotificationLevel {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusCancelled, domain.OrderStatusReturned:
		return domain.NotificationLevelWarning
	case domain.OrderStatusCompleted:
		return domain.NotificationLevelSuccess
	default:
		return domain.NotificationLevelInfo
	}
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, event)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderInvalidInput) || errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderInvalidState) {
		return err
	}
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("order: repository unavailable: %w", err)
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func parseOrderStatus(raw OrderStatus) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(string(raw))))
	if status == "" {
		return "", fmt.Errorf("%w: status is required", ErrOrderInvalidInput)
	}
	if !status.Valid() {
		return "", fmt.Errorf("%w: unsupported status %q", ErrOrderInvalidInput, raw)
	}
	return status, nil
}

func normalizeOrderFilter(filter OrderListFilter) (OrderListFilter, error) {
	statuses := make([]OrderStatus, 0, len(filter.Status))
	for _, raw := range filter.Status {
		status, err := parseOrderStatus(raw)
		if err != nil {
			return OrderListFilter{}, err
		}
		if !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	filter.Status = statuses
	filter.UserID = strings.TrimSpace(filter.UserID)
	filter.ShippingID = strings.TrimSpace(filter.ShippingID)
	filter.Keyword = strings.TrimSpace(filter.Keyword)

	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && from.After(*to) {
		return OrderListFilter{}, fmt.Errorf("%w: date range start must not be after its end", ErrOrderInvalidInput)
	}
	if filter.OnlyDeleted {
		filter.IncludeDeleted = true
	}

	if filter.Pagination.Page < 1 {
		filter.Pagination.Page = 1
	}
	switch limit := filter.Pagination.Limit; {
	case limit <= 0:
		filter.Pagination.Limit = defaultOrderPageSize
	case limit > maxOrderPageSize:
		filter.Pagination.Limit = maxOrderPageSize
	}
	return filter, nil
}

func stampOrder(next, current Order, actor string, now time.Time) Order {
	next.UpdatedBy = append(next.UpdatedBy, domain.ActorStamp{Actor: actor, Timestamp: now})
	next.UpdatedAt = now
	next.Version = current.Version + 1
	preserveReferences(&next, current)
	return next
}

func cloneOrder(order Order) Order {
	cloned := order
	cloned.Products = slices.Clone(order.Products)
	cloned.UpdatedBy = slices.Clone(order.UpdatedBy)
	if order.DeletedAt != nil {
		deletedAt := *order.DeletedAt
		cloned.DeletedAt = &deletedAt
	}
	if order.ReturnRequest.ProcessedAt != nil {
		processedAt := *order.ReturnRequest.ProcessedAt
		cloned.ReturnRequest.ProcessedAt = &processedAt
	}
	return cloned
}

func sanitizeReason(reason string) string {
	return strings.TrimSpace(html.UnescapeString(plainText.Sanitize(reason)))
}

func actorOrSystem(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return systemActor
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
