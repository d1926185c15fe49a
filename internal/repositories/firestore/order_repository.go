package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

var errOrderVersionMismatch = errors.New("order version mismatch")

// OrderRepository persists orders with one document per order id.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
	uow  *pfirestore.UnitOfWork
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		uow:  pfirestore.NewUnitOfWork(provider),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, order.ID, orderToDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Update compares the stored version inside a transaction before replacing the document.
// Called with a transactional ctx it must be the first read of that transaction's writes.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.base.GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Data.Version != expectedVersion {
			return pfirestore.Conflict("orders.update", fmt.Errorf("%w: expected %d, stored %d", errOrderVersionMismatch, expectedVersion, current.Data.Version))
		}
		return r.base.Set(ctx, order.ID, orderToDocument(order))
	})
}

// Delete removes the document; a missing order is reported as not found.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	ref, err := r.base.Ref(ctx, orderID)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.delete", tx.Delete(ref, firestore.Exists))
	}
	_, err = ref.Delete(ctx, firestore.Exists)
	return pfirestore.WrapError("orders.delete", err)
}

// List pushes equality, status and date filters to Firestore. Keyword and deletion-cutoff
// filters have no index support and are applied after the fetch, in which case paging is
// done in memory as well.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.OrderPage, error) {
	page, limit := normalizePage(filter.Pagination)
	offset := (page - 1) * limit

	if !needsPostFilter(filter) {
		total, err := r.base.Count(ctx, func(q firestore.Query) firestore.Query {
			return applyOrderFilter(q, filter)
		})
		if err != nil {
			return domain.OrderPage{}, err
		}
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return applyOrderFilter(q, filter).
				OrderBy("createdAt", firestore.Desc).
				Offset(offset).
				Limit(limit)
		})
		if err != nil {
			return domain.OrderPage{}, err
		}
		return domain.OrderPage{Orders: toOrders(docs), TotalCount: total}, nil
	}

	matched, err := r.scan(ctx, filter)
	if err != nil {
		return domain.OrderPage{}, err
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	result := domain.OrderPage{TotalCount: int64(len(matched)), Orders: []domain.Order{}}
	if offset < len(matched) {
		end := min(offset+limit, len(matched))
		result.Orders = matched[offset:end]
	}
	return result, nil
}

func (r *OrderRepository) CountByStatus(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderStatusCount, error) {
	orders, err := r.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	buckets := map[string]int64{}
	for _, order := range orders {
		buckets[string(order.Status)]++
	}
	counts := make([]domain.OrderStatusCount, 0, len(buckets))
	for _, key := range sortedKeys(buckets) {
		counts = append(counts, domain.OrderStatusCount{Status: domain.OrderStatus(key), Count: buckets[key]})
	}
	return counts, nil
}

func (r *OrderRepository) CountByShipping(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderShippingCount, error) {
	orders, err := r.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	buckets := map[string]int64{}
	for _, order := range orders {
		buckets[order.ShippingID]++
	}
	counts := make([]domain.OrderShippingCount, 0, len(buckets))
	for _, key := range sortedKeys(buckets) {
		counts = append(counts, domain.OrderShippingCount{ShippingID: key, Count: buckets[key]})
	}
	return counts, nil
}

func (r *OrderRepository) scan(ctx context.Context, filter domain.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyOrderFilter(q, filter)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, order := range toOrders(docs) {
		if matchesPostFilter(order, filter) {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func applyOrderFilter(q firestore.Query, filter domain.OrderListFilter) firestore.Query {
	switch {
	case filter.OnlyDeleted:
		q = q.Where("deleted", "==", true)
	case !filter.IncludeDeleted:
		q = q.Where("deleted", "==", false)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		q = q.Where("status", "in", statuses)
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		q = q.Where("userId", "==", userID)
	}
	if shippingID := strings.TrimSpace(filter.ShippingID); shippingID != "" {
		q = q.Where("shippingId", "==", shippingID)
	}
	if filter.DateRange.From != nil {
		q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	return q
}

func needsPostFilter(filter domain.OrderListFilter) bool {
	return strings.TrimSpace(filter.Keyword) != "" || filter.DeletedBefore != nil
}

func matchesPostFilter(order domain.Order, filter domain.OrderListFilter) bool {
	if filter.DeletedBefore != nil {
		if order.DeletedAt == nil || !order.DeletedAt.Before(*filter.DeletedBefore) {
			return false
		}
	}
	keyword := strings.ToLower(strings.TrimSpace(filter.Keyword))
	if keyword == "" {
		return true
	}
	for _, field := range []string{order.ID, order.UserID, order.CustomerInfo, order.ShippingID} {
		if strings.Contains(strings.ToLower(field), keyword) {
			return true
		}
	}
	return false
}

func toOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePage(p domain.Pagination) (int, int) {
	page := p.Page
	if page < 1 {
		page = 1
	}
	limit := p.Limit
	switch {
	case limit <= 0:
		limit = defaultOrderPageSize
	case limit > maxOrderPageSize:
		limit = maxOrderPageSize
	}
	return page, limit
}
