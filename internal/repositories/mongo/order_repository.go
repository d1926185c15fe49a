package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/pawmart/api/internal/domain"
	pmongo "github.com/pawmart/api/internal/platform/mongo"
	"github.com/pawmart/api/internal/repositories"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

var errOrderVersionMismatch = errors.New("order version mismatch")

// OrderRepository persists order aggregates in the orders collection.
type OrderRepository struct {
	coll *mongo.Collection
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Mongo-backed order repository.
func NewOrderRepository(provider *pmongo.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires mongo provider")
	}
	return &OrderRepository{coll: provider.Collection(orderCollection)}, nil
}

// Insert stores a new order. A duplicate id is reported as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.coll.InsertOne(ctx, orderToDocument(order)); err != nil {
		return pmongo.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads an order regardless of its deletion state.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, pmongo.NotFound("orders.find", errors.New("order id is required"))
	}
	var doc orderDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc); err != nil {
		return domain.Order{}, pmongo.WrapError("orders.find", err)
	}
	return doc.toDomain(), nil
}

// Update replaces the stored document when its version still equals expectedVersion.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": order.ID, "version": expectedVersion}, orderToDocument(order))
	if err != nil {
		return pmongo.WrapError("orders.update", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": order.ID}, options.Count().SetLimit(1))
	if err != nil {
		return pmongo.WrapError("orders.update", err)
	}
	if count == 0 {
		return pmongo.NotFound("orders.update", mongo.ErrNoDocuments)
	}
	return pmongo.Conflict("orders.update", fmt.Errorf("%w: expected %d", errOrderVersionMismatch, expectedVersion))
}

// Delete removes the document permanently.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": orderID})
	if err != nil {
		return pmongo.WrapError("orders.delete", err)
	}
	if res.DeletedCount == 0 {
		return pmongo.NotFound("orders.delete", mongo.ErrNoDocuments)
	}
	return nil
}

// List returns one page of orders, newest first, with the total match count.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.OrderPage, error) {
	query := orderFilter(filter)

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return domain.OrderPage{}, pmongo.WrapError("orders.count", err)
	}

	page, limit := normalizePage(filter.Pagination)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return domain.OrderPage{}, pmongo.WrapError("orders.list", err)
	}
	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.OrderPage{}, pmongo.WrapError("orders.list", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.toDomain())
	}
	return domain.OrderPage{Orders: orders, TotalCount: total}, nil
}

// CountByStatus groups the matching orders by status.
func (r *OrderRepository) CountByStatus(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderStatusCount, error) {
	rows, err := r.groupCount(ctx, "status", filter)
	if err != nil {
		return nil, err
	}
	counts := make([]domain.OrderStatusCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, domain.OrderStatusCount{Status: domain.OrderStatus(row.Key), Count: row.Count})
	}
	return counts, nil
}

// CountByShipping groups the matching orders by shipping id.
func (r *OrderRepository) CountByShipping(ctx context.Context, filter domain.OrderListFilter) ([]domain.OrderShippingCount, error) {
	rows, err := r.groupCount(ctx, "shipping_id", filter)
	if err != nil {
		return nil, err
	}
	counts := make([]domain.OrderShippingCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, domain.OrderShippingCount{ShippingID: row.Key, Count: row.Count})
	}
	return counts, nil
}

type groupCountRow struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"count"`
}

func (r *OrderRepository) groupCount(ctx context.Context, field string, filter domain.OrderListFilter) ([]groupCountRow, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: orderFilter(filter)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, pmongo.WrapError("orders.group_"+field, err)
	}
	var rows []groupCountRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, pmongo.WrapError("orders.group_"+field, err)
	}
	return rows, nil
}

func orderFilter(filter domain.OrderListFilter) bson.M {
	query := bson.M{}

	switch {
	case filter.OnlyDeleted:
		query["deleted"] = true
	case !filter.IncludeDeleted:
		query["deleted"] = bson.M{"$ne": true}
	}
	if filter.DeletedBefore != nil {
		query["deleted_at"] = bson.M{"$lt": filter.DeletedBefore.UTC()}
	}

	if len(filter.Status) > 0 {
		statuses := make(bson.A, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query["status"] = bson.M{"$in": statuses}
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query["user_id"] = userID
	}
	if shippingID := strings.TrimSpace(filter.ShippingID); shippingID != "" {
		query["shipping_id"] = shippingID
	}

	if !filter.DateRange.IsZero() {
		created := bson.M{}
		if filter.DateRange.From != nil {
			created["$gte"] = filter.DateRange.From.UTC()
		}
		if filter.DateRange.To != nil {
			created["$lte"] = filter.DateRange.To.UTC()
		}
		query["created_at"] = created
	}

	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		pattern := keywordPattern(keyword)
		query["$or"] = bson.A{
			bson.M{"_id": pattern},
			bson.M{"user_id": pattern},
			bson.M{"customer_info": pattern},
			bson.M{"shipping_id": pattern},
		}
	}
	return query
}

func keywordPattern(keyword string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(keyword), "$options": "i"}
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
