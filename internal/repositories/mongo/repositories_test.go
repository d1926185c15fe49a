package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	domain "github.com/pawmart/api/internal/domain"
	pmongo "github.com/pawmart/api/internal/platform/mongo"
	"github.com/pawmart/api/internal/repositories"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newMockTest(t *testing.T) *mtest.T {
	t.Helper()
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func productDoc(id string, quantity, sold int) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "name", Value: "Salmon kibble"},
		{Key: "category_id", Value: "cat-food"},
		{Key: "quantity", Value: quantity},
		{Key: "sold_count", Value: sold},
		{Key: "price", Value: int64(1500)},
	}
}

func orderDoc(id string, version int64) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "user_id", Value: "user-1"},
		{Key: "customer_info", Value: "Jane Doe"},
		{Key: "shipping_id", Value: "ship-1"},
		{Key: "status", Value: "pending"},
		{Key: "products", Value: bson.A{bson.D{
			{Key: "product_id", Value: "prod-1"},
			{Key: "category_id", Value: "cat-food"},
			{Key: "quantity", Value: 2},
			{Key: "price_original", Value: int64(1500)},
		}}},
		{Key: "deleted", Value: false},
		{Key: "version", Value: version},
		{Key: "created_at", Value: fixedNow},
		{Key: "updated_at", Value: fixedNow},
	}
}

func firstBatch(ns string, docs ...bson.D) bson.D {
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, docs...)
}

func TestProductRepositoryFindByID(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("found", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)
		mt.AddMockResponses(firstBatch("db.consumable_products", productDoc("prod-1", 10, 4)))

		product, err := repo.FindByID(context.Background(), domain.ProductKindConsumable, "prod-1")
		require.NoError(mt, err)
		assert.Equal(mt, domain.ProductKindConsumable, product.Kind)
		assert.Equal(mt, 6, product.Available())
		assert.Equal(mt, "cat-food", product.CategoryID)
	})

	mt.Run("missing", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)
		mt.AddMockResponses(firstBatch("db.durable_products"))

		_, err = repo.FindByID(context.Background(), domain.ProductKindDurable, "nope")
		var repoErr repositories.RepositoryError
		require.ErrorAs(mt, err, &repoErr)
		assert.True(mt, repoErr.IsNotFound())
	})

	mt.Run("unknown kind", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)

		_, err = repo.FindByID(context.Background(), domain.ProductKind("service"), "prod-1")
		require.Error(mt, err)
	})
}

func TestProductRepositoryCommitSale(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("guard passes", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), func() time.Time { return fixedNow })
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: productDoc("prod-1", 10, 6)}))

		product, err := repo.CommitSale(context.Background(), domain.ProductKindConsumable, "prod-1", 2)
		require.NoError(mt, err)
		assert.Equal(mt, 6, product.SoldCount)
		assert.Equal(mt, 4, product.Available())
	})

	mt.Run("insufficient stock", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			firstBatch("db.consumable_products", productDoc("prod-1", 5, 4)),
		)

		_, err = repo.CommitSale(context.Background(), domain.ProductKindConsumable, "prod-1", 3)
		stockErr, ok := repositories.AsStockError(err)
		require.True(mt, ok, "expected stock error, got %v", err)
		assert.Equal(mt, repositories.StockErrorInsufficient, stockErr.Code)
		assert.Equal(mt, 1, stockErr.Available)
		assert.True(mt, stockErr.IsConflict())
	})

	mt.Run("product missing", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}),
			firstBatch("db.durable_products"),
		)

		_, err = repo.CommitSale(context.Background(), domain.ProductKindDurable, "gone", 1)
		stockErr, ok := repositories.AsStockError(err)
		require.True(mt, ok)
		assert.Equal(mt, repositories.StockErrorProductNotFound, stockErr.Code)
		assert.True(mt, stockErr.IsNotFound())
	})

	mt.Run("rejects non positive quantity", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)

		_, err = repo.CommitSale(context.Background(), domain.ProductKindDurable, "prod-1", 0)
		require.Error(mt, err)
	})
}

func TestProductRepositoryAdjust(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("restock", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		require.NoError(mt, repo.Adjust(context.Background(), domain.ProductKindConsumable, "prod-1", 2, -2))
	})

	mt.Run("zero deltas skip the write", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)

		require.NoError(mt, repo.Adjust(context.Background(), domain.ProductKindConsumable, "prod-1", 0, 0))
	})

	mt.Run("guard blocks negative quantity", func(mt *mtest.T) {
		repo, err := NewProductRepository(pmongo.NewProvider(mt.DB), nil)
		require.NoError(mt, err)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			firstBatch("db.consumable_products", productDoc("prod-1", 1, 0)),
		)

		err = repo.Adjust(context.Background(), domain.ProductKindConsumable, "prod-1", -3, 0)
		stockErr, ok := repositories.AsStockError(err)
		require.True(mt, ok)
		assert.Equal(mt, repositories.StockErrorInsufficient, stockErr.Code)
	})
}

func TestCategoryRepositoryFindByID(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("normalises kind", func(mt *mtest.T) {
		repo, err := NewCategoryRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(firstBatch("db.categories", bson.D{
			{Key: "_id", Value: "cat-toys"},
			{Key: "name", Value: "Toys"},
			{Key: "kind", Value: " Durable "},
		}))

		category, err := repo.FindByID(context.Background(), "cat-toys")
		require.NoError(mt, err)
		assert.Equal(mt, domain.ProductKindDurable, category.Kind)
	})
}

func TestOrderRepositoryUpdate(t *testing.T) {
	mt := newMockTest(t)
	order := domain.Order{ID: "ord-1", Status: domain.OrderStatusShipping, Version: 4, CreatedAt: fixedNow, UpdatedAt: fixedNow}

	mt.Run("version matches", func(mt *mtest.T) {
		repo, err := NewOrderRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		require.NoError(mt, repo.Update(context.Background(), order, 3))
	})

	mt.Run("stale version conflicts", func(mt *mtest.T) {
		repo, err := NewOrderRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			firstBatch("db.orders", bson.D{{Key: "n", Value: int64(1)}}),
		)

		err = repo.Update(context.Background(), order, 3)
		var repoErr repositories.RepositoryError
		require.ErrorAs(mt, err, &repoErr)
		assert.True(mt, repoErr.IsConflict())
		assert.ErrorIs(mt, err, errOrderVersionMismatch)
	})

	mt.Run("missing order", func(mt *mtest.T) {
		repo, err := NewOrderRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			firstBatch("db.orders"),
		)

		err = repo.Update(context.Background(), order, 3)
		var repoErr repositories.RepositoryError
		require.ErrorAs(mt, err, &repoErr)
		assert.True(mt, repoErr.IsNotFound())
	})
}

func TestOrderRepositoryInsertDuplicate(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("duplicate id", func(mt *mtest.T) {
		repo, err := NewOrderRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		err = repo.Insert(context.Background(), domain.Order{ID: "ord-1", CreatedAt: fixedNow})
		var repoErr repositories.RepositoryError
		require.ErrorAs(mt, err, &repoErr)
		assert.True(mt, repoErr.IsConflict())
	})
}

func TestOrderRepositoryListAndCounts(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("list", func(mt *mtest.T) {
		repo, err := NewOrderRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(
			firstBatch("db.orders", bson.D{{Key: "n", Value: int64(3)}}),
			firstBatch("db.orders", orderDoc("ord-2", 1), orderDoc("ord-1", 2)),
		)

		page, err := repo.List(context.Background(), domain.OrderListFilter{Pagination: domain.Pagination{Page: 1, Limit: 2}})
		require.NoError(mt, err)
		assert.EqualValues(mt, 3, page.TotalCount)
		require.Len(mt, page.Orders, 2)
		assert.Equal(mt, "ord-2", page.Orders[0].ID)
		assert.Equal(mt, 2, page.Orders[0].Products[0].Quantity)
	})

	mt.Run("count by status", func(mt *mtest.T) {
		repo, err := NewOrderRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(firstBatch("db.orders",
			bson.D{{Key: "_id", Value: "pending"}, {Key: "count", Value: int64(2)}},
			bson.D{{Key: "_id", Value: "shipped"}, {Key: "count", Value: int64(5)}},
		))

		counts, err := repo.CountByStatus(context.Background(), domain.OrderListFilter{})
		require.NoError(mt, err)
		assert.Equal(mt, []domain.OrderStatusCount{
			{Status: domain.OrderStatusPending, Count: 2},
			{Status: domain.OrderStatusShipped, Count: 5},
		}, counts)
	})

	mt.Run("count by shipping", func(mt *mtest.T) {
		repo, err := NewOrderRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(firstBatch("db.orders",
			bson.D{{Key: "_id", Value: "ship-1"}, {Key: "count", Value: int64(7)}},
		))

		counts, err := repo.CountByShipping(context.Background(), domain.OrderListFilter{})
		require.NoError(mt, err)
		assert.Equal(mt, []domain.OrderShippingCount{{ShippingID: "ship-1", Count: 7}}, counts)
	})
}

func TestOrderFilter(t *testing.T) {
	from := fixedNow.Add(-24 * time.Hour)
	cutoff := fixedNow.Add(-30 * 24 * time.Hour)

	t.Run("active orders by default", func(t *testing.T) {
		query := orderFilter(domain.OrderListFilter{})
		assert.Equal(t, bson.M{"deleted": bson.M{"$ne": true}}, query)
	})

	t.Run("only deleted with cutoff", func(t *testing.T) {
		query := orderFilter(domain.OrderListFilter{OnlyDeleted: true, DeletedBefore: &cutoff})
		assert.Equal(t, true, query["deleted"])
		assert.Equal(t, bson.M{"$lt": cutoff}, query["deleted_at"])
	})

	t.Run("include deleted drops the flag", func(t *testing.T) {
		query := orderFilter(domain.OrderListFilter{IncludeDeleted: true})
		assert.NotContains(t, query, "deleted")
	})

	t.Run("combined", func(t *testing.T) {
		query := orderFilter(domain.OrderListFilter{
			Status:     []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusShipping},
			UserID:     " user-1 ",
			ShippingID: "ship-9",
			DateRange:  domain.RangeQuery[time.Time]{From: &from},
			Keyword:    "a.b",
		})
		assert.Equal(t, bson.M{"$in": bson.A{"pending", "shipping"}}, query["status"])
		assert.Equal(t, "user-1", query["user_id"])
		assert.Equal(t, "ship-9", query["shipping_id"])
		assert.Equal(t, bson.M{"$gte": from}, query["created_at"])

		or, ok := query["$or"].(bson.A)
		require.True(t, ok)
		require.Len(t, or, 4)
		assert.Equal(t, bson.M{"_id": bson.M{"$regex": `a\.b`, "$options": "i"}}, or[0])
	})
}

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		in        domain.Pagination
		page, lim int
	}{
		{domain.Pagination{}, 1, defaultOrderPageSize},
		{domain.Pagination{Page: 3, Limit: 10}, 3, 10},
		{domain.Pagination{Page: -1, Limit: 1000}, 1, maxOrderPageSize},
	}
	for _, tc := range cases {
		page, limit := normalizePage(tc.in)
		assert.Equal(t, tc.page, page)
		assert.Equal(t, tc.lim, limit)
	}
}

func TestCartRepository(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("find by user", func(mt *mtest.T) {
		repo, err := NewCartRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(firstBatch("db.carts", bson.D{
			{Key: "_id", Value: "cart-1"},
			{Key: "user_id", Value: "user-1"},
			{Key: "lines", Value: bson.A{bson.D{
				{Key: "product_id", Value: "prod-1"},
				{Key: "quantity", Value: 3},
				{Key: "selected", Value: true},
			}}},
		}))

		cart, err := repo.FindByUser(context.Background(), "user-1")
		require.NoError(mt, err)
		require.Len(mt, cart.Lines, 1)
		assert.True(mt, cart.Lines[0].Selected)
		assert.Equal(mt, 3, cart.Lines[0].Quantity)
	})

	mt.Run("save upserts", func(mt *mtest.T) {
		repo, err := NewCartRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		require.NoError(mt, repo.Save(context.Background(), domain.Cart{UserID: "user-1", UpdatedAt: fixedNow}))
	})

	mt.Run("save requires user", func(mt *mtest.T) {
		repo, err := NewCartRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)

		require.Error(mt, repo.Save(context.Background(), domain.Cart{}))
	})

	mt.Run("delete missing cart is fine", func(mt *mtest.T) {
		repo, err := NewCartRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))

		require.NoError(mt, repo.Delete(context.Background(), "user-1"))
	})
}

func TestNotificationRepositoryInsert(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("insert", func(mt *mtest.T) {
		repo, err := NewNotificationRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err = repo.Insert(context.Background(), domain.Notification{
			ID:        "ntf-1",
			Title:     "Order shipped",
			Type:      domain.NotificationTypeOrder,
			Level:     domain.NotificationLevelInfo,
			CreatedAt: fixedNow,
		})
		require.NoError(mt, err)
	})

	mt.Run("requires id", func(mt *mtest.T) {
		repo, err := NewNotificationRepository(pmongo.NewProvider(mt.DB))
		require.NoError(mt, err)
		require.Error(mt, repo.Insert(context.Background(), domain.Notification{}))
	})
}

func TestRegistryWiring(t *testing.T) {
	mt := newMockTest(t)

	mt.Run("health and inline tx", func(mt *mtest.T) {
		registry, err := NewRegistry(pmongo.NewProvider(mt.DB), RegistryOptions{
			HealthOptions: []repositories.DependencyHealthOption{
				repositories.WithDependencyClock(func() time.Time { return fixedNow }),
			},
		})
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		report, err := registry.Health().Collect(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, domain.HealthStatusOK, report.Status)
		assert.Contains(mt, report.Checks, "mongo")

		sentinel := errors.New("boom")
		err = registry.RunInTx(context.Background(), func(ctx context.Context) error { return sentinel })
		assert.ErrorIs(mt, err, sentinel)
		assert.NoError(mt, registry.Close(context.Background()))
	})

	mt.Run("nil provider", func(mt *mtest.T) {
		_, err := NewRegistry(nil, RegistryOptions{})
		require.Error(mt, err)
	})
}
