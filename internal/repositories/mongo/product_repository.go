package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/pawmart/api/internal/domain"
	pmongo "github.com/pawmart/api/internal/platform/mongo"
	"github.com/pawmart/api/internal/repositories"
)

// ProductRepository is the stock ledger over the consumable and durable collections.
type ProductRepository struct {
	provider *pmongo.Provider
	now      func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Mongo-backed stock ledger.
func NewProductRepository(provider *pmongo.Provider, clock func() time.Time) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires mongo provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &ProductRepository{provider: provider, now: clock}, nil
}

func (r *ProductRepository) collection(kind domain.ProductKind) (*mongo.Collection, error) {
	name, ok := productCollection(kind)
	if !ok {
		return nil, fmt.Errorf("product repository: unknown product kind %q", kind)
	}
	return r.provider.Collection(name), nil
}

// FindByID reads one product from the collection selected by kind.
func (r *ProductRepository) FindByID(ctx context.Context, kind domain.ProductKind, productID string) (domain.Product, error) {
	coll, err := r.collection(kind)
	if err != nil {
		return domain.Product{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, pmongo.NotFound(coll.Name()+".find", errors.New("product id is required"))
	}

	var doc productDocument
	if err := coll.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc); err != nil {
		return domain.Product{}, pmongo.WrapError(coll.Name()+".find", err)
	}
	return doc.toDomain(kind), nil
}

// Adjust applies both deltas with a single $inc. A negative quantity delta only applies while
// the result stays non-negative.
func (r *ProductRepository) Adjust(ctx context.Context, kind domain.ProductKind, productID string, quantityDelta, soldDelta int) error {
	coll, err := r.collection(kind)
	if err != nil {
		return err
	}
	if quantityDelta == 0 && soldDelta == 0 {
		return nil
	}

	filter := bson.M{"_id": productID}
	if quantityDelta < 0 {
		filter["quantity"] = bson.M{"$gte": -quantityDelta}
	}
	update := bson.M{
		"$inc": bson.M{"quantity": quantityDelta, "sold_count": soldDelta},
		"$set": bson.M{"updated_at": r.now().UTC()},
	}

	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return pmongo.WrapError(coll.Name()+".adjust", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return r.explainMiss(ctx, kind, productID, "adjust")
}

// CommitSale increments sold_count by qty only while quantity - sold_count >= qty. The guard
// and the increment are evaluated by the server as one operation.
func (r *ProductRepository) CommitSale(ctx context.Context, kind domain.ProductKind, productID string, qty int) (domain.Product, error) {
	coll, err := r.collection(kind)
	if err != nil {
		return domain.Product{}, err
	}
	if qty <= 0 {
		return domain.Product{}, fmt.Errorf("product repository: commit quantity must be positive, got %d", qty)
	}

	filter := bson.M{
		"_id": productID,
		"$expr": bson.M{"$gte": bson.A{
			bson.M{"$subtract": bson.A{"$quantity", "$sold_count"}},
			qty,
		}},
	}
	update := bson.M{
		"$inc": bson.M{"sold_count": qty},
		"$set": bson.M{"updated_at": r.now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc productDocument
	err = coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Product{}, r.explainMiss(ctx, kind, productID, "commit_sale")
	}
	if err != nil {
		return domain.Product{}, pmongo.WrapError(coll.Name()+".commit_sale", err)
	}
	return doc.toDomain(kind), nil
}

// explainMiss distinguishes a missing product from a failed stock guard.
func (r *ProductRepository) explainMiss(ctx context.Context, kind domain.ProductKind, productID, op string) error {
	current, err := r.FindByID(ctx, kind, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return repositories.NewStockError("products."+op, repositories.StockErrorProductNotFound, productID, 0, err)
		}
		return err
	}
	return repositories.NewStockError("products."+op, repositories.StockErrorInsufficient, productID, current.Available(), nil)
}
