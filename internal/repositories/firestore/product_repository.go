package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

// ProductRepository is the Firestore stock ledger. Unguarded adjustments use server-side
// increments; guarded writes run in a transaction.
type ProductRepository struct {
	collections map[domain.ProductKind]*pfirestore.BaseRepository[productDocument]
	uow         *pfirestore.UnitOfWork
	now         func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed stock ledger.
func NewProductRepository(provider *pfirestore.Provider, clock func() time.Time) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &ProductRepository{
		collections: map[domain.ProductKind]*pfirestore.BaseRepository[productDocument]{
			domain.ProductKindConsumable: pfirestore.NewBaseRepository[productDocument](provider, consumableCollection),
			domain.ProductKindDurable:    pfirestore.NewBaseRepository[productDocument](provider, durableCollection),
		},
		uow: pfirestore.NewUnitOfWork(provider),
		now: clock,
	}, nil
}

func (r *ProductRepository) base(kind domain.ProductKind) (*pfirestore.BaseRepository[productDocument], error) {
	base, ok := r.collections[kind]
	if !ok {
		return nil, fmt.Errorf("product repository: unknown product kind %q", kind)
	}
	return base, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, kind domain.ProductKind, productID string) (domain.Product, error) {
	base, err := r.base(kind)
	if err != nil {
		return domain.Product{}, err
	}
	doc, err := base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID, kind), nil
}

// Adjust applies both deltas as firestore.Increment transforms. A negative quantity delta
// needs the current value, so it runs as a guarded transaction instead.
func (r *ProductRepository) Adjust(ctx context.Context, kind domain.ProductKind, productID string, quantityDelta, soldDelta int) error {
	base, err := r.base(kind)
	if err != nil {
		return err
	}
	if quantityDelta == 0 && soldDelta == 0 {
		return nil
	}

	op := base.Collection() + ".adjust"
	if quantityDelta < 0 {
		return r.uow.RunInTx(ctx, func(ctx context.Context) error {
			doc, err := base.GetForUpdate(ctx, productID)
			if err != nil {
				return stockLookupError(op, productID, err)
			}
			if doc.Data.Quantity+quantityDelta < 0 {
				return repositories.NewStockError(op, repositories.StockErrorInsufficient, productID, doc.Data.toDomain(doc.ID, kind).Available(), nil)
			}
			return base.Update(ctx, productID, r.incrementUpdates(quantityDelta, soldDelta))
		})
	}

	if err := base.Update(ctx, productID, r.incrementUpdates(quantityDelta, soldDelta)); err != nil {
		return stockLookupError(op, productID, err)
	}
	return nil
}

// CommitSale reads the product inside a transaction and increments soldCount only while
// quantity - soldCount >= qty. Firestore retries the transaction on contention, so the
// guard is always evaluated against the committed value.
func (r *ProductRepository) CommitSale(ctx context.Context, kind domain.ProductKind, productID string, qty int) (domain.Product, error) {
	base, err := r.base(kind)
	if err != nil {
		return domain.Product{}, err
	}
	if qty <= 0 {
		return domain.Product{}, fmt.Errorf("product repository: commit quantity must be positive, got %d", qty)
	}

	op := base.Collection() + ".commit_sale"
	var committed domain.Product
	err = r.uow.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := base.GetForUpdate(ctx, productID)
		if err != nil {
			return stockLookupError(op, productID, err)
		}
		product := doc.Data.toDomain(doc.ID, kind)
		if product.Quantity-product.SoldCount < qty {
			return repositories.NewStockError(op, repositories.StockErrorInsufficient, productID, product.Available(), nil)
		}
		now := r.now().UTC()
		if err := base.Update(ctx, productID, []firestore.Update{
			{Path: "soldCount", Value: firestore.Increment(qty)},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		product.SoldCount += qty
		product.UpdatedAt = now
		committed = product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return committed, nil
}

func (r *ProductRepository) incrementUpdates(quantityDelta, soldDelta int) []firestore.Update {
	updates := []firestore.Update{{Path: "updatedAt", Value: r.now().UTC()}}
	if quantityDelta != 0 {
		updates = append(updates, firestore.Update{Path: "quantity", Value: firestore.Increment(quantityDelta)})
	}
	if soldDelta != 0 {
		updates = append(updates, firestore.Update{Path: "soldCount", Value: firestore.Increment(soldDelta)})
	}
	return updates
}

func stockLookupError(op, productID string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return repositories.NewStockError(op, repositories.StockErrorProductNotFound, productID, 0, err)
	}
	return err
}
