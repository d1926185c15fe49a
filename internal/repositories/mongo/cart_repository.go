package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/pawmart/api/internal/domain"
	pmongo "github.com/pawmart/api/internal/platform/mongo"
	"github.com/pawmart/api/internal/repositories"
)

// CartRepository stores one cart document per user, keyed by user_id.
type CartRepository struct {
	coll *mongo.Collection
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Mongo-backed cart repository.
func NewCartRepository(provider *pmongo.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires mongo provider")
	}
	return &CartRepository{coll: provider.Collection(cartCollection)}, nil
}

// FindByUser loads the user's cart. A user without a cart yields a not-found error.
func (r *CartRepository) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, pmongo.NotFound("carts.find", errors.New("user id is required"))
	}
	var doc cartDocument
	if err := r.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		return domain.Cart{}, pmongo.WrapError("carts.find", err)
	}
	return doc.toDomain(), nil
}

// Save upserts the cart for cart.UserID.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.UserID) == "" {
		return errors.New("cart repository: user id is required")
	}
	doc := cartToDocument(cart)
	if doc.ID == "" {
		doc.ID = cart.UserID
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"user_id": cart.UserID}, doc, options.Replace().SetUpsert(true))
	return pmongo.WrapError("carts.save", err)
}

// Delete removes the user's cart. Deleting a missing cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"user_id": userID})
	return pmongo.WrapError("carts.delete", err)
}
